package http

import (
	"net/url"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/usecase"
	"firestore-driver/internal/firestore/wire"
	apperrors "firestore-driver/internal/shared/errors"
	resource "firestore-driver/internal/shared/firestore"
	"firestore-driver/internal/shared/logger"
	"firestore-driver/internal/shared/utils"

	"github.com/gofiber/fiber/v2"
)

// DocumentHandler serves the document REST surface of one database
type DocumentHandler struct {
	uc         usecase.DocumentUsecaseInterface
	projectID  string
	databaseID string
	log        logger.Logger
}

// NewDocumentHandler creates a new DocumentHandler
func NewDocumentHandler(uc usecase.DocumentUsecaseInterface, projectID, databaseID string, log logger.Logger) *DocumentHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &DocumentHandler{
		uc:         uc,
		projectID:  projectID,
		databaseID: databaseID,
		log:        log.WithComponent("document-handler"),
	}
}

func (h *DocumentHandler) root() string {
	return resource.DocumentsRoot(h.projectID, h.databaseID)
}

// RegisterRoutes mounts the document endpoints on a database scoped router
func (h *DocumentHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/documents/:collectionID/:documentID", h.GetDocument)
	router.Patch("/documents/:collectionID/:documentID", h.UpdateDocument)
	router.Delete("/documents/:collectionID/:documentID", h.DeleteDocument)
	router.Post("/query/:collectionID", h.QueryDocuments)
	router.Post("/beginTransaction", h.BeginTransaction)
	router.Post("/commit", h.Commit)
	router.Post("/rollback", h.Rollback)
}

// ScopeDatabase rejects requests addressed to another project or database
func (h *DocumentHandler) ScopeDatabase() fiber.Handler {
	return func(c *fiber.Ctx) error {
		databaseID, err := url.PathUnescape(c.Params("databaseID"))
		if err != nil {
			databaseID = c.Params("databaseID")
		}
		if c.Params("projectID") != h.projectID || databaseID != h.databaseID {
			return writeError(c, apperrors.NewNotFoundError("database").
				WithDetail("project_id", c.Params("projectID")).
				WithDetail("database_id", databaseID))
		}
		c.SetUserContext(utils.WithDatabase(c.UserContext(), h.projectID, h.databaseID))
		return c.Next()
	}
}

// pathIDs returns the unescaped collection and document path parameters
func pathIDs(c *fiber.Ctx) (string, string, error) {
	collection, err := url.PathUnescape(c.Params("collectionID"))
	if err != nil {
		return "", "", apperrors.NewInvalidArgumentError("invalid collection ID escape").WithCause(err)
	}
	id, err := url.PathUnescape(c.Params("documentID"))
	if err != nil {
		return "", "", apperrors.NewInvalidArgumentError("invalid document ID escape").WithCause(err)
	}
	return collection, id, nil
}

// GetDocument handles GET /documents/:collectionID/:documentID
func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	collection, id, err := pathIDs(c)
	if err != nil {
		return writeError(c, err)
	}
	doc, _, err := h.uc.GetDocument(c.UserContext(), collection, id, c.Query("transaction"))
	if err != nil {
		return writeError(c, err)
	}
	if doc == nil {
		return writeError(c, apperrors.NewNotFoundError("document").WithDetail("path", collection+"/"+id))
	}
	out, err := wire.EncodeDocument(wire.DocumentName(h.root(), collection, id), doc)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// UpdateDocument handles PATCH /documents/:collectionID/:documentID. The
// document is replaced unless updateMask.fieldPaths names the fields to merge.
func (h *DocumentHandler) UpdateDocument(c *fiber.Ctx) error {
	collection, id, err := pathIDs(c)
	if err != nil {
		return writeError(c, err)
	}
	var body wire.Document
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, apperrors.NewInvalidArgumentError("invalid document body").WithCause(err))
	}
	body.Name = wire.DocumentName(h.root(), collection, id)

	in := wire.Write{Update: &body}
	if paths := c.Context().QueryArgs().PeekMulti("updateMask.fieldPaths"); len(paths) > 0 {
		mask := &wire.DocumentMask{}
		for _, p := range paths {
			mask.FieldPaths = append(mask.FieldPaths, string(p))
		}
		in.UpdateMask = mask
	}
	if exists := c.Query("currentDocument.exists"); exists != "" {
		want := exists == "true"
		in.CurrentDocument = &wire.Precondition{Exists: &want}
	}

	_, w, err := wire.DecodeWrite(in)
	if err != nil {
		return writeError(c, apperrors.NewInvalidArgumentError(err.Error()))
	}
	result, err := h.uc.Commit(c.UserContext(), collection, []model.Write{w}, "")
	if err != nil {
		return writeError(c, err)
	}
	out, err := wire.EncodeDocument(body.Name, result.Results[0].Document)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// DeleteDocument handles DELETE /documents/:collectionID/:documentID.
// Deleting a missing document succeeds.
func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	collection, id, err := pathIDs(c)
	if err != nil {
		return writeError(c, err)
	}
	if _, err := h.uc.Commit(c.UserContext(), collection, []model.Write{model.NewDeleteWrite(id)}, ""); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{})
}

// QueryDocuments handles POST /query/:collectionID
func (h *DocumentHandler) QueryDocuments(c *fiber.Ctx) error {
	var req wire.RunQueryRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperrors.NewInvalidArgumentError("invalid query body").WithCause(err))
	}
	collection, spec, err := wire.DecodeStructuredQuery(req.StructuredQuery)
	if err != nil {
		return writeError(c, apperrors.WrapError(err, apperrors.CodeInvalidArgument, err.Error()))
	}
	if want, _ := url.PathUnescape(c.Params("collectionID")); collection != want {
		return writeError(c, apperrors.NewInvalidArgumentError("query collection does not match the request path").
			WithDetail("collection", collection))
	}

	docs, readTime, err := h.uc.RunQuery(c.UserContext(), collection, spec, req.Transaction)
	if err != nil {
		return writeError(c, err)
	}
	rt := wire.FormatTime(readTime)
	if len(docs) == 0 {
		return c.JSON([]wire.RunQueryResponse{{ReadTime: rt}})
	}
	out := make([]wire.RunQueryResponse, 0, len(docs))
	for _, d := range docs {
		enc, err := wire.EncodeDocument(wire.DocumentName(h.root(), collection, d.ID), d)
		if err != nil {
			return writeError(c, err)
		}
		out = append(out, wire.RunQueryResponse{Document: enc, ReadTime: rt})
	}
	return c.JSON(out)
}

// BeginTransaction handles POST /beginTransaction
func (h *DocumentHandler) BeginTransaction(c *fiber.Ctx) error {
	tx, err := h.uc.BeginTransaction(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(wire.BeginTransactionResponse{Transaction: tx})
}

// Commit handles POST /commit. Every write must target the same collection
// of this database.
func (h *DocumentHandler) Commit(c *fiber.Ctx) error {
	var req wire.CommitRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperrors.NewInvalidArgumentError("invalid commit body").WithCause(err))
	}
	ctx := c.UserContext()

	if len(req.Writes) == 0 {
		if req.Transaction != "" {
			if err := h.uc.Rollback(ctx, req.Transaction); err != nil {
				return writeError(c, err)
			}
		}
		return c.JSON(wire.CommitResponse{WriteResults: []wire.WriteResult{}, CommitTime: wire.FormatTime(model.Now())})
	}

	var collection string
	writes := make([]model.Write, 0, len(req.Writes))
	for i, in := range req.Writes {
		if err := h.checkScope(in); err != nil {
			return writeError(c, err)
		}
		coll, w, err := wire.DecodeWrite(in)
		if err != nil {
			return writeError(c, apperrors.NewInvalidArgumentError(err.Error()).WithDetail("write", i))
		}
		if i > 0 && coll != collection {
			return writeError(c, apperrors.NewInvalidArgumentError("a commit must target a single collection").
				WithDetail("write", i))
		}
		collection = coll
		writes = append(writes, w)
	}

	result, err := h.uc.Commit(ctx, collection, writes, req.Transaction)
	if err != nil {
		return writeError(c, err)
	}
	resp := wire.CommitResponse{
		WriteResults: make([]wire.WriteResult, len(result.Results)),
		CommitTime:   wire.FormatTime(result.CommitTime),
	}
	for i, r := range result.Results {
		resp.WriteResults[i] = wire.WriteResult{UpdateTime: wire.FormatTime(r.UpdateTime), Version: r.Version}
	}
	return c.JSON(resp)
}

// checkScope verifies a write names a document of this database
func (h *DocumentHandler) checkScope(in wire.Write) error {
	name := in.Delete
	if in.Update != nil {
		name = in.Update.Name
	}
	info, err := resource.ParseDocumentName(name)
	if err != nil {
		return err
	}
	if info.ProjectID != h.projectID || info.DatabaseID != h.databaseID {
		return apperrors.NewInvalidArgumentError("write targets another database").WithDetail("name", name)
	}
	if info.DocumentID == "" {
		return apperrors.NewInvalidArgumentError("write must name a document").WithDetail("name", name)
	}
	return nil
}

// Rollback handles POST /rollback
func (h *DocumentHandler) Rollback(c *fiber.Ctx) error {
	var req wire.RollbackRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperrors.NewInvalidArgumentError("invalid rollback body").WithCause(err))
	}
	if err := h.uc.Rollback(c.UserContext(), req.Transaction); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{})
}

// writeError renders err in the {"error":{code,message,status}} envelope
func writeError(c *fiber.Ctx, err error) error {
	appErr := apperrors.AsAppError(err)
	return c.Status(appErr.HTTPCode).JSON(wire.ErrorResponse{Error: statusOf(appErr)})
}

func statusOf(appErr *apperrors.AppError) wire.Status {
	return wire.Status{Code: appErr.HTTPCode, Message: appErr.Message, Status: appErr.Status}
}
