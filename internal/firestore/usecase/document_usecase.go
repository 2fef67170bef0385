package usecase

import (
	"context"
	"fmt"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/query"
	"firestore-driver/internal/shared/contextkeys"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"
	"firestore-driver/internal/shared/metrics"
	"firestore-driver/internal/shared/utils"
)

// DocumentUsecaseInterface is what the gateway handlers call. Every method
// evaluates security rules for the caller found in ctx before touching the
// store.
type DocumentUsecaseInterface interface {
	GetDocument(ctx context.Context, collection, id, transaction string) (*model.Document, time.Time, error)
	RunQuery(ctx context.Context, collection string, spec model.QuerySpec, transaction string) ([]*model.Document, time.Time, error)
	Commit(ctx context.Context, collection string, writes []model.Write, transaction string) (*model.CommitResult, error)
	BeginTransaction(ctx context.Context) (string, error)
	Rollback(ctx context.Context, transaction string) error
	Listen(ctx context.Context, collection string, spec model.QuerySpec, resumeToken string, emit SnapshotFunc) error
}

// Config holds the rule evaluation scope of a DocumentUsecase
type Config struct {
	ProjectID    string
	DatabaseID   string
	Capabilities query.Capabilities
}

// DocumentUsecase implements rule-checked document access
type DocumentUsecase struct {
	store    repository.Store
	rules    repository.SecurityRulesEngine
	txs      *TransactionRegistry
	realtime *RealtimeUsecase
	cfg      Config
	log      logger.Logger
	metrics  *metrics.Metrics
}

// NewDocumentUsecase creates a new instance of DocumentUsecase. m may be nil.
func NewDocumentUsecase(
	store repository.Store,
	rules repository.SecurityRulesEngine,
	txs *TransactionRegistry,
	realtime *RealtimeUsecase,
	cfg Config,
	log logger.Logger,
	m *metrics.Metrics,
) *DocumentUsecase {
	if log == nil {
		log = logger.NewNop()
	}
	return &DocumentUsecase{
		store:    store,
		rules:    rules,
		txs:      txs,
		realtime: realtime,
		cfg:      cfg,
		log:      log.WithComponent("document-usecase"),
		metrics:  m,
	}
}

var _ DocumentUsecaseInterface = (*DocumentUsecase)(nil)

// caller returns the authenticated principal in ctx, nil when anonymous
func caller(ctx context.Context) *repository.AuthInfo {
	uid, err := utils.GetUserIDFromContext(ctx)
	if err != nil || uid == "" {
		return nil
	}
	email, _ := ctx.Value(contextkeys.UserEmailKey).(string)
	return &repository.AuthInfo{UID: uid, Email: email}
}

func owner(ctx context.Context) string {
	if auth := caller(ctx); auth != nil {
		return auth.UID
	}
	return ""
}

// authorize evaluates op at path. resource is the stored data, request the
// data the caller wants stored; either may be nil.
func (uc *DocumentUsecase) authorize(ctx context.Context, op repository.OperationType, path string, resource, request map[string]interface{}) error {
	sc := &repository.SecurityContext{
		Auth:       caller(ctx),
		ProjectID:  uc.cfg.ProjectID,
		DatabaseID: uc.cfg.DatabaseID,
		Path:       path,
		Resource:   resource,
		Request:    request,
	}
	result, err := uc.rules.EvaluateAccess(ctx, op, sc)
	if err != nil {
		return apperrors.NewInternalError("rule evaluation failed").WithCause(err).WithComponent("document-usecase")
	}
	uc.metrics.ObserveRuleDecision(string(op), result.Allowed)
	if !result.Allowed {
		uc.log.WithContext(ctx).Debugf("Denied %s on %s: %s", op, path, result.Reason)
		return apperrors.NewPermissionDeniedError("Missing or insufficient permissions.").
			WithDetail("operation", string(op)).
			WithDetail("path", path).
			WithComponent("document-usecase")
	}
	return nil
}

func validateName(collection, id string) error {
	if err := model.ValidateCollectionID(collection); err != nil {
		return apperrors.NewInvalidArgumentError(err.Error())
	}
	if id == "" {
		return nil
	}
	if err := model.ValidateDocumentID(id); err != nil {
		return apperrors.NewInvalidArgumentError(err.Error())
	}
	return nil
}

func dataOf(doc *model.Document) map[string]interface{} {
	if doc == nil {
		return nil
	}
	return doc.Data
}

// GetDocument returns the document or nil when it does not exist
func (uc *DocumentUsecase) GetDocument(ctx context.Context, collection, id, transaction string) (*model.Document, time.Time, error) {
	if err := validateName(collection, id); err != nil {
		return nil, time.Time{}, err
	}
	doc, err := uc.store.Get(ctx, collection, id)
	if err != nil {
		return nil, time.Time{}, err
	}
	readTime := model.Now()
	if err := uc.authorize(ctx, repository.OperationGet, collection+"/"+id, dataOf(doc), nil); err != nil {
		return nil, time.Time{}, err
	}
	if transaction != "" {
		if err := uc.txs.RecordRead(transaction, owner(ctx), collection, map[string]*model.Document{id: doc}); err != nil {
			return nil, time.Time{}, err
		}
	}
	return doc, readTime, nil
}

// RunQuery evaluates spec with the restricted capability set
func (uc *DocumentUsecase) RunQuery(ctx context.Context, collection string, spec model.QuerySpec, transaction string) ([]*model.Document, time.Time, error) {
	plan, err := uc.plan(ctx, collection, spec)
	if err != nil {
		return nil, time.Time{}, err
	}
	docs, err := uc.store.Query(ctx, collection, plan)
	if err != nil {
		return nil, time.Time{}, err
	}
	readTime := model.Now()
	if transaction != "" {
		read := make(map[string]*model.Document, len(docs))
		for _, d := range docs {
			read[d.ID] = d
		}
		if err := uc.txs.RecordRead(transaction, owner(ctx), collection, read); err != nil {
			return nil, time.Time{}, err
		}
	}
	return docs, readTime, nil
}

// plan checks list access and translates spec. A key cursor is resolved
// through a get that is itself rule-checked.
func (uc *DocumentUsecase) plan(ctx context.Context, collection string, spec model.QuerySpec) (*query.Plan, error) {
	if err := validateName(collection, ""); err != nil {
		return nil, err
	}
	if err := uc.authorize(ctx, repository.OperationList, collection, nil, nil); err != nil {
		return nil, err
	}
	lookup := func(ctx context.Context, id string) (*model.Document, error) {
		doc, _, err := uc.GetDocument(ctx, collection, id, "")
		return doc, err
	}
	return query.Translate(ctx, spec, uc.cfg.Capabilities, lookup)
}

// Commit authorizes and applies writes atomically. Inside a transaction the
// writes are guarded by the versions the transaction read.
func (uc *DocumentUsecase) Commit(ctx context.Context, collection string, writes []model.Write, transaction string) (*model.CommitResult, error) {
	if err := validateName(collection, ""); err != nil {
		return nil, err
	}
	for i, w := range writes {
		if err := w.Validate(); err != nil {
			return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("write %d: %v", i, err))
		}
		if !uc.cfg.Capabilities.ServerTimestamps && model.ContainsSentinel(w.Data) {
			return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("write %d: field transforms are not available", i))
		}
	}
	requested := len(writes)
	if transaction != "" {
		guarded, err := uc.txs.Finish(transaction, owner(ctx), collection, writes)
		if err != nil {
			return nil, err
		}
		writes = guarded
	}
	if err := uc.authorizeWrites(ctx, collection, writes); err != nil {
		return nil, err
	}

	result, err := uc.store.Commit(ctx, collection, writes)
	if err != nil {
		return nil, err
	}
	// verify writes added for the transaction's reads are not reported
	result.Results = result.Results[:requested]
	uc.log.WithContext(ctx).Debugf("Committed %d writes to %s", len(writes), collection)
	return result, nil
}

// authorizeWrites replays writes over the current state so each is judged
// against the document as the earlier writes of the commit left it
func (uc *DocumentUsecase) authorizeWrites(ctx context.Context, collection string, writes []model.Write) error {
	pending := make(map[string]*model.Document, len(writes))
	now := model.Now()
	for _, w := range writes {
		// a verify write changes nothing, so no rule applies to it
		if w.Kind == model.WriteVerify {
			continue
		}
		existing, seen := pending[w.ID]
		if !seen {
			doc, err := uc.store.Get(ctx, collection, w.ID)
			if err != nil {
				return err
			}
			existing = doc
		}
		path := collection + "/" + w.ID

		if w.Kind == model.WriteDelete {
			if err := uc.authorize(ctx, repository.OperationDelete, path, dataOf(existing), nil); err != nil {
				return err
			}
			pending[w.ID] = nil
			continue
		}

		next, err := model.ApplyWrite(existing, collection, w, now)
		if err != nil {
			return apperrors.NewInvalidArgumentError(err.Error())
		}
		op := repository.OperationUpdate
		if existing == nil {
			op = repository.OperationCreate
		}
		if err := uc.authorize(ctx, op, path, dataOf(existing), next.Data); err != nil {
			return err
		}
		pending[w.ID] = next
	}
	return nil
}

// BeginTransaction opens a server side transaction owned by the caller
func (uc *DocumentUsecase) BeginTransaction(ctx context.Context) (string, error) {
	return uc.txs.Begin(owner(ctx)), nil
}

// Rollback discards a transaction
func (uc *DocumentUsecase) Rollback(ctx context.Context, transaction string) error {
	if transaction == "" {
		return apperrors.NewInvalidArgumentError("transaction is required")
	}
	uc.txs.Rollback(transaction, owner(ctx))
	return nil
}

// Listen checks list access once and then streams snapshots until ctx is
// done or emit fails
func (uc *DocumentUsecase) Listen(ctx context.Context, collection string, spec model.QuerySpec, resumeToken string, emit SnapshotFunc) error {
	plan, err := uc.plan(ctx, collection, spec)
	if err != nil {
		return err
	}
	if uc.realtime == nil {
		return apperrors.NewBackendUnavailableError("listeners are not configured")
	}
	defer uc.metrics.ListenerStarted("gateway")()
	return uc.realtime.Watch(ctx, collection, plan, resumeToken, emit)
}
