package http

import (
	"context"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/usecase"
	"firestore-driver/internal/firestore/wire"
	"firestore-driver/internal/shared/contextkeys"
	apperrors "firestore-driver/internal/shared/errors"
	resource "firestore-driver/internal/shared/firestore"
	"firestore-driver/internal/shared/logger"
	"firestore-driver/internal/shared/utils"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// listenHandshakeTimeout bounds the wait for the ListenRequest frame
	listenHandshakeTimeout = 10 * time.Second
	listenWriteTimeout     = 10 * time.Second
)

// ListenHandler streams query snapshots over a websocket. The client opens
// the socket, sends one ListenRequest frame and then only reads. Each server
// frame carries the full result so a client resuming on a new socket can
// diff against what it already holds.
type ListenHandler struct {
	uc         usecase.DocumentUsecaseInterface
	projectID  string
	databaseID string
	log        logger.Logger
}

// NewListenHandler creates a new ListenHandler
func NewListenHandler(uc usecase.DocumentUsecaseInterface, projectID, databaseID string, log logger.Logger) *ListenHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &ListenHandler{uc: uc, projectID: projectID, databaseID: databaseID, log: log.WithComponent("listen-handler")}
}

// RegisterRoutes mounts the listen socket on a database scoped router
func (h *ListenHandler) RegisterRoutes(router fiber.Router) {
	router.Use("/ws/listen", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws/listen", websocket.New(h.handleConnection))
}

// connContext rebuilds the caller identity the HTTP middleware resolved
func connContext(conn *websocket.Conn) context.Context {
	ctx := context.Background()
	if rid, ok := conn.Locals(string(contextkeys.RequestIDKey)).(string); ok && rid != "" {
		ctx = utils.WithRequestID(ctx, rid)
	}
	if uid, ok := conn.Locals(string(contextkeys.UserIDKey)).(string); ok && uid != "" {
		email, _ := conn.Locals(string(contextkeys.UserEmailKey)).(string)
		ctx = utils.WithUser(ctx, uid, email)
	}
	return ctx
}

func (h *ListenHandler) handleConnection(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(connContext(conn))
	defer cancel()

	log := h.log.WithContext(ctx).WithFields(map[string]interface{}{"listener": uuid.NewString()})
	defer func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}()

	var req wire.ListenRequest
	_ = conn.SetReadDeadline(time.Now().Add(listenHandshakeTimeout))
	if err := conn.ReadJSON(&req); err != nil {
		h.writeError(conn, apperrors.NewInvalidArgumentError("first frame must be a listen request").WithCause(err))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	collection, spec, err := wire.DecodeStructuredQuery(req.StructuredQuery)
	if err != nil {
		h.writeError(conn, apperrors.WrapError(err, apperrors.CodeInvalidArgument, err.Error()))
		return
	}

	// the client sends nothing after the request, so a failed read means it left
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debugf("Listen socket read failed: %v", err)
				}
				return
			}
		}
	}()

	log.Debugf("Listening on %s", collection)
	root := resource.DocumentsRoot(h.projectID, h.databaseID)
	err = h.uc.Listen(ctx, collection, spec, req.ResumeToken, func(snap *model.QuerySnapshot) error {
		frame, err := wire.EncodeSnapshot(root, collection, snap)
		if err != nil {
			return apperrors.NewInternalError("encode snapshot").WithCause(err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(listenWriteTimeout))
		return conn.WriteJSON(frame)
	})
	if err != nil && ctx.Err() == nil {
		log.Debugf("Listen on %s ended: %v", collection, err)
		h.writeError(conn, err)
	}
}

// writeError sends the terminal error frame
func (h *ListenHandler) writeError(conn *websocket.Conn, err error) {
	status := statusOf(apperrors.AsAppError(err))
	_ = conn.SetWriteDeadline(time.Now().Add(listenWriteTimeout))
	if werr := conn.WriteJSON(wire.ListenResponse{Error: &status}); werr != nil {
		h.log.Debugf("Failed to send listen error frame: %v", werr)
	}
}
