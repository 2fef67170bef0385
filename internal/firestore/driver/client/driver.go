// Package client is the restricted driver. It reaches the store only through
// the gateway, so every call is subject to security rules.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/query"
	"firestore-driver/internal/firestore/wire"
	apperrors "firestore-driver/internal/shared/errors"
	resource "firestore-driver/internal/shared/firestore"
	"firestore-driver/internal/shared/logger"
	"firestore-driver/internal/shared/metrics"
	"firestore-driver/internal/shared/utils"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
)

// DriverName identifies the client driver in logs and metrics
const DriverName = "client"

// DefaultTimeout bounds one gateway round trip
const DefaultTimeout = 10 * time.Second

// headerRequestID carries the caller's request ID to the gateway
const headerRequestID = "X-Request-ID"

// Config describes how to reach the gateway
type Config struct {
	// BaseURL is the gateway root, e.g. http://127.0.0.1:8080
	BaseURL    string
	ProjectID  string
	DatabaseID string
	// Token is the bearer ID token. Empty calls are anonymous.
	Token   string
	Timeout time.Duration

	// MaxReconnectAttempts and ReconnectBackoff tune listeners
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration

	Log     logger.Logger
	Metrics *metrics.Metrics
}

// Driver implements repository.Driver over the gateway REST API
type Driver struct {
	cfg    Config
	base   string
	dbPath string
	http   *fasthttp.Client
	dialer *websocket.Dialer
	log    logger.Logger

	tokenMu sync.RWMutex
	token   string
	closed  atomic.Bool
}

var _ repository.Driver = (*Driver)(nil)

// New creates a client driver
func New(cfg Config) (*Driver, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway base URL %q", cfg.BaseURL)
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("project ID is required")
	}
	if cfg.DatabaseID == "" {
		cfg.DatabaseID = resource.DefaultDatabaseID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}

	d := &Driver{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		dbPath: "/v1/projects/" + url.PathEscape(cfg.ProjectID) + "/databases/" + url.PathEscape(cfg.DatabaseID),
		http: &fasthttp.Client{
			Name:                "firestore-driver",
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
		log:    log.WithComponent("client-driver"),
		token:  cfg.Token,
	}
	return d, nil
}

// Name implements repository.Driver
func (d *Driver) Name() string { return DriverName }

// Capabilities implements repository.Driver
func (d *Driver) Capabilities() query.Capabilities {
	return query.Restricted()
}

// Collection implements repository.Driver
func (d *Driver) Collection(name string) repository.CollectionReference {
	return &Collection{driver: d, name: name}
}

// Close implements repository.Driver. Idle connections are released and
// later calls fail with BackendUnavailable.
func (d *Driver) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.http.CloseIdleConnections()
	return nil
}

// SetToken replaces the bearer token used by later calls
func (d *Driver) SetToken(token string) {
	d.tokenMu.Lock()
	d.token = token
	d.tokenMu.Unlock()
}

func (d *Driver) bearer() string {
	d.tokenMu.RLock()
	defer d.tokenMu.RUnlock()
	return d.token
}

func (d *Driver) documentsRoot() string {
	return resource.DocumentsRoot(d.cfg.ProjectID, d.cfg.DatabaseID)
}

func (d *Driver) begin(ctx context.Context, collection string) (context.Context, error) {
	if d.closed.Load() {
		return ctx, apperrors.NewBackendUnavailableError("driver is closed").WithComponent("client-driver")
	}
	return utils.WithDriverScope(ctx, DriverName, collection), nil
}

func (d *Driver) finish(op string, start time.Time, err error) error {
	d.cfg.Metrics.ObserveDriverCall(DriverName, op, start, err)
	return err
}

// call performs one JSON round trip. out may be nil. Non-2xx responses are
// decoded from the error envelope.
func (d *Driver) call(ctx context.Context, method, path string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewBackendUnavailableError("request cancelled").WithCause(err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(d.base + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if token := d.bearer(); token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	if rid, err := utils.GetRequestIDFromContext(ctx); err == nil && rid != "" {
		req.Header.Set(headerRequestID, rid)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewInvalidArgumentError("encode request").WithCause(err)
		}
		req.SetBodyRaw(raw)
	}

	timeout := d.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := d.http.DoTimeout(req, resp, timeout); err != nil {
		return apperrors.NewBackendUnavailableError(fmt.Sprintf("%s %s", method, path)).WithCause(err).WithComponent("client-driver")
	}

	status := resp.StatusCode()
	if status >= 300 {
		return decodeError(status, resp.Body())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apperrors.NewBackendUnavailableError("malformed gateway response").WithCause(err).WithComponent("client-driver")
	}
	return nil
}

// decodeError maps a gateway failure onto the driver error codes. Server
// faults are reported as BackendUnavailable whatever their status.
func decodeError(httpStatus int, body []byte) error {
	var env wire.ErrorResponse
	_ = json.Unmarshal(body, &env)
	return statusError(httpStatus, &env.Error)
}

func statusError(httpStatus int, st *wire.Status) error {
	var code apperrors.ErrorCode
	switch {
	case httpStatus >= 500:
		code = apperrors.CodeBackendUnavailable
	case st.Status != "":
		code = apperrors.CodeFromStatus(st.Status)
	default:
		code = codeFromHTTP(httpStatus)
	}
	msg := st.Message
	if msg == "" {
		msg = fmt.Sprintf("gateway returned HTTP %d", httpStatus)
	}
	appErr := apperrors.NewAppError(code, msg).WithComponent("client-driver")
	if st.Status != "" {
		appErr = appErr.WithStatus(st.Status, httpStatus)
	}
	return appErr
}

func codeFromHTTP(status int) apperrors.ErrorCode {
	switch status {
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
		return apperrors.CodePermissionDenied
	case fasthttp.StatusNotFound:
		return apperrors.CodeNotFound
	case fasthttp.StatusConflict:
		return apperrors.CodeTransactionConflict
	case fasthttp.StatusBadRequest:
		return apperrors.CodeInvalidArgument
	}
	return apperrors.CodeInternal
}

// SignInWithPassword exchanges credentials for an ID token and uses it for
// later calls
func (d *Driver) SignInWithPassword(ctx context.Context, email, password string) (*wire.SignInResponse, error) {
	var resp wire.SignInResponse
	if err := d.call(ctx, fasthttp.MethodPost, "/v1/auth/signIn", wire.SignInRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	d.SetToken(resp.IDToken)
	return &resp, nil
}
