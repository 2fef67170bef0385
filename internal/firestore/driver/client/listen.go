package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/driver/stream"
	"firestore-driver/internal/firestore/wire"
	apperrors "firestore-driver/internal/shared/errors"

	"github.com/fasthttp/websocket"
)

// listenURL is the socket endpoint of this database
func (d *Driver) listenURL() string {
	u := d.base + d.dbPath + "/ws/listen"
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

// Listen implements repository.Listener. The query is validated locally
// before the first connection; rule denials and later failures surface
// from Next. Dropped sockets reconnect with the last resume token.
func (c *Collection) Listen(ctx context.Context, spec model.QuerySpec) (it repository.SnapshotIterator, err error) {
	defer func(start time.Time) { err = c.driver.finish("listen", start, err) }(time.Now())
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return nil, err
	}
	sq, err := c.structuredQuery(ctx, spec)
	if err != nil {
		return nil, err
	}

	source := func(ctx context.Context, resumeToken string, emit stream.EmitFunc) error {
		return c.driver.listenOnce(ctx, sq, resumeToken, emit)
	}
	return stream.Start(ctx, source, "", stream.Options{
		MaxReconnectAttempts: c.driver.cfg.MaxReconnectAttempts,
		Backoff:              c.driver.cfg.ReconnectBackoff,
		Log:                  c.driver.log,
		OnStop:               c.driver.cfg.Metrics.ListenerStarted(DriverName),
	}), nil
}

// listenOnce runs one socket until it fails or ctx is done
func (d *Driver) listenOnce(ctx context.Context, sq *wire.StructuredQuery, resumeToken string, emit stream.EmitFunc) error {
	if d.closed.Load() {
		return repository.ErrListenerStopped
	}
	header := http.Header{}
	if token := d.bearer(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := d.dialer.DialContext(ctx, d.listenURL(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return statusError(resp.StatusCode, &wire.Status{})
		}
		return apperrors.NewBackendUnavailableError("listen dial failed").WithCause(err).WithComponent("client-driver")
	}
	defer conn.Close()

	// unblock the read loop when the iterator stops
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(wire.ListenRequest{StructuredQuery: sq, ResumeToken: resumeToken}); err != nil {
		return apperrors.NewBackendUnavailableError("send listen request").WithCause(err).WithComponent("client-driver")
	}

	for {
		var frame wire.ListenResponse
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperrors.NewBackendUnavailableError("listen socket closed").WithCause(err).WithComponent("client-driver")
		}
		if frame.Error != nil {
			return statusError(frame.Error.Code, frame.Error)
		}
		docs, err := wire.DecodeSnapshotDocuments(&frame)
		if err != nil {
			return apperrors.NewBackendUnavailableError("malformed snapshot frame").WithCause(err).WithComponent("client-driver")
		}
		readTime, _ := wire.ParseTime(frame.ReadTime)
		if err := emit(docs, readTime, frame.ResumeToken); err != nil {
			return err
		}
	}
}
