// Package admin is the privileged driver. It talks to the store directly,
// bypasses security rules and can use every feature the store offers.
package admin

import (
	"context"
	"sync/atomic"
	"time"

	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/query"
	"firestore-driver/internal/firestore/usecase"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"
	"firestore-driver/internal/shared/metrics"
	"firestore-driver/internal/shared/utils"
)

// DriverName identifies the admin driver in logs and metrics
const DriverName = "admin"

// Driver implements repository.Driver over a repository.Store
type Driver struct {
	store    repository.Store
	realtime *usecase.RealtimeUsecase
	log      logger.Logger
	metrics  *metrics.Metrics
	closed   atomic.Bool
}

var _ repository.Driver = (*Driver)(nil)

// Option configures a Driver
type Option func(*Driver)

// WithRealtime enables listeners backed by a change feed
func WithRealtime(rt *usecase.RealtimeUsecase) Option {
	return func(d *Driver) { d.realtime = rt }
}

// WithLogger sets the driver logger
func WithLogger(log logger.Logger) Option {
	return func(d *Driver) { d.log = log }
}

// WithMetrics records every call on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// New creates an admin driver. The store stays owned by the caller: Close
// only detaches the driver.
func New(store repository.Store, opts ...Option) *Driver {
	d := &Driver{store: store}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = logger.NewNop()
	}
	d.log = d.log.WithComponent("admin-driver")
	return d
}

// Name implements repository.Driver
func (d *Driver) Name() string { return DriverName }

// Capabilities implements repository.Driver
func (d *Driver) Capabilities() query.Capabilities {
	caps := query.Privileged()
	caps.Listeners = d.realtime != nil
	return caps
}

// Collection implements repository.Driver
func (d *Driver) Collection(name string) repository.CollectionReference {
	return &Collection{driver: d, name: name}
}

// Close implements repository.Driver. Later calls fail with BackendUnavailable.
func (d *Driver) Close() error {
	d.closed.Store(true)
	return nil
}

// begin checks the driver is usable and returns a context scoped to the call
func (d *Driver) begin(ctx context.Context, collection string) (context.Context, error) {
	if d.closed.Load() {
		return ctx, apperrors.NewBackendUnavailableError("driver is closed").WithComponent("admin-driver")
	}
	return utils.WithDriverScope(ctx, DriverName, collection), nil
}

// finish classifies err and records the call
func (d *Driver) finish(op string, start time.Time, err error) error {
	err = classify(err)
	d.metrics.ObserveDriverCall(DriverName, op, start, err)
	return err
}

// classify keeps classified errors and reports the rest as backend faults
func classify(err error) error {
	return apperrors.WrapError(err, apperrors.CodeBackendUnavailable, "store call failed")
}
