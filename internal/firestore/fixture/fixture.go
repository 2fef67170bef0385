// Package fixture provisions isolated mock collections for driver tests.
// Each fixture owns one uniquely named collection, seeds it through the
// privileged store and drops it at teardown. Isolation between concurrent
// fixtures comes from the names alone.
package fixture

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"firestore-driver/internal/firestore/config"
	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/query"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"
	"firestore-driver/internal/shared/utils"

	"github.com/caarlos0/env/v6"
	"github.com/google/uuid"
)

// State is a point in the fixture lifecycle
type State int

const (
	Uninitialized State = iota
	Provisioned
	InUse
	TornDown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Provisioned:
		return "provisioned"
	case InUse:
		return "in-use"
	case TornDown:
		return "torn-down"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	defaultsOnce sync.Once
	defaults     config.FixtureConfig
)

// Defaults returns the fixture settings from the environment. Without
// FIXTURE_RUN_ID every process gets its own run ID.
func Defaults() config.FixtureConfig {
	defaultsOnce.Do(func() {
		if err := env.Parse(&defaults); err != nil || defaults.Prefix == "" {
			defaults.Prefix = "items"
		}
		if defaults.RunID == "" {
			defaults.RunID = shortID()
		}
	})
	return defaults
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Option configures a Fixture
type Option func(*Fixture)

// WithPrefix sets the collection name prefix
func WithPrefix(prefix string) Option {
	return func(f *Fixture) { f.prefix = prefix }
}

// WithRunID sets the run ID shared by every collection of a test run
func WithRunID(runID string) Option {
	return func(f *Fixture) { f.runID = runID }
}

// WithLogger sets the harness logger
func WithLogger(log logger.Logger) Option {
	return func(f *Fixture) { f.log = log }
}

// Fixture is one mock collection. admin is the privileged store used for
// seeding, the emptiness check and teardown; driver is the driver under test.
type Fixture struct {
	admin  repository.Store
	driver repository.Driver
	prefix string
	runID  string
	log    logger.Logger

	mu    sync.Mutex
	state State
	name  string
}

// New creates an uninitialized fixture
func New(admin repository.Store, driver repository.Driver, opts ...Option) *Fixture {
	d := Defaults()
	f := &Fixture{admin: admin, driver: driver, prefix: d.Prefix, runID: d.RunID}
	for _, o := range opts {
		o(f)
	}
	if f.log == nil {
		f.log = logger.NewNop()
	}
	f.log = f.log.WithComponent("fixture").WithFields(map[string]interface{}{"runId": f.runID})
	return f
}

// State returns the current lifecycle state
func (f *Fixture) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Name returns the collection name, empty before Provision
func (f *Fixture) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

// Context tags ctx with the fixture run ID
func (f *Fixture) Context(ctx context.Context) context.Context {
	return utils.WithRunID(ctx, f.runID)
}

func provisioning(format string, args ...interface{}) *apperrors.AppError {
	return apperrors.NewHarnessError(apperrors.PhaseProvisioning, fmt.Sprintf(format, args...)).WithComponent("fixture")
}

// Provision allocates <prefix>-<runID>-<id> and checks it holds no
// documents. Any failure is a provisioning harness error.
func (f *Fixture) Provision(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Uninitialized {
		return provisioning("cannot provision a %s fixture", f.state)
	}
	if f.admin == nil || f.driver == nil {
		return provisioning("fixture needs a privileged store and a driver")
	}

	name := fmt.Sprintf("%s-%s-%s", f.prefix, f.runID, shortID())
	if err := model.ValidateCollectionID(name); err != nil {
		return provisioning("invalid collection name %q", name).WithCause(err)
	}
	plan, err := query.Translate(ctx, model.QuerySpec{Limit: 1}, query.Privileged(), nil)
	if err != nil {
		return provisioning("build emptiness probe").WithCause(err)
	}
	docs, err := f.admin.Query(f.Context(ctx), name, plan)
	if err != nil {
		return provisioning("probe collection %s", name).WithCause(err)
	}
	if len(docs) > 0 {
		return provisioning("collection %s already holds documents", name)
	}

	f.name = name
	f.state = Provisioned
	f.log.Debugf("Provisioned %s for driver %s", name, f.driver.Name())
	return nil
}

// Use returns the collection bound to the driver under test. It may be
// called again while the fixture is in use.
func (f *Fixture) Use() (repository.CollectionReference, error) {
	return f.UseWith(f.driver)
}

// UseWith returns the fixture collection bound to another driver over the
// same backend, e.g. the admin driver in parity checks
func (f *Fixture) UseWith(d repository.Driver) (repository.CollectionReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Provisioned && f.state != InUse {
		return nil, provisioning("cannot use a %s fixture", f.state)
	}
	f.state = InUse
	return d.Collection(f.name), nil
}

// Seed writes items in one atomic commit through the privileged store
func (f *Fixture) Seed(ctx context.Context, items ...MockItem) error {
	f.mu.Lock()
	name, state := f.name, f.state
	f.mu.Unlock()
	if state != Provisioned && state != InUse {
		return provisioning("cannot seed a %s fixture", state)
	}
	if len(items) == 0 {
		return nil
	}

	writes := make([]model.Write, 0, len(items))
	for _, item := range items {
		w, err := model.NewSetWrite(item.ID, item.Data())
		if err != nil {
			return provisioning("invalid mock item %q", item.ID).WithCause(err)
		}
		writes = append(writes, w)
	}
	if _, err := f.admin.Commit(f.Context(ctx), name, writes); err != nil {
		return provisioning("seed %s", name).WithCause(err)
	}
	return nil
}

// Teardown drops the collection through the privileged store. It is
// idempotent. On failure the fixture stays in its state so a later call can
// retry.
func (f *Fixture) Teardown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case TornDown:
		return nil
	case Uninitialized:
		f.state = TornDown
		return nil
	}

	n, err := f.admin.DeleteCollection(f.Context(ctx), f.name)
	if err != nil {
		return apperrors.NewHarnessError(apperrors.PhaseTeardown, fmt.Sprintf("drop %s", f.name)).
			WithCause(err).WithComponent("fixture")
	}
	f.state = TornDown
	f.log.Debugf("Tore down %s (%d documents)", f.name, n)
	return nil
}

// Sweep drops collections left behind by fixtures of runID, or of every run
// when runID is empty, and returns their names
func Sweep(ctx context.Context, admin repository.Store, prefix, runID string) ([]string, error) {
	match := prefix + "-"
	if runID != "" {
		match += runID + "-"
	}
	names, err := admin.ListCollections(ctx, match)
	if err != nil {
		return nil, apperrors.NewHarnessError(apperrors.PhaseTeardown, "list fixture collections").WithCause(err)
	}
	dropped := make([]string, 0, len(names))
	for _, name := range names {
		if _, err := admin.DeleteCollection(ctx, name); err != nil {
			return dropped, apperrors.NewHarnessError(apperrors.PhaseTeardown, fmt.Sprintf("drop %s", name)).WithCause(err)
		}
		dropped = append(dropped, name)
	}
	return dropped, nil
}
