package fixture_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"firestore-driver/internal/firestore/adapter/persistence/memory"
	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/driver/admin"
	"firestore-driver/internal/firestore/fixture"
	"firestore-driver/internal/firestore/query"
	apperrors "firestore-driver/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the calls a test programs and defers the rest to a
// memory store
type flakyStore struct {
	mock.Mock
	repository.Store
}

func (s *flakyStore) Query(ctx context.Context, collection string, plan *query.Plan) ([]*model.Document, error) {
	args := s.Called(collection)
	docs, _ := args.Get(0).([]*model.Document)
	return docs, args.Error(1)
}

func (s *flakyStore) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	args := s.Called(collection)
	return args.Get(0).(int64), args.Error(1)
}

func TestFixture_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	f := fixture.New(store, admin.New(store), fixture.WithRunID("run1"))
	assert.Equal(t, fixture.Uninitialized, f.State())

	require.NoError(t, f.Provision(ctx))
	assert.Equal(t, fixture.Provisioned, f.State())
	assert.Regexp(t, `^items-run1-[0-9a-f]{8}$`, f.Name())

	coll, err := f.Use()
	require.NoError(t, err)
	assert.Equal(t, fixture.InUse, f.State())
	assert.Equal(t, f.Name(), coll.ID())

	require.NoError(t, f.Seed(ctx, fixture.MockItem{ID: "a", Value: 1}))
	snap, err := coll.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, map[string]interface{}{"value": int64(1)}, snap.Data)

	require.NoError(t, f.Teardown(ctx))
	assert.Equal(t, fixture.TornDown, f.State())
	doc, err := store.Get(ctx, f.Name(), "a")
	require.NoError(t, err)
	assert.Nil(t, doc, "teardown drops every document of the namespace")

	require.NoError(t, f.Teardown(ctx), "teardown is idempotent")

	_, err = f.Use()
	require.True(t, apperrors.IsHarness(err))
	assert.Equal(t, apperrors.PhaseProvisioning, apperrors.AsAppError(err).Phase)
}

func TestFixture_IllegalTransitions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	f := fixture.New(store, admin.New(store))

	_, err := f.Use()
	assert.True(t, apperrors.IsHarness(err), "use before provisioning")
	assert.True(t, apperrors.IsHarness(f.Seed(ctx, fixture.MockItem{ID: "a"})), "seed before provisioning")

	require.NoError(t, f.Provision(ctx))
	assert.True(t, apperrors.IsHarness(f.Provision(ctx)), "provisioning twice")

	assert.True(t, apperrors.IsHarness(f.Seed(ctx, fixture.MockItem{ID: "a/b"})), "invalid item ID")
}

func TestFixture_NamesAreUnique(t *testing.T) {
	store := memory.NewStore(nil)
	driver := admin.New(store)

	var mu sync.Mutex
	names := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := fixture.New(store, driver, fixture.WithRunID("same-run"))
			if err := f.Provision(context.Background()); err != nil {
				t.Errorf("provision: %v", err)
				return
			}
			mu.Lock()
			names[f.Name()] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, names, 16)
}

func TestFixture_ProvisioningFailures(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(nil)}
	store.On("Query", mock.Anything).Return(nil, apperrors.NewBackendUnavailableError("mongodb down")).Once()
	store.On("Query", mock.Anything).Return([]*model.Document{{ID: "leftover"}}, nil).Once()

	f := fixture.New(store, admin.New(store))
	err := f.Provision(context.Background())
	require.True(t, apperrors.IsHarness(err))
	assert.Equal(t, apperrors.PhaseProvisioning, apperrors.AsAppError(err).Phase)
	assert.True(t, apperrors.IsBackendUnavailable(errors.Unwrap(err)), "the cause is kept")
	assert.Equal(t, fixture.Uninitialized, f.State())

	err = f.Provision(context.Background())
	require.True(t, apperrors.IsHarness(err))
	assert.Contains(t, err.Error(), "already holds documents")
	store.AssertExpectations(t)
}

func TestFixture_TeardownFailureKeepsState(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(nil)}
	store.On("Query", mock.Anything).Return(nil, nil)
	store.On("DeleteCollection", mock.Anything).Return(int64(0), errors.New("connection reset")).Once()
	store.On("DeleteCollection", mock.Anything).Return(int64(0), nil).Once()

	f := fixture.New(store, admin.New(store))
	require.NoError(t, f.Provision(context.Background()))
	_, err := f.Use()
	require.NoError(t, err)

	err = f.Teardown(context.Background())
	require.True(t, apperrors.IsHarness(err))
	assert.Equal(t, apperrors.PhaseTeardown, apperrors.AsAppError(err).Phase)
	assert.Equal(t, fixture.InUse, f.State())

	require.NoError(t, f.Teardown(context.Background()), "a later teardown retries")
	assert.Equal(t, fixture.TornDown, f.State())
}

// recordingTB captures what Setup reports instead of failing the real test
type recordingTB struct {
	testing.TB
	cleanups []func()
	logs     []string
	fatals   []string
}

func (r *recordingTB) Helper()          {}
func (r *recordingTB) Cleanup(f func()) { r.cleanups = append(r.cleanups, f) }
func (r *recordingTB) Logf(format string, args ...interface{}) {
	r.logs = append(r.logs, fmt.Sprintf(format, args...))
}
func (r *recordingTB) Fatalf(format string, args ...interface{}) {
	r.fatals = append(r.fatals, fmt.Sprintf(format, args...))
}

func (r *recordingTB) runCleanups() {
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i]()
	}
}

func TestSetup_TeardownFailureIsOnlyLogged(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(nil)}
	store.On("Query", mock.Anything).Return(nil, nil)
	store.On("DeleteCollection", mock.Anything).Return(int64(0), errors.New("connection reset"))

	tb := &recordingTB{TB: t}
	f, coll := fixture.Setup(tb, store, admin.New(store))
	require.NotNil(t, coll)
	assert.Empty(t, tb.fatals)
	assert.Equal(t, fixture.InUse, f.State())

	tb.runCleanups()
	require.Len(t, tb.logs, 1)
	assert.Contains(t, tb.logs[0], "harness:")
	assert.Contains(t, tb.logs[0], "connection reset")
	assert.Empty(t, tb.fatals, "a teardown failure never fails the test")
}

func TestSetup_ProvisioningFailureIsFatal(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(nil)}
	store.On("Query", mock.Anything).Return(nil, apperrors.NewBackendUnavailableError("mongodb down"))

	tb := &recordingTB{TB: t}
	fixture.Setup(tb, store, admin.New(store))
	require.NotEmpty(t, tb.fatals)
	assert.Contains(t, tb.fatals[0], "harness:")
}

func TestSetup_TearsDownAfterTheTest(t *testing.T) {
	store := memory.NewStore(nil)
	var name string
	t.Run("body", func(t *testing.T) {
		f, coll := fixture.Setup(t, store, admin.New(store))
		name = f.Name()
		_, err := coll.Set(context.Background(), "x", map[string]interface{}{"value": 1})
		require.NoError(t, err)
	})
	doc, err := store.Get(context.Background(), name, "x")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	driver := admin.New(store)

	leaked := fixture.New(store, driver, fixture.WithRunID("old"))
	require.NoError(t, leaked.Provision(ctx))
	require.NoError(t, leaked.Seed(ctx, fixture.StandardItems()...))
	other := fixture.New(store, driver, fixture.WithRunID("current"))
	require.NoError(t, other.Provision(ctx))
	require.NoError(t, other.Seed(ctx, fixture.MockItem{ID: "a", Value: 1}))

	dropped, err := fixture.Sweep(ctx, store, "items", "old")
	require.NoError(t, err)
	assert.Equal(t, []string{leaked.Name()}, dropped)

	doc, err := store.Get(ctx, other.Name(), "a")
	require.NoError(t, err)
	assert.NotNil(t, doc, "other runs are left alone")
}

func TestMockItemData(t *testing.T) {
	assert.Equal(t, map[string]interface{}{"value": int64(1)}, fixture.MockItem{ID: "a", Value: 1}.Data())
	assert.Equal(t, map[string]interface{}{
		"value": int64(2),
		"name":  "n",
		"tags":  []interface{}{"x"},
	}, fixture.MockItem{ID: "b", Value: 2, Name: "n", Tags: []string{"x"}}.Data())
}
