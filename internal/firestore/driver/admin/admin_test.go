package admin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"firestore-driver/internal/firestore/adapter/persistence/memory"
	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/driver/admin"
	"firestore-driver/internal/firestore/drivertest"
	"firestore-driver/internal/firestore/query"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"
	"firestore-driver/internal/shared/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConformance(t *testing.T) {
	drivertest.RunConformanceTests(t, drivertest.AdminHarness(drivertest.MemoryStore))
}

func TestConformanceMongo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MongoDB conformance in short mode")
	}
	drivertest.RunConformanceTests(t, drivertest.AdminHarness(drivertest.MongoStore))
}

// brokenStore fails every call with err
type brokenStore struct {
	err error
}

func (s *brokenStore) Get(ctx context.Context, collection, id string) (*model.Document, error) {
	return nil, s.err
}

func (s *brokenStore) Commit(ctx context.Context, collection string, writes []model.Write) (*model.CommitResult, error) {
	return nil, s.err
}

func (s *brokenStore) Query(ctx context.Context, collection string, plan *query.Plan) ([]*model.Document, error) {
	return nil, s.err
}

func (s *brokenStore) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	return 0, s.err
}

func (s *brokenStore) ListCollections(ctx context.Context, prefix string) ([]string, error) {
	return nil, s.err
}

func (s *brokenStore) Close(ctx context.Context) error { return nil }

func TestBackendFaultsAreClassified(t *testing.T) {
	ctx := context.Background()
	store := &brokenStore{err: errors.New("socket closed")}
	coll := admin.New(store).Collection("items")

	_, err := coll.Get(ctx, "a")
	assert.True(t, apperrors.IsBackendUnavailable(err), "get: %v", err)
	_, err = coll.Set(ctx, "a", map[string]interface{}{"value": 1})
	assert.True(t, apperrors.IsBackendUnavailable(err), "set: %v", err)
	_, err = coll.Query(ctx, model.QuerySpec{})
	assert.True(t, apperrors.IsBackendUnavailable(err), "query: %v", err)
	assert.True(t, apperrors.IsBackendUnavailable(coll.Delete(ctx, "a")), "delete")

	err = coll.RunTransaction(ctx, func(ctx context.Context, tx repository.Transaction) error {
		_, err := tx.Get(ctx, "a")
		return err
	})
	assert.True(t, apperrors.IsBackendUnavailable(err), "transaction: %v", err)
}

func TestClassifiedErrorsPassThrough(t *testing.T) {
	store := &brokenStore{err: apperrors.NewTransactionConflictError("version moved")}
	_, err := admin.New(store).Collection("items").Set(context.Background(), "a", map[string]interface{}{"value": 1})
	assert.True(t, apperrors.IsTransactionConflict(err), "got %v", err)
}

func TestClosedDriver(t *testing.T) {
	d := admin.New(memory.NewStore(nil))
	coll := d.Collection("items")
	require.NoError(t, d.Close())

	_, err := coll.Get(context.Background(), "a")
	assert.True(t, apperrors.IsBackendUnavailable(err))
	_, err = coll.(repository.Listener).Listen(context.Background(), model.QuerySpec{})
	assert.True(t, apperrors.IsBackendUnavailable(err))
}

func TestInvalidArguments(t *testing.T) {
	ctx := context.Background()
	coll := admin.New(memory.NewStore(nil)).Collection("items")

	_, err := coll.Get(ctx, "a/b")
	assert.True(t, apperrors.IsInvalidArgument(err))
	_, err = coll.Set(ctx, "", map[string]interface{}{"value": 1})
	assert.True(t, apperrors.IsInvalidArgument(err))
	_, err = coll.Set(ctx, "a", map[string]interface{}{"gone": model.DeleteField})
	assert.True(t, apperrors.IsInvalidArgument(err), "delete sentinels need merge")
	assert.True(t, apperrors.IsInvalidArgument(coll.Delete(ctx, "")))
}

func TestListenWithoutFeed(t *testing.T) {
	d := admin.New(memory.NewStore(nil))
	assert.False(t, d.Capabilities().Listeners)
	_, err := d.Collection("items").(repository.Listener).Listen(context.Background(), model.QuerySpec{})
	assert.True(t, apperrors.IsBackendUnavailable(err))
}

func TestCapabilities(t *testing.T) {
	caps := admin.New(memory.NewStore(nil)).Capabilities()
	assert.Zero(t, caps.MaxInequalityFields)
	assert.True(t, caps.ServerTimestamps)
	assert.True(t, caps.BatchedWrites)
	assert.False(t, caps.EnforcesRules)
}

func TestBatchResolvesSentinels(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	coll := admin.New(store, admin.WithLogger(logger.NewZapLogger(zaptest.NewLogger(t)))).Collection("items")
	before := time.Now().Add(-time.Second)

	res, err := coll.(repository.Batcher).Batch().
		Set("a", map[string]interface{}{"at": model.ServerTimestamp, "n": model.Increment(5)}).
		Set("b", map[string]interface{}{"value": 1}).
		Commit(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	snap, err := coll.Get(ctx, "a")
	require.NoError(t, err)
	at, ok := snap.Data["at"].(time.Time)
	require.True(t, ok)
	assert.True(t, at.After(before))
	assert.Equal(t, int64(5), snap.Data["n"])

	empty, err := coll.(repository.Batcher).Batch().Commit(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Results)
}

func TestMetricsObserveCalls(t *testing.T) {
	m := metrics.New()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(m))
	coll := admin.New(memory.NewStore(nil), admin.WithMetrics(m)).Collection("items")

	_, err := coll.Get(context.Background(), "a")
	require.NoError(t, err)
	_, err = coll.Get(context.Background(), "a/b")
	require.Error(t, err)

	n, err := testutil.GatherAndCount(reg, "firestore_driver_driver_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per outcome")
}
