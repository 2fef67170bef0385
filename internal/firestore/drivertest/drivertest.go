// Package drivertest provides a conformance test suite for driver
// implementations. Every driver runs the same battery; capability flags,
// not driver identity, decide which checks apply.
package drivertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/driver/admin"
	"firestore-driver/internal/firestore/fixture"
	apperrors "firestore-driver/internal/shared/errors"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Harness describes what a test harness must provide to run conformance
// tests
type Harness interface {
	// Admin is the privileged store under the driver, used by fixtures to
	// seed and tear down
	Admin() repository.Store
	// Driver is the driver under test
	Driver() repository.Driver
	// Close releases resources used by the harness
	Close()
}

// AnonymousHarness is implemented by harnesses of rule-enforcing drivers. It
// returns a driver acting without credentials on the same backend.
type AnonymousHarness interface {
	Anonymous() repository.Driver
}

// HarnessMaker describes functions that construct a harness for running
// tests. It is called once per test; Close is called when the test is
// complete.
type HarnessMaker func(ctx context.Context, t *testing.T) (Harness, error)

// RunConformanceTests runs the behavioral battery against the driver the
// harness supplies
func RunConformanceTests(t *testing.T, newHarness HarnessMaker) {
	t.Run("Existence", func(t *testing.T) { withFixture(t, newHarness, testExistence) })
	t.Run("RoundTrip", func(t *testing.T) { withFixture(t, newHarness, testRoundTrip) })
	t.Run("MergeVsReplace", func(t *testing.T) { withFixture(t, newHarness, testMergeVsReplace) })
	t.Run("DeleteIdempotence", func(t *testing.T) { withFixture(t, newHarness, testDeleteIdempotence) })
	t.Run("Ordering", func(t *testing.T) { withFixture(t, newHarness, testOrdering) })
	t.Run("Limit", func(t *testing.T) { withFixture(t, newHarness, testLimit) })
	t.Run("Cursors", func(t *testing.T) { withFixture(t, newHarness, testCursors) })
	t.Run("ValueScenario", func(t *testing.T) { withFixture(t, newHarness, testValueScenario) })
	t.Run("UnsupportedQuery", func(t *testing.T) { withFixture(t, newHarness, testUnsupportedQuery) })
	t.Run("Sentinels", func(t *testing.T) { withFixture(t, newHarness, testSentinels) })
	t.Run("Rules", func(t *testing.T) { withFixture(t, newHarness, testRules) })
	t.Run("TransactionAtomicity", func(t *testing.T) { withFixture(t, newHarness, testTransactionAtomicity) })
	t.Run("TransactionConflictOnReadOnlyDocument", func(t *testing.T) {
		withFixture(t, newHarness, testTransactionConflictOnReadOnlyDocument)
	})
	t.Run("TransactionAbort", func(t *testing.T) { withFixture(t, newHarness, testTransactionAbort) })
	t.Run("TransactionCreate", func(t *testing.T) { withFixture(t, newHarness, testTransactionCreate) })
	t.Run("ReadsBeforeWrites", func(t *testing.T) { withFixture(t, newHarness, testReadsBeforeWrites) })
	t.Run("Batch", func(t *testing.T) { withFixture(t, newHarness, testBatch) })
	t.Run("Listen", func(t *testing.T) { withFixture(t, newHarness, testListen) })
	t.Run("Parity", func(t *testing.T) { withFixture(t, newHarness, testParity) })
}

// env is what every battery test receives
type env struct {
	h    Harness
	fx   *fixture.Fixture
	coll repository.CollectionReference
}

func withFixture(t *testing.T, newHarness HarnessMaker, f func(context.Context, *testing.T, *env)) {
	ctx := context.Background()
	h, err := newHarness(ctx, t)
	if err != nil {
		t.Fatalf("harness: %v", err)
	}
	defer h.Close()

	fx, coll := fixture.Setup(t, h.Admin(), h.Driver())
	f(fx.Context(ctx), t, &env{h: h, fx: fx, coll: coll})
}

func ids(snaps []*model.DocumentSnapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.ID
	}
	return out
}

func mustQuery(ctx context.Context, t *testing.T, coll repository.CollectionReference, spec model.QuerySpec) []*model.DocumentSnapshot {
	t.Helper()
	snaps, err := coll.Query(ctx, spec)
	require.NoError(t, err)
	return snaps
}

func checkIDs(t *testing.T, got []*model.DocumentSnapshot, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("query order (-want +got):\n%s", diff)
	}
}

func testExistence(ctx context.Context, t *testing.T, e *env) {
	for _, id := range []string{"never-written", "a", "x y"} {
		snap, err := e.coll.Get(ctx, id)
		require.NoError(t, err, "a missing document is not an error")
		assert.Equal(t, id, snap.ID)
		assert.False(t, snap.Exists)
		assert.Nil(t, snap.Data)
	}
}

func testRoundTrip(ctx context.Context, t *testing.T, e *env) {
	data := map[string]interface{}{
		"s":     "a string",
		"i":     95,
		"f":     32.5,
		"b":     true,
		"null":  nil,
		"bytes": []byte("raw"),
		"list":  []interface{}{"x", int64(2), false},
		"map":   map[string]interface{}{"nested": map[string]interface{}{"deep": "yes"}},
	}
	res, err := e.coll.Set(ctx, "doc", data)
	require.NoError(t, err)
	assert.Positive(t, res.Version)

	snap, err := e.coll.Get(ctx, "doc")
	require.NoError(t, err)
	require.True(t, snap.Exists)
	want := map[string]interface{}{
		"s":     "a string",
		"i":     int64(95),
		"f":     32.5,
		"b":     true,
		"null":  nil,
		"bytes": []byte("raw"),
		"list":  []interface{}{"x", int64(2), false},
		"map":   map[string]interface{}{"nested": map[string]interface{}{"deep": "yes"}},
	}
	if diff := cmp.Diff(want, snap.Data); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
	assert.Equal(t, res.Version, snap.Version)

	again, err := e.coll.Set(ctx, "doc", data)
	require.NoError(t, err)
	assert.Greater(t, again.Version, res.Version, "every write advances the version")
}

func testMergeVsReplace(ctx context.Context, t *testing.T, e *env) {
	get := func() map[string]interface{} {
		t.Helper()
		snap, err := e.coll.Get(ctx, "m")
		require.NoError(t, err)
		return snap.Data
	}

	_, err := e.coll.Set(ctx, "m", map[string]interface{}{"a": 1, "b": map[string]interface{}{"x": 1, "y": 2}})
	require.NoError(t, err)

	_, err = e.coll.Set(ctx, "m", map[string]interface{}{"b": map[string]interface{}{"y": 3}}, model.WithMerge())
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": int64(1), "b": map[string]interface{}{"x": int64(1), "y": int64(3)}}, get())

	_, err = e.coll.Set(ctx, "m", map[string]interface{}{"a": 9, "c": 5}, model.WithMergeFields("a"))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": int64(9), "b": map[string]interface{}{"x": int64(1), "y": int64(3)}}, get())

	_, err = e.coll.Set(ctx, "m", map[string]interface{}{"c": 4})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"c": int64(4)}, get(), "set without merge replaces the document")
}

func testDeleteIdempotence(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx, fixture.MockItem{ID: "a", Value: 1}))

	require.NoError(t, e.coll.Delete(ctx, "a"))
	snap, err := e.coll.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, snap.Exists)

	require.NoError(t, e.coll.Delete(ctx, "a"), "deleting twice succeeds")
	require.NoError(t, e.coll.Delete(ctx, "never-written"))
}

func testOrdering(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx, fixture.StandardItems()...))

	checkIDs(t, mustQuery(ctx, t, e.coll, model.QuerySpec{
		OrderBy: []model.Order{model.OrderBy("value", model.Ascending)},
	}), "e", "a", "c", "d", "b")

	checkIDs(t, mustQuery(ctx, t, e.coll, model.QuerySpec{
		OrderBy: []model.Order{model.OrderBy("value", model.Descending)},
	}), "b", "c", "d", "a", "e")

	checkIDs(t, mustQuery(ctx, t, e.coll, model.QuerySpec{}), "a", "b", "c", "d", "e")

	checkIDs(t, mustQuery(ctx, t, e.coll, model.QuerySpec{
		Filters: []model.Filter{model.Where("tags", model.OperatorArrayContains, "red")},
		OrderBy: []model.Order{model.OrderBy("name", model.Descending)},
	}), "c", "a")

	first := mustQuery(ctx, t, e.coll, model.QuerySpec{OrderBy: []model.Order{model.OrderBy("value", model.Ascending)}})
	second := mustQuery(ctx, t, e.coll, model.QuerySpec{OrderBy: []model.Order{model.OrderBy("value", model.Ascending)}})
	assert.Equal(t, ids(first), ids(second), "ordering is deterministic")
}

func testLimit(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx, fixture.StandardItems()...))

	checkIDs(t, mustQuery(ctx, t, e.coll, model.QuerySpec{
		OrderBy: []model.Order{model.OrderBy("value", model.Ascending)},
		Limit:   2,
	}), "e", "a")
	checkIDs(t, mustQuery(ctx, t, e.coll, model.QuerySpec{
		Filters: []model.Filter{model.Where("value", model.OperatorGreaterThan, 5)},
		Limit:   1,
	}))
}

func testCursors(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx, fixture.StandardItems()...))

	// no explicit order: the cursor lands on the inequality field, then the ID
	checkIDs(t, mustQuery(ctx, t, e.coll, model.QuerySpec{
		Filters:    []model.Filter{model.Where("value", model.OperatorGreaterThan, 0)},
		StartAfter: &model.Cursor{DocumentID: "c"},
	}), "d", "b")

	checkIDs(t, mustQuery(ctx, t, e.coll, model.QuerySpec{
		StartAfter: &model.Cursor{DocumentID: "b"},
	}), "c", "d", "e")

	checkIDs(t, mustQuery(ctx, t, e.coll, model.QuerySpec{
		OrderBy:   []model.Order{model.OrderBy("value", model.Ascending)},
		EndBefore: &model.Cursor{Values: []interface{}{2}},
	}), "e", "a")

	// paging with a limit visits every document exactly once
	var seen []string
	var after *model.Cursor
	for page := 0; page < 5; page++ {
		snaps := mustQuery(ctx, t, e.coll, model.QuerySpec{
			OrderBy:    []model.Order{model.OrderBy("value", model.Ascending)},
			Limit:      2,
			StartAfter: after,
		})
		if len(snaps) == 0 {
			break
		}
		seen = append(seen, ids(snaps)...)
		after = &model.Cursor{DocumentID: snaps[len(snaps)-1].ID}
	}
	assert.Equal(t, []string{"e", "a", "c", "d", "b"}, seen)

	_, err := e.coll.Query(ctx, model.QuerySpec{StartAfter: &model.Cursor{DocumentID: "missing"}})
	assert.Error(t, err, "a cursor document must exist")
}

func testValueScenario(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx, fixture.MockItem{ID: "a", Value: 1}))

	snaps := mustQuery(ctx, t, e.coll, model.QuerySpec{
		Filters: []model.Filter{model.Where("value", model.OperatorGreaterThan, 0)},
		OrderBy: []model.Order{model.OrderBy("value", model.Ascending)},
	})
	require.Len(t, snaps, 1)
	assert.Equal(t, "a", snaps[0].ID)
	assert.True(t, snaps[0].Exists)
	assert.Equal(t, map[string]interface{}{"value": int64(1)}, snaps[0].Data)
	assert.False(t, snaps[0].ReadTime.IsZero())
}

func testUnsupportedQuery(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx, fixture.StandardItems()...))
	caps := e.h.Driver().Capabilities()

	twoRanges := model.QuerySpec{Filters: []model.Filter{
		model.Where("value", model.OperatorGreaterThan, 0),
		model.Where("name", model.OperatorLessThan, "d"),
	}}
	snaps, err := e.coll.Query(ctx, twoRanges)
	if caps.MaxInequalityFields == 1 {
		assert.True(t, apperrors.IsUnsupportedQuery(err), "got %v", err)
		assert.Nil(t, snaps, "results are never silently truncated")
	} else {
		require.NoError(t, err)
		checkIDs(t, snaps, "a", "b", "c")
	}

	for name, spec := range map[string]model.QuerySpec{
		"empty in":       {Filters: []model.Filter{model.Where("value", model.OperatorIn, []interface{}{})}},
		"negative limit": {Limit: -1},
		"two array ops": {Filters: []model.Filter{
			model.Where("tags", model.OperatorArrayContains, "red"),
			model.Where("tags", model.OperatorArrayContainsAny, []interface{}{"blue"}),
		}},
		"cursor too long": {
			OrderBy:    []model.Order{model.OrderBy("value", model.Ascending)},
			StartAfter: &model.Cursor{Values: []interface{}{1, "a", 3}},
		},
	} {
		_, err := e.coll.Query(ctx, spec)
		assert.True(t, apperrors.IsUnsupportedQuery(err), "%s: got %v", name, err)
	}
}

func testSentinels(ctx context.Context, t *testing.T, e *env) {
	caps := e.h.Driver().Capabilities()
	before := time.Now().Add(-time.Minute)

	_, err := e.coll.Set(ctx, "ts", map[string]interface{}{"at": model.ServerTimestamp, "n": 1})
	if !caps.ServerTimestamps {
		assert.True(t, apperrors.IsInvalidArgument(err), "got %v", err)
		return
	}
	require.NoError(t, err)

	_, err = e.coll.Set(ctx, "ts", map[string]interface{}{"n": model.Increment(2)}, model.WithMerge())
	require.NoError(t, err)

	snap, err := e.coll.Get(ctx, "ts")
	require.NoError(t, err)
	at, ok := snap.Data["at"].(time.Time)
	require.True(t, ok, "server timestamp resolves to a time, got %T", snap.Data["at"])
	assert.True(t, at.After(before))
	assert.Equal(t, int64(3), snap.Data["n"])
}

func testRules(ctx context.Context, t *testing.T, e *env) {
	if !e.h.Driver().Capabilities().EnforcesRules {
		t.Skip("driver does not enforce rules")
	}
	ah, ok := e.h.(AnonymousHarness)
	if !ok {
		t.Skip("harness has no anonymous driver")
	}
	require.NoError(t, e.fx.Seed(ctx, fixture.MockItem{ID: "a", Value: 1}))
	anon, err := e.fx.UseWith(ah.Anonymous())
	require.NoError(t, err)

	_, err = anon.Get(ctx, "a")
	assert.True(t, apperrors.IsPermissionDenied(err), "get: %v", err)
	_, err = anon.Query(ctx, model.QuerySpec{})
	assert.True(t, apperrors.IsPermissionDenied(err), "query: %v", err)
	_, err = anon.Set(ctx, "b", map[string]interface{}{"value": 2})
	assert.True(t, apperrors.IsPermissionDenied(err), "set: %v", err)
	assert.True(t, apperrors.IsPermissionDenied(anon.Delete(ctx, "a")), "delete")

	doc, err := e.h.Admin().Get(ctx, e.fx.Name(), "b")
	require.NoError(t, err)
	assert.Nil(t, doc, "a denied write leaves no trace")
	doc, err = e.h.Admin().Get(ctx, e.fx.Name(), "a")
	require.NoError(t, err)
	assert.NotNil(t, doc, "a denied delete leaves the document")
}

// barrier releases every party once n have arrived
type barrier struct {
	arrived sync.WaitGroup
	release chan struct{}
}

func newBarrier(n int) *barrier {
	b := &barrier{release: make(chan struct{})}
	b.arrived.Add(n)
	go func() {
		b.arrived.Wait()
		close(b.release)
	}()
	return b
}

func (b *barrier) wait(ctx context.Context) error {
	b.arrived.Done()
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return errors.New("barrier timed out")
	}
}

func testTransactionAtomicity(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx, fixture.MockItem{ID: "counter", Value: 0}))

	b := newBarrier(2)
	increment := func(ctx context.Context) error {
		arrived := false
		return e.coll.RunTransaction(ctx, func(ctx context.Context, tx repository.Transaction) error {
			snap, err := tx.Get(ctx, "counter")
			if err != nil {
				return err
			}
			if !arrived {
				arrived = true
				// both transactions have read before either commits
				if err := b.wait(ctx); err != nil {
					return err
				}
			}
			v, _ := snap.DataAt("value")
			n, _ := v.(int64)
			return tx.Set("counter", map[string]interface{}{"value": n + 1})
		})
	}

	results := make([]error, 2)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			results[i] = increment(ctx)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	conflicts, successes := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case apperrors.IsTransactionConflict(err):
			conflicts++
		default:
			t.Errorf("unexpected transaction error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	snap, err := e.coll.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Data["value"], "exactly one increment is applied")
}

// testTransactionConflictOnReadOnlyDocument copies src into dst while src
// changes underneath; the copy must not commit against the stale value
func testTransactionConflictOnReadOnlyDocument(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx,
		fixture.MockItem{ID: "src", Value: 1},
		fixture.MockItem{ID: "dst", Value: 0},
	))

	err := e.coll.RunTransaction(ctx, func(ctx context.Context, tx repository.Transaction) error {
		src, err := tx.Get(ctx, "src")
		if err != nil {
			return err
		}
		w, err := model.NewSetWrite("src", map[string]interface{}{"value": 100}, model.WithMerge())
		if err != nil {
			return err
		}
		if _, err := e.h.Admin().Commit(ctx, e.fx.Name(), []model.Write{w}); err != nil {
			return err
		}
		v, _ := src.DataAt("value")
		return tx.Set("dst", map[string]interface{}{"value": v}, model.WithMerge())
	})
	assert.True(t, apperrors.IsTransactionConflict(err), "got %v", err)

	dst, err := e.coll.Get(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, int64(0), dst.Data["value"], "nothing is written from a stale read")
	src, err := e.coll.Get(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, int64(100), src.Data["value"])
}

func testTransactionAbort(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx, fixture.MockItem{ID: "a", Value: 1}))
	errBoom := errors.New("boom")

	err := e.coll.RunTransaction(ctx, func(ctx context.Context, tx repository.Transaction) error {
		if _, err := tx.Get(ctx, "a"); err != nil {
			return err
		}
		if err := tx.Set("a", map[string]interface{}{"value": 100}); err != nil {
			return err
		}
		if err := tx.Delete("b"); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom, "the callback error is returned unchanged")

	snap, err := e.coll.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Data["value"], "an aborted transaction writes nothing")
}

func testTransactionCreate(ctx context.Context, t *testing.T, e *env) {
	err := e.coll.RunTransaction(ctx, func(ctx context.Context, tx repository.Transaction) error {
		snap, err := tx.Get(ctx, "fresh")
		if err != nil {
			return err
		}
		if snap.Exists {
			return errors.New("fresh already exists")
		}
		return tx.Set("fresh", map[string]interface{}{"value": 1})
	})
	require.NoError(t, err)

	snap, err := e.coll.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, snap.Exists)

	// a read-only transaction commits nothing and succeeds
	err = e.coll.RunTransaction(ctx, func(ctx context.Context, tx repository.Transaction) error {
		_, err := tx.Get(ctx, "fresh")
		return err
	})
	require.NoError(t, err)
}

func testReadsBeforeWrites(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx, fixture.MockItem{ID: "a", Value: 1}))

	err := e.coll.RunTransaction(ctx, func(ctx context.Context, tx repository.Transaction) error {
		if err := tx.Set("b", map[string]interface{}{"value": 2}); err != nil {
			return err
		}
		_, err := tx.Get(ctx, "a")
		return err
	})
	assert.True(t, apperrors.IsInvalidArgument(err), "got %v", err)

	snap, err := e.coll.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func testBatch(ctx context.Context, t *testing.T, e *env) {
	batcher, ok := e.coll.(repository.Batcher)
	if !ok || !e.h.Driver().Capabilities().BatchedWrites {
		t.Skip("driver has no batched writes")
	}
	require.NoError(t, e.fx.Seed(ctx, fixture.MockItem{ID: "c", Value: 3}))

	res, err := batcher.Batch().
		Set("a", map[string]interface{}{"value": 1}).
		Set("b", map[string]interface{}{"value": 2}).
		Delete("c").
		Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)
	checkIDs(t, mustQuery(ctx, t, e.coll, model.QuerySpec{}), "a", "b")

	_, err = batcher.Batch().
		Set("d", map[string]interface{}{"value": 4}).
		Set("", map[string]interface{}{"value": 5}).
		Commit(ctx)
	assert.True(t, apperrors.IsInvalidArgument(err), "got %v", err)
	snap, err := e.coll.Get(ctx, "d")
	require.NoError(t, err)
	assert.False(t, snap.Exists, "a rejected batch applies no write")
}

func testListen(ctx context.Context, t *testing.T, e *env) {
	listener, ok := e.coll.(repository.Listener)
	if !ok || !e.h.Driver().Capabilities().Listeners {
		t.Skip("driver has no listeners")
	}
	require.NoError(t, e.fx.Seed(ctx, fixture.MockItem{ID: "a", Value: 1}, fixture.MockItem{ID: "z", Value: 0}))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	it, err := listener.Listen(ctx, model.QuerySpec{
		Filters: []model.Filter{model.Where("value", model.OperatorGreaterThan, 0)},
	})
	require.NoError(t, err)
	defer it.Stop()

	first, err := it.Next()
	require.NoError(t, err)
	checkIDs(t, first.Docs, "a")

	require.NoError(t, e.fx.Seed(ctx, fixture.MockItem{ID: "b", Value: 2}))
	next, err := it.Next()
	require.NoError(t, err)
	checkIDs(t, next.Docs, "a", "b")
	require.Len(t, next.Changes, 1)
	assert.Equal(t, model.ChangeAdded, next.Changes[0].Type)
	assert.Equal(t, "b", next.Changes[0].Doc.ID)

	require.NoError(t, e.coll.Delete(ctx, "a"))
	next, err = it.Next()
	require.NoError(t, err)
	checkIDs(t, next.Docs, "b")
	require.Len(t, next.Changes, 1)
	assert.Equal(t, model.ChangeRemoved, next.Changes[0].Type)

	it.Stop()
	_, err = it.Next()
	assert.ErrorIs(t, err, repository.ErrListenerStopped)
}

// testParity runs the same queries through the admin driver, the ground
// truth, and through the driver under test
func testParity(ctx context.Context, t *testing.T, e *env) {
	require.NoError(t, e.fx.Seed(ctx, fixture.StandardItems()...))
	truth, err := e.fx.UseWith(admin.New(e.h.Admin()))
	require.NoError(t, err)

	specs := []model.QuerySpec{
		{},
		{Filters: []model.Filter{model.Where("value", model.OperatorGreaterThan, 0)}, OrderBy: []model.Order{model.OrderBy("value", model.Ascending)}},
		{Filters: []model.Filter{model.Where("value", model.OperatorGreaterThanOrEqual, 2)}},
		{Filters: []model.Filter{model.Where("value", model.OperatorIn, []interface{}{0, 2})}},
		{Filters: []model.Filter{model.Where("tags", model.OperatorArrayContainsAny, []interface{}{"blue"})}},
		{Filters: []model.Filter{model.Where("name", model.OperatorNotEqual, "bravo")}, Limit: 3},
		{OrderBy: []model.Order{model.OrderBy("value", model.Descending)}, StartAfter: &model.Cursor{DocumentID: "c"}},
	}
	for i, spec := range specs {
		want, err := truth.Query(ctx, spec)
		require.NoError(t, err, "admin query %d", i)
		got, err := e.coll.Query(ctx, spec)
		require.NoError(t, err, "driver query %d", i)
		if diff := cmp.Diff(want, got, ignoreReadTime); diff != "" {
			t.Errorf("query %d differs from the admin driver (-admin +driver):\n%s", i, diff)
		}
	}
}

var ignoreReadTime = cmp.Transformer("snapshot", func(s *model.DocumentSnapshot) map[string]interface{} {
	return map[string]interface{}{"id": s.ID, "exists": s.Exists, "data": s.Data, "version": s.Version}
})
