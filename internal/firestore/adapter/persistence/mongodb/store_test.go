package mongodb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// setupStore connects to MONGODB_URI and gives every test its own database,
// dropped on cleanup. Tests skip when no server is reachable.
func setupStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set, skipping MongoDB tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	name := fmt.Sprintf("fdtest_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	s, err := Connect(ctx, uri, name, 3*time.Second, logger.NewZapLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Skipf("MongoDB not reachable: %v", err)
	}
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func setWrite(t *testing.T, id string, data map[string]interface{}, opts ...model.SetOption) model.Write {
	t.Helper()
	w, err := model.NewSetWrite(id, data, opts...)
	require.NoError(t, err)
	return w
}

func TestStore_SetGetDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	doc, err := s.Get(ctx, "items", "a")
	require.NoError(t, err)
	assert.Nil(t, doc)

	res, err := s.Commit(ctx, "items", []model.Write{setWrite(t, "a", map[string]interface{}{"value": 1, "at": model.ServerTimestamp})})
	require.NoError(t, err)
	assert.Equal(t, model.ChangeAdded, res.Results[0].Change)

	doc, err = s.Get(ctx, "items", "a")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, int64(1), doc.Data["value"])
	assert.Equal(t, res.CommitTime, doc.Data["at"])
	assert.Equal(t, int64(1), doc.Version)

	_, err = s.Commit(ctx, "items", []model.Write{setWrite(t, "a", map[string]interface{}{"value": model.Increment(2)}, model.WithMerge())})
	require.NoError(t, err)
	doc, err = s.Get(ctx, "items", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc.Data["value"])
	assert.Equal(t, int64(2), doc.Version)

	for i := 0; i < 2; i++ {
		_, err = s.Commit(ctx, "items", []model.Write{model.NewDeleteWrite("a")})
		require.NoError(t, err)
	}
	doc, err = s.Get(ctx, "items", "a")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestStore_VersionPreconditionConflicts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Commit(ctx, "items", []model.Write{setWrite(t, "a", map[string]interface{}{"value": 1})})
	require.NoError(t, err)

	stale := setWrite(t, "a", map[string]interface{}{"value": 2})
	stale.Precondition = model.AtVersion(9)
	_, err = s.Commit(ctx, "items", []model.Write{stale})
	assert.True(t, apperrors.IsTransactionConflict(err))

	create := setWrite(t, "a", map[string]interface{}{"value": 2})
	create.Precondition = model.MustNotExist()
	_, err = s.Commit(ctx, "items", []model.Write{create})
	assert.True(t, apperrors.IsTransactionConflict(err))
}

func TestStore_StandaloneCommitIsAllOrNothing(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	s.standalone.Store(true)

	_, err := s.Commit(ctx, "items", []model.Write{setWrite(t, "b", map[string]interface{}{"value": 1})})
	require.NoError(t, err)

	stale := setWrite(t, "b", map[string]interface{}{"value": 2})
	stale.Precondition = model.AtVersion(7)
	_, err = s.Commit(ctx, "items", []model.Write{setWrite(t, "a", map[string]interface{}{"value": 1}), stale})
	assert.True(t, apperrors.IsTransactionConflict(err))
	doc, err := s.Get(ctx, "items", "a")
	require.NoError(t, err)
	assert.Nil(t, doc, "preconditions are checked before the first write")

	// b moves between planning and executing, so the second swap loses
	coll := s.db.Collection("items")
	steps, _, err := s.plan(ctx, coll, "items", []model.Write{
		setWrite(t, "a", map[string]interface{}{"value": 1}),
		setWrite(t, "b", map[string]interface{}{"value": 2}),
	})
	require.NoError(t, err)
	_, err = s.Commit(ctx, "items", []model.Write{setWrite(t, "b", map[string]interface{}{"value": 100})})
	require.NoError(t, err)

	err = s.execute(ctx, coll, "items", steps, true)
	assert.True(t, apperrors.IsTransactionConflict(err))
	doc, err = s.Get(ctx, "items", "a")
	require.NoError(t, err)
	assert.Nil(t, doc, "the first write is undone")
	doc, err = s.Get(ctx, "items", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(100), doc.Data["value"])
}

func TestStore_VerifyWriteConflictsOnStaleRead(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Commit(ctx, "items", []model.Write{
		setWrite(t, "src", map[string]interface{}{"value": 1}),
		setWrite(t, "dst", map[string]interface{}{"value": 0}),
	})
	require.NoError(t, err)
	reads := map[string]int64{"src": 1, "dst": 1}

	_, err = s.Commit(ctx, "items", []model.Write{setWrite(t, "src", map[string]interface{}{"value": 100})})
	require.NoError(t, err)

	_, err = s.Commit(ctx, "items", model.GuardWrites(reads, []model.Write{setWrite(t, "dst", map[string]interface{}{"value": 1})}))
	assert.True(t, apperrors.IsTransactionConflict(err))
	doc, err := s.Get(ctx, "items", "dst")
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Data["value"])

	reads["src"] = 2
	_, err = s.Commit(ctx, "items", model.GuardWrites(reads, []model.Write{setWrite(t, "dst", map[string]interface{}{"value": 100})}))
	require.NoError(t, err)
	doc, err = s.Get(ctx, "items", "src")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version, "verifying does not bump the version")
}

func TestStore_QueryOrdersAndPaginates(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Commit(ctx, "items", []model.Write{
		setWrite(t, "c", map[string]interface{}{"value": 2}),
		setWrite(t, "a", map[string]interface{}{"value": 1}),
		setWrite(t, "b", map[string]interface{}{"value": 2}),
		setWrite(t, "d", map[string]interface{}{"value": "text"}),
		setWrite(t, "e", map[string]interface{}{"value": []interface{}{5}}),
		setWrite(t, "f", map[string]interface{}{"value": 0}),
	})
	require.NoError(t, err)

	ids := func(docs []*model.Document) []string {
		out := make([]string, len(docs))
		for i, d := range docs {
			out[i] = d.ID
		}
		return out
	}

	docs, err := s.Query(ctx, "items", translate(t, model.QuerySpec{
		Filters: []model.Filter{model.Where("value", model.OperatorGreaterThan, 0)},
		OrderBy: []model.Order{model.OrderBy("value", model.Ascending)},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(docs))

	docs, err = s.Query(ctx, "items", translate(t, model.QuerySpec{
		Filters:    []model.Filter{model.Where("value", model.OperatorGreaterThan, 0)},
		OrderBy:    []model.Order{model.OrderBy("value", model.Ascending)},
		StartAfter: &model.Cursor{Values: []interface{}{2, "b"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(docs))

	docs, err = s.Query(ctx, "items", translate(t, model.QuerySpec{
		OrderBy: []model.Order{model.OrderBy("value", model.Descending)},
		Limit:   3,
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "b"}, ids(docs), "arrays sort after strings after numbers")

	docs, err = s.Query(ctx, "items", translate(t, model.QuerySpec{
		Filters: []model.Filter{model.Where("value", model.OperatorArrayContains, 5)},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, ids(docs))
}

func TestStore_DropAndList(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, c := range []string{"items-r-1", "items-r-2", "other"} {
		_, err := s.Commit(ctx, c, []model.Write{setWrite(t, "x", map[string]interface{}{})})
		require.NoError(t, err)
	}
	names, err := s.ListCollections(ctx, "items-")
	require.NoError(t, err)
	assert.Equal(t, []string{"items-r-1", "items-r-2"}, names)

	n, err := s.DeleteCollection(ctx, "items-r-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	names, err = s.ListCollections(ctx, "items-")
	require.NoError(t, err)
	assert.Equal(t, []string{"items-r-2"}, names)
}
