package changefeed

import (
	"context"
	"testing"
	"time"

	"firestore-driver/internal/firestore/adapter/persistence/memory"
	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	apperrors "firestore-driver/internal/shared/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan model.ChangeEvent) model.ChangeEvent {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a change event")
	}
	return model.ChangeEvent{}
}

func event(collection, id string, value int64) model.ChangeEvent {
	now := model.Now()
	return model.ChangeEvent{
		Collection: collection,
		DocumentID: id,
		Type:       model.ChangeAdded,
		CommitTime: now,
		Document: &model.Document{
			ID: id, Collection: collection,
			Data:       map[string]interface{}{"value": value, "at": now},
			CreateTime: now, UpdateTime: now, Version: 1,
		},
	}
}

// runFeedContract exercises the behavior every feed shares
func runFeedContract(t *testing.T, feed repository.ChangeFeed, collection string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// published before subscribing without a token: not delivered
	first, err := feed.Publish(ctx, event(collection, "a", 1))
	require.NoError(t, err)

	live, err := feed.Subscribe(ctx, collection, "")
	require.NoError(t, err)
	_, err = feed.Publish(ctx, event("elsewhere-"+collection, "x", 0))
	require.NoError(t, err)
	second, err := feed.Publish(ctx, event(collection, "b", 2))
	require.NoError(t, err)

	got := receive(t, live)
	assert.Equal(t, "b", got.DocumentID)
	assert.Equal(t, second, got.Token)
	require.NotNil(t, got.Document)
	assert.Equal(t, int64(2), got.Document.Data["value"])
	assert.Equal(t, int64(1), got.Document.Version)

	// resuming after the first token replays the second
	resumed, err := feed.Subscribe(ctx, collection, first)
	require.NoError(t, err)
	assert.Equal(t, "b", receive(t, resumed).DocumentID)

	subCtx, stop := context.WithCancel(ctx)
	ch, err := feed.Subscribe(subCtx, collection, "")
	require.NoError(t, err)
	stop()
	for range ch {
	}
}

func TestMemoryFeed_Contract(t *testing.T) {
	feed := NewMemoryFeed(nil, 0)
	runFeedContract(t, feed, "items")
}

func TestMemoryFeed_RetentionAndTokens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := NewMemoryFeed(nil, 2)
	for i := int64(1); i <= 3; i++ {
		_, err := feed.Publish(ctx, event("items", "d", i))
		require.NoError(t, err)
	}

	ch, err := feed.Subscribe(ctx, "items", "0")
	require.NoError(t, err)
	assert.Equal(t, "2", receive(t, ch).Token, "the oldest event fell out of the log")
	assert.Equal(t, "3", receive(t, ch).Token)

	_, err = feed.Subscribe(ctx, "items", "not-a-number")
	assert.True(t, apperrors.IsInvalidArgument(err))

	require.NoError(t, feed.Close())
	_, err = feed.Publish(ctx, event("items", "d", 4))
	assert.True(t, apperrors.IsBackendUnavailable(err))
}

func TestRedisFeed_Contract(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:6379",
		DB:          15,
		DialTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available for testing:", err)
	}

	prefix := "changefeed-test-" + uuid.NewString()[:8] + ":"
	feed := NewRedisFeed(client, nil, WithStreamPrefix(prefix), WithOwnedClient())
	t.Cleanup(func() {
		_ = feed.Trim(context.Background(), "items")
		_ = feed.Trim(context.Background(), "elsewhere-items")
		_ = feed.Close()
	})
	runFeedContract(t, feed, "items")
}

func TestPublishingStore_PublishesCommittedChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := NewMemoryFeed(nil, 0)
	store := NewPublishingStore(memory.NewStore(nil), feed, nil)

	ch, err := feed.Subscribe(ctx, "items", "")
	require.NoError(t, err)

	set, err := model.NewSetWrite("a", map[string]interface{}{"value": 1})
	require.NoError(t, err)
	_, err = store.Commit(ctx, "items", []model.Write{set, model.NewDeleteWrite("missing")})
	require.NoError(t, err)

	added := receive(t, ch)
	assert.Equal(t, model.ChangeAdded, added.Type)
	assert.Equal(t, "a", added.DocumentID)
	assert.Equal(t, int64(1), added.Document.Data["value"])

	_, err = store.Commit(ctx, "items", []model.Write{model.NewDeleteWrite("a")})
	require.NoError(t, err)
	removed := receive(t, ch)
	assert.Equal(t, model.ChangeRemoved, removed.Type)
	assert.Nil(t, removed.Document)

	_, err = store.Commit(ctx, "items", []model.Write{set})
	require.NoError(t, err)
	receive(t, ch)
	n, err := store.DeleteCollection(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	dropped := receive(t, ch)
	assert.Empty(t, dropped.DocumentID)
}
