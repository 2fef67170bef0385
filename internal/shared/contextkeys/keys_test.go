package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKey_String(t *testing.T) {
	key := contextKey("testKey")
	assert.Equal(t, "firestore-driver context key testKey", key.String())
}

func TestContextKeys_Usage(t *testing.T) {
	ctx := context.Background()
	ctx = context.WithValue(ctx, UserIDKey, "user-123")
	ctx = context.WithValue(ctx, RunIDKey, "run-1")
	ctx = context.WithValue(ctx, DriverKey, "client")
	ctx = context.WithValue(ctx, CollectionKey, "items-run-1-abcd")

	assert.Equal(t, "user-123", ctx.Value(UserIDKey))
	assert.Equal(t, "run-1", ctx.Value(RunIDKey))
	assert.Equal(t, "client", ctx.Value(DriverKey))
	assert.Equal(t, "items-run-1-abcd", ctx.Value(CollectionKey))
	assert.Nil(t, ctx.Value(contextKey("runID-other")))
}
