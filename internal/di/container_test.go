package di

import (
	"context"
	"testing"
	"time"

	authconfig "firestore-driver/internal/auth/config"
	"firestore-driver/internal/firestore/config"
	"firestore-driver/internal/shared/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthConfig(store string) *authconfig.Config {
	return &authconfig.Config{
		JWTSecretKey:    "container-test-secret",
		JWTIssuer:       "container-test",
		AccessTokenTTL:  time.Hour,
		UserStore:       store,
		UsersCollection: "_users",
	}
}

func TestContainerLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(logger.NewNop())

	_, err := c.NewApp()
	assert.Error(t, err, "modules are required first")

	require.NoError(t, c.InitializeFirestore(ctx, config.DefaultConfig()))
	require.NoError(t, c.InitializeAuth(ctx, testAuthConfig("memory")))
	assert.NotNil(t, c.GetFirestoreModule())
	assert.NotNil(t, c.GetAuthModule())
	require.NoError(t, c.HealthCheck(ctx))

	app, err := c.NewApp()
	require.NoError(t, err)
	assert.NotNil(t, app)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx), "close is idempotent")
	assert.Error(t, c.HealthCheck(ctx))
}

func TestMongoUserStoreNeedsMongoBackend(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(logger.NewNop())
	assert.Error(t, c.InitializeAuth(ctx, testAuthConfig("mongodb")), "no Firestore module yet")

	require.NoError(t, c.InitializeFirestore(ctx, config.DefaultConfig()))
	defer c.Close(ctx)
	assert.Error(t, c.InitializeAuth(ctx, testAuthConfig("mongodb")), "memory backend has no database")
}
