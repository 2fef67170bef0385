package memory

import (
	"context"
	"testing"

	"firestore-driver/internal/auth/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()

	require.NoError(t, repo.CreateUser(ctx, &model.User{ID: "u1", Email: "Ada@Example.com"}))
	assert.ErrorIs(t, repo.CreateUser(ctx, &model.User{ID: "u2", Email: "ada@example.com"}), model.ErrUserExists)

	byEmail, err := repo.GetUserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", byEmail.ID)

	byEmail.Email = "changed"
	byID, err := repo.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", byID.Email, "reads return copies")

	_, err = repo.GetUserByID(ctx, "u2")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
	_, err = repo.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}
