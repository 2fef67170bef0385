package repository

import (
	"context"

	"firestore-driver/internal/auth/domain/model"
)

// UserRepository stores accounts. Emails are unique and compared lower case.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}
