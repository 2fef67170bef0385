package model

import (
	"errors"
	"time"
)

var (
	ErrUserExists         = errors.New("email is already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// User is an account that can sign in to the gateway. Its ID is the uid
// security rules see as auth.uid.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"password_hash"`
	DisplayName  string    `json:"displayName,omitempty" bson:"display_name,omitempty"`
	CreatedAt    time.Time `json:"createdAt" bson:"created_at"`
}
