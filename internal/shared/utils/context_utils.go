package utils

import (
	"context"
	"errors"

	"firestore-driver/internal/shared/contextkeys"
)

// Common context errors
var (
	ErrUserIDNotFound    = errors.New("userID not found in context")
	ErrUserIDNotString   = errors.New("userID in context is not a string")
	ErrRequestIDNotFound = errors.New("requestID not found in context")
	ErrRunIDNotFound     = errors.New("runID not found in context")
)

// GetUserIDFromContext retrieves the authenticated user ID from the context.
func GetUserIDFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(contextkeys.UserIDKey)
	if val == nil {
		return "", ErrUserIDNotFound
	}
	userID, ok := val.(string)
	if !ok {
		return "", ErrUserIDNotString
	}
	return userID, nil
}

// GetRequestIDFromContext retrieves the request ID from the context.
func GetRequestIDFromContext(ctx context.Context) (string, error) {
	val, ok := ctx.Value(contextkeys.RequestIDKey).(string)
	if !ok || val == "" {
		return "", ErrRequestIDNotFound
	}
	return val, nil
}

// GetRunIDFromContext retrieves the fixture run ID from the context.
func GetRunIDFromContext(ctx context.Context) (string, error) {
	val, ok := ctx.Value(contextkeys.RunIDKey).(string)
	if !ok || val == "" {
		return "", ErrRunIDNotFound
	}
	return val, nil
}

// WithUser stores the authenticated user in the context.
func WithUser(ctx context.Context, userID, email string) context.Context {
	ctx = context.WithValue(ctx, contextkeys.UserIDKey, userID)
	if email != "" {
		ctx = context.WithValue(ctx, contextkeys.UserEmailKey, email)
	}
	return ctx
}

// WithDriverScope tags the context with the driver and collection serving a call.
func WithDriverScope(ctx context.Context, driver, collection string) context.Context {
	ctx = context.WithValue(ctx, contextkeys.DriverKey, driver)
	return context.WithValue(ctx, contextkeys.CollectionKey, collection)
}

// WithRunID tags the context with a fixture run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, contextkeys.RunIDKey, runID)
}

// WithRequestID tags the context with the gateway request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextkeys.RequestIDKey, requestID)
}

// WithDatabase tags the context with the database a gateway request addresses.
func WithDatabase(ctx context.Context, projectID, databaseID string) context.Context {
	ctx = context.WithValue(ctx, contextkeys.ProjectIDKey, projectID)
	return context.WithValue(ctx, contextkeys.DatabaseIDKey, databaseID)
}
