// Package auth issues and verifies the ID tokens the gateway evaluates
// security rules against.
package auth

import (
	"context"
	"errors"
	"fmt"

	authhttp "firestore-driver/internal/auth/adapter/http"
	"firestore-driver/internal/auth/adapter/persistence/memory"
	"firestore-driver/internal/auth/adapter/persistence/mongodb"
	"firestore-driver/internal/auth/adapter/security"
	"firestore-driver/internal/auth/config"
	"firestore-driver/internal/auth/domain/repository"
	"firestore-driver/internal/auth/usecase"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuthModule represents the complete authentication module
type AuthModule struct {
	repository repository.UserRepository
	tokenSvc   repository.TokenService
	usecase    usecase.AuthUsecaseInterface
	handler    *authhttp.AuthHTTPHandler
	middleware *authhttp.AuthMiddleware
	config     *config.Config
}

// NewAuthModule creates a new authentication module instance. db is only
// used when cfg.UserStore is "mongodb".
func NewAuthModule(ctx context.Context, cfg *config.Config, db *mongo.Database) (*AuthModule, error) {
	var users repository.UserRepository
	switch cfg.UserStore {
	case "mongodb":
		if db == nil {
			return nil, errors.New("mongodb user store requires a database")
		}
		repo, err := mongodb.NewMongoUserRepository(ctx, db, cfg.UsersCollection)
		if err != nil {
			return nil, fmt.Errorf("failed to create user repository: %w", err)
		}
		users = repo
	default:
		users = memory.NewUserRepository()
	}

	tokenSvc, err := security.NewJWTokenService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	authUsecase := usecase.NewAuthUsecase(users, tokenSvc)
	return &AuthModule{
		repository: users,
		tokenSvc:   tokenSvc,
		usecase:    authUsecase,
		handler:    authhttp.NewAuthHTTPHandler(authUsecase),
		middleware: authhttp.NewAuthMiddleware(authUsecase),
		config:     cfg,
	}, nil
}

// RegisterRoutes registers authentication routes with the provided router
func (am *AuthModule) RegisterRoutes(router fiber.Router) {
	am.handler.SetupAuthRoutes(router)
}

// GetUsecase returns the auth usecase for external access
func (am *AuthModule) GetUsecase() usecase.AuthUsecaseInterface {
	return am.usecase
}

// GetMiddleware returns the auth middleware
func (am *AuthModule) GetMiddleware() *authhttp.AuthMiddleware {
	return am.middleware
}
