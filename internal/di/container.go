package di

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"firestore-driver/internal/auth"
	authconfig "firestore-driver/internal/auth/config"
	"firestore-driver/internal/firestore"
	"firestore-driver/internal/firestore/adapter/persistence/mongodb"
	"firestore-driver/internal/firestore/config"
	"firestore-driver/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/mongo"
)

// Container owns the modules of one process and shuts them down in reverse
// order of initialization
type Container struct {
	mu sync.RWMutex
	// Module instances
	AuthModule      *auth.AuthModule
	FirestoreModule *firestore.FirestoreModule
	// Configuration
	Config     *config.Config
	AuthConfig *authconfig.Config
	// Logger
	Logger logger.Logger
}

// NewContainer creates an empty container
func NewContainer(log logger.Logger) *Container {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Container{Logger: log}
}

// InitializeFirestore opens the configured store and builds the Firestore module
func (c *Container) InitializeFirestore(ctx context.Context, cfg *config.Config, opts ...firestore.Option) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	module, err := firestore.NewFirestoreModule(ctx, cfg, c.Logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Firestore module: %w", err)
	}
	c.Config = cfg
	c.FirestoreModule = module
	return nil
}

// InitializeAuth builds the auth module. A mongodb user store shares the
// database of the Firestore module, which must be initialized first.
func (c *Container) InitializeAuth(ctx context.Context, authConfig *authconfig.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var db *mongo.Database
	if authConfig.UserStore == "mongodb" {
		if c.FirestoreModule == nil {
			return errors.New("Firestore module must be initialized before a mongodb user store")
		}
		store, ok := c.FirestoreModule.Backend.(*mongodb.Store)
		if !ok {
			return errors.New("mongodb user store requires STORE_BACKEND=mongodb")
		}
		db = store.Database()
	}

	authModule, err := auth.NewAuthModule(ctx, authConfig, db)
	if err != nil {
		return fmt.Errorf("failed to create auth module: %w", err)
	}
	c.AuthConfig = authConfig
	c.AuthModule = authModule
	return nil
}

// NewApp builds the gateway over the initialized modules
func (c *Container) NewApp() (*fiber.App, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.FirestoreModule == nil || c.AuthModule == nil {
		return nil, errors.New("auth and Firestore modules must be initialized before the gateway")
	}
	return c.FirestoreModule.NewApp(c.AuthModule), nil
}

// GetAuthModule returns the auth module instance
func (c *Container) GetAuthModule() *auth.AuthModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AuthModule
}

// GetFirestoreModule returns the Firestore module instance
func (c *Container) GetFirestoreModule() *firestore.FirestoreModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.FirestoreModule
}

// HealthCheck pings the backend when it supports it
func (c *Container) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.FirestoreModule == nil {
		return errors.New("Firestore module is not initialized")
	}
	if pinger, ok := c.FirestoreModule.Backend.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("store health check failed: %w", err)
		}
	}
	return nil
}

// Close releases the modules. It is safe to call more than once.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.FirestoreModule != nil {
		err = c.FirestoreModule.Close(ctx)
		c.FirestoreModule = nil
	}
	c.AuthModule = nil
	if err != nil {
		c.Logger.Warnf("Cleanup errors occurred: %v", err)
	}
	return err
}
