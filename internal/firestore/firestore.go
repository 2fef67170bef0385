// Package firestore assembles the privileged store, change feed, rules
// engine and gateway into one module.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"firestore-driver/internal/auth"
	"firestore-driver/internal/firestore/adapter/changefeed"
	gateway "firestore-driver/internal/firestore/adapter/http"
	"firestore-driver/internal/firestore/adapter/persistence/memory"
	"firestore-driver/internal/firestore/adapter/persistence/mongodb"
	"firestore-driver/internal/firestore/config"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/driver/admin"
	"firestore-driver/internal/firestore/driver/client"
	"firestore-driver/internal/firestore/query"
	"firestore-driver/internal/firestore/usecase"
	"firestore-driver/internal/rules"
	"firestore-driver/internal/shared/logger"
	"firestore-driver/internal/shared/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// FirestoreModule wires one database: a privileged store decorated with a
// change feed, the rules engine guarding the gateway, and the use cases
// both drivers are built on.
type FirestoreModule struct {
	Config    *config.Config
	Backend   repository.Store
	Store     *changefeed.PublishingStore
	Feed      repository.ChangeFeed
	Rules     *rules.Engine
	Realtime  *usecase.RealtimeUsecase
	Documents *usecase.DocumentUsecase
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	Logger    logger.Logger
}

// Option overrides a component NewFirestoreModule would build from config
type Option func(*moduleOptions)

type moduleOptions struct {
	store repository.Store
	feed  repository.ChangeFeed
	rules []*repository.SecurityRule
}

// WithStore uses store instead of the configured backend. The module takes
// ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(o *moduleOptions) { o.store = store }
}

// WithFeed uses feed instead of the configured change feed
func WithFeed(feed repository.ChangeFeed) Option {
	return func(o *moduleOptions) { o.feed = feed }
}

// WithRules installs rules instead of RULES_FILE
func WithRules(set []*repository.SecurityRule) Option {
	return func(o *moduleOptions) { o.rules = set }
}

// NewFirestoreModule creates and initializes the module
func NewFirestoreModule(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*FirestoreModule, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	var o moduleOptions
	for _, opt := range opts {
		opt(&o)
	}
	log.Info("Initializing Firestore module...")

	backend := o.store
	if backend == nil {
		var err error
		if backend, err = openStore(ctx, cfg.Store, log); err != nil {
			return nil, err
		}
	}

	feed := o.feed
	if feed == nil {
		if cfg.Redis.Enabled() {
			feed = changefeed.NewRedisFeed(config.NewRedisClient(&cfg.Redis), log,
				changefeed.WithStreamPrefix(cfg.Redis.StreamPrefix),
				changefeed.WithMaxLen(cfg.Redis.StreamMaxLength),
				changefeed.WithOwnedClient())
			log.Infof("Publishing changes to redis at %s", cfg.Redis.Addr)
		} else {
			feed = changefeed.NewMemoryFeed(log, cfg.Gateway.FeedRetention)
		}
	}
	store := changefeed.NewPublishingStore(backend, feed, log)

	engine, err := rules.NewEngine(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create rules engine: %w", err)
	}
	engine.SetResourceAccessor(rules.NewStoreAccessor(store))
	set := o.rules
	if set == nil {
		if set, err = loadRules(cfg.Gateway.RulesFile); err != nil {
			return nil, err
		}
	}
	if err := engine.ReplaceRules(set); err != nil {
		return nil, fmt.Errorf("failed to install security rules: %w", err)
	}
	log.Infof("Installed %d security rules", len(set))

	m := metrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(m)

	realtime := usecase.NewRealtimeUsecase(store, feed, log)
	documents := usecase.NewDocumentUsecase(store, engine,
		usecase.NewTransactionRegistry(cfg.Gateway.TransactionTTL),
		realtime,
		usecase.Config{
			ProjectID:    cfg.Gateway.ProjectID,
			DatabaseID:   cfg.Gateway.DatabaseID,
			Capabilities: query.Restricted(),
		}, log, m)

	return &FirestoreModule{
		Config:    cfg,
		Backend:   backend,
		Store:     store,
		Feed:      feed,
		Rules:     engine,
		Realtime:  realtime,
		Documents: documents,
		Metrics:   m,
		Registry:  registry,
		Logger:    log,
	}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (repository.Store, error) {
	switch cfg.Backend {
	case "mongodb":
		store, err := mongodb.Connect(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase, cfg.ConnectTimeout, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open mongodb store: %w", err)
		}
		return store, nil
	case "memory", "":
		return memory.NewStore(log), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func loadRules(path string) ([]*repository.SecurityRule, error) {
	if path == "" {
		return rules.AuthenticatedOnly(), nil
	}
	set, err := rules.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load security rules: %w", err)
	}
	return set, nil
}

// AdminDriver returns a privileged driver over the module store. Listeners
// are fed by the module change feed.
func (m *FirestoreModule) AdminDriver() *admin.Driver {
	return admin.New(m.Store,
		admin.WithRealtime(m.Realtime),
		admin.WithLogger(m.Logger),
		admin.WithMetrics(m.Metrics))
}

// ClientDriver returns a rule-checked driver for the gateway at baseURL
func (m *FirestoreModule) ClientDriver(baseURL, token string) (*client.Driver, error) {
	return client.New(client.Config{
		BaseURL:    baseURL,
		ProjectID:  m.Config.Gateway.ProjectID,
		DatabaseID: m.Config.Gateway.DatabaseID,
		Token:      token,
		Log:        m.Logger,
		Metrics:    m.Metrics,
	})
}

// NewApp builds the gateway application. authModule supplies bearer token
// checks and the sign-in routes.
func (m *FirestoreModule) NewApp(authModule *auth.AuthModule) *fiber.App {
	gw := m.Config.Gateway
	return gateway.NewApp(gateway.AppOptions{
		Documents:    gateway.NewDocumentHandler(m.Documents, gw.ProjectID, gw.DatabaseID, m.Logger),
		Listen:       gateway.NewListenHandler(m.Documents, gw.ProjectID, gw.DatabaseID, m.Logger),
		Auth:         authModule.GetMiddleware(),
		AuthRoutes:   authModule.RegisterRoutes,
		Metrics:      m.Metrics,
		Gatherer:     m.Registry,
		AllowOrigins: gw.AllowOrigins,
		Log:          m.Logger,
	})
}

// Close releases the feed and the store
func (m *FirestoreModule) Close(ctx context.Context) error {
	m.Logger.Info("Closing Firestore module...")
	return errors.Join(m.Feed.Close(), m.Backend.Close(ctx))
}
