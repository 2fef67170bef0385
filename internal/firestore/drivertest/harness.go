package drivertest

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"firestore-driver/internal/auth"
	authconfig "firestore-driver/internal/auth/config"
	"firestore-driver/internal/firestore"
	gateway "firestore-driver/internal/firestore/adapter/http"
	"firestore-driver/internal/firestore/adapter/persistence/memory"
	"firestore-driver/internal/firestore/adapter/persistence/mongodb"
	"firestore-driver/internal/firestore/config"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/driver/client"
	"firestore-driver/internal/shared/logger"
)

// StoreMaker opens the backend a harness runs on. The module built around
// it takes ownership and closes it.
type StoreMaker func(ctx context.Context, t *testing.T) (repository.Store, error)

// MemoryStore is a StoreMaker for the in-process backend
func MemoryStore(ctx context.Context, t *testing.T) (repository.Store, error) {
	return memory.NewStore(nil), nil
}

// MongoStore is a StoreMaker for MONGODB_URI. Tests are skipped when it is
// unset.
func MongoStore(ctx context.Context, t *testing.T) (repository.Store, error) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}
	database := os.Getenv("MONGODB_DATABASE")
	if database == "" {
		database = "firestore_driver_test"
	}
	return mongodb.Connect(ctx, uri, database, 10*time.Second, nil)
}

// NewModule builds a Firestore module over the store newStore opens.
// The module is closed when the test ends.
func NewModule(ctx context.Context, t *testing.T, newStore StoreMaker, opts ...firestore.Option) (*firestore.FirestoreModule, error) {
	store, err := newStore(ctx, t)
	if err != nil {
		return nil, err
	}
	cfg := config.DefaultConfig()
	cfg.Gateway.ProjectID = "conformance"
	mod, err := firestore.NewFirestoreModule(ctx, cfg, logger.NewNop(), append(opts, firestore.WithStore(store))...)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}
	t.Cleanup(func() {
		if err := mod.Close(context.Background()); err != nil {
			t.Logf("close module: %v", err)
		}
	})
	return mod, nil
}

type adminHarness struct {
	mod    *firestore.FirestoreModule
	driver repository.Driver
}

func (h *adminHarness) Admin() repository.Store   { return h.mod.Store }
func (h *adminHarness) Driver() repository.Driver { return h.driver }
func (h *adminHarness) Close()                    { h.driver.Close() }

// AdminHarness returns a HarnessMaker for the privileged driver
func AdminHarness(newStore StoreMaker) HarnessMaker {
	return func(ctx context.Context, t *testing.T) (Harness, error) {
		mod, err := NewModule(ctx, t, newStore)
		if err != nil {
			return nil, err
		}
		return &adminHarness{mod: mod, driver: mod.AdminDriver()}, nil
	}
}

// Gateway is a module served over HTTP on a loopback port
type Gateway struct {
	Module *firestore.FirestoreModule
	Auth   *auth.AuthModule
	URL    string
}

// StartGateway serves a module over newStore until the test ends
func StartGateway(ctx context.Context, t *testing.T, newStore StoreMaker, opts ...firestore.Option) (*Gateway, error) {
	mod, err := NewModule(ctx, t, newStore, opts...)
	if err != nil {
		return nil, err
	}
	authModule, err := auth.NewAuthModule(ctx, &authconfig.Config{
		JWTSecretKey:    "conformance-secret-key-of-reasonable-length",
		JWTIssuer:       "drivertest",
		AccessTokenTTL:  time.Hour,
		UserStore:       "memory",
		UsersCollection: "_users",
	}, nil)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	serveCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	app := mod.NewApp(authModule)
	go func() { done <- gateway.Serve(serveCtx, app, ln, 5*time.Second) }()
	// registered after NewModule, so the gateway stops before the module closes
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Logf("gateway: %v", err)
		}
	})

	return &Gateway{Module: mod, Auth: authModule, URL: "http://" + ln.Addr().String()}, nil
}

// Token mints a bearer token for uid
func (g *Gateway) Token(ctx context.Context, uid string) (string, error) {
	return g.Auth.GetUsecase().MintToken(ctx, uid, fmt.Sprintf("%s@example.com", uid))
}

// Client returns a client driver presenting token, which may be empty
func (g *Gateway) Client(token string) (*client.Driver, error) {
	return g.Module.ClientDriver(g.URL, token)
}

type clientHarness struct {
	gw     *Gateway
	driver *client.Driver
	anon   *client.Driver
}

func (h *clientHarness) Admin() repository.Store      { return h.gw.Module.Store }
func (h *clientHarness) Driver() repository.Driver    { return h.driver }
func (h *clientHarness) Anonymous() repository.Driver { return h.anon }

func (h *clientHarness) Close() {
	h.driver.Close()
	h.anon.Close()
}

// ClientHarness returns a HarnessMaker for the client driver talking to a
// gateway in front of newStore, signed in as a test user
func ClientHarness(newStore StoreMaker) HarnessMaker {
	return func(ctx context.Context, t *testing.T) (Harness, error) {
		gw, err := StartGateway(ctx, t, newStore)
		if err != nil {
			return nil, err
		}
		token, err := gw.Token(ctx, "conformance-user")
		if err != nil {
			return nil, err
		}
		driver, err := gw.Client(token)
		if err != nil {
			return nil, err
		}
		anon, err := gw.Client("")
		if err != nil {
			return nil, err
		}
		return &clientHarness{gw: gw, driver: driver, anon: anon}, nil
	}
}
