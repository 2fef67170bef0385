package http

import (
	"context"
	"net"
	"strconv"
	"time"

	authhttp "firestore-driver/internal/auth/adapter/http"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"
	"firestore-driver/internal/shared/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// AppOptions collects what the gateway application serves
type AppOptions struct {
	Documents *DocumentHandler
	Listen    *ListenHandler
	Auth      *authhttp.AuthMiddleware
	// AuthRoutes mounts the sign-in endpoints under /v1/auth
	AuthRoutes   func(fiber.Router)
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	AllowOrigins string
	Log          logger.Logger
}

// NewApp assembles the gateway: middleware first, then the auth, database
// and operational routes.
func NewApp(opts AppOptions) *fiber.App {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	app := fiber.New(fiber.Config{
		AppName:               "firestore-driver gateway",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fiber.Map{
					"code":    fe.Code,
					"message": fe.Message,
					"status":  statusForHTTP(fe.Code),
				}})
			}
			log.Errorf("Unhandled gateway error: %v", err)
			return writeError(c, err)
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: defaultString(opts.AllowOrigins, "*"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
	}))
	app.Use(RequestMetrics(opts.Metrics))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/v1")
	if opts.Auth != nil {
		v1.Use(opts.Auth.RequestID())
	}
	if opts.AuthRoutes != nil {
		opts.AuthRoutes(v1.Group("/auth"))
	}
	if opts.Auth != nil {
		v1.Use(opts.Auth.Authenticate())
	}

	if opts.Documents != nil {
		db := v1.Group("/projects/:projectID/databases/:databaseID", opts.Documents.ScopeDatabase())
		opts.Documents.RegisterRoutes(db)
		if opts.Listen != nil {
			opts.Listen.RegisterRoutes(db)
		}
	}
	return app
}

// Serve runs app on ln until ctx is done, then shuts it down gracefully
// within timeout. A listener failure also ends the call.
func Serve(ctx context.Context, app *fiber.App, ln net.Listener, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Listener(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(timeout)
	})
	return g.Wait()
}

// RequestMetrics records the latency and status of every request by route
// pattern so document IDs do not become label values
func RequestMetrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		m.ObserveRequest(c.Method(), c.Route().Path, strconv.Itoa(status), time.Since(start))
		return err
	}
}

func statusForHTTP(code int) string {
	switch code {
	case fiber.StatusNotFound:
		return apperrors.StatusNotFound
	case fiber.StatusBadRequest, fiber.StatusUpgradeRequired, fiber.StatusMethodNotAllowed:
		return apperrors.StatusInvalidArgument
	case fiber.StatusUnauthorized:
		return apperrors.StatusUnauthenticated
	case fiber.StatusForbidden:
		return apperrors.StatusPermissionDenied
	case fiber.StatusServiceUnavailable:
		return apperrors.StatusUnavailable
	default:
		return apperrors.StatusInternal
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
