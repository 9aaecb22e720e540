// Package mockgateway is a self-contained stand-in for the platform's
// admin usage API. It serves every endpoint the console consumes from a
// deterministic synthetic dataset, with optional failure injection so
// retry and rate-limit handling can be exercised locally.
package mockgateway

import (
	"context"
	"crypto/subtle"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/gateway"
)

// Server wraps the Fiber app and the dataset it serves.
type Server struct {
	app  *fiber.App
	cfg  config.MockConfig
	data *Dataset
	hits atomic.Int64
}

// New constructs a server with baseline middleware and all routes ready.
func New(cfg config.MockConfig, data *Dataset) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ServerHeader:          "usagedeck-mock",
		ReadBufferSize:        4 * 1024,
		WriteBufferSize:       4 * 1024,
	})

	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(recover.New())

	s := &Server{app: app, cfg: cfg, data: data}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	admin := app.Group("/admin", s.auth, s.chaos)
	admin.Get("/users", s.users)
	admin.Get("/api-keys", s.apiKeys)

	usage := admin.Group("/usage")
	usage.Post("/analytics", s.analytics)
	usage.Post("/by-user", s.breakdown(gateway.DimensionUser))
	usage.Post("/by-model", s.breakdown(gateway.DimensionModel))
	usage.Post("/by-provider", s.breakdown(gateway.DimensionProvider))
	usage.Post("/export", s.export)
	usage.Post("/refresh-today", s.refreshToday)
	usage.Get("/filter-options", s.filterOptions)

	return s
}

// App exposes the underlying Fiber app for in-process testing.
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks until context cancellation or a fatal listen error occurs.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.cfg.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.GracefulShutdownDelay
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := s.app.ShutdownWithContext(shutdownCtx)
		if err == nil {
			err = <-errCh
		}
		return err
	case err := <-errCh:
		return err
	}
}

const authHeaderPrefix = "bearer "

func (s *Server) auth(c *fiber.Ctx) error {
	raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	token := ""
	if raw != "" && strings.HasPrefix(strings.ToLower(raw), authHeaderPrefix) {
		token = strings.TrimSpace(raw[len(authHeaderPrefix):])
	}
	if token == "" {
		return writeError(c, fiber.StatusUnauthorized, "admin authorization required")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
		return writeError(c, fiber.StatusForbidden, "invalid admin token")
	}
	return c.Next()
}

// chaos injects scripted failures: every RateLimitEvery-th admin request is
// throttled and every FailEvery-th fails transiently. Zero disables either.
func (s *Server) chaos(c *fiber.Ctx) error {
	n := s.hits.Add(1)
	if s.cfg.RateLimitEvery > 0 && n%int64(s.cfg.RateLimitEvery) == 0 {
		reset := time.Now().Add(time.Second)
		c.Set("X-RateLimit-Limit", "60")
		c.Set("X-RateLimit-Remaining", "0")
		c.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		c.Set("Retry-After", "1")
		return writeError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
	}
	if s.cfg.FailEvery > 0 && n%int64(s.cfg.FailEvery) == 0 {
		return writeError(c, fiber.StatusServiceUnavailable, "usage store temporarily unavailable")
	}
	return c.Next()
}

func writeError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}
