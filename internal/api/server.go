// Package api exposes the gateway to operators over HTTP: status, provider discovery,
// key rotation, a proxy endpoint, the call log and Prometheus metrics.
package api

import (
	"context"
	"crypto/subtle"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	providergateway "github.com/opengovern/provider-gateway"
	"github.com/opengovern/provider-gateway/calllog"
)

// CallLister is the read side of the call log.
type CallLister interface {
	Recent(ctx context.Context, provider string, limit int) ([]calllog.Call, error)
}

type Handler struct {
	gw     *providergateway.Gateway
	calls  CallLister
	logger zerolog.Logger
}

// NewHandler builds the handler set. calls may be nil when the call log is disabled.
func NewHandler(gw *providergateway.Gateway, calls CallLister, logger zerolog.Logger) *Handler {
	return &Handler{gw: gw, calls: calls, logger: logger}
}

// NewApp creates the fiber app with middleware and every route registered. A non-empty
// adminToken is required as a bearer token on every /v1 route.
func NewApp(h *Handler, adminToken string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "provider-gateway",
		ReadTimeout:           2 * time.Minute,
		WriteTimeout:          2 * time.Minute,
		IdleTimeout:           5 * time.Minute,
		CaseSensitive:         true,
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	app.Use(recover.New())
	app.Use(h.logRequests)
	h.RegisterRoutes(app, adminToken)
	return app
}

func (h *Handler) RegisterRoutes(app *fiber.App, adminToken string) {
	app.Get("/health", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(h.gw.MetricsHandler()))

	v1 := app.Group("/v1")
	if adminToken != "" {
		v1.Use(requireToken(adminToken))
	}
	v1.Get("/status", h.Status)
	v1.Get("/providers", h.Providers)
	v1.Put("/providers/:id/key", h.UpdateKey)
	v1.All("/proxy/:id/*", h.Proxy)
	v1.Get("/calls", h.Calls)
}

func requireToken(token string) fiber.Handler {
	return keyauth.New(keyauth.Config{
		Validator: func(_ *fiber.Ctx, key string) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
				return true, nil
			}
			return false, keyauth.ErrMissingOrMalformedAPIKey
		},
		ErrorHandler: func(c *fiber.Ctx, _ error) error {
			return errorJSON(c, fiber.StatusUnauthorized, "missing or invalid admin token")
		},
	})
}

func (h *Handler) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	h.logger.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("elapsed", time.Since(start)).
		Msg("control plane request")
	return err
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
