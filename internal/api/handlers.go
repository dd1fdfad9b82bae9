package api

import (
	"bytes"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	providergateway "github.com/opengovern/provider-gateway"
	"github.com/opengovern/provider-gateway/calllog"
)

// Health reports liveness and how many providers are registered.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"providers": len(h.gw.Status()),
		"call_log":  h.calls != nil,
	})
}

// Status returns the live snapshot of every provider.
func (h *Handler) Status(c *fiber.Ctx) error {
	return c.JSON(h.gw.Status())
}

// Providers lists provider ids, optionally filtered by ?category=.
func (h *Handler) Providers(c *fiber.Ctx) error {
	category := providergateway.Category(c.Query("category"))
	if category == "" {
		status := h.gw.Status()
		ids := make([]string, 0, len(status))
		for id := range status {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return c.JSON(fiber.Map{"providers": ids})
	}
	if !category.Valid() {
		return errorJSON(c, fiber.StatusBadRequest, "unknown category "+string(category))
	}
	return c.JSON(fiber.Map{
		"category":  category,
		"providers": h.gw.ProvidersByCategory(category),
	})
}

type updateKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// UpdateKey rotates a provider's API key.
func (h *Handler) UpdateKey(c *fiber.Ctx) error {
	var req updateKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.APIKey == "" {
		return errorJSON(c, fiber.StatusBadRequest, "apiKey is required")
	}

	id := c.Params("id")
	if err := h.gw.UpdateAPIKey(id, req.APIKey); err != nil {
		return errorJSON(c, fiber.StatusNotFound, providergateway.ErrProviderNotFound.Error())
	}
	h.logger.Info().Str("provider", id).Msg("api key rotated through control plane")
	return c.SendStatus(fiber.StatusNoContent)
}

// Proxy forwards the request to the provider through the gateway and answers with the
// gateway's response envelope.
func (h *Handler) Proxy(c *fiber.Ctx) error {
	path := "/" + c.Params("*")
	if qs := c.Request().URI().QueryString(); len(qs) > 0 {
		path += "?" + string(qs)
	}

	opts := providergateway.RequestOptions{Method: c.Method()}
	if body := c.Body(); len(body) > 0 {
		// fiber reuses the request buffer once the handler returns.
		opts.Body = bytes.Clone(body)
	}

	resp := h.gw.Request(c.UserContext(), c.Params("id"), path, opts)
	if resp.RequestID != "" {
		c.Set("X-Request-Id", resp.RequestID)
	}
	return c.Status(proxyStatus(resp)).JSON(resp)
}

func proxyStatus(resp providergateway.APIResponse[providergateway.RawJSON]) int {
	switch {
	case resp.Success:
		return fiber.StatusOK
	case resp.Error == providergateway.ErrProviderNotFound.Error():
		return fiber.StatusNotFound
	case resp.RetryAfterSeconds > 0:
		return fiber.StatusTooManyRequests
	case resp.RequestID == "":
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusBadGateway
	}
}

// Calls lists recent calls from the call log, optionally filtered by ?provider=.
func (h *Handler) Calls(c *fiber.Ctx) error {
	if h.calls == nil {
		return errorJSON(c, fiber.StatusNotFound, "call log is not enabled")
	}

	limit := c.QueryInt("limit", calllog.DefaultRecentLimit)
	calls, err := h.calls.Recent(c.UserContext(), c.Query("provider"), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing calls")
		return errorJSON(c, fiber.StatusInternalServerError, "failed to list calls")
	}
	return c.JSON(fiber.Map{"calls": calls})
}
