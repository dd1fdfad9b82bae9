// config.go
// ----------
// This file defines the ProviderConfig structure, which describes one upstream provider:
// where it lives, how requests are authenticated, and the quota, retry and timeout policy
// the gateway applies to every call made to it.
//
// Fields left at their zero value are filled from package defaults on registration
// (RetryAttempts, Timeout, Auth). RateLimit must always be set explicitly.
package providergateway

import (
	"fmt"
	"maps"
	"time"
)

const (
	// RateLimitWindow is the fixed accounting window for every provider.
	RateLimitWindow = 60 * time.Second

	DefaultRetryAttempts = 3
	DefaultTimeout       = 30 * time.Second
	DefaultBaseBackoff   = time.Second
	MaxBackoff           = 30 * time.Second
)

// Category groups providers for discovery and status. It never changes behavior.
type Category string

const (
	CategoryAI         Category = "ai"
	CategoryEmail      Category = "email"
	CategoryCRM        Category = "crm"
	CategoryFinance    Category = "finance"
	CategoryAutomation Category = "automation"
	CategoryAnalytics  Category = "analytics"
	CategorySocial     Category = "social"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryAI, CategoryEmail, CategoryCRM, CategoryFinance,
		CategoryAutomation, CategoryAnalytics, CategorySocial:
		return true
	}
	return false
}

// ProviderConfig allows per-provider customization of rate limits, retries, and other settings.
type ProviderConfig struct {
	ID          string
	DisplayName string
	BaseURL     string

	Auth   AuthScheme
	APIKey string // Rotatable through UpdateAPIKey

	RateLimit     int           // Max requests per RateLimitWindow
	RetryAttempts int           // Max attempts, including the first
	Timeout       time.Duration // Per-attempt deadline

	DefaultHeaders map[string]string
	Category       Category

	// MaxQueued bounds how many callers may wait for the next window once the quota
	// is exhausted. Zero rejects immediately.
	MaxQueued int
}

func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.Auth == nil {
		c.Auth = NoAuth{}
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DisplayName == "" {
		c.DisplayName = c.ID
	}
	c.DefaultHeaders = maps.Clone(c.DefaultHeaders)
	return c
}

func (c ProviderConfig) validate() error {
	if c.ID == "" {
		return &ConfigurationError{Reason: "provider id is required"}
	}
	if c.BaseURL == "" {
		return &ConfigurationError{Provider: c.ID, Reason: "base url is required"}
	}
	if c.RateLimit <= 0 {
		return &ConfigurationError{Provider: c.ID, Reason: fmt.Sprintf("rate limit must be positive, got %d", c.RateLimit)}
	}
	if c.MaxQueued < 0 {
		return &ConfigurationError{Provider: c.ID, Reason: "max queued must not be negative"}
	}
	if h, ok := c.Auth.(HeaderKey); ok && h.Header == "" {
		return &ConfigurationError{Provider: c.ID, Reason: "header key auth needs a header name"}
	}
	if !c.Category.Valid() {
		return &ConfigurationError{Provider: c.ID, Reason: fmt.Sprintf("unknown category %q", c.Category)}
	}
	return nil
}
