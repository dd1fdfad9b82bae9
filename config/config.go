// Package config loads the gateway's YAML configuration and turns it into provider
// registrations on top of the built-in catalog.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	providergateway "github.com/opengovern/provider-gateway"
	"github.com/opengovern/provider-gateway/calllog"
)

const (
	defaultAddr = "127.0.0.1:8080"

	// WhatsAppPhoneIDEnv names the WhatsApp Business phone number id used in message paths.
	WhatsAppPhoneIDEnv = "WHATSAPP_PHONE_ID"
)

// Config represents the complete application configuration
type Config struct {
	Server          ServerConfig              `yaml:"server"`
	CallLog         *calllog.Config           `yaml:"call_log,omitempty"`
	WhatsAppPhoneID string                    `yaml:"whatsapp_phone_id,omitempty"`
	Providers       map[string]ProviderConfig `yaml:"providers,omitempty"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`
	// AdminToken guards the /v1 routes with "Authorization: Bearer <token>" when set.
	AdminToken string `yaml:"admin_token,omitempty"`
}

// ProviderConfig overrides or adds one provider. Zero fields keep the catalog value.
type ProviderConfig struct {
	Disabled      bool              `yaml:"disabled,omitempty"`
	DisplayName   string            `yaml:"display_name,omitempty"`
	BaseURL       string            `yaml:"base_url,omitempty"`
	Auth          *AuthConfig       `yaml:"auth,omitempty"`
	APIKey        string            `yaml:"api_key,omitempty"`
	APIKeyEnv     string            `yaml:"api_key_env,omitempty"`
	RateLimit     int               `yaml:"rate_limit,omitempty"`
	RetryAttempts int               `yaml:"retry_attempts,omitempty"`
	Timeout       time.Duration     `yaml:"timeout,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	Category      string            `yaml:"category,omitempty"`
	MaxQueued     int               `yaml:"max_queued,omitempty"`
}

// AuthConfig selects an auth scheme by type: bearer, header, none, basic, oauth2 or jwt.
// An empty type keeps the catalog's scheme and only overrides the fields that are set.
type AuthConfig struct {
	Type     string        `yaml:"type,omitempty"`
	Header   string        `yaml:"header,omitempty"`
	Username string        `yaml:"username,omitempty"`
	ClientID string        `yaml:"client_id,omitempty"`
	TokenURL string        `yaml:"token_url,omitempty"`
	Scopes   []string      `yaml:"scopes,omitempty"`
	Issuer   string        `yaml:"issuer,omitempty"`
	Subject  string        `yaml:"subject,omitempty"`
	Audience string        `yaml:"audience,omitempty"`
	KeyID    string        `yaml:"key_id,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	cleanPath := filepath.Clean(configPath)
	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration after substituting environment variables.
func Parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if cfg.Providers != nil {
		normalized := make(map[string]ProviderConfig, len(cfg.Providers))
		for id, p := range cfg.Providers {
			normalized[strings.ToLower(id)] = p
		}
		cfg.Providers = normalized
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration used when no file is given: the catalog, keys from the
// environment, no call log.
func Default() *Config {
	return &Config{Server: ServerConfig{Addr: defaultAddr}}
}

// LoadEnvFiles loads environment variables from the .env files that exist, in order.
// Variables already set are never overridden. It returns the files it loaded.
func LoadEnvFiles(envFiles ...string) []string {
	var loaded []string
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err == nil {
			loaded = append(loaded, envFile)
		}
	}
	return loaded
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	return envPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ValidationError lists every invalid field found by Validate.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Fields, ", ")
}

// Validate checks the fields that can be checked without the catalog.
func (c *Config) Validate() error {
	var bad []string
	for id, p := range c.Providers {
		if p.RateLimit < 0 {
			bad = append(bad, fmt.Sprintf("providers.%s.rate_limit", id))
		}
		if p.RetryAttempts < 0 {
			bad = append(bad, fmt.Sprintf("providers.%s.retry_attempts", id))
		}
		if p.MaxQueued < 0 {
			bad = append(bad, fmt.Sprintf("providers.%s.max_queued", id))
		}
		if p.Category != "" && !providergateway.Category(p.Category).Valid() {
			bad = append(bad, fmt.Sprintf("providers.%s.category", id))
		}
		if p.Auth != nil && p.Auth.Type != "" && !knownAuthType(p.Auth.Type) {
			bad = append(bad, fmt.Sprintf("providers.%s.auth.type", id))
		}
	}
	if c.CallLog != nil && c.CallLog.Type == "" {
		bad = append(bad, "call_log.type")
	}

	if len(bad) > 0 {
		sort.Strings(bad)
		return &ValidationError{Fields: bad}
	}
	return nil
}

// APIKeyEnvName is the variable a provider's key is read from by default, for example
// GOOGLE_AI_API_KEY for "google-ai".
func APIKeyEnvName(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_API_KEY"
}

// PhoneID returns the configured WhatsApp phone id, falling back to the environment.
func (c *Config) PhoneID(getenv func(string) string) string {
	if c.WhatsAppPhoneID != "" {
		return c.WhatsAppPhoneID
	}
	return getenv(WhatsAppPhoneIDEnv)
}

// BuildProviders overlays the configured providers onto the catalog and resolves keys
// through getenv. The result is sorted by id.
func (c *Config) BuildProviders(getenv func(string) string) ([]providergateway.ProviderConfig, error) {
	byID := make(map[string]providergateway.ProviderConfig)
	for _, p := range providergateway.DefaultProviders() {
		byID[p.ID] = p
	}

	for id, override := range c.Providers {
		if override.Disabled {
			delete(byID, id)
			continue
		}
		base, ok := byID[id]
		if !ok {
			base = providergateway.ProviderConfig{ID: id}
		}
		merged, err := overlay(base, override)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		byID[id] = merged
	}

	out := make([]providergateway.ProviderConfig, 0, len(byID))
	for id, p := range byID {
		p.APIKey = resolveKey(id, c.Providers[id], getenv)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Apply registers every provider of BuildProviders with g.
func (c *Config) Apply(g *providergateway.Gateway, getenv func(string) string) error {
	providers, err := c.BuildProviders(getenv)
	if err != nil {
		return err
	}
	for _, p := range providers {
		if err := g.RegisterProvider(p.ID, p); err != nil {
			return fmt.Errorf("registering %s: %w", p.ID, err)
		}
	}
	return nil
}

func overlay(base providergateway.ProviderConfig, o ProviderConfig) (providergateway.ProviderConfig, error) {
	if o.DisplayName != "" {
		base.DisplayName = o.DisplayName
	}
	if o.BaseURL != "" {
		base.BaseURL = o.BaseURL
	}
	if o.RateLimit > 0 {
		base.RateLimit = o.RateLimit
	}
	if o.RetryAttempts > 0 {
		base.RetryAttempts = o.RetryAttempts
	}
	if o.Timeout > 0 {
		base.Timeout = o.Timeout
	}
	if o.Category != "" {
		base.Category = providergateway.Category(o.Category)
	}
	if o.MaxQueued > 0 {
		base.MaxQueued = o.MaxQueued
	}
	if len(o.Headers) > 0 {
		headers := make(map[string]string, len(base.DefaultHeaders)+len(o.Headers))
		for k, v := range base.DefaultHeaders {
			headers[k] = v
		}
		for k, v := range o.Headers {
			headers[k] = v
		}
		base.DefaultHeaders = headers
	}
	if o.Auth != nil {
		scheme, err := buildAuth(o.Auth, base.Auth)
		if err != nil {
			return base, err
		}
		base.Auth = scheme
	}
	return base, nil
}

func knownAuthType(t string) bool {
	switch t {
	case "bearer", "header", "none", "basic", "oauth2", "jwt":
		return true
	}
	return false
}

// buildAuth creates the scheme described by a. Fields a leaves empty are taken from
// base when base is a scheme of the same type.
func buildAuth(a *AuthConfig, base providergateway.AuthScheme) (providergateway.AuthScheme, error) {
	kind := a.Type
	if kind == "" {
		if base == nil {
			return nil, fmt.Errorf("auth type is required")
		}
		kind = base.Name()
	}

	switch kind {
	case "bearer":
		return providergateway.BearerToken{}, nil
	case "none":
		return providergateway.NoAuth{}, nil
	case "header":
		scheme := providergateway.HeaderKey{Header: a.Header}
		if prev, ok := base.(providergateway.HeaderKey); ok && scheme.Header == "" {
			scheme.Header = prev.Header
		}
		if scheme.Header == "" {
			return nil, fmt.Errorf("header auth needs a header name")
		}
		return scheme, nil
	case "basic":
		scheme := providergateway.BasicAuth{Username: a.Username}
		if prev, ok := base.(providergateway.BasicAuth); ok && scheme.Username == "" {
			scheme.Username = prev.Username
		}
		return scheme, nil
	case "oauth2":
		scheme := &providergateway.OAuth2ClientCredentials{
			ClientID: a.ClientID,
			TokenURL: a.TokenURL,
			Scopes:   a.Scopes,
		}
		if prev, ok := base.(*providergateway.OAuth2ClientCredentials); ok {
			if scheme.ClientID == "" {
				scheme.ClientID = prev.ClientID
			}
			if scheme.TokenURL == "" {
				scheme.TokenURL = prev.TokenURL
			}
			if scheme.Scopes == nil {
				scheme.Scopes = prev.Scopes
			}
		}
		if scheme.TokenURL == "" {
			return nil, fmt.Errorf("oauth2 auth needs a token_url")
		}
		return scheme, nil
	case "jwt":
		return providergateway.SignedJWT{
			Issuer:   a.Issuer,
			Subject:  a.Subject,
			Audience: a.Audience,
			KeyID:    a.KeyID,
			TTL:      a.TTL,
		}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", kind)
	}
}

func resolveKey(id string, o ProviderConfig, getenv func(string) string) string {
	if o.APIKey != "" {
		return o.APIKey
	}
	if o.APIKeyEnv != "" {
		if v := getenv(o.APIKeyEnv); v != "" {
			return v
		}
	}
	return getenv(APIKeyEnvName(id))
}
