// auth.go
// --------
// Auth schemes decide how a provider's API key is attached to an outbound request.
// A scheme is chosen once at registration; the key itself is passed per request so that
// UpdateAPIKey takes effect on the next call without re-registering.
//
// Schemes:
// - BearerToken: "Authorization: Bearer <key>"
// - HeaderKey: "<Header>: <key>"
// - NoAuth: nothing, even if a key happens to be set
// - BasicAuth: HTTP basic auth with the key as password
// - OAuth2ClientCredentials: key is the client secret, access tokens are cached and refreshed
// - SignedJWT: key is an HMAC secret or a PEM private key, a short-lived JWT is minted per attempt
package providergateway

import (
	"context"
	"crypto/ecdsa"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthScheme attaches credentials to an outbound request.
type AuthScheme interface {
	// Name identifies the scheme in status output.
	Name() string
	// RequiresKey reports whether a non-empty API key must be configured.
	RequiresKey() bool
	// Apply mutates req. It is called once per attempt.
	Apply(ctx context.Context, req *http.Request, key string) error
}

type BearerToken struct{}

func (BearerToken) Name() string      { return "bearer" }
func (BearerToken) RequiresKey() bool { return true }
func (BearerToken) Apply(_ context.Context, req *http.Request, key string) error {
	req.Header.Set("Authorization", "Bearer "+key)
	return nil
}

// HeaderKey sends the raw key in a provider-specific header such as "x-api-key".
type HeaderKey struct {
	Header string
}

func (HeaderKey) Name() string      { return "header" }
func (HeaderKey) RequiresKey() bool { return true }
func (h HeaderKey) Apply(_ context.Context, req *http.Request, key string) error {
	if h.Header == "" {
		return fmt.Errorf("header key scheme has no header name")
	}
	req.Header.Set(h.Header, key)
	return nil
}

type NoAuth struct{}

func (NoAuth) Name() string                                            { return "none" }
func (NoAuth) RequiresKey() bool                                       { return false }
func (NoAuth) Apply(_ context.Context, _ *http.Request, _ string) error { return nil }

// BasicAuth uses the API key as the password. Twilio and Mixpanel work this way.
type BasicAuth struct {
	Username string
}

func (BasicAuth) Name() string      { return "basic" }
func (BasicAuth) RequiresKey() bool { return true }
func (b BasicAuth) Apply(_ context.Context, req *http.Request, key string) error {
	req.SetBasicAuth(b.Username, key)
	return nil
}

// OAuth2ClientCredentials exchanges the client secret for an access token at TokenURL.
// Tokens are reused until they expire; rotating the secret drops the cached token. Token
// requests run under the attempt's context, so they share its deadline and cancellation.
type OAuth2ClientCredentials struct {
	ClientID       string
	TokenURL       string
	Scopes         []string
	EndpointParams url.Values
	HTTPClient     *http.Client // Used for token requests, defaults to http.DefaultClient

	mu     sync.Mutex
	secret string
	token  *oauth2.Token
}

func (*OAuth2ClientCredentials) Name() string      { return "oauth2" }
func (*OAuth2ClientCredentials) RequiresKey() bool { return true }

func (o *OAuth2ClientCredentials) Apply(ctx context.Context, req *http.Request, key string) error {
	tok, err := o.Token(ctx, key)
	if err != nil {
		return fmt.Errorf("fetching oauth2 token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// Token returns the cached token for secret, fetching a new one when it is missing or
// expired. The lock is not held during the fetch.
func (o *OAuth2ClientCredentials) Token(ctx context.Context, secret string) (*oauth2.Token, error) {
	o.mu.Lock()
	if o.token != nil && o.secret == secret && o.token.Valid() {
		tok := o.token
		o.mu.Unlock()
		return tok, nil
	}
	o.mu.Unlock()

	cfg := &clientcredentials.Config{
		ClientID:       o.ClientID,
		ClientSecret:   secret,
		TokenURL:       o.TokenURL,
		Scopes:         o.Scopes,
		EndpointParams: o.EndpointParams,
	}
	if o.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.HTTPClient)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.secret = secret
	o.token = tok
	o.mu.Unlock()
	return tok, nil
}

// SignedJWT mints a short-lived bearer JWT per attempt. The key is a PEM encoded ECDSA or
// RSA private key (ES256 / RS256), or otherwise an HMAC secret (HS256).
type SignedJWT struct {
	Issuer   string
	Subject  string
	Audience string
	KeyID    string
	TTL      time.Duration // Defaults to five minutes
	// Now stamps iat and exp. RegisterProvider sets it to the gateway clock when nil.
	Now func() time.Time
}

func (SignedJWT) Name() string      { return "jwt" }
func (SignedJWT) RequiresKey() bool { return true }

func (s SignedJWT) Apply(_ context.Context, req *http.Request, key string) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	signed, err := s.Sign(key, now())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	return nil
}

// Sign builds and signs the token issued at now.
func (s SignedJWT) Sign(key string, now time.Time) (string, error) {
	method, signingKey, err := parseSigningKey(key)
	if err != nil {
		return "", err
	}

	ttl := s.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	claims := jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Subject:   s.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}

	token := jwt.NewWithClaims(method, claims)
	if s.KeyID != "" {
		token.Header["kid"] = s.KeyID
	}
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

func parseSigningKey(key string) (jwt.SigningMethod, any, error) {
	if block, _ := pem.Decode([]byte(key)); block == nil {
		return jwt.SigningMethodHS256, []byte(key), nil
	}
	if ecKey, err := jwt.ParseECPrivateKeyFromPEM([]byte(key)); err == nil {
		return ecSigningMethod(ecKey), ecKey, nil
	}
	rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key))
	if err != nil {
		return nil, nil, fmt.Errorf("PEM key is neither ECDSA nor RSA: %w", err)
	}
	return jwt.SigningMethodRS256, rsaKey, nil
}

func ecSigningMethod(key *ecdsa.PrivateKey) jwt.SigningMethod {
	switch key.Curve.Params().BitSize {
	case 384:
		return jwt.SigningMethodES384
	case 521:
		return jwt.SigningMethodES512
	default:
		return jwt.SigningMethodES256
	}
}
