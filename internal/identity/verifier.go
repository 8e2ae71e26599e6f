// Package identity integrates the external identity-verification provider.
// The applicant is handed off to the provider mid-submission and returns
// with a signed assertion; this package turns that assertion into the bearer
// credential the forms backend accepts.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/golang-jwt/jwt/v5"

	dErrors "formgate/pkg/domain-errors"
)

// Verifier is the identity collaborator: where to send an applicant for
// verification, and how to exchange the provider's signed assertion for a
// bearer credential.
type Verifier interface {
	AuthorizeURL(state string) string
	Credential(ctx context.Context, assertion string) (string, error)
}

// AssertionClaims is the payload the provider signs into the return
// assertion. Bearer is present when the provider embeds the credential
// directly instead of requiring a token-endpoint exchange.
type AssertionClaims struct {
	Bearer string `json:"bearer,omitempty"`
	jwt.RegisteredClaims
}

// Config holds the provider endpoints and the shared assertion secret.
type Config struct {
	AuthorizeURL    string
	ReturnURL       string
	TokenURL        string
	AssertionSecret string
	Issuer          string
	Audience        string
	Timeout         time.Duration
}

// Provider is the default Verifier over a shared-secret provider.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = logger }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) { p.httpClient = client }
}

// NewProvider validates the configured endpoints and builds a Provider.
func NewProvider(cfg Config, opts ...ProviderOption) (*Provider, error) {
	if !govalidator.IsRequestURL(cfg.AuthorizeURL) {
		return nil, fmt.Errorf("identity authorize URL %q is not a valid URL", cfg.AuthorizeURL)
	}
	if cfg.TokenURL != "" && !govalidator.IsRequestURL(cfg.TokenURL) {
		return nil, fmt.Errorf("identity token URL %q is not a valid URL", cfg.TokenURL)
	}
	if cfg.AssertionSecret == "" {
		return nil, errors.New("identity assertion secret is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	p := &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// AuthorizeURL builds the provider hand-off URL carrying the anti-replay
// state and the return address.
func (p *Provider) AuthorizeURL(state string) string {
	u, err := url.Parse(p.cfg.AuthorizeURL)
	if err != nil {
		// Validated at construction; a parse failure here means the config
		// changed underneath us.
		p.logger.Warn("authorize URL no longer parses", "url", p.cfg.AuthorizeURL, "error", err)
		return p.cfg.AuthorizeURL
	}
	q := u.Query()
	q.Set("state", state)
	if p.cfg.ReturnURL != "" {
		q.Set("redirect_uri", p.cfg.ReturnURL)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Credential validates the provider's assertion and returns the bearer
// credential. When a token endpoint is configured the assertion is exchanged
// there; otherwise the bearer must ride in the assertion claims.
func (p *Provider) Credential(ctx context.Context, assertion string) (string, error) {
	claims, err := p.validateAssertion(assertion)
	if err != nil {
		return "", err
	}

	if p.cfg.TokenURL != "" {
		return p.exchange(ctx, assertion)
	}

	if claims.Bearer == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "assertion carries no credential")
	}
	return claims.Bearer, nil
}

func (p *Provider) validateAssertion(assertion string) (*AssertionClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}
	if p.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(p.cfg.Audience))
	}

	parsed, err := jwt.ParseWithClaims(assertion, &AssertionClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenUnverifiable
			}
			return []byte(p.cfg.AssertionSecret), nil
		},
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "assertion has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid assertion")
	}
	claims, ok := parsed.Claims.(*AssertionClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid assertion")
	}
	return claims, nil
}

// exchange posts the assertion to the provider token endpoint.
func (p *Provider) exchange(ctx context.Context, assertion string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "identity provider unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		return "", dErrors.New(dErrors.CodeUnauthorized, "identity provider rejected the assertion")
	default:
		return "", dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("identity provider returned status %d", resp.StatusCode))
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "malformed token response")
	}
	if body.AccessToken == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "token response carries no credential")
	}
	return body.AccessToken, nil
}
