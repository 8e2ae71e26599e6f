// Package formsclient delivers submission payloads to the external form
// backend. It speaks the backend's dialect, application/x-www-form-urlencoded
// with a bearer credential, and translates failures into the shared error
// vocabulary so the submit service can classify them without knowing HTTP.
package formsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"formgate/internal/wire"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
)

// DefaultTimeout bounds a delivery attempt end to end.
const DefaultTimeout = 30 * time.Second

// Config holds the backend endpoint settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client posts submissions to the form backend. It never retries: after a
// transport failure the delivery state is unknown, and a retry could hand
// the backend the same application twice.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// New validates the configured endpoint and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if !govalidator.IsRequestURL(cfg.BaseURL) {
		return nil, fmt.Errorf("forms backend URL %q is not a valid URL", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Submit posts the payload for the given variant. The bearer credential is
// attached when present; the backend decides whether the variant demands
// one. A nil return means the backend accepted the submission.
func (c *Client) Submit(ctx context.Context, variant domain.FormVariant, payload wire.Payload, bearer string) error {
	endpoint := fmt.Sprintf("%s/v1/forms/%s/submissions", c.baseURL, variant)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	c.logger.DebugContext(ctx, "delivering submission", "variant", variant.String(), "fields", len(payload))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "form backend timed out")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "form backend unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	return errorFromResponse(resp)
}

// errorFromResponse maps the backend's status and reason body onto error
// codes. The body is advisory: an unreadable one still maps by status.
func errorFromResponse(resp *http.Response) error {
	var body struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	msg := body.Message
	if msg == "" {
		msg = fmt.Sprintf("form backend returned status %d", resp.StatusCode)
	}

	switch {
	// A declared duplicate wins over the status it rode in on.
	case resp.StatusCode == http.StatusConflict || body.Reason == "duplicate":
		return dErrors.New(dErrors.CodeConflict, msg)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return dErrors.New(dErrors.CodeUnauthorized, "form backend rejected the credential")
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return dErrors.New(dErrors.CodeValidation, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return dErrors.New(dErrors.CodeTooManyRequests, msg)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return dErrors.New(dErrors.CodeTimeout, msg)
	default:
		return dErrors.New(dErrors.CodeUnavailable, msg)
	}
}
