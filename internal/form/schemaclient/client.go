// Package schemaclient fetches form definitions from the schema backend and
// prepares them for the wizard. A fetched schema is normalized once at
// ingestion (variant stamped, missing roles inferred, branch table derived)
// and then cached for the life of the process, because schemas are immutable
// for the lifetime of a session.
package schemaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"formgate/internal/form"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
)

// Config points the client at the schema backend.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client fetches and caches form schemas. Concurrent fetches for the same
// variant collapse into one request; loading one variant opportunistically
// prefetches the others in the background.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[domain.FormVariant]*form.Schema
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

// New validates the backend URL and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if !govalidator.IsRequestURL(cfg.BaseURL) {
		return nil, fmt.Errorf("schema backend URL %q is not a valid URL", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
		cache:      make(map[domain.FormVariant]*form.Schema),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Schema returns the form definition for a variant, fetching it on first use.
// The returned schema is shared between callers and must be treated as
// read-only.
func (c *Client) Schema(ctx context.Context, variant domain.FormVariant) (*form.Schema, error) {
	if schema := c.fromCache(variant); schema != nil {
		return schema, nil
	}

	schema, err := c.load(ctx, variant)
	if err != nil {
		return nil, err
	}

	// An applicant loading one variant may still switch to the other, so
	// warm it in the background.
	go c.prefetchOthers(variant)

	return schema, nil
}

// Warm fetches every supported variant so first applicants do not pay the
// fetch latency. A cold cache is not fatal; callers log the error and move
// on.
func (c *Client) Warm(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, variant := range domain.SupportedVariants() {
		variant := variant
		g.Go(func() error {
			_, err := c.load(ctx, variant)
			return err
		})
	}
	return g.Wait()
}

func (c *Client) fromCache(variant domain.FormVariant) *form.Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache[variant]
}

// load fetches a schema through the singleflight group so concurrent callers
// share one request.
func (c *Client) load(ctx context.Context, variant domain.FormVariant) (*form.Schema, error) {
	ch := c.group.DoChan(variant.String(), func() (any, error) {
		// The flight runs on its own context so one canceled caller does not
		// fail every waiter sharing it.
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		schema, err := c.fetch(fetchCtx, variant)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[variant] = schema
		c.mu.Unlock()
		return schema, nil
	})

	select {
	case <-ctx.Done():
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "schema fetch canceled")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*form.Schema), nil
	}
}

func (c *Client) prefetchOthers(current domain.FormVariant) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, variant := range domain.SupportedVariants() {
		if variant == current || c.fromCache(variant) != nil {
			continue
		}
		variant := variant
		g.Go(func() error {
			_, err := c.load(ctx, variant)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Warn("schema prefetch failed", "error", err)
	}
}

func (c *Client) fetch(ctx context.Context, variant domain.FormVariant) (*form.Schema, error) {
	url := fmt.Sprintf("%s/v1/schemas/%s", c.baseURL, variant)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build schema request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "schema backend unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "read schema response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no schema for variant %s", variant))
	case resp.StatusCode != http.StatusOK:
		return nil, dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("schema backend returned %d", resp.StatusCode))
	}

	var schema form.Schema
	if err := json.Unmarshal(body, &schema); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "malformed schema response")
	}

	ingest(&schema, variant)
	return &schema, nil
}

// ingest normalizes a freshly fetched schema. Role inference, branch
// derivation and option cleanup happen here, once; the wizard and validators
// only ever see the explicit annotations.
func ingest(s *form.Schema, variant domain.FormVariant) {
	s.Variant = variant
	for i := range s.Questions {
		q := &s.Questions[i]
		q.Options = normalizeOptions(q.Options)
		q.Columns = normalizeOptions(q.Columns)
	}
	form.AnnotateRoles(s)
	if s.Branches == nil {
		s.Branches = form.DeriveBranches(s)
	}
}

// normalizeOptions trims declared choices and drops empty and duplicate
// entries, keeping first-seen order. Schemas arrive from an external backend,
// and a padded option would reject the exact value an applicant picks.
func normalizeOptions(options []string) []string {
	if len(options) == 0 {
		return options
	}
	seen := make(map[string]struct{}, len(options))
	out := make([]string, 0, len(options))
	for _, option := range options {
		trimmed := strings.TrimSpace(option)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
