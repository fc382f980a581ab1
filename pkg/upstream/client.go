// Package upstream provides the HTTP client the request cache fetches JSON
// resources with. It sends conditional requests from cached validators,
// classifies failures and derives a freshness lifetime from response headers.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds a single request
	DefaultTimeout = 30 * time.Second

	// DefaultTTL is the freshness lifetime used when a response carries
	// neither Cache-Control max-age nor Expires
	DefaultTTL = 5 * time.Minute

	// MinTTL is the lifetime given to responses that are already stale
	MinTTL = time.Second
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the upstream API (REQUIRED)
	BaseURL string

	// User-Agent header sent with every request (REQUIRED)
	UserAgent string

	// Timeout for a single request (default: DefaultTimeout)
	Timeout time.Duration

	// DefaultTTL when the response has no freshness headers
	DefaultTTL time.Duration

	// HTTPClient overrides the transport (optional)
	HTTPClient *http.Client

	// Clock is the time source for freshness calculations
	Clock clockwork.Clock

	Logger zerolog.Logger
}

// Response is the result of a successful or not-modified upstream request.
type Response struct {
	// Body is nil for 304 responses
	Body       []byte
	StatusCode int

	ETag         string
	LastModified time.Time

	// Expires is the freshness deadline derived from Cache-Control or Expires
	Expires time.Time

	// NotModified is true when the upstream answered 304
	NotModified bool
}

// TTL is the freshness lifetime remaining at now, never below MinTTL.
func (r *Response) TTL(now time.Time) time.Duration {
	ttl := r.Expires.Sub(now)
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}

// Validators returns the validators to store alongside the body.
func (r *Response) Validators() Validators {
	return Validators{ETag: r.ETag, LastModified: r.LastModified}
}

// Client fetches resources from one upstream API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	config     Config
	clock      clockwork.Clock
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		config:     cfg,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With().Str("component", "upstream").Logger(),
	}, nil
}

// Get fetches resource with the given query parameters. When validators are
// set the request is conditional and a 304 answer yields a Response with
// NotModified set and no body.
//
// Failures are returned as *FetchError.
func (c *Client) Get(ctx context.Context, resource string, params url.Values, validators Validators) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resourceURL(resource, params), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	conditional := !validators.IsZero()
	if conditional {
		AddConditionalHeaders(req, validators)
		c.logger.Debug().
			Str("resource", resource).
			Str("etag", validators.ETag).
			Msg("Making conditional request")
	}

	startTime := c.clock.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(strconv.FormatBool(conditional)).
			Observe(c.clock.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Warn().Err(err).Str("resource", resource).Msg("Upstream request failed")
		return nil, &FetchError{
			Resource: resource,
			Class:    ErrorClassNetwork,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	now := c.clock.Now()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		NotModifiedResponses.Inc()
		io.Copy(io.Discard, resp.Body)

		etag := resp.Header.Get("ETag")
		if etag == "" {
			etag = validators.ETag
		}
		lastModified := parseLastModified(resp.Header)
		if lastModified.IsZero() {
			lastModified = validators.LastModified
		}

		c.logger.Debug().Str("resource", resource).Msg("304 Not Modified")
		return &Response{
			StatusCode:   resp.StatusCode,
			ETag:         etag,
			LastModified: lastModified,
			Expires:      parseExpires(resp.Header, now, c.config.DefaultTTL),
			NotModified:  true,
		}, nil

	case resp.StatusCode >= 400:
		class := Classify(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		io.Copy(io.Discard, resp.Body)

		c.logger.Warn().
			Str("resource", resource).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")

		return nil, &FetchError{
			Resource:   resource,
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{
			Resource:   resource,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassClient,
			Message:    resp.Status,
			Err:        ErrUnexpectedStatus,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &FetchError{
			Resource:   resource,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	return &Response{
		Body:         body,
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: parseLastModified(resp.Header),
		Expires:      parseExpires(resp.Header, now, c.config.DefaultTTL),
	}, nil
}

// resourceURL joins the base URL, the resource path and encoded params.
func (c *Client) resourceURL(resource string, params url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(resource, "/")
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}
