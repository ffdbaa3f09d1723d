// Package catalog is a chunked client for the read-only Rick and Morty REST
// catalog.
//
// Entities are requested by id in batches: GET {base}/{endpoint}/{id1,id2,...}.
// The catalog answers a single JSON object when one id is requested, an array
// otherwise, and 404 when none of the ids exist. A 404 chunk contributes zero
// results and fetching continues; any other non-2xx status fails the whole
// fetch with a *StatusError. Callers must tolerate receiving fewer entities
// than ids requested.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/logging"
)

const (
	// DefaultBaseURL is the public catalog endpoint.
	DefaultBaseURL = "https://rickandmortyapi.com/api/"

	// DefaultTimeout bounds a single chunk request.
	DefaultTimeout = 30 * time.Second

	defaultUserAgent = "episode-information-completion"

	// maxResponseBody caps how much of a chunk response is read.
	maxResponseBody = 10 << 20

	defaultMaxIdleConnsPerHost   = 10
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultDialTimeout           = 30 * time.Second
)

// Catalog endpoints.
const (
	EndpointEpisode   = "episode"
	EndpointCharacter = "character"
	EndpointLocation  = "location"
)

// Observer receives one call per chunk request. outcome is "ok", "not_found"
// or "error".
type Observer interface {
	ObserveCatalogRequest(endpoint, outcome string, duration time.Duration)
}

// Config holds configuration for creating a catalog client.
type Config struct {
	// BaseURL is the catalog root, e.g. https://rickandmortyapi.com/api/
	BaseURL string

	// Timeout bounds each chunk request (default: 30s)
	Timeout time.Duration

	// ChunkSize is the number of ids per request (default: 20)
	ChunkSize int

	// UserAgent is sent with every request
	UserAgent string
}

// DefaultConfig returns a Config pointing at the public catalog.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Timeout:   DefaultTimeout,
		ChunkSize: DefaultChunkSize,
		UserAgent: defaultUserAgent,
	}
}

// Client fetches catalog entities by id. Safe for concurrent use.
type Client struct {
	http      *http.Client
	baseURL   string
	timeout   time.Duration
	chunkSize int
	userAgent string
	observer  Observer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the tuned default HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithObserver attaches a request observer, typically the pipeline metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// New creates a catalog client. Zero config values fall back to defaults.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("catalog base URL %q must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}

	c := &Client{
		http:      &http.Client{Transport: transport},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		timeout:   cfg.Timeout,
		chunkSize: cfg.ChunkSize,
		userAgent: cfg.UserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Episodes fetches episodes by id.
func (c *Client) Episodes(ctx context.Context, ids []int) ([]Episode, error) {
	return fetchMany[Episode](ctx, c, EndpointEpisode, ids)
}

// Characters fetches characters by id.
func (c *Client) Characters(ctx context.Context, ids []int) ([]Character, error) {
	return fetchMany[Character](ctx, c, EndpointCharacter, ids)
}

// Locations fetches locations by id.
func (c *Client) Locations(ctx context.Context, ids []int) ([]Location, error) {
	return fetchMany[Location](ctx, c, EndpointLocation, ids)
}

// fetchMany normalizes ids, requests them chunk by chunk and concatenates the
// results. Only a 404 chunk is tolerated.
func fetchMany[T any](ctx context.Context, c *Client, endpoint string, ids []int) ([]T, error) {
	clean := NormalizeIDs(ids)
	if len(clean) == 0 {
		return nil, nil
	}

	logger := logging.WithFields(ctx, "endpoint", endpoint)
	results := make([]T, 0, len(clean))

	for _, chunk := range Chunk(clean, c.chunkSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := endpoint + "/" + joinIDs(chunk)
		resp, err := fetchChunk[T](ctx, c, endpoint, path)
		if err != nil {
			return nil, err
		}

		items := resp.Items()
		if resp.kind == kindNotFound {
			logger.Debug("catalog chunk not found, skipping", "path", path, "ids", len(chunk))
		} else {
			logger.Debug("catalog chunk fetched", "path", path, "requested", len(chunk), "received", len(items))
		}
		results = append(results, items...)
	}

	return results, nil
}

func fetchChunk[T any](ctx context.Context, c *Client, endpoint, path string) (chunkResponse[T], error) {
	var zero chunkResponse[T]
	start := time.Now()

	status, body, err := c.get(ctx, path)
	if err != nil {
		c.observe(endpoint, "error", start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, fmt.Errorf("catalog request %s: %w", path, err)
	}

	resp, err := decodeChunk[T](status, path, body)
	switch {
	case err != nil:
		c.observe(endpoint, "error", start)
		logging.FromContext(ctx).Warn("catalog request failed", "path", path, "status", status, "error", err)
	case resp.kind == kindNotFound:
		c.observe(endpoint, "not_found", start)
	default:
		c.observe(endpoint, "ok", start)
	}
	return resp, err
}

// get performs one GET and returns the status code and body.
func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/"+path, http.NoBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) observe(endpoint, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveCatalogRequest(endpoint, outcome, time.Since(start))
	}
}
