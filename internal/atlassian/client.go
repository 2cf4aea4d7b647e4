// Package atlassian is a small REST client for Jira Cloud (v3) and
// Confluence, with response caching, client-side rate limiting and retry
// on 429.
//
// GET responses are cached as raw JSON under keys of the form
// "<product>:<family>:<path>?<query>" and tagged with the product. Every
// POST, PUT or DELETE invalidates the hierarchy of the family it touched.
package atlassian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	userAgent = "atlassian-mcp/2.0.0"

	// Tag carried by every cached Atlassian response.
	Tag = "atlassian"

	maxResponseBytes = 10 << 20
)

// Config holds connection settings.
type Config struct {
	BaseURL           string
	Email             string
	APIToken          string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
}

// Cache is the subset of cache.Store the client needs.
type Cache interface {
	Get(key string) (any, bool)
	SetWithTags(key string, value any, ttl time.Duration, tags ...string)
	InvalidateHierarchy(baseKey string) int
	InvalidateByTag(tag string) int
}

// Observer is told about every HTTP round trip. Optional.
type Observer interface {
	ObserveRequest(method, family string, status int, d time.Duration)
}

// resource names a cacheable family of endpoints.
type resource struct {
	product string
	family  string
}

func (r resource) namespace() string { return r.product + ":" + r.family }

var (
	jiraProject       = resource{"jira", "project"}
	jiraIssue         = resource{"jira", "issue"}
	jiraSearch        = resource{"jira", "search"}
	jiraUser          = resource{"jira", "user"}
	confluenceSpace   = resource{"confluence", "space"}
	confluenceContent = resource{"confluence", "content"}
	confluenceSearch  = resource{"confluence", "search"}
)

// Cache TTLs per endpoint family.
const (
	ttlProjects    = 10 * time.Minute
	ttlSpaces      = 10 * time.Minute
	ttlIssue       = time.Minute
	ttlPage        = time.Minute
	ttlTransitions = 5 * time.Minute
	ttlChildren    = 5 * time.Minute
	ttlSearch      = 30 * time.Second
)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the request logger.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Client) { c.log = l }
}

// WithObserver registers a request observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.obs = o }
}

// WithRetryDelays overrides the fallback and maximum wait between 429
// retries.
func WithRetryDelays(base, max time.Duration) Option {
	return func(c *Client) {
		c.retryBase = base
		c.retryMax = max
	}
}

// Client talks to one Atlassian site.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	cache   Cache
	limiter *rate.Limiter
	log     *logrus.Entry
	obs     Observer

	retryBase time.Duration
	retryMax  time.Duration
}

// New builds a Client. cache may be nil, in which case nothing is cached.
func New(cfg Config, cache Cache, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	c := &Client{
		cfg:       cfg,
		base:      base,
		http:      &http.Client{Timeout: cfg.Timeout},
		cache:     cache,
		limiter:   rate.NewLimiter(limit, burst),
		log:       logrus.NewEntry(logrus.StandardLogger()).WithField("component", "atlassian"),
		retryBase: time.Second,
		retryMax:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the site root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// BrowseURL links to a Jira issue in the web UI.
func (c *Client) BrowseURL(issueKey string) string {
	return c.BaseURL() + "/browse/" + issueKey
}

type requestIDKey struct{}

// WithRequestID returns a context whose Atlassian calls log id as
// request_id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// logger returns the client logger tagged with the caller's request id.
func (c *Client) logger(ctx context.Context) *logrus.Entry {
	if id := RequestID(ctx); id != "" {
		return c.log.WithField("request_id", id)
	}
	return c.log
}

// cacheKey builds the cache key for a GET on path with query.
func cacheKey(r resource, path string, query url.Values) string {
	key := r.namespace() + ":" + path
	if len(query) > 0 {
		key += "?" + query.Encode()
	}
	return key
}

// get decodes a GET response into out, going through the cache when ttl > 0.
func (c *Client) get(ctx context.Context, r resource, path string, query url.Values, ttl time.Duration, out any) error {
	data, err := c.getRaw(ctx, r, path, query, ttl)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, r resource, path string, query url.Values, ttl time.Duration) ([]byte, error) {
	if c.cache == nil || ttl <= 0 {
		return c.do(ctx, http.MethodGet, r, path, query, nil)
	}

	key := cacheKey(r, path, query)
	if v, ok := c.cache.Get(key); ok {
		if data, ok := v.([]byte); ok {
			c.logger(ctx).WithField("key", key).Debug("cache hit")
			return data, nil
		}
	}

	data, err := c.do(ctx, http.MethodGet, r, path, query, nil)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTags(key, data, ttl, Tag, r.product)
	return data, nil
}

// send runs a mutating request, invalidates r's namespace and decodes the
// response into out when both are non-empty.
func (c *Client) send(ctx context.Context, method string, r resource, path string, body, out any) error {
	data, err := c.do(ctx, method, r, path, nil, body)
	if err != nil {
		return err
	}
	if c.cache != nil {
		n := c.cache.InvalidateHierarchy(r.namespace())
		c.logger(ctx).WithFields(logrus.Fields{"namespace": r.namespace(), "removed": n}).Debug("cache invalidated")
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// do performs one logical request, retrying on 429 up to MaxRetries times.
func (c *Client) do(ctx context.Context, method string, r resource, path string, query url.Values, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encoding %s body: %w", path, err)
		}
	}

	endpoint := c.base.JoinPath(path)
	endpoint.RawQuery = query.Encode()

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.SetBasicAuth(c.cfg.Email, c.cfg.APIToken)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		elapsed := time.Since(start)

		if c.obs != nil {
			c.obs.ObserveRequest(method, r.namespace(), resp.StatusCode, elapsed)
		}
		log := c.logger(ctx).WithFields(logrus.Fields{
			"method":   method,
			"path":     path,
			"status":   resp.StatusCode,
			"duration": elapsed,
		})
		if err != nil {
			return nil, fmt.Errorf("reading %s response: %w", path, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.cfg.MaxRetries {
			wait := c.retryWait(resp.Header.Get("Retry-After"))
			log.WithField("wait", wait).Warn("rate limited by atlassian, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			log.Warn("atlassian request failed")
			return nil, newAPIError(method, path, resp.StatusCode, data)
		}

		log.Debug("atlassian request")
		return data, nil
	}
}

// retryWait honors a Retry-After given in seconds, capped at retryMax.
func (c *Client) retryWait(header string) time.Duration {
	wait := c.retryBase
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		wait = time.Duration(secs) * time.Second
	}
	return min(wait, c.retryMax)
}
