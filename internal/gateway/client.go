// Package gateway is the single entry point application code uses to reach the API.
//
// It owns the caching policy: successful GETs are persisted in the request
// cache, writes invalidate cached reads of the same resource, and GETs that
// fail at the transport level fall back to the cached copy.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/logging"
)

// Options describes one logical request.
type Options struct {
	// Method defaults to GET.
	Method string
	// Form is sent form-encoded. Ignored when Body is set.
	Form map[string]any
	// Body is sent as is.
	Body io.Reader
}

// Client issues API requests through the request cache.
type Client struct {
	baseURL *url.URL
	store   *cache.Store

	// withCookies carries the cookie jar, withoutCookies is used when a bearer token is sent
	withCookies    *http.Client
	withoutCookies *http.Client
	token          func() string
	logger         logrus.FieldLogger

	pending sync.WaitGroup
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. If it has no cookie jar, one is added.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.withCookies = hc
	}
}

// WithBearerToken makes every request send "Authorization: Bearer <token>"
// whenever token returns a non-empty value. Cookies are omitted for those requests.
func WithBearerToken(token func() string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithLogger replaces the package-level logrus logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, store *cache.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("request cache store is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL must be absolute: %s", baseURL)
	}

	c := &Client{
		baseURL: base,
		store:   store,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.withCookies == nil {
		c.withCookies = &http.Client{}
	}
	if c.withCookies.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		hc := *c.withCookies
		hc.Jar = jar
		c.withCookies = &hc
	}
	bare := *c.withCookies
	bare.Jar = nil
	c.withoutCookies = &bare

	return c, nil
}

// Do performs one logical request. It never returns an error: transport and
// decode failures come back as a Result carrying a Failure.
//
// For writes, invalidation of cached reads of the same resource is started
// before the request is sent but is not awaited. A read racing with the write
// may still see the old entry. Use Flush to wait for pending invalidations.
func (c *Client) Do(ctx context.Context, path string, opts Options) Result {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	requestID := uuid.NewString()
	log := c.logger.WithFields(logging.RequestFields(requestID, method, path))

	if method != http.MethodGet {
		c.invalidate(ctx, path, log)
	}

	req, err := c.newRequest(ctx, method, path, opts)
	if err != nil {
		log.WithError(err).Error("Failed to build request")
		return failureResult(Failure{OK: false, Error: err.Error()}, 0)
	}
	req.Header.Set("X-Request-ID", requestID)

	client := c.withCookies
	if token := c.bearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		client = c.withoutCookies
	}

	resp, err := client.Do(req)
	if err != nil {
		return c.fallback(ctx, method, path, log, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// the connection dropped mid-body: nothing usable arrived
		return c.fallback(ctx, method, path, log, err)
	}

	result := decodeBody(body, resp.StatusCode)
	if result.Failed() {
		log.WithField("status", resp.StatusCode).Warn("Response body is not valid JSON")
		return result
	}

	if method == http.MethodGet && isSuccess(resp.StatusCode) {
		c.store.Set(context.WithoutCancel(ctx), CacheKey(path), result.Data)
	}
	log.WithField("status", resp.StatusCode).Debug("Request completed")
	return result
}

// Get is Do with the GET method.
func (c *Client) Get(ctx context.Context, path string) Result {
	return c.Do(ctx, path, Options{Method: http.MethodGet})
}

// PostForm is Do with the POST method and form fields.
func (c *Client) PostForm(ctx context.Context, path string, form map[string]any) Result {
	return c.Do(ctx, path, Options{Method: http.MethodPost, Form: form})
}

// Flush blocks until every invalidation started by Do has finished.
func (c *Client) Flush() {
	c.pending.Wait()
}

func (c *Client) invalidate(ctx context.Context, path string, log logrus.FieldLogger) {
	prefix := InvalidationPrefix(path)
	ctx = context.WithoutCancel(ctx)

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		removed := c.store.DeleteByPrefix(ctx, prefix)
		log.WithField("invalidated", removed).Debugf("Invalidated cached reads under %q", prefix)
	}()
}

func (c *Client) fallback(ctx context.Context, method, path string, log logrus.FieldLogger, cause error) Result {
	log.WithError(cause).Warn("Request failed at transport level")

	if method != http.MethodGet {
		return offlineResult()
	}
	entry, found := c.store.Get(context.WithoutCancel(ctx), CacheKey(path))
	if !found {
		return offlineResult()
	}
	log.WithField("stored_at", entry.StoredAt).Info("Serving cached response")
	return Result{Data: entry.Payload, FromCache: true}
}

func (c *Client) newRequest(ctx context.Context, method, path string, opts Options) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	target := c.baseURL.ResolveReference(ref)

	var body io.Reader
	if method != http.MethodGet {
		switch {
		case opts.Body != nil:
			body = opts.Body
		case opts.Form != nil:
			body = strings.NewReader(EncodeForm(opts.Form))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) bearerToken() string {
	if c.token == nil {
		return ""
	}
	return strings.TrimSpace(c.token())
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
