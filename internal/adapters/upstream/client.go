// Package upstream fetches raw records from the Fantasy Premier League API.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/pkg/logger"
	"github.com/okian/fplcache/pkg/metrics"
)

// Default client configuration constants.
const (
	DefaultBaseURL     = "https://fantasy.premierleague.com/api"
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
	defaultBackoffMax  = 8 * time.Second
	defaultMaxBody     = 32 << 20
	defaultUserAgent   = "fplcache/1.0"
	bodyPreviewLen     = 240
)

// Source locates a category inside an upstream document. An empty Key means
// the document itself is the record array.
type Source struct {
	Path string
	Key  string
}

var sources = map[model.Category]Source{
	model.Players:   {Path: "bootstrap-static/", Key: "elements"},
	model.Teams:     {Path: "bootstrap-static/", Key: "teams"},
	model.Gameweeks: {Path: "bootstrap-static/", Key: "events"},
	model.Fixtures:  {Path: "fixtures/"},
}

// Client is a stateless FPL API client. Concurrent requests for the same
// document share one round trip.
type Client struct {
	baseURL     string
	http        *http.Client
	timeout     time.Duration
	maxAttempts uint
	backoffBase time.Duration
	backoffMax  time.Duration
	maxBody     int64
	userAgent   string
	flight      singleflight.Group
	logger      logger.Logger
}

// New creates a client with configuration options.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		maxBody:     defaultMaxBody,
		userAgent:   defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("upstream")
	}
	return c
}

// FetchCategory returns the raw records of one category. It fails with
// ErrUnavailable once retries are exhausted and with ErrMalformed when the
// payload cannot be read as the expected JSON shape.
func (c *Client) FetchCategory(ctx context.Context, category model.Category) ([]model.RawRecord, error) {
	src, ok := sources[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	body, err := c.document(ctx, src.Path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", category, err)
	}
	records, err := extract(body, src.Key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", category, err)
	}
	c.logger.Debug(ctx, "fetched category",
		logger.String("category", string(category)),
		logger.Int("records", len(records)),
	)
	return records, nil
}

// document fetches path once per concurrent wave of callers.
func (c *Client) document(ctx context.Context, path string) ([]byte, error) {
	v, err, shared := c.flight.Do(path, func() (any, error) {
		return c.getWithRetry(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug(ctx, "shared upstream response", logger.String("path", path))
	}
	body, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected payload type %T", ErrMalformed, v)
	}
	return body, nil
}

func (c *Client) getWithRetry(ctx context.Context, path string) ([]byte, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.backoffBase
	eb.MaxInterval = c.backoffMax
	eb.Multiplier = 2

	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		return c.get(ctx, path)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.RecordUpstreamRetry(path)
			c.logger.Warn(ctx, "upstream request failed, retrying",
				logger.String("path", path),
				logger.Int("attempt", attempt),
				logger.Duration("wait", wait),
				logger.Error(err),
			)
		}),
	)
	if err == nil {
		return body, nil
	}
	if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrMalformed) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.logger.Error(ctx, "upstream request gave up",
		logger.String("path", path),
		logger.Int("attempts", attempt),
		logger.Error(err),
	)
	return nil, err
}

// get performs one attempt. Transient failures are returned as is so the
// retry loop backs off; permanent ones are wrapped with backoff.Permanent.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/"+strings.TrimLeft(path, "/"), http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: build request: %v", ErrMalformed, err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(path, "error")
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err()))
		}
		return nil, fmt.Errorf("%w: send request: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	metrics.RecordUpstreamRequest(path, strconv.Itoa(resp.StatusCode))
	metrics.RecordUpstreamLatency(path, float64(time.Since(start).Milliseconds()))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 &&
			time.Duration(secs)*time.Second <= c.backoffMax {
			return nil, backoff.RetryAfter(secs)
		}
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d body=%s", ErrUnavailable, resp.StatusCode, preview(raw))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d body=%s", ErrMalformed, resp.StatusCode, preview(raw)))
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, readErr)
	}
	if int64(len(raw)) > c.maxBody {
		return nil, backoff.Permanent(fmt.Errorf("%w: body exceeds %d bytes", ErrMalformed, c.maxBody))
	}
	return raw, nil
}

// extract pulls the record array out of a document.
func extract(body []byte, key string) ([]model.RawRecord, error) {
	arr := body
	if key != "" {
		var doc map[string]jsoniter.RawMessage
		if err := jsoniter.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		v, ok := doc[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing key %q", ErrMalformed, key)
		}
		arr = v
	}
	if t := bytes.TrimSpace(arr); len(t) == 0 || t[0] != '[' {
		return nil, fmt.Errorf("%w: %s is not an array", ErrMalformed, keyName(key))
	}
	var items []jsoniter.RawMessage
	if err := jsoniter.Unmarshal(arr, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make([]model.RawRecord, len(items))
	for i, it := range items {
		out[i] = model.RawRecord(it)
	}
	return out, nil
}

func keyName(key string) string {
	if key == "" {
		return "document"
	}
	return strconv.Quote(key)
}

func preview(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= bodyPreviewLen {
		return text
	}
	return text[:bodyPreviewLen] + "..."
}
