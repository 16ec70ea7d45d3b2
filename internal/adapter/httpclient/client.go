// Package httpclient wraps net/http with the retry, rate limiting and circuit
// breaking every HTTP upstream shares.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	"github.com/couchcryptid/nwp-consumer/internal/observability"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Options tunes a Client. Zero values pick the defaults.
type Options struct {
	Name            string        // upstream name used in metrics and logs
	Timeout         time.Duration // per request, default 60s
	RequestsPerSec  float64       // 0 disables rate limiting
	MaxRetries      uint64        // default 3
	InitialInterval time.Duration // default 500ms
	MaxInterval     time.Duration // default 10s
}

// Client sends requests to one upstream.
type Client struct {
	http    *http.Client
	circuit *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	opts    Options
	metrics *observability.Metrics
	logger  *slog.Logger
}

// StatusError is returned for responses outside 2xx.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Status)
}

// New creates a Client.
func New(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Second
	}
	c := &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		metrics: metrics,
		logger:  logger.With("component", "httpclient", "upstream", opts.Name),
	}
	if opts.RequestsPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1)
	}
	c.circuit = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Missing data and client errors say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Status < 500 && se.Status != http.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Do sends the request built by build, retrying transport errors, 429 and
// 5xx responses with exponential backoff. The caller closes the body of the
// returned response.
//
// A 404 yields domain.ErrNotPublished. Other failures, including rejected
// credentials, yield domain.ErrSourceUnavailable.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response
	op := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		req, err := build(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		out, err := c.circuit.Execute(func() (interface{}, error) {
			r, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode < 200 || r.StatusCode > 299 {
				drain(r)
				return nil, &StatusError{Status: r.StatusCode, URL: req.URL.Redacted()}
			}
			return r, nil
		})
		c.metrics.UpstreamDuration.WithLabelValues(c.opts.Name).Observe(time.Since(start).Seconds())
		if err == nil {
			resp = out.(*http.Response)
			c.metrics.UpstreamRequests.WithLabelValues(c.opts.Name, "success").Inc()
			return nil
		}
		return c.classify(ctx, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("request failed, retrying", "wait", wait, "error", err)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), ctx), notify)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}

// classify wraps err in the domain error class and marks it permanent when a
// retry cannot help.
func (c *Client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.metrics.UpstreamRequests.WithLabelValues(c.opts.Name, "error").Inc()
		return backoff.Permanent(fmt.Errorf("%w: circuit open: %w", domain.ErrSourceUnavailable, err))
	}
	var se *StatusError
	if !errors.As(err, &se) {
		c.metrics.UpstreamRequests.WithLabelValues(c.opts.Name, "retry").Inc()
		return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	switch {
	case se.Status == http.StatusNotFound:
		c.metrics.UpstreamRequests.WithLabelValues(c.opts.Name, "not_found").Inc()
		return backoff.Permanent(fmt.Errorf("%w: %w", domain.ErrNotPublished, err))
	case se.Status == http.StatusTooManyRequests || se.Status >= 500:
		c.metrics.UpstreamRequests.WithLabelValues(c.opts.Name, "retry").Inc()
		return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	default:
		c.metrics.UpstreamRequests.WithLabelValues(c.opts.Name, "error").Inc()
		return backoff.Permanent(fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err))
	}
}

// GetJSON decodes the body of a GET to url into v.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, v any) error {
	resp, err := c.Do(ctx, Get(url, header))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := decodeJSON(resp.Body, v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", domain.ErrSourceUnavailable, url, err)
	}
	return nil
}

// Get returns a builder for a GET request carrying header.
func Get(url string, header http.Header) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	}
}

func drain(r *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 64<<10))
	_ = r.Body.Close()
}
