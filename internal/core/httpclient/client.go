// Package httpclient configures the HTTP client used to call the search service
// and download endpoints, together with the retry budget applied to each request.
package httpclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mohammed-shakir/lakeextract/internal/core/config"
)

// NewOutbound creates a new outbound http client
func NewOutbound(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// TransportError reports a request whose retry budget ran out.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Retrier executes GET-style requests under a bounded exponential backoff.
// Network errors and 429/502/503/504 responses are retried; every other
// response is handed back to the caller untouched.
type Retrier struct {
	client     *http.Client
	maxRetries int
	maxElapsed time.Duration
	initial    time.Duration
}

func NewRetrier(client *http.Client, cfg config.HTTPCfg) *Retrier {
	if client == nil {
		client = NewOutbound(cfg.Timeout)
	}
	maxElapsed := cfg.RetryMaxElapse
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	return &Retrier{
		client:     client,
		maxRetries: max(cfg.RetryMax, 0),
		maxElapsed: maxElapsed,
		initial:    500 * time.Millisecond,
	}
}

// WithInitialInterval overrides the first backoff delay.
func (r *Retrier) WithInitialInterval(d time.Duration) *Retrier {
	cp := *r
	cp.initial = d
	return &cp
}

// Client exposes the underlying http client.
func (r *Retrier) Client() *http.Client { return r.client }

// Do sends req, retrying transient failures. The request must not carry a body.
// The returned error is a *TransportError when the budget is exhausted.
func (r *Retrier) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	attempts := 0
	var resp *http.Response

	operation := func() error {
		attempts++
		res, err := r.client.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if retryableStatus(res.StatusCode) {
			_ = res.Body.Close()
			return fmt.Errorf("status %d", res.StatusCode)
		}
		resp = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initial
	bo.MaxElapsedTime = r.maxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.maxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, &TransportError{URL: req.URL.Redacted(), Attempts: attempts, Err: err}
	}
	return resp, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
