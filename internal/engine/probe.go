package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/cenkalti/backoff/v5"
)

// Prober checks that an extracted stream URL is reachable.
type Prober interface {
	Probe(ctx context.Context, audioURL string) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, audioURL string) error

func (f ProberFunc) Probe(ctx context.Context, audioURL string) error { return f(ctx, audioURL) }

// statusError is a definitive rejection from the stream host.
type statusError struct {
	Code int
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.Code) }

// HTTPProber sends HEAD requests with browser headers. Only an explicit
// non-success status rejects the URL; transport errors that persist after
// the retries are tolerated.
type HTTPProber struct {
	client  *http.Client
	retries int
}

// NewHTTPProber creates a prober with a per-request timeout.
func NewHTTPProber(timeout time.Duration, retries int) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retries: max(retries, 0),
	}
}

// Probe returns nil when the URL answers 2xx/3xx or cannot be reached at all.
func (p *HTTPProber) Probe(ctx context.Context, audioURL string) error {
	operation := func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, audioURL, nil)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		for k, v := range stealth.ChromeHeaders() {
			req.Header.Set(k, v)
		}
		req.Header.Set("User-Agent", stealth.RandomUserAgent())

		resp, err := p.client.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()

		if stealth.IsRetryableStatus(resp.StatusCode) {
			return resp.StatusCode, &statusError{Code: resp.StatusCode}
		}
		if resp.StatusCode >= 400 {
			return resp.StatusCode, backoff.Permanent(&statusError{Code: resp.StatusCode})
		}
		return resp.StatusCode, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.retries+1)),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var se *statusError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: stream url answered %d", ErrValidationFailed, se.Code)
	}
	slog.Debug("probe: unreachable, accepting", slog.Any("error", err))
	return nil
}
