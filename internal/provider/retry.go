package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"csbridge/internal/domain"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the real-clock SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy controls how an adapter retries a failed HTTP call. Attempt n
// (zero-based) that fails waits Base*2^n plus up to Jitter of that before the
// next one; the last attempt returns its error.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Jitter      float64
	Sleep       SleepFunc
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Base:        time.Second,
		Jitter:      0.1,
		Sleep:       SleepContext,
	}
}

// Backoff returns the wait after the given failed attempt, without jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.Base * time.Duration(1<<attempt)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}

// do executes an HTTP request, retrying transport errors and non-2xx
// responses. On success the caller owns the response body.
func (p RetryPolicy) do(ctx context.Context, client *http.Client, provider string, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	p = p.withDefaults()
	var lastErr *domain.ProviderError

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := p.Backoff(attempt - 1)
			if p.Jitter > 0 && backoff > 0 {
				backoff += time.Duration(rand.Int64N(int64(float64(backoff)*p.Jitter) + 1))
			}
			logger.Warn("retrying request", "provider", provider, "attempt", attempt+1, "backoff", backoff)
			if err := p.Sleep(ctx, backoff); err != nil {
				return nil, classifyTransportError(provider, err)
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, &domain.ProviderError{Provider: provider, Kind: domain.ProviderErrNetwork, Err: err}
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = classifyTransportError(provider, err)
			logger.Warn("request failed", "provider", provider, "attempt", attempt+1, "error", err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			lastErr = &domain.ProviderError{
				Provider: provider,
				Kind:     domain.ProviderErrHTTP,
				Status:   resp.StatusCode,
				Body:     string(body),
			}
			logger.Warn("provider returned error status",
				"provider", provider, "attempt", attempt+1, "status", resp.StatusCode,
				"body", domain.Excerpt(string(body), 200))
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

func classifyTransportError(provider string, err error) *domain.ProviderError {
	kind := domain.ProviderErrNetwork
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = domain.ProviderErrTimeout
	}
	return &domain.ProviderError{Provider: provider, Kind: kind, Err: err}
}
