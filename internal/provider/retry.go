package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"aide/internal/domain"
)

const maxRetries = 3

// doWithRetry executes an HTTP request with exponential backoff for
// transient failures (network errors, 5xx, 429). Other statuses are
// returned to the caller for classification.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with jitter to prevent thundering herd.
			base := time.Duration(attempt*attempt) * time.Second
			jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
			backoff := base + jitter
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = &domain.ModelError{Kind: domain.ModelUnavailable, Err: err}
			if attempt < maxRetries {
				logger.Warn("request failed, will retry", "error", err)
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			status := resp.StatusCode
			resp.Body.Close()
			kind := domain.ModelUnavailable
			if status == http.StatusTooManyRequests {
				kind = domain.ModelRateLimited
			}
			lastErr = &domain.ModelError{Kind: kind,
				Err: fmt.Errorf("HTTP %d after attempt %d", status, attempt+1)}
			if attempt < maxRetries {
				logger.Warn("server error, will retry", "status", status)
				continue
			}
			return nil, lastErr
		}

		return resp, nil
	}

	return nil, lastErr
}
