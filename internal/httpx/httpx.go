// Package httpx holds the shared HTTP client helpers used by the engine's
// collaborator clients (recognizer, embedder, judge).
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/duplex-voice-lab/internal/logging"
)

// PostWithRetries posts body to url with retry/backoff and returns the
// response. Caller must close resp.Body. contentType defaults to
// application/json when empty.
func PostWithRetries(ctx context.Context, client *http.Client, url string, body []byte, contentType, authToken string, timeout time.Duration, attempts int, correlationID string) (*http.Response, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if contentType == "" {
		contentType = "application/json"
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		req, rerr := http.NewRequestWithContext(reqCtx, "POST", url, bytes.NewReader(body))
		if rerr != nil {
			cancel()
			return nil, rerr
		}
		req.Header.Set("Content-Type", contentType)
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}
		if correlationID != "" {
			req.Header.Set("X-Correlation-ID", correlationID)
		}

		resp, err := client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			logging.Debugw("httpx: POST attempt failed", "url", url, "attempt", i+1, "err", err, "correlation_id", correlationID)
			if i < attempts-1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(200*(1<<i)) * time.Millisecond):
				}
				continue
			}
			return nil, err
		}
		if resp.StatusCode >= 500 && i < attempts-1 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error status=%d", resp.StatusCode)
			logging.Warnw("httpx: server error, retrying", "url", url, "status", resp.StatusCode, "attempt", i+1, "correlation_id", correlationID)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(200*(1<<i)) * time.Millisecond):
			}
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}
