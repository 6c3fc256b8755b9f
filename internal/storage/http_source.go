// Package storage fetches raw image bytes from external sources. Fetchers
// return bytes, never decoded pixels: decoding happens inside the engine
// where the buffer is guarded and wiped.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/verilens/detection-engine/internal/errors"
)

// SourceFetcher retrieves the raw bytes behind an image source URL.
type SourceFetcher interface {
	Fetch(ctx context.Context, sourceURL string) ([]byte, error)
}

const (
	fetchAttempts    = 3
	defaultUserAgent = "VeriLens-Detection-Engine/1.0"
)

// HTTPSource implements SourceFetcher over plain HTTP(S).
type HTTPSource struct {
	client     *http.Client
	maxBytes   int64
	retryDelay time.Duration
}

// NewHTTPSource creates an HTTP fetcher. Downloads larger than maxBytes are
// rejected without buffering the excess.
func NewHTTPSource(timeout time.Duration, maxBytes int64) *HTTPSource {
	transport := &http.Transport{
		// Connection pooling sized for single-image downloads
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}

	return &HTTPSource{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		maxBytes:   maxBytes,
		retryDelay: time.Second,
	}
}

// Fetch downloads the source bytes. Transient failures (network errors, 5xx)
// are retried with a growing delay; 4xx responses fail immediately since the
// caller's URL is the problem.
func (h *HTTPSource) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*h.retryDelay); err != nil {
				return nil, apperrors.NewTimeout("fetch cancelled while backing off", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
		if err != nil {
			return nil, apperrors.NewInvalidRequest("invalid source URL", err)
		}
		req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/tiff, */*")
		req.Header.Set("User-Agent", defaultUserAgent)

		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		data, done, err := h.readResponse(resp)
		if done {
			return data, err
		}
		lastErr = err
	}

	return nil, apperrors.NewInternal(
		fmt.Sprintf("failed to fetch image source after %d attempts", fetchAttempts), lastErr)
}

// readResponse consumes one response. done reports a terminal outcome;
// otherwise the error is transient and the caller retries.
func (h *HTTPSource) readResponse(resp *http.Response) (data []byte, done bool, err error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Read one byte past the cap to tell "exactly at the limit" from
		// "over it".
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
		if readErr != nil {
			return nil, false, readErr
		}
		if int64(len(body)) > h.maxBytes {
			return nil, true, apperrors.NewSizeExceeded(
				fmt.Sprintf("image source exceeds %d bytes", h.maxBytes), nil)
		}
		if len(body) == 0 {
			return nil, true, apperrors.NewInvalidRequest("image source returned an empty body", nil)
		}
		return body, true, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, true, apperrors.NewInvalidRequest(
			fmt.Sprintf("image source returned status %d", resp.StatusCode), nil)

	default:
		return nil, false, fmt.Errorf("server error: status code %d", resp.StatusCode)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
