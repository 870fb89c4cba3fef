package openai

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type retryAfterKey struct{}

// retryAfterHint receives the Retry-After value seen by the round tripper for one attempt.
type retryAfterHint struct {
	mu sync.Mutex
	d  time.Duration
}

func (h *retryAfterHint) set(d time.Duration) {
	h.mu.Lock()
	h.d = d
	h.mu.Unlock()
}

func (h *retryAfterHint) get() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.d
}

func withRetryAfterHint(ctx context.Context) (context.Context, *retryAfterHint) {
	h := &retryAfterHint{}
	return context.WithValue(ctx, retryAfterKey{}, h), h
}

// retryAfterTransport records Retry-After from 429/503 responses, which go-openai does not expose.
type retryAfterTransport struct {
	base http.RoundTripper
}

func (t *retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err //nolint:wrapcheck // transparent round tripper
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return resp, nil
	}
	if h, ok := req.Context().Value(retryAfterKey{}).(*retryAfterHint); ok {
		if d := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); d > 0 {
			h.set(d)
		}
	}
	return resp, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
