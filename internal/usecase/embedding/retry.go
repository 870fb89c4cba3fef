package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/metrics"
)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// RetryingEmbedder retries transient provider failures with jittered exponential backoff.
// A provider Retry-After hint raises the next delay, capped at BackoffMax.
type RetryingEmbedder struct {
	inner  domain.Embedder
	cfg    RetryConfig
	model  string
	logger *zap.Logger
}

// NewRetryingEmbedder wraps inner with bounded retries.
func NewRetryingEmbedder(inner domain.Embedder, cfg RetryConfig, model string, logger *zap.Logger) *RetryingEmbedder {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	return &RetryingEmbedder{inner: inner, cfg: cfg, model: model, logger: logger}
}

// Embed calls inner at most MaxRetries+1 times. Backoff sleeps abort on ctx cancellation.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	hinted := &hintedBackOff{inner: r.newExponential(), max: r.cfg.BackoffMax}
	policy := backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(r.cfg.MaxRetries)), ctx)

	attempt := 0
	op := func() (domain.EmbeddingResult, error) {
		attempt++
		res, err := r.inner.Embed(ctx, text)
		if err == nil {
			return res, nil
		}
		if !domain.IsRetryable(err) {
			return domain.EmbeddingResult{}, backoff.Permanent(err)
		}
		hinted.hint = domain.RetryAfterHint(err)
		return domain.EmbeddingResult{}, err
	}

	notify := func(err error, next time.Duration) {
		metrics.EmbeddingRetriesTotal.WithLabelValues(r.model).Inc()
		r.logger.Warn("Retrying embedding request",
			zap.String("model", r.model),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	res, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.EmbeddingResult{}, fmt.Errorf("embedding aborted after %d attempt(s): %w", attempt, err)
		}
		return domain.EmbeddingResult{}, fmt.Errorf("embedding failed after %d attempt(s): %w", attempt, err)
	}
	return res, nil
}

func (r *RetryingEmbedder) newExponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BackoffBase
	b.MaxInterval = r.cfg.BackoffMax
	b.MaxElapsedTime = 0 // attempts are bounded by MaxRetries
	b.Reset()
	return b
}

// hintedBackOff raises the next delay to the provider's Retry-After hint. The hint is consumed once.
type hintedBackOff struct {
	inner backoff.BackOff
	max   time.Duration
	hint  time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	d := h.inner.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if h.hint > d {
		d = h.hint
	}
	if h.max > 0 && d > h.max {
		d = h.max
	}
	h.hint = 0
	return d
}

func (h *hintedBackOff) Reset() {
	h.inner.Reset()
	h.hint = 0
}
