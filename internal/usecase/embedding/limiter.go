package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/metrics"
)

// LimitedEmbedder caps concurrent provider work. Up to maxConcurrent callers run,
// up to queueDepth more wait for a slot, and anyone beyond that fails fast with ErrOverloaded.
type LimitedEmbedder struct {
	inner    domain.Embedder
	sem      *semaphore.Weighted
	capacity int64
	pending  atomic.Int64
}

// NewLimitedEmbedder creates the concurrency cap. maxConcurrent < 1 is treated as 1.
func NewLimitedEmbedder(inner domain.Embedder, maxConcurrent, queueDepth int) *LimitedEmbedder {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	return &LimitedEmbedder{
		inner:    inner,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		capacity: int64(maxConcurrent + queueDepth),
	}
}

// Embed waits for a slot (bounded by ctx) and delegates to inner.
func (l *LimitedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if n := l.pending.Add(1); n > l.capacity {
		l.pending.Add(-1)
		metrics.EmbeddingOverloadedTotal.Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("%w: %d callers already admitted", domain.ErrOverloaded, l.capacity)
	}
	defer l.pending.Add(-1)

	metrics.EmbeddingQueued.Inc()
	err := l.sem.Acquire(ctx, 1)
	metrics.EmbeddingQueued.Dec()
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("wait for embedding slot: %w", err)
	}
	defer l.sem.Release(1)

	metrics.EmbeddingInFlight.Inc()
	defer metrics.EmbeddingInFlight.Dec()

	return l.inner.Embed(ctx, text) //nolint:wrapcheck // transparent decorator
}

// PacedEmbedder spaces provider attempts with a token bucket.
type PacedEmbedder struct {
	inner   domain.Embedder
	limiter *rate.Limiter
}

// NewPacedEmbedder returns inner unchanged when perSecond <= 0.
func NewPacedEmbedder(inner domain.Embedder, perSecond float64, burst int) domain.Embedder {
	if perSecond <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &PacedEmbedder{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Embed waits for a token then delegates to inner.
func (p *PacedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return p.inner.Embed(ctx, text) //nolint:wrapcheck // transparent decorator
}
