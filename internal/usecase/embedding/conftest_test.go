package embedding

import (
	"context"
	"os"
	"sync/atomic"
	"testing"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Register()
	os.Exit(m.Run())
}

// mockEmbedder returns results from fn, or result/err when fn is nil.
type mockEmbedder struct {
	result domain.EmbeddingResult
	err    error
	fn     func(ctx context.Context, call int) (domain.EmbeddingResult, error)
	calls  atomic.Int32
}

func (m *mockEmbedder) Embed(ctx context.Context, _ string) (domain.EmbeddingResult, error) {
	n := int(m.calls.Add(1))
	if m.fn != nil {
		return m.fn(ctx, n)
	}
	return m.result, m.err
}

func transient(status int) error {
	return &domain.ProviderError{StatusCode: status, Retryable: true, Err: context.DeadlineExceeded}
}

func permanent(status int) error {
	return &domain.ProviderError{StatusCode: status, Err: os.ErrInvalid}
}
