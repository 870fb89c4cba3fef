package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"input", NewInputError("missing question"), KindInvalidInput},
		{"wrapped input", fmt.Errorf("validate: %w", NewInputError("missing sources")), KindInvalidInput},
		{"overloaded inside embedding failure", fmt.Errorf("%w: %w", ErrEmbeddingFailed, ErrOverloaded), KindOverloaded},
		{"embedding", fmt.Errorf("%w: %w", ErrEmbeddingFailed, &ProviderError{StatusCode: 500}), KindEmbeddingFailed},
		{"search", fmt.Errorf("%w: %w", ErrSearchFailed, ErrStoreUnavailable), KindSearchFailed},
		{"unknown", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("too many requests")
	err := fmt.Errorf("embed: %w", &ProviderError{
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
		RetryAfter: 2 * time.Second,
		Err:        cause,
	})

	if !errors.Is(err, ErrProvider) {
		t.Error("expected ErrProvider")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if !IsRetryable(err) {
		t.Error("expected retryable")
	}
	if got := RetryAfterHint(err); got != 2*time.Second {
		t.Errorf("RetryAfterHint() = %v, want 2s", got)
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain error must not be retryable")
	}
	if RetryAfterHint(errors.New("plain")) != 0 {
		t.Error("plain error must not carry a hint")
	}
}

func TestInputError(t *testing.T) {
	err := NewInputError("missing sources")
	if err.Error() != "missing sources" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("expected ErrInvalidInput")
	}
}
