package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput signals a malformed or incomplete query.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmbeddingFailed signals that the question could not be embedded.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrSearchFailed signals that the vector store could not answer the query.
	ErrSearchFailed = errors.New("search failed")
	// ErrOverloaded signals that the embedding concurrency cap and wait queue are full.
	ErrOverloaded = errors.New("overloaded")

	// ErrProvider signals an embedding provider failure.
	ErrProvider = errors.New("embedding provider error")
	// ErrStoreUnavailable signals an unreachable or failing vector store.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrStoreQuery signals a query the vector store rejected.
	ErrStoreQuery = errors.New("vector store rejected query")
	// ErrModelMismatch signals snippets embedded with a different model than the query.
	ErrModelMismatch = errors.New("embedding model mismatch")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrUnknownSource signals a source outside the catalog.
	ErrUnknownSource = errors.New("unknown source")
)

// InputError carries a caller-facing reason for ErrInvalidInput.
type InputError struct {
	Reason string
}

// NewInputError creates an invalid-input error with the given reason.
func NewInputError(reason string) error {
	return &InputError{Reason: reason}
}

func (e *InputError) Error() string { return e.Reason }

// Is matches ErrInvalidInput.
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// ProviderError describes a failed call to the embedding provider.
type ProviderError struct {
	StatusCode int
	Retryable  bool
	// RetryAfter is the provider's requested delay, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %v", ErrProvider.Error(), e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", ErrProvider.Error(), e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// RetryAfterHint returns the provider's requested delay, if any.
func RetryAfterHint(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// Kind is the caller-facing error category.
type Kind string

// Error kinds exposed to callers.
const (
	KindInvalidInput    Kind = "invalid_input"
	KindEmbeddingFailed Kind = "embedding_failed"
	KindSearchFailed    Kind = "search_failed"
	KindOverloaded      Kind = "overloaded"
	KindInternal        Kind = "internal"
)

// KindOf classifies err. Order matters: overload wins over embedding failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrOverloaded):
		return KindOverloaded
	case errors.Is(err, ErrEmbeddingFailed):
		return KindEmbeddingFailed
	case errors.Is(err, ErrSearchFailed):
		return KindSearchFailed
	default:
		return KindInternal
	}
}
