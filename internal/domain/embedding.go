package domain

import (
	"context"
	"fmt"
	"strings"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// TrimmingEmbedder rejects blank text before it reaches the provider and embeds the trimmed form.
type TrimmingEmbedder struct {
	inner Embedder
}

// NewTrimmingEmbedder wraps inner with blank-text validation.
func NewTrimmingEmbedder(inner Embedder) *TrimmingEmbedder {
	return &TrimmingEmbedder{inner: inner}
}

// Embed trims text and delegates to inner embedder.
func (e *TrimmingEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return EmbeddingResult{}, NewInputError("missing question")
	}
	result, err := e.inner.Embed(ctx, text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return result, nil
}
