package retrieval

import (
	"context"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/domain/snippet"
)

// Embedder vectorizes the question.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Gateway runs the similarity query against the snippet store.
type Gateway interface {
	Query(ctx context.Context, q snippet.SearchQuery) ([]snippet.Match, error)
}
