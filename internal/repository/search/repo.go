// Package search is the Valkey-backed vector store gateway.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/protoquery/internal/db"
	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/domain/snippet"
	"github.com/kailas-cloud/protoquery/internal/metrics"
)

// Hash fields written by the ingestion pipeline.
const (
	fieldContent   = "content"
	fieldContentID = "content_id"
	fieldTitle     = "title"
	fieldSource    = "source"
	fieldModel     = "model"
	fieldEmbedding = "embedding"
	// fieldScore is the KNN distance alias; RETURN must name it or the server omits it.
	fieldScore = "__" + fieldEmbedding + "_score"
)

const driver = "valkey"

// store is the consumer interface for search operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	Ping(ctx context.Context) error
}

// Repo implements usecase/retrieval.Gateway over FT.SEARCH.
type Repo struct {
	store     store
	indexName string
	keyPrefix string
}

// New creates a search repository over the given index.
// keyPrefix is stripped from document keys to obtain snippet ids.
func New(s store, indexName, keyPrefix string) *Repo {
	return &Repo{store: s, indexName: indexName, keyPrefix: keyPrefix}
}

// Query runs a source-filtered KNN search and returns matches at or above the threshold,
// at most q.Limit of them.
func (r *Repo) Query(ctx context.Context, q snippet.SearchQuery) ([]snippet.Match, error) {
	if q.Limit <= 0 {
		return []snippet.Match{}, nil
	}

	start := time.Now()
	matches, err := r.query(ctx, q)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreQueryDuration.WithLabelValues(driver, status).Observe(time.Since(start).Seconds())
	return matches, err
}

func (r *Repo) query(ctx context.Context, q snippet.SearchQuery) ([]snippet.Match, error) {
	// KNN runs before the threshold, so over-fetch to leave room for low scorers.
	// The extra slot lets Rank settle a similarity tie at the cutoff by id.
	k := q.Limit*2 + 1

	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName,
		VectorField:  fieldEmbedding,
		Vector:       q.Vector,
		K:            k,
		Tags:         []db.TagFilter{{Field: fieldSource, Values: q.Sources}},
		ReturnFields: []string{fieldContent, fieldContentID, fieldTitle, fieldSource, fieldModel, fieldScore},
	})
	if err != nil {
		return nil, classify(err)
	}

	matches := make([]snippet.Match, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		s := r.toSnippet(e)
		if q.Model != "" && s.Model != "" && s.Model != q.Model {
			return nil, fmt.Errorf("%w: %w: snippet %s embedded with %q, query with %q",
				domain.ErrStoreQuery, domain.ErrModelMismatch, s.ID, s.Model, q.Model)
		}
		matches = append(matches, snippet.Match{Snippet: s, Similarity: e.Score})
	}

	return snippet.Rank(matches, q.Sources, q.Threshold, q.Limit), nil
}

func (r *Repo) toSnippet(e db.SearchEntry) snippet.Snippet {
	return snippet.Snippet{
		ID:        strings.TrimPrefix(e.Key, r.keyPrefix),
		ContentID: e.Fields[fieldContentID],
		Title:     e.Fields[fieldTitle],
		Content:   e.Fields[fieldContent],
		SourceTag: e.Fields[fieldSource],
		Model:     e.Fields[fieldModel],
	}
}

// Ping checks that the store answers.
func (r *Repo) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, db.ErrQueryRejected) || errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("%w: %w", domain.ErrStoreQuery, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
