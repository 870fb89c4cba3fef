// Package bolt is a read-only gateway over a local bbolt corpus file.
// Each record in the bucket is a JSON snippet; queries scan every record (no index).
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/domain/snippet"
	"github.com/kailas-cloud/protoquery/internal/metrics"
)

const (
	driver = "bolt"
	// ctxCheckEvery bounds how many records are scored between cancellation checks.
	ctxCheckEvery = 256
)

var errBucketNotFound = errors.New("bucket not found")

// Record is the on-disk snippet layout written by the ingestion pipeline.
type Record struct {
	ID        string    `json:"id"`
	ContentID string    `json:"content_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Model     string    `json:"model"`
	Embedding []float32 `json:"embedding"`
}

// Repo implements usecase/retrieval.Gateway over a bbolt file.
type Repo struct {
	db     *bbolt.DB
	bucket []byte
}

// Open opens the corpus file read-only.
func Open(path, bucket string) (*Repo, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", path, err)
	}
	return &Repo{db: db, bucket: []byte(bucket)}, nil
}

// Close releases the file lock.
func (r *Repo) Close() error {
	return r.db.Close() //nolint:wrapcheck // close error is informational
}

// Query scores every record in the requested sources against q.Vector.
func (r *Repo) Query(ctx context.Context, q snippet.SearchQuery) ([]snippet.Match, error) {
	if q.Limit <= 0 {
		return []snippet.Match{}, nil
	}

	start := time.Now()
	matches, err := r.scan(ctx, q)
	st := "ok"
	if err != nil {
		st = "error"
	}
	metrics.StoreQueryDuration.WithLabelValues(driver, st).Observe(time.Since(start).Seconds())
	return matches, err
}

func (r *Repo) scan(ctx context.Context, q snippet.SearchQuery) ([]snippet.Match, error) {
	sources := make(map[string]struct{}, len(q.Sources))
	for _, s := range q.Sources {
		sources[s] = struct{}{}
	}

	var matches []snippet.Match
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket)
		if b == nil {
			return fmt.Errorf("%w: %w: %s", domain.ErrStoreQuery, errBucketNotFound, r.bucket)
		}

		n := 0
		return b.ForEach(func(k, v []byte) error {
			n++
			if n%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
				}
			}

			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // skip corrupted entries
			}
			if _, ok := sources[rec.Source]; !ok {
				return nil
			}
			if q.Model != "" && rec.Model != "" && rec.Model != q.Model {
				return fmt.Errorf("%w: %w: snippet %s embedded with %q, query with %q",
					domain.ErrStoreQuery, domain.ErrModelMismatch, k, rec.Model, q.Model)
			}
			if len(rec.Embedding) != len(q.Vector) {
				return fmt.Errorf("%w: %w: snippet %s has %d dimensions, query has %d",
					domain.ErrStoreQuery, domain.ErrVectorDimMismatch, k, len(rec.Embedding), len(q.Vector))
			}

			sim := snippet.Cosine(q.Vector, rec.Embedding)
			if sim < q.Threshold {
				return nil
			}
			id := rec.ID
			if id == "" {
				id = string(k)
			}
			matches = append(matches, snippet.Match{
				Snippet: snippet.Snippet{
					ID:        id,
					ContentID: rec.ContentID,
					Title:     rec.Title,
					Content:   rec.Content,
					SourceTag: rec.Source,
					Model:     rec.Model,
				},
				Similarity: sim,
			})
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrStoreQuery) || errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	return snippet.Rank(matches, q.Sources, q.Threshold, q.Limit), nil
}

// Ping checks that the corpus bucket exists.
func (r *Repo) Ping(context.Context) error {
	err := r.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(r.bucket) == nil {
			return fmt.Errorf("%w: %s", errBucketNotFound, r.bucket)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}
