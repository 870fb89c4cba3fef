package search

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/protoquery/internal/db"
	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/domain/snippet"
)

func testQuery() snippet.SearchQuery {
	return snippet.SearchQuery{
		Vector:    []float32{0.1, 0.2, 0.3},
		Model:     "text-embedding-3-small",
		Sources:   []string{"acls", "local-ems"},
		Threshold: 0.7,
		Limit:     3,
	}
}

func TestQuery_BuildsFilteredKNN(t *testing.T) {
	repo, ms := newTestRepo(t)

	var captured *db.KNNQuery
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		captured = q
		return &db.SearchResult{}, nil
	}

	matches, err := repo.Query(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches == nil || len(matches) != 0 {
		t.Errorf("expected empty non-nil result, got %v", matches)
	}
	if captured.IndexName != "snippets" || captured.VectorField != "embedding" {
		t.Errorf("unexpected index: %+v", captured)
	}
	if captured.K != 7 {
		t.Errorf("K = %d, want 7", captured.K)
	}
	if len(captured.Tags) != 1 || captured.Tags[0].Field != "source" || len(captured.Tags[0].Values) != 2 {
		t.Errorf("unexpected tag filter: %+v", captured.Tags)
	}
}

func TestQuery_ThresholdThenCap(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return &db.SearchResult{Total: 5, Entries: []db.SearchEntry{
			entry("s4", "acls", 0.65),
			entry("s2", "local-ems", 0.84),
			entry("s1", "acls", 0.91),
			entry("s3", "acls", 0.84),
			entry("s5", "acls", 0.78),
		}}, nil
	}

	matches, err := repo.Query(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"s1", "s2", "s3"}
	if len(matches) != len(want) {
		t.Fatalf("expected %d matches, got %d", len(want), len(matches))
	}
	for i, id := range want {
		if matches[i].Snippet.ID != id {
			t.Errorf("matches[%d] = %s, want %s", i, matches[i].Snippet.ID, id)
		}
	}
	m := matches[0].Snippet
	if m.ContentID != "doc-s1" || m.Title != "Title s1" || m.Content != "content of s1" || m.SourceTag != "acls" {
		t.Errorf("unexpected projection: %+v", m)
	}
}

func TestQuery_DropsForeignSources(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return &db.SearchResult{Entries: []db.SearchEntry{
			entry("s1", "pals", 0.99),
			entry("s2", "acls", 0.80),
		}}, nil
	}

	matches, err := repo.Query(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 || matches[0].Snippet.ID != "s2" {
		t.Errorf("unexpected matches: %+v", matches)
	}
}

func TestQuery_ModelMismatch(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		e := entry("s1", "acls", 0.9)
		e.Fields["model"] = "text-embedding-ada-002"
		return &db.SearchResult{Entries: []db.SearchEntry{e}}, nil
	}

	_, err := repo.Query(context.Background(), testQuery())
	if !errors.Is(err, domain.ErrStoreQuery) || !errors.Is(err, domain.ErrModelMismatch) {
		t.Fatalf("expected model mismatch store query error, got %v", err)
	}
}

func TestQuery_UnlabeledModelAccepted(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		e := entry("s1", "acls", 0.9)
		delete(e.Fields, "model")
		return &db.SearchResult{Entries: []db.SearchEntry{e}}, nil
	}

	matches, err := repo.Query(context.Background(), testQuery())
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one match, got %v, %v", matches, err)
	}
}

func TestQuery_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"rejected", &db.Error{Op: db.OpSearch, Err: db.ErrQueryRejected}, domain.ErrStoreQuery},
		{"unknown index", &db.Error{Op: db.OpSearch, Err: db.ErrIndexNotFound}, domain.ErrStoreQuery},
		{"network", errors.New("dial tcp: connection refused"), domain.ErrStoreUnavailable},
		{"timeout", context.DeadlineExceeded, domain.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, ms := newTestRepo(t)
			ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
				return nil, tt.err
			}

			_, err := repo.Query(context.Background(), testQuery())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestQuery_ZeroLimit(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		t.Fatal("store must not be called")
		return nil, nil
	}

	q := testQuery()
	q.Limit = 0
	matches, err := repo.Query(context.Background(), q)
	if err != nil || len(matches) != 0 {
		t.Fatalf("expected empty result, got %v, %v", matches, err)
	}
}

func TestPing(t *testing.T) {
	repo, ms := newTestRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ms.pingErr = errors.New("down")
	if err := repo.Ping(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
