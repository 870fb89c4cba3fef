// Package snippet holds the read-only corpus records and the ranking rules applied to them.
package snippet

import (
	"math"
	"sort"
)

// Snippet is a chunk of protocol text embedded by the ingestion pipeline.
type Snippet struct {
	ID        string
	ContentID string
	Title     string
	Content   string
	SourceTag string
	// Model is the embedding model the snippet was embedded with; empty when unknown.
	Model     string
	Embedding []float32
}

// Match is a snippet paired with its cosine similarity to the query.
type Match struct {
	Snippet    Snippet
	Similarity float64
}

// SearchQuery is the gateway-level request.
type SearchQuery struct {
	Vector    []float32
	Model     string
	Sources   []string
	Threshold float64
	Limit     int
}

// Rank applies the result invariants: source membership, threshold, descending similarity
// with ties broken by ascending ID, and the limit cap. Threshold filtering happens before the cap.
func Rank(matches []Match, sources []string, threshold float64, limit int) []Match {
	allowed := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		allowed[s] = struct{}{}
	}

	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if math.IsNaN(m.Similarity) || m.Similarity < threshold {
			continue
		}
		if _, ok := allowed[m.Snippet.SourceTag]; !ok {
			continue
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Snippet.ID < out[j].Snippet.ID
	})

	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero vector.
// Vectors of different length are compared over the shorter prefix; callers check dimensions first.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
