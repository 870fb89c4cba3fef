package query

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/protoquery/internal/domain"
)

// MaxQuestionLength is the maximum allowed question length in bytes.
const MaxQuestionLength = 4096

// Limits bounds topK for a deployment.
type Limits struct {
	DefaultTopK int
	MaxTopK     int
}

// Query is a validated retrieval request. Immutable after New.
type Query struct {
	question string
	sources  []string
	topK     int
}

// New validates and normalizes query parameters.
// A nil topK takes limits.DefaultTopK; an explicit value must lie in [1, limits.MaxTopK].
// Sources are trimmed, blank entries dropped and duplicates removed keeping first occurrence.
func New(question string, sources []string, topK *int, limits Limits) (Query, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Query{}, domain.NewInputError("missing question")
	}
	if len(question) > MaxQuestionLength {
		return Query{}, domain.NewInputError(fmt.Sprintf("question too long (max %d chars)", MaxQuestionLength))
	}

	normalized := dedupe(sources)
	if len(normalized) == 0 {
		return Query{}, domain.NewInputError("missing sources")
	}

	k := limits.DefaultTopK
	if topK != nil {
		k = *topK
		if k <= 0 {
			return Query{}, domain.NewInputError("topK must be positive")
		}
		if limits.MaxTopK > 0 && k > limits.MaxTopK {
			return Query{}, domain.NewInputError(fmt.Sprintf("topK must not exceed %d", limits.MaxTopK))
		}
	}

	return Query{question: question, sources: normalized, topK: k}, nil
}

func dedupe(sources []string) []string {
	out := make([]string, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Question returns the trimmed question text.
func (q *Query) Question() string { return q.question }

// Sources returns a copy of the requested source tags.
func (q *Query) Sources() []string {
	out := make([]string, len(q.sources))
	copy(out, q.sources)
	return out
}

// TopK returns the maximum number of snippets to return.
func (q *Query) TopK() int { return q.topK }
