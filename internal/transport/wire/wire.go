// Package wire holds the JSON contract shared by the HTTP and NATS transports.
package wire

import (
	"errors"
	"net/http"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/domain/source"
	"github.com/kailas-cloud/protoquery/internal/usecase/retrieval"
)

// RetryAfterSeconds is advertised on Overloaded responses.
const RetryAfterSeconds = 1

// Caller-facing messages. Internal detail never leaves the service.
const (
	MsgBadBody         = "invalid request body"
	MsgEmbeddingFailed = "Failed to embed question"
	MsgSearchFailed    = "Failed to query knowledge base"
	MsgOverloaded      = "Service overloaded, retry later"
	MsgInternal        = "Internal server error"
)

// QueryRequest is the protocol-query request body.
type QueryRequest struct {
	Question string   `json:"question"`
	Sources  []string `json:"sources"`
	TopK     *int     `json:"topK,omitempty"`
}

// ToRetrieval converts the body into an orchestrator request.
func (r QueryRequest) ToRetrieval() retrieval.Request {
	return retrieval.Request{Question: r.Question, Sources: r.Sources, TopK: r.TopK}
}

// Snippet is one ranked match.
type Snippet struct {
	ID         string  `json:"id"`
	ContentID  string  `json:"content_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// QueryResponse is the success body. Snippets is always an array, never null.
type QueryResponse struct {
	Question string    `json:"question"`
	Snippets []Snippet `json:"snippets"`
}

// ErrorResponse is the HTTP error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ReplyError is the NATS error body; Status mirrors the HTTP status.
type ReplyError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// SourceItem is one catalog entry for GET /sources.
type SourceItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SourcesResponse lists enabled sources.
type SourcesResponse struct {
	Sources []SourceItem `json:"sources"`
}

// FromResponse converts the orchestrator result.
func FromResponse(r retrieval.Response) QueryResponse {
	out := QueryResponse{Question: r.Question, Snippets: make([]Snippet, len(r.Matches))}
	for i, m := range r.Matches {
		out.Snippets[i] = Snippet{
			ID:         m.Snippet.ID,
			ContentID:  m.Snippet.ContentID,
			Title:      m.Snippet.Title,
			Content:    m.Snippet.Content,
			Source:     m.Snippet.SourceTag,
			Similarity: m.Similarity,
		}
	}
	return out
}

// FromSources converts catalog entries.
func FromSources(sources []source.Source) SourcesResponse {
	out := SourcesResponse{Sources: make([]SourceItem, len(sources))}
	for i, s := range sources {
		out.Sources[i] = SourceItem{ID: s.ID, Name: s.Name, Description: s.Description}
	}
	return out
}

// StatusFor maps an orchestrator error to its HTTP status.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// MessageFor returns the caller-safe message for err.
func MessageFor(err error) string {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		var ie *domain.InputError
		if errors.As(err, &ie) {
			return ie.Reason
		}
		return domain.ErrInvalidInput.Error()
	case domain.KindOverloaded:
		return MsgOverloaded
	case domain.KindEmbeddingFailed:
		return MsgEmbeddingFailed
	case domain.KindSearchFailed:
		return MsgSearchFailed
	default:
		return MsgInternal
	}
}
