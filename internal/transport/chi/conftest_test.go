package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/domain/snippet"
	"github.com/kailas-cloud/protoquery/internal/domain/source"
	healthuc "github.com/kailas-cloud/protoquery/internal/usecase/health"
	"github.com/kailas-cloud/protoquery/internal/usecase/retrieval"
)

// --- Mocks ---

type mockRetriever struct {
	queryFn func(ctx context.Context, req retrieval.Request) (retrieval.Response, error)
	sources []source.Source
	calls   int
}

func (m *mockRetriever) Query(ctx context.Context, req retrieval.Request) (retrieval.Response, error) {
	m.calls++
	if m.queryFn != nil {
		return m.queryFn(ctx, req)
	}
	return retrieval.Response{Question: req.Question, Matches: []snippet.Match{}}, nil
}

func (m *mockRetriever) Sources() []source.Source { return m.sources }

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

func healthy() *mockHealth {
	return &mockHealth{report: healthuc.Report{
		Status: healthuc.Healthy,
		Checks: map[string]healthuc.CheckResult{healthuc.CheckVectorStore: healthuc.CheckOK},
	}}
}

// chestPain answers like the orchestrator for the canonical example and records usage.
func chestPain(ctx context.Context, req retrieval.Request) (retrieval.Response, error) {
	domain.UsageFromContext(ctx).AddTokens(4)
	return retrieval.Response{
		Question: req.Question,
		Matches: []snippet.Match{
			{Snippet: snippet.Snippet{ID: "s1", ContentID: "d1", Title: "ACS", Content: "Give aspirin", SourceTag: "acls"}, Similarity: 0.91},
			{Snippet: snippet.Snippet{ID: "s2", ContentID: "d2", Title: "Chest pain", Content: "12-lead ECG", SourceTag: "local-ems"}, Similarity: 0.84},
		},
	}, nil
}

func newTestRouter(t *testing.T, r Retriever, keys ...string) http.Handler {
	t.Helper()
	return NewRouter(NewServer(r, healthy(), 0, zap.NewNop()), keys)
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
