package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/domain/source"
	"github.com/kailas-cloud/protoquery/internal/logger"
	"github.com/kailas-cloud/protoquery/internal/transport/wire"
	healthuc "github.com/kailas-cloud/protoquery/internal/usecase/health"
	"github.com/kailas-cloud/protoquery/internal/usecase/retrieval"
)

const defaultMaxBodyBytes = 64 << 10

// Retriever runs the retrieval pipeline.
type Retriever interface {
	Query(ctx context.Context, req retrieval.Request) (retrieval.Response, error)
	Sources() []source.Source
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves the protocol-query HTTP API.
type Server struct {
	retriever     Retriever
	health        HealthChecker
	maxBodyBytes  int64
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. maxBodyBytes <= 0 uses 64 KiB.
func NewServer(retriever Retriever, health HealthChecker, maxBodyBytes int64, l *zap.Logger) *Server {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{
		retriever:    retriever,
		health:       health,
		maxBodyBytes: maxBodyBytes,
		logger:       l,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest),
		overloadedHandler,
		sentinelHandler(domain.ErrEmbeddingFailed, http.StatusInternalServerError),
		sentinelHandler(domain.ErrSearchFailed, http.StatusInternalServerError),
	}
	return s
}

// ProtocolQuery handles POST /protocol-query.
func (s *Server) ProtocolQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var req wire.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.FromContextOr(r.Context(), s.logger).Debug("bad request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, wire.MsgBadBody)
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := s.retriever.Query(ctx, req.ToRetrieval())
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wire.FromResponse(resp))
}

// ListSources handles GET /sources.
func (s *Server) ListSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, wire.FromSources(s.retriever.Sources()))
}

type healthResponse struct {
	Status healthuc.Status                  `json:"status"`
	Checks map[string]healthuc.CheckResult `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{Status: report.Status, Checks: report.Checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if tokens, used := usage.Snapshot(); used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(tokens))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, wire.ErrorResponse{Error: message})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, wire.MessageFor(err))
		return true
	}
}

func overloadedHandler(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, domain.ErrOverloaded) {
		return false
	}
	w.Header().Set("Retry-After", strconv.Itoa(wire.RetryAfterSeconds))
	writeError(w, http.StatusServiceUnavailable, wire.MsgOverloaded)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindInvalidInput:
		log.Debug("invalid request", zap.Error(err))
	case domain.KindOverloaded:
		log.Warn("request rejected", zap.String("kind", string(kind)), zap.Error(err))
	default:
		log.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}

	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	writeError(w, http.StatusInternalServerError, wire.MsgInternal)
}
