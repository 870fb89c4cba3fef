// Package retrieval turns a question into the most relevant protocol snippets.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/domain/query"
	"github.com/kailas-cloud/protoquery/internal/domain/snippet"
	"github.com/kailas-cloud/protoquery/internal/domain/source"
	"github.com/kailas-cloud/protoquery/internal/logger"
	"github.com/kailas-cloud/protoquery/internal/metrics"
)

const tracerName = "github.com/kailas-cloud/protoquery/internal/usecase/retrieval"

// Config holds ranking limits for the pipeline.
type Config struct {
	Threshold float64
	Limits    query.Limits
	// Model is passed to the gateway for the model consistency check. Empty disables it.
	Model string
	// Timeout bounds embed + search. Zero means no extra deadline.
	Timeout time.Duration
}

// Request is the raw caller input. TopK nil means the configured default.
type Request struct {
	Question string
	Sources  []string
	TopK     *int
}

// Response is the ranked result. Matches is never nil.
type Response struct {
	Question string
	Matches  []snippet.Match
}

// Service orchestrates validate → embed → search.
type Service struct {
	embed   Embedder
	gateway Gateway
	catalog *source.Catalog
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a retrieval service. catalog may be nil (any source accepted).
func New(embed Embedder, gateway Gateway, catalog *source.Catalog, cfg Config, l *zap.Logger) *Service {
	if cfg.Limits.DefaultTopK <= 0 {
		cfg.Limits.DefaultTopK = domain.DefaultRetrieval().DefaultTopK
	}
	return &Service{
		embed:   embed,
		gateway: gateway,
		catalog: catalog,
		cfg:     cfg,
		logger:  l,
		tracer:  otel.Tracer(tracerName),
	}
}

// Sources lists the enabled knowledge base sources.
func (s *Service) Sources() []source.Source {
	if s.catalog == nil {
		return []source.Source{}
	}
	return s.catalog.Enabled()
}

// Query runs the retrieval pipeline. Errors match exactly one of
// ErrInvalidInput, ErrOverloaded, ErrEmbeddingFailed or ErrSearchFailed.
func (s *Service) Query(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := s.run(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	} else {
		metrics.RetrievalMatches.Observe(float64(len(resp.Matches)))
	}
	metrics.RetrievalRequestsTotal.WithLabelValues(outcome).Inc()
	metrics.RetrievalDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return resp, err
}

func (s *Service) run(ctx context.Context, req Request) (Response, error) {
	q, err := query.New(req.Question, req.Sources, req.TopK, s.cfg.Limits)
	if err != nil {
		return Response{}, fmt.Errorf("validate query: %w", err)
	}
	if err := s.catalog.Check(q.Sources()); err != nil {
		return Response{}, fmt.Errorf("validate sources: %w", err)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	log := logger.FromContextOr(ctx, s.logger)

	vector, err := s.embedQuestion(ctx, q.Question())
	if err != nil {
		return Response{}, err
	}

	matches, err := s.search(ctx, snippet.SearchQuery{
		Vector:    vector,
		Model:     s.cfg.Model,
		Sources:   q.Sources(),
		Threshold: s.cfg.Threshold,
		Limit:     q.TopK(),
	})
	if err != nil {
		return Response{}, err
	}

	// re-apply source, threshold, order and cap on gateway output
	matches = snippet.Rank(matches, q.Sources(), s.cfg.Threshold, q.TopK())

	log.Debug("Retrieval completed",
		zap.Strings("sources", q.Sources()),
		zap.Int("top_k", q.TopK()),
		zap.Int("matches", len(matches)),
	)

	// Echo the caller's text as sent; q.Question() is the trimmed form that was embedded.
	return Response{Question: req.Question, Matches: matches}, nil
}

func (s *Service) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.embed")
	defer span.End()

	res, err := s.embed.Embed(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		if errors.Is(err, domain.ErrOverloaded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailed, err)
	}

	domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)
	span.SetAttributes(
		attribute.Int("embedding.dimensions", len(res.Embedding)),
		attribute.Int("embedding.tokens", res.TotalTokens),
	)
	return res.Embedding, nil
}

func (s *Service) search(ctx context.Context, sq snippet.SearchQuery) ([]snippet.Match, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.search", trace.WithAttributes(
		attribute.StringSlice("retrieval.sources", sq.Sources),
		attribute.Int("retrieval.limit", sq.Limit),
		attribute.Float64("retrieval.threshold", sq.Threshold),
	))
	defer span.End()

	matches, err := s.gateway.Query(ctx, sq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrSearchFailed, err)
	}
	span.SetAttributes(attribute.Int("retrieval.matches", len(matches)))
	return matches, nil
}
