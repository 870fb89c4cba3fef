package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/protoquery/internal/config"
	dbValkey "github.com/kailas-cloud/protoquery/internal/db/valkey"
	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/domain/query"
	"github.com/kailas-cloud/protoquery/internal/domain/source"
	"github.com/kailas-cloud/protoquery/internal/metrics"
	boltrepo "github.com/kailas-cloud/protoquery/internal/repository/bolt"
	"github.com/kailas-cloud/protoquery/internal/repository/embcache"
	qdrantrepo "github.com/kailas-cloud/protoquery/internal/repository/qdrant"
	searchrepo "github.com/kailas-cloud/protoquery/internal/repository/search"
	openaiEmb "github.com/kailas-cloud/protoquery/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/protoquery/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/protoquery/internal/usecase/health"
	"github.com/kailas-cloud/protoquery/internal/usecase/retrieval"
)

// gateway is a vector store backend the retrieval service and health check both use.
type gateway interface {
	retrieval.Gateway
	healthuc.Pinger
}

// app is the assembled object graph shared by the serve and query commands.
type app struct {
	retrieval *retrieval.Service
	health    *healthuc.Service
	closers   []func()
}

// Close releases backend connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp is the composition root.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	metrics.Register()

	a := &app{}

	gw, err := buildGateway(ctx, cfg.VectorStore, a, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   "openai",
		Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Logger:     logger,
		Transport:  otelhttp.NewTransport(http.DefaultTransport),
	})

	var cache *dbValkey.Store
	if cfg.Cache.Enabled {
		cache, err = dbValkey.NewStore(dbValkey.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}
		a.closers = append(a.closers, cache.Close)
	}

	embedder := buildEmbedder(cfg, base, cache, logger)

	catalog := source.NewCatalog(catalogFromConfig(cfg.Retrieval.Sources))

	a.retrieval = retrieval.New(embedder, gw, catalog, retrieval.Config{
		Threshold: cfg.Retrieval.Threshold,
		Limits: query.Limits{
			DefaultTopK: cfg.Retrieval.DefaultTopK,
			MaxTopK:     cfg.Retrieval.MaxTopK,
		},
		Model:   cfg.Embedding.Model,
		Timeout: time.Duration(cfg.HTTP.RequestTimeoutSec) * time.Second,
	}, logger)

	// Pass a nil interface, not a typed nil pointer, when the cache is off.
	var cachePinger healthuc.Pinger
	if cache != nil {
		cachePinger = cache
	}
	a.health = healthuc.New(gw, newEmbeddingHealthChecker(base), cachePinger)

	logger.Info("Retrieval pipeline ready",
		zap.String("vector_store", cfg.VectorStore.Driver),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Int("sources", len(catalog.Enabled())),
	)
	return a, nil
}

func buildGateway(ctx context.Context, cfg config.VectorStoreConfig, a *app, logger *zap.Logger) (gateway, error) {
	switch cfg.Driver {
	case "valkey":
		store, err := dbValkey.NewStore(dbValkey.Config{
			Addrs:    cfg.Valkey.Addrs,
			Password: cfg.Valkey.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("create valkey store: %w", err)
		}
		a.closers = append(a.closers, store.Close)

		timeout := time.Duration(cfg.Valkey.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, timeout); err != nil {
			return nil, fmt.Errorf("valkey not ready: %w", err)
		}
		logger.Info("Connected to valkey", zap.Strings("addrs", cfg.Valkey.Addrs))
		return searchrepo.New(store, cfg.Valkey.Index, cfg.Valkey.KeyPrefix), nil

	case "qdrant":
		repo, err := qdrantrepo.New(qdrantrepo.Config{
			Addr:       cfg.Qdrant.Addr,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			TLS:        cfg.Qdrant.TLS,
		})
		if err != nil {
			return nil, fmt.Errorf("create qdrant client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = repo.Close() })
		logger.Info("Using qdrant", zap.String("addr", cfg.Qdrant.Addr))
		return repo, nil

	case "bolt":
		repo, err := boltrepo.Open(cfg.Bolt.Path, cfg.Bolt.Bucket)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = repo.Close() })
		logger.Info("Opened local corpus", zap.String("path", cfg.Bolt.Path))
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown vector store driver %q", cfg.Driver)
	}
}

// buildEmbedder assembles the decorator chain:
// OpenAI -> Paced -> Retrying -> Limited -> Cached -> Instrumented -> Trimming.
// The cache sits outside the limiter so hits never take a provider slot.
func buildEmbedder(cfg config.Config, base domain.Embedder, cache *dbValkey.Store, logger *zap.Logger) domain.Embedder {
	ec := cfg.Embedding

	embedder := embeddinguc.NewPacedEmbedder(base, ec.RatePerSec, ec.Burst)
	embedder = embeddinguc.NewRetryingEmbedder(embedder, embeddinguc.RetryConfig{
		MaxRetries:  ec.MaxRetries,
		BackoffBase: time.Duration(ec.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(ec.BackoffMaxMs) * time.Millisecond,
	}, ec.Model, logger)
	embedder = embeddinguc.NewLimitedEmbedder(embedder, ec.MaxConcurrent, ec.QueueDepth)

	if cache != nil {
		embedder = embcache.New(embedder, cache, embcache.Options{
			KeyPrefix:  cfg.Cache.KeyPrefix,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			TTL:        time.Duration(cfg.Cache.TTLSec) * time.Second,
		}, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, "openai", ec.Model, logger)
	return domain.NewTrimmingEmbedder(embedder)
}

func catalogFromConfig(sources []config.SourceConfig) []source.Source {
	out := make([]source.Source, 0, len(sources))
	for _, s := range sources {
		out = append(out, source.Source{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Enabled:     s.Enabled == nil || *s.Enabled,
		})
	}
	return out
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
