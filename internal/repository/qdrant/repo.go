// Package qdrant is the Qdrant-backed vector store gateway.
package qdrant

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/domain/snippet"
	"github.com/kailas-cloud/protoquery/internal/metrics"
)

const driver = "qdrant"

// pointsClient is the subset of pb.PointsClient the gateway needs.
type pointsClient interface {
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// healthClient is the subset of pb.QdrantClient the gateway needs.
type healthClient interface {
	HealthCheck(ctx context.Context, in *pb.HealthCheckRequest, opts ...grpc.CallOption) (*pb.HealthCheckReply, error)
}

// Config holds connection settings.
type Config struct {
	Addr       string
	APIKey     string
	Collection string
	TLS        bool
}

// Repo implements usecase/retrieval.Gateway over Qdrant Points.Search.
type Repo struct {
	conn       *grpc.ClientConn
	points     pointsClient
	health     healthClient
	collection string
	apiKey     string
}

// New creates a gateway connected to Qdrant at cfg.Addr. The connection is lazy.
func New(cfg Config) (*Repo, error) {
	creds := insecure.NewCredentials()
	if cfg.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", cfg.Addr, err)
	}
	r := NewWithClients(pb.NewPointsClient(conn), pb.NewQdrantClient(conn), cfg.Collection, cfg.APIKey)
	r.conn = conn
	return r, nil
}

// NewWithClients creates a gateway from pre-built clients (used in tests).
func NewWithClients(points pointsClient, health healthClient, collection, apiKey string) *Repo {
	return &Repo{points: points, health: health, collection: collection, apiKey: apiKey}
}

// Close closes the underlying gRPC connection.
func (r *Repo) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close() //nolint:wrapcheck // close error is informational
}

func (r *Repo) withAuth(ctx context.Context) context.Context {
	if r.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", r.apiKey)
}

// Query runs a filtered similarity search. Qdrant applies the source filter and the
// score threshold server-side; the result is re-ranked locally for stable tie order.
func (r *Repo) Query(ctx context.Context, q snippet.SearchQuery) ([]snippet.Match, error) {
	if q.Limit <= 0 {
		return []snippet.Match{}, nil
	}

	start := time.Now()
	matches, err := r.query(ctx, q)
	st := "ok"
	if err != nil {
		st = "error"
	}
	metrics.StoreQueryDuration.WithLabelValues(driver, st).Observe(time.Since(start).Seconds())
	return matches, err
}

func (r *Repo) query(ctx context.Context, q snippet.SearchQuery) ([]snippet.Match, error) {
	threshold := float32(q.Threshold)
	// One point past the limit lets Rank settle a similarity tie at the cutoff by id.
	req := &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         q.Vector,
		Limit:          uint64(q.Limit) + 1,
		ScoreThreshold: &threshold,
		Filter:         &pb.Filter{Must: []*pb.Condition{keywordsMatch("source", q.Sources)}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	resp, err := r.points.Search(r.withAuth(ctx), req)
	if err != nil {
		return nil, classify(err)
	}

	matches := make([]snippet.Match, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		s := toSnippet(p)
		if q.Model != "" && s.Model != "" && s.Model != q.Model {
			return nil, fmt.Errorf("%w: %w: snippet %s embedded with %q, query with %q",
				domain.ErrStoreQuery, domain.ErrModelMismatch, s.ID, s.Model, q.Model)
		}
		matches = append(matches, snippet.Match{Snippet: s, Similarity: float64(p.GetScore())})
	}

	return snippet.Rank(matches, q.Sources, q.Threshold, q.Limit), nil
}

// Ping calls the Qdrant health check RPC.
func (r *Repo) Ping(ctx context.Context) error {
	if _, err := r.health.HealthCheck(r.withAuth(ctx), &pb.HealthCheckRequest{}); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func toSnippet(p *pb.ScoredPoint) snippet.Snippet {
	id := p.GetId().GetUuid()
	if id == "" {
		id = strconv.FormatUint(p.GetId().GetNum(), 10)
	}
	payload := p.GetPayload()
	str := func(k string) string { return payload[k].GetStringValue() }
	return snippet.Snippet{
		ID:        id,
		ContentID: str("content_id"),
		Title:     str("title"),
		Content:   str("content"),
		SourceTag: str("source"),
		Model:     str("model"),
	}
}

func keywordsMatch(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: values}},
				},
			},
		},
	}
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
		return fmt.Errorf("%w: %w", domain.ErrStoreQuery, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
}
