// Package nats serves the protocol-query contract over NATS request/reply.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/kailas-cloud/protoquery/internal/domain"
	"github.com/kailas-cloud/protoquery/internal/logger"
	"github.com/kailas-cloud/protoquery/internal/transport/wire"
	"github.com/kailas-cloud/protoquery/internal/usecase/retrieval"
)

// Retriever runs the retrieval pipeline.
type Retriever interface {
	Query(ctx context.Context, req retrieval.Request) (retrieval.Response, error)
}

// Responder answers protocol-query requests on a queue-group subscription.
type Responder struct {
	retriever Retriever
	logger    *zap.Logger
}

// NewResponder creates a responder.
func NewResponder(r Retriever, l *zap.Logger) *Responder {
	return &Responder{retriever: r, logger: l}
}

// Subscribe starts serving subject within queue. Unsubscribe or drain the returned subscription to stop.
func (r *Responder) Subscribe(nc *nats.Conn, subject, queue string) (*nats.Subscription, error) {
	sub, err := nc.QueueSubscribe(subject, queue, r.serve)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func (r *Responder) serve(msg *nats.Msg) {
	if msg.Reply == "" {
		r.logger.Debug("dropping request without reply subject", zap.String("subject", msg.Subject))
		return
	}
	if err := msg.RespondMsg(r.respond(msg)); err != nil {
		r.logger.Warn("failed to send reply", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// respond builds the reply for msg. The reply carries X-Embedding-Tokens when the provider was consulted.
func (r *Responder) respond(msg *nats.Msg) *nats.Msg {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	ctx = logger.ContextWithLogger(ctx, r.logger.With(zap.String("subject", msg.Subject)))
	ctx, usage := domain.NewContextWithUsage(ctx)

	reply := &nats.Msg{Header: nats.Header{}}
	reply.Data = r.handle(ctx, msg.Data)
	if tokens, used := usage.Snapshot(); used {
		reply.Header.Set("X-Embedding-Tokens", strconv.Itoa(tokens))
	}
	return reply
}

func (r *Responder) handle(ctx context.Context, data []byte) []byte {
	log := logger.FromContextOr(ctx, r.logger)

	var req wire.QueryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Debug("bad request payload", zap.Error(err))
		return encode(wire.ReplyError{Error: wire.MsgBadBody, Status: http.StatusBadRequest})
	}

	resp, err := r.retriever.Query(ctx, req.ToRetrieval())
	if err != nil {
		status := wire.StatusFor(err)
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			log.Error("request failed", zap.String("kind", string(domain.KindOf(err))), zap.Error(err))
		}
		return encode(wire.ReplyError{Error: wire.MessageFor(err), Status: status})
	}
	return encode(wire.FromResponse(resp))
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// wire types always marshal
		panic(err)
	}
	return data
}
