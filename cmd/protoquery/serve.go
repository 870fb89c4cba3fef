package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	chiTransport "github.com/kailas-cloud/protoquery/internal/transport/chi"
	natsTransport "github.com/kailas-cloud/protoquery/internal/transport/nats"
	"github.com/kailas-cloud/protoquery/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the protocol-query HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger.Info("Starting protoquery server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("vector_store", cfg.VectorStore.Driver),
	)

	a, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := chiTransport.NewServer(a.retrieval, a.health, cfg.HTTP.MaxBodyBytes, logger)
	router := chiTransport.NewRouter(server, cfg.Auth.APIKeys)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(router, cfg.Telemetry.ServiceName),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name(cfg.Telemetry.ServiceName))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		responder := natsTransport.NewResponder(a.retrieval, logger)
		if _, err := responder.Subscribe(nc, cfg.NATS.Subject, cfg.NATS.QueueGroup); err != nil {
			nc.Close()
			return fmt.Errorf("subscribe %s: %w", cfg.NATS.Subject, err)
		}
		logger.Info("Listening on NATS",
			zap.String("subject", cfg.NATS.Subject),
			zap.String("queue", cfg.NATS.QueueGroup),
		)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-quit:
		logger.Info("Received shutdown signal")
	case err := <-serveErr:
		logger.Error("HTTP server error", zap.Error(err))
		if nc != nil {
			nc.Close()
		}
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if nc != nil {
		// Drain lets in-flight NATS requests finish replying.
		if err := nc.Drain(); err != nil {
			logger.Error("Error draining NATS", zap.Error(err))
		}
	}

	logger.Info("Server stopped gracefully")
	return nil
}
