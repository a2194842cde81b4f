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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leafsii/rediscmd/internal/api"
	"github.com/leafsii/rediscmd/internal/jobs"
	"github.com/leafsii/rediscmd/internal/metrics"
	"github.com/leafsii/rediscmd/pkg/kv"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the stream consumer and the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
}

func run(opts *rootOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Infow("Starting streamworker",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"backend", cfg.Backend,
		"version", Version,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("streamworker")
	if err != nil {
		return fmt.Errorf("failed to setup metrics: %w", err)
	}

	client, err := kv.Open(cfg.KV(logger, metricsObj))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer client.Close()
	logger.Infow("Store connection established", "backend", cfg.Backend, "nodes", cfg.Nodes, "node", cfg.Node)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := jobs.NewStreamConsumer(client, logEntry(logger), logger, metricsObj, jobs.StreamConsumerConfig{
		Stream:        cfg.Worker.Stream,
		Group:         cfg.Worker.Group,
		Consumer:      cfg.Worker.Consumer,
		ClaimMinIdle:  cfg.Worker.ClaimMinIdle,
		ClaimInterval: cfg.Worker.ClaimInterval,
		DeleteOnAck:   cfg.Worker.DeleteOnAck,
	})

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- consumer.Start(workerCtx)
	}()

	// Setup API handler and middleware
	handler := api.NewHandler(client, logger)
	middleware := api.NewMiddleware(logger, metricsObj)
	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)

	// Add metrics endpoint
	router.Handle("/metrics", metricsHandler)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server startup failed: %w", err)
	case err := <-workerDone:
		runErr = fmt.Errorf("stream consumer stopped: %w", err)
		workerDone <- err
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	}

	consumer.Stop()
	workerCancel()

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorw("Graceful shutdown failed", "error", err)
		server.Close()
	}

	select {
	case err := <-workerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Stream consumer error", "error", err)
		}
	case <-ctx.Done():
		logger.Warnw("Stream consumer did not stop in time")
	}

	logger.Infow("Server stopped")
	return runErr
}

// logEntry is the default handler: it records each entry in the log
func logEntry(logger *zap.SugaredLogger) jobs.Handler {
	return func(ctx context.Context, msg kv.XMessage) error {
		logger.Infow("Stream entry", "id", msg.ID, "values", msg.Values)
		return nil
	}
}
