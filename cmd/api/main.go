// The api binary serves the ops surface: health probes, Prometheus
// metrics, turn job status, and the admin endpoints for egress stream
// recovery and instance lifecycle announcements. Conversation processing
// and delivery run in the worker binaries.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightline-ai/concierge/cmd/mainconfig"
	"github.com/brightline-ai/concierge/internal/api/router"
	"github.com/brightline-ai/concierge/internal/app/bootstrap"
	appconfig "github.com/brightline-ai/concierge/internal/config"
	"github.com/brightline-ai/concierge/internal/http/handlers"
	"github.com/brightline-ai/concierge/internal/whatsapp"
	"github.com/brightline-ai/concierge/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting concierge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	pool, err := bootstrap.BuildDatabasePool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	var jobs *handlers.JobStatusHandler
	if cfg.ConversationJobsTable != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		if store := bootstrap.BuildJobStore(awsCfg, cfg, logger); store != nil {
			jobs = handlers.NewJobStatusHandler(store, logger)
		}
	}

	checks := []handlers.Check{}
	if pool != nil {
		checks = append(checks, handlers.Check{Name: "postgres", Ping: pool.Ping})
	}
	if redisClient != nil {
		checks = append(checks, handlers.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	var egressAdmin *handlers.EgressAdminHandler
	if redisClient != nil {
		admin := whatsapp.NewAdmin(redisClient, whatsapp.AdminConfig{Group: cfg.WAConsumerGroup}, logger)
		egressAdmin = handlers.NewEgressAdminHandler(handlers.EgressAdminConfig{
			Admin:  admin,
			Redis:  redisClient,
			Logger: logger,
		})
	} else {
		logger.Warn("redis unavailable; egress admin endpoints disabled")
	}

	r := router.New(&router.Config{
		Logger:         logger,
		Health:         handlers.NewHealthHandler(logger, checks...),
		EgressAdmin:    egressAdmin,
		Jobs:           jobs,
		MetricsHandler: promhttp.Handler(),
		AdminToken:     cfg.AdminAPIToken,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
