// The whatsapp-worker binary delivers outbound messages: one consumer
// loop per tenant instance over Redis Streams, rate limited per instance,
// with retries, a dead-letter stream, and reclaim of entries orphaned by
// dead consumers. Instances are discovered from the clinic registry at
// boot and from the pub/sub lifecycle channels afterwards.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightline-ai/concierge/internal/api/router"
	"github.com/brightline-ai/concierge/internal/app/bootstrap"
	"github.com/brightline-ai/concierge/internal/clinic"
	appconfig "github.com/brightline-ai/concierge/internal/config"
	"github.com/brightline-ai/concierge/internal/http/handlers"
	"github.com/brightline-ai/concierge/internal/observability/metrics"
	"github.com/brightline-ai/concierge/internal/whatsapp"
	"github.com/brightline-ai/concierge/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting whatsapp egress worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("REDIS_URL is required for the egress worker")
		os.Exit(1)
	}

	sender, err := bootstrap.BuildEvolutionClient(cfg, logger)
	if err != nil {
		logger.Error("failed to build evolution client", "error", err)
		os.Exit(1)
	}

	manager := whatsapp.NewManager(redisClient, sender, bootstrap.BuildEgressConfig(cfg), logger, metrics.NewEgressMetrics(nil))

	// The registry seeds the initial instance set; without Postgres the
	// worker starts empty and picks instances up from discovery events.
	var initial []whatsapp.InstanceEvent
	pool, err := bootstrap.BuildDatabasePool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
		bindings, err := clinic.NewPostgresRegistry(pool).ActiveInstances(ctx)
		if err != nil {
			logger.Error("failed to list active instances", "error", err)
			os.Exit(1)
		}
		for _, b := range bindings {
			initial = append(initial, whatsapp.InstanceEvent{InstanceName: b.Instance, OrganizationID: b.OrgID})
		}
		logger.Info("seeded instances from registry", "count", len(initial))
	} else {
		logger.Warn("no DATABASE_URL; waiting for instance discovery events")
	}

	checks := []handlers.Check{{
		Name: "redis",
		Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}}
	if pool != nil {
		checks = append(checks, handlers.Check{Name: "postgres", Ping: pool.Ping})
	}
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(&router.Config{
			Logger:         logger,
			Health:         handlers.NewHealthHandler(logger, checks...),
			Status:         handlers.NewStatusHandler(manager, nil),
			MetricsHandler: promhttp.Handler(),
			AdminToken:     cfg.AdminAPIToken,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server error", "error", err)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- manager.Run(ctx, initial) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	managerDone := false
	select {
	case <-stop:
		logger.Info("shutting down egress worker...")
		cancel()
	case err := <-runErr:
		managerDone = true
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("egress manager exited", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	if !managerDone {
		// Run drains every instance worker before returning.
		select {
		case <-runErr:
		case <-shutdownCtx.Done():
			logger.Error("egress worker shutdown timed out", "error", shutdownCtx.Err())
		}
	}
	logger.Info("egress worker stopped")
}
