// The conversation-worker binary consumes inbound turns from the ingress
// queue, runs each through the pipeline, and enqueues replies onto the
// per-instance egress streams. It also hosts the background sweeps that
// ride the same Postgres pool: the follow-up scheduler and the idle
// session archiver.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightline-ai/concierge/cmd/mainconfig"
	"github.com/brightline-ai/concierge/internal/api/router"
	"github.com/brightline-ai/concierge/internal/app/bootstrap"
	"github.com/brightline-ai/concierge/internal/archive"
	"github.com/brightline-ai/concierge/internal/clinic"
	appconfig "github.com/brightline-ai/concierge/internal/config"
	"github.com/brightline-ai/concierge/internal/conversation"
	"github.com/brightline-ai/concierge/internal/events"
	"github.com/brightline-ai/concierge/internal/followup"
	"github.com/brightline-ai/concierge/internal/http/handlers"
	"github.com/brightline-ai/concierge/internal/narrowing"
	"github.com/brightline-ai/concierge/internal/observability/metrics"
	"github.com/brightline-ai/concierge/internal/whatsapp"
	"github.com/brightline-ai/concierge/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting conversation worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildDatabasePool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	if pool == nil {
		logger.Error("DATABASE_URL is required for the conversation worker")
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("REDIS_URL is required for the conversation worker")
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// Stores and per-tenant context.
	sqlDB := bootstrap.BuildSQLDB(pool)
	pgStore := conversation.NewPostgresStore(sqlDB, logger)
	store := conversation.NewCachedStore(pgStore)

	registry := clinic.NewPostgresRegistry(pool)
	profiles := clinic.NewStore(redisClient, registry, logger)
	resolver := clinic.NewResolver(registry)
	narrower := narrowing.NewService(clinic.NewDirectory(profiles), logger)

	// Generation chain and the optional graph lanes.
	llm, err := bootstrap.BuildLLMClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build llm client", "error", err)
		os.Exit(1)
	}
	lanes := bootstrap.BuildLaneRunner(cfg, logger)

	// Egress, notifications, memory.
	egressMetrics := metrics.NewEgressMetrics(nil)
	enqueuer := whatsapp.NewEnqueuer(redisClient, bootstrap.BuildEgressConfig(cfg), logger, egressMetrics)
	notifier := bootstrap.BuildNotifier(ctx, cfg, enqueuer, logger)
	mem := bootstrap.BuildMemory(cfg, pool, metrics.NewMemoryMetrics(nil), logger)

	deps := conversation.Deps{
		Store:    store,
		Locker:   pgStore,
		Resolver: resolver,
		Profiles: profiles,
		Narrower: narrower,
		LLM:      llm,
		Lanes:    lanes,
		Outbound: enqueuer,
		Notifier: notifier,

		Logger:          logger,
		PipelineMetrics: metrics.NewPipelineMetrics(nil),
		LLMMetrics:      metrics.NewLLMMetrics(nil),
	}
	if mem != nil {
		deps.Summaries = mem.Recall
		deps.Memory = mem.Writer
		mem.Writer.Start(ctx)
	}

	pipeline := conversation.NewPipeline(deps, conversation.Config{
		LLMModel:        cfg.BedrockModelID,
		FallbackModel:   cfg.GeminiModel,
		LLMTimeout:      cfg.LLMTimeout,
		FastPathEnabled: cfg.FastPathEnabled,
		LogFailFast:     cfg.ConversationLogFailFast,
	})

	// Ingress queue and job records.
	var worker *conversation.Worker
	jobStore := bootstrap.BuildJobStore(awsCfg, cfg, logger)
	workerOpts := []conversation.WorkerOption{
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithProcessedStore(events.NewProcessedStore(pool, "whatsapp")),
	}
	if jobStore != nil {
		workerOpts = append(workerOpts, conversation.WithJobUpdater(jobStore))
	}
	if cfg.UseMemoryQueue {
		worker = conversation.NewWorker(pipeline, conversation.NewMemoryQueue(0), logger, workerOpts...)
	} else {
		sqsQueue := conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ConversationQueueURL)
		worker = conversation.NewWorker(pipeline, sqsQueue, logger, workerOpts...)
	}
	worker.Start(ctx)

	// Background sweeps.
	sweepMetrics := metrics.NewSweepMetrics(nil)
	scheduler := followup.NewScheduler(pool, profiles, enqueuer, logger,
		followup.WithInterval(cfg.FollowupInterval),
		followup.WithSchedulerMetrics(sweepMetrics),
	)
	scheduler.Start(ctx)

	var sweeper *archive.Sweeper
	if cfg.ArchiveBucket != "" {
		archiveStore := archive.NewStore(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)
		sweeper = archive.NewSweeper(pool, archiveStore, archive.NewSummarizer(llm, logger), logger,
			archive.WithSweepInterval(cfg.ArchiveSweepInterval),
			archive.WithIdleAfter(cfg.ArchiveIdleAfter),
			archive.WithSweepMetrics(sweepMetrics),
		)
		sweeper.Start(ctx)
	} else {
		logger.Warn("ARCHIVE_BUCKET not set; idle sessions are never archived")
	}

	// Ops surface for probes and scraping.
	var recorder *handlers.StatusHandler
	if mem != nil {
		recorder = handlers.NewStatusHandler(nil, mem.Recorder)
	}
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(&router.Config{
			Logger: logger,
			Health: handlers.NewHealthHandler(logger,
				handlers.Check{Name: "postgres", Ping: pool.Ping},
				handlers.Check{Name: "redis", Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
			),
			Status:         recorder,
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

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() { defer wg.Done(); worker.Wait() }()
		wg.Add(1)
		go func() { defer wg.Done(); scheduler.Wait() }()
		if sweeper != nil {
			wg.Add(1)
			go func() { defer wg.Done(); sweeper.Wait() }()
		}
		if mem != nil {
			wg.Add(1)
			go func() { defer wg.Done(); mem.Writer.Wait() }()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("conversation worker stopped")
	case <-shutdownCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", shutdownCtx.Err())
	}
}
