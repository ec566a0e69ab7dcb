package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wtthornton/HomeIQ-sub012/internal/api"
	"github.com/wtthornton/HomeIQ-sub012/internal/config"
	"github.com/wtthornton/HomeIQ-sub012/internal/filter"
	"github.com/wtthornton/HomeIQ-sub012/internal/hub"
	"github.com/wtthornton/HomeIQ-sub012/internal/ingest"
	"github.com/wtthornton/HomeIQ-sub012/internal/logger"
	"github.com/wtthornton/HomeIQ-sub012/internal/queue"
	"github.com/wtthornton/HomeIQ-sub012/internal/stats"
	"github.com/wtthornton/HomeIQ-sub012/internal/storage/clickhouse"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting ingestor service",
		zap.String("environment", cfg.Service.Environment))

	ctx := context.Background()

	// Initialize ClickHouse client
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	// Initialize repository
	repo := clickhouse.NewRepository(chClient, log)

	// Initialize schema (create tables if not exist)
	if err := repo.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Shared pipeline stats, mutated by every stage
	pipelineStats := stats.New()

	entityFilter, err := filter.New(cfg.Filter.IncludePatterns, cfg.Filter.ExcludePatterns)
	if err != nil {
		log.Fatal("Failed to build entity filter", zap.Error(err))
	}

	overflowPolicy, err := queue.ParsePolicy(cfg.Queue.OverflowPolicy)
	if err != nil {
		log.Fatal("Failed to parse queue overflow policy", zap.Error(err))
	}

	eventQueue := queue.New(
		cfg.Queue.MaxSize,
		overflowPolicy,
		time.Duration(cfg.Queue.PutTimeoutMS)*time.Millisecond,
		pipelineStats,
		log,
	)

	dialer := &hub.WebsocketDialer{
		HandshakeTimeout: time.Duration(cfg.Hub.HandshakeTimeoutSec) * time.Second,
	}

	supervisor := hub.NewSupervisor(dialer, hub.Config{
		URL:                cfg.Hub.URL,
		AccessToken:        cfg.Hub.AccessToken,
		BackoffBase:        time.Duration(cfg.Hub.BackoffBaseMS) * time.Millisecond,
		BackoffMax:         time.Duration(cfg.Hub.BackoffMaxSec) * time.Second,
		CircuitThreshold:   cfg.Hub.CircuitThreshold,
		CircuitCooldown:    time.Duration(cfg.Hub.CircuitCooldownSec) * time.Second,
		CircuitCooldownMax: time.Duration(cfg.Hub.CircuitCooldownMaxSec) * time.Second,
	}, entityFilter, eventQueue, pipelineStats, log)

	accumulator := ingest.NewAccumulator(eventQueue, ingest.AccumulatorConfig{
		MaxBatchSize: cfg.Batch.MaxSize,
		BatchTimeout: time.Duration(cfg.Batch.TimeoutSec) * time.Second,
	}, pipelineStats, log)

	writer := ingest.NewWriter(repo, ingest.WriterConfig{
		Measurement: cfg.Writer.Measurement,
		MaxRetries:  cfg.Writer.MaxRetries,
		BackoffBase: time.Duration(cfg.Writer.BackoffBaseMS) * time.Millisecond,
		Concurrency: int64(cfg.Writer.Concurrency),
	}, pipelineStats, log)

	pipeline := ingest.NewPipeline(supervisor, accumulator, writer, ingest.PipelineConfig{
		BatchBuffer:   cfg.Writer.Concurrency,
		ShutdownGrace: time.Duration(cfg.Writer.ShutdownGraceSec) * time.Second,
	}, log)

	// Start the status endpoint polled by the health/dashboard surface
	go func() {
		handler := api.NewHandler(pipelineStats, supervisor, repo, log)
		addr := ":" + cfg.Service.StatusPort
		log.Info("Status server starting", zap.String("address", addr))
		if err := http.ListenAndServe(addr, handler); err != nil {
			log.Error("Status server error", zap.Error(err))
		}
	}()

	pipelineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- pipeline.Run(pipelineCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("Shutting down ingestor gracefully")
		cancel()
		if err := <-done; err != nil {
			log.Error("Pipeline stopped with error", zap.Error(err))
		}
	case err := <-done:
		if err != nil {
			log.Fatal("Pipeline failed", zap.Error(err))
		}
		log.Info("Pipeline stopped")
	}
}
