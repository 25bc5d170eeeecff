// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Mail Ingestion Service
//
// Entry point for the mail ingestion daemon. It:
//  1. Loads mailbox configuration from config.yaml
//  2. Connects to Redis (ticket queue) and optionally PostgreSQL (sync log)
//  3. Prepares attachment storage and restores the dedup cache snapshot
//  4. Validates folder configuration against the live mailboxes
//  5. Serves the health and status endpoints
//  6. Runs the periodic sync loop across all configured mailboxes
//  7. Handles graceful shutdown on SIGTERM/SIGINT, saving the snapshot
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailingest/internal/attachment"
	"github.com/bcem/mailingest/internal/config"
	"github.com/bcem/mailingest/internal/dedup"
	"github.com/bcem/mailingest/internal/ingest"
	"github.com/bcem/mailingest/internal/queue"
	"github.com/bcem/mailingest/internal/statusapi"
	"github.com/bcem/mailingest/internal/storage"
	"github.com/bcem/mailingest/internal/synclog"
)

// runRetention bounds how much sync-run history is kept in Postgres.
const runRetention = 90 * 24 * time.Hour

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mail ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mailboxes", len(cfg.Mailboxes),
		"sync_interval", cfg.SyncInterval,
		"workers", cfg.Workers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.TicketsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis", "queue", cfg.TicketsQueue)

	// --- Sync Log (Postgres, optional) ---
	var recorder synclog.Recorder = synclog.Nop{}
	var pool *pgxpool.Pool
	var store *synclog.Store
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")

		store, err = synclog.NewStore(ctx, pool)
		if err != nil {
			slog.Error("failed to initialise sync log store", "error", err)
			os.Exit(1)
		}
		recorder = store
	} else {
		slog.Info("no database configured, sync run history disabled")
	}

	// --- Attachment Storage ---
	var sink storage.Sink
	if cfg.Attachments.Save {
		switch cfg.Attachments.Storage {
		case "s3":
			sink, err = storage.NewS3Sink(storage.S3SinkConfig{
				Bucket:    cfg.Attachments.S3.Bucket,
				Region:    cfg.Attachments.S3.Region,
				Endpoint:  cfg.Attachments.S3.Endpoint,
				AccessKey: cfg.Attachments.S3.AccessKey,
				SecretKey: cfg.Attachments.S3.SecretKey,
			})
		default:
			sink, err = storage.NewFileSink(cfg.Attachments.BasePath)
		}
		if err != nil {
			slog.Error("failed to initialise attachment storage", "error", err)
			os.Exit(1)
		}
		slog.Info("attachment storage ready", "sink", sink.Name())
	}

	processor := attachment.NewProcessor(attachment.ProcessorConfig{
		Sink:             sink,
		Save:             cfg.Attachments.Save,
		MaxFileBytes:     cfg.Attachments.MaxFileBytes,
		MaxTotalBytes:    cfg.Attachments.MaxTotalBytes,
		AllowExecutables: cfg.Attachments.AllowExecutables,
	})

	// --- Dedup Cache ---
	cache := dedup.NewCache(dedup.CacheConfig{
		Capacity:       cfg.Dedup.Capacity,
		TTL:            cfg.Dedup.TTL,
		FuzzyThreshold: cfg.Dedup.FuzzyThreshold,
		FuzzyWindow:    cfg.Dedup.FuzzyWindow,
		SweepInterval:  cfg.Dedup.SweepInterval,
		SnapshotPath:   cfg.Dedup.SnapshotPath,
	})
	if err := cache.LoadSnapshot(); err != nil {
		slog.Warn("failed to load dedup snapshot", "error", err)
	}
	cache.StartSweeper(ctx)

	// --- Orchestrator ---
	orch := ingest.NewOrchestrator(ingest.OrchestratorConfig{
		Config:    cfg,
		Cache:     cache,
		Processor: processor,
		Sink:      publisher,
		Recorder:  recorder,
	})

	// Surface folder misconfiguration before the first sync.
	orch.ValidateAll(ctx)

	// --- Status Server ---
	checks := []statusapi.Check{{Name: "redis", Ping: publisher.Ping}}
	if pool != nil {
		checks = append(checks, statusapi.Check{Name: "postgres", Ping: pool.Ping})
	}
	handler := statusapi.NewHandler(orch, checks...)
	ready, err := statusapi.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start status server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Periodic Sync Loop ---
	orch.Start(ctx)

	// --- Sync Log Retention ---
	if store != nil {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := store.Prune(ctx, runRetention); err != nil {
						slog.Error("failed to prune sync log", "error", err)
					} else if n > 0 {
						slog.Info("pruned old sync runs", "removed", n)
					}
				}
			}
		}()
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig.String())
	cancel() // Stop the status server and all background loops

	orch.Stop()
	cache.Stop()

	if cfg.Dedup.SnapshotPath != "" {
		if err := cache.SaveSnapshot(); err != nil {
			slog.Error("failed to save dedup snapshot", "error", err)
		} else {
			slog.Info("dedup snapshot saved", "path", cfg.Dedup.SnapshotPath)
		}
	}

	rdb.Close()

	slog.Info("mail ingestion service stopped")
}
