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

// Mailbox Sync and Inspection Command
//
// Standalone CLI tool for operating on individual configured mailboxes:
// one-shot syncs, read-only message searches, folder statistics, folder
// validation and sync run history.
//
// Usage:
//
//	go run ./cmd/mailsync/ --mailbox <name>                     (sync once)
//	go run ./cmd/mailsync/ --mailbox <name> --search --sender billing@example.com
//	go run ./cmd/mailsync/ --mailbox <name> --stats
//	go run ./cmd/mailsync/ --mailbox <name> --validate
//	go run ./cmd/mailsync/ --history 20
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailingest/internal/attachment"
	"github.com/bcem/mailingest/internal/config"
	"github.com/bcem/mailingest/internal/dedup"
	"github.com/bcem/mailingest/internal/ingest"
	"github.com/bcem/mailingest/internal/mailclient"
	"github.com/bcem/mailingest/internal/queue"
	"github.com/bcem/mailingest/internal/synclog"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	mailboxFlag := flag.String("mailbox", "", "Mailbox name from configuration (required unless --history is set)")
	folderFlag := flag.String("folder", "INBOX", "Folder to search with --search")
	searchFlag := flag.Bool("search", false, "List matching messages without publishing or marking them seen")
	senderFlag := flag.String("sender", "", "Restrict --search to messages from this address")
	subjectFlag := flag.String("subject", "", "Restrict --search to subjects containing this text")
	sinceFlag := flag.String("since", "720h", "Lookback duration for --search (e.g. 72h for 3 days)")
	statsFlag := flag.Bool("stats", false, "Print message counts for each enabled folder and exit")
	validateFlag := flag.Bool("validate", false, "Check that configured folders exist on the server and exit")
	historyFlag := flag.Int("history", 0, "Print the last N sync runs recorded in the database and exit")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *historyFlag > 0 {
		printHistory(ctx, cfg, *historyFlag)
		return
	}

	if *mailboxFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --mailbox is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	switch {
	case *validateFlag:
		validateMailbox(ctx, cfg, *mailboxFlag)
	case *statsFlag:
		printStats(ctx, cfg, *mailboxFlag)
	case *searchFlag:
		searchMessages(ctx, cfg, *mailboxFlag, *folderFlag, *senderFlag, *subjectFlag, *sinceFlag)
	default:
		runSync(ctx, cfg, *mailboxFlag)
	}
}

// buildOrchestrator wires the pipeline for CLI use. The sink may be nil
// for the read-only inspection modes, which never publish.
func buildOrchestrator(cfg *config.Config, sink ingest.TicketSink) (*ingest.Orchestrator, *dedup.Cache) {
	cache := dedup.NewCache(dedup.CacheConfig{
		Capacity:       cfg.Dedup.Capacity,
		TTL:            cfg.Dedup.TTL,
		FuzzyThreshold: cfg.Dedup.FuzzyThreshold,
		FuzzyWindow:    cfg.Dedup.FuzzyWindow,
		SweepInterval:  cfg.Dedup.SweepInterval,
		SnapshotPath:   cfg.Dedup.SnapshotPath,
	})
	processor := attachment.NewProcessor(attachment.ProcessorConfig{
		Save: false,
	})
	orch := ingest.NewOrchestrator(ingest.OrchestratorConfig{
		Config:    cfg,
		Cache:     cache,
		Processor: processor,
		Sink:      sink,
	})
	return orch, cache
}

// runSync performs a one-shot sync of a single mailbox, publishing new
// tickets exactly as the daemon does. The dedup snapshot is loaded first
// so messages the daemon has already ingested are not re-published.
func runSync(ctx context.Context, cfg *config.Config, name string) {
	slog.Info("starting one-shot sync", "mailbox", name)

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.TicketsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis", "queue", cfg.TicketsQueue)

	orch, cache := buildOrchestrator(cfg, publisher)
	if err := cache.LoadSnapshot(); err != nil {
		slog.Warn("failed to load dedup snapshot", "error", err)
	}

	res, err := orch.SyncOne(ctx, name)
	if err != nil {
		slog.Error("sync failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("sync complete",
		"mailbox", res.Mailbox,
		"processed", res.Processed,
		"new", res.New,
		"duplicates", res.Duplicates,
		"errored", res.Errored,
		"elapsed", res.Elapsed,
	)
	for folder, fc := range res.Folders {
		slog.Info("folder result",
			"folder", folder,
			"processed", fc.Processed,
			"new", fc.New,
			"duplicates", fc.Duplicates,
			"errored", fc.Errored,
		)
	}
	for _, e := range res.Errors {
		slog.Warn("sync error", "error", e)
	}

	if cfg.Dedup.SnapshotPath != "" {
		if err := cache.SaveSnapshot(); err != nil {
			slog.Error("failed to save dedup snapshot", "error", err)
		}
	}
}

// validateMailbox checks the configured folders against the live server
// and exits non-zero if any are missing.
func validateMailbox(ctx context.Context, cfg *config.Config, name string) {
	var mb *config.Mailbox
	for i := range cfg.Mailboxes {
		if cfg.Mailboxes[i].Name == name {
			mb = &cfg.Mailboxes[i]
			break
		}
	}
	if mb == nil {
		slog.Error("mailbox not found in configuration", "name", name)
		os.Exit(1)
	}

	orch, _ := buildOrchestrator(cfg, nil)
	missing, err := orch.ValidateMailbox(ctx, *mb)
	if err != nil {
		slog.Error("validation failed", "mailbox", name, "error", err)
		os.Exit(1)
	}
	if len(missing) > 0 {
		slog.Error("configured folders missing from mailbox", "mailbox", name, "folders", missing)
		os.Exit(1)
	}
	slog.Info("mailbox validated", "mailbox", name, "folders", len(mb.EnabledFolders()))
}

// printStats reports per-folder message counts for a mailbox.
func printStats(ctx context.Context, cfg *config.Config, name string) {
	orch, _ := buildOrchestrator(cfg, nil)
	stats, err := orch.MailboxStats(ctx, name)
	if err != nil {
		slog.Error("failed to collect mailbox stats", "mailbox", name, "error", err)
		os.Exit(1)
	}
	for _, st := range stats {
		slog.Info("folder stats",
			"folder", st.Folder,
			"total", st.Total,
			"unseen", st.Unseen,
			"recent", st.Recent,
		)
	}
}

// searchMessages lists messages matching the filters without publishing
// anything, marking anything seen or touching the dedup cache.
func searchMessages(ctx context.Context, cfg *config.Config, name, folder, sender, subject, since string) {
	opts := mailclient.SearchOptions{
		Sender:  sender,
		Subject: subject,
	}
	if since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", since, err)
			os.Exit(1)
		}
		opts.Since = time.Now().UTC().Add(-d)
	}

	orch, _ := buildOrchestrator(cfg, nil)
	msgs, err := orch.FindMessages(ctx, name, folder, opts)
	if err != nil {
		slog.Error("search failed", "mailbox", name, "folder", folder, "error", err)
		os.Exit(1)
	}

	slog.Info("search complete", "mailbox", name, "folder", folder, "matches", len(msgs))
	for _, m := range msgs {
		slog.Info("message",
			"uid", m.UID,
			"from", m.From.Address,
			"subject", m.Subject,
			"type", m.Type,
			"urgency", m.Urgency,
			"arrived", m.ArrivedAt.Format(time.RFC3339),
		)
	}
}

// printHistory reports recent sync runs and per-mailbox state from the
// sync log. Requires DATABASE_URL to be configured.
func printHistory(ctx context.Context, cfg *config.Config, limit int) {
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL must be set for --history")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store, err := synclog.NewStore(ctx, pool)
	if err != nil {
		slog.Error("failed to open sync log store", "error", err)
		os.Exit(1)
	}

	runs, err := store.RecentRuns(ctx, limit)
	if err != nil {
		slog.Error("failed to load sync runs", "error", err)
		os.Exit(1)
	}
	for _, run := range runs {
		slog.Info("sync run",
			"run_id", run.RunID,
			"started", run.StartedAt.Format(time.RFC3339),
			"mailboxes", run.Mailboxes,
			"processed", run.Processed,
			"new", run.New,
			"duplicates", run.Duplicates,
			"errored", run.Errored,
			"cap_reached", run.CapReached,
		)
	}

	states, err := store.MailboxStates(ctx)
	if err != nil {
		slog.Error("failed to load mailbox states", "error", err)
		os.Exit(1)
	}
	for _, st := range states {
		lastSync := ""
		if st.LastSyncAt != nil {
			lastSync = st.LastSyncAt.Format(time.RFC3339)
		}
		slog.Info("mailbox state",
			"mailbox", st.Mailbox,
			"provider", st.Provider,
			"connected", st.Connected,
			"last_sync", lastSync,
			"last_error", st.LastError,
		)
	}
}
