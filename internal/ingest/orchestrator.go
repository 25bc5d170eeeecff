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

// Package ingest coordinates the mail ingestion pipeline. A sync run fans
// out over the configured mailboxes with a bounded worker pool; each
// message is fetched, parsed, policy-filtered, deduplicated and stripped
// of attachments before the finished record is handed to the ticket sink.
// Failures are isolated per mailbox and per message so one broken account
// never stalls the rest of the run.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"

	"github.com/bcem/mailingest/internal/attachment"
	"github.com/bcem/mailingest/internal/config"
	"github.com/bcem/mailingest/internal/dedup"
	"github.com/bcem/mailingest/internal/mailclient"
	"github.com/bcem/mailingest/internal/mailparse"
	"github.com/bcem/mailingest/internal/models"
	"github.com/bcem/mailingest/internal/synclog"
)

// MailClient is the slice of the IMAP client the pipeline drives.
// Satisfied by *mailclient.Client; tests substitute fakes.
type MailClient interface {
	SelectFolder(folder string) (*imap.SelectData, error)
	Search(opts mailclient.SearchOptions) ([]imap.UID, error)
	FetchBatch(ctx context.Context, uids []imap.UID) (*mailclient.FetchResult, error)
	MarkSeen(uids []imap.UID) error
	ListFolders() ([]string, error)
	Stats(folder string) (mailclient.FolderStats, error)
	Disconnect()
}

// Connector dials one configured mailbox. The default connects over IMAP;
// tests inject fakes here.
type Connector func(ctx context.Context, mb config.Mailbox) (MailClient, error)

func dialMailbox(ctx context.Context, mb config.Mailbox) (MailClient, error) {
	return mailclient.Connect(ctx, mb)
}

// TicketSink receives finished ticket records. Implemented by queue.Publisher.
type TicketSink interface {
	PublishTicket(ctx context.Context, record *models.TicketRecord) error
}

// Orchestrator owns the sync lifecycle across all configured mailboxes.
type Orchestrator struct {
	cfg       *config.Config
	cache     *dedup.Cache
	processor *attachment.Processor
	sink      TicketSink
	recorder  synclog.Recorder
	connect   Connector

	health *healthTracker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OrchestratorConfig holds the pipeline dependencies.
type OrchestratorConfig struct {
	Config    *config.Config
	Cache     *dedup.Cache
	Processor *attachment.Processor
	Sink      TicketSink
	Recorder  synclog.Recorder
	Connector Connector
}

// NewOrchestrator creates the pipeline orchestrator. Recorder and
// Connector are optional; they default to the no-op recorder and the
// real IMAP dialer.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = synclog.Nop{}
	}
	connect := cfg.Connector
	if connect == nil {
		connect = dialMailbox
	}
	return &Orchestrator{
		cfg:       cfg.Config,
		cache:     cfg.Cache,
		processor: cfg.Processor,
		sink:      cfg.Sink,
		recorder:  recorder,
		connect:   connect,
		health:    newHealthTracker(cfg.Config.Mailboxes),
	}
}

// SyncAll runs one sync pass over every configured mailbox and returns
// the aggregated report. Mailboxes are processed by a pool of
// cfg.Workers goroutines; the session email cap spans the whole run.
func (o *Orchestrator) SyncAll(ctx context.Context) *models.SyncReport {
	start := time.Now()
	report := &models.SyncReport{
		RunID:     uuid.New().String(),
		StartedAt: start.UTC(),
	}

	slog.Info("sync run starting",
		"run_id", report.RunID,
		"mailboxes", len(o.cfg.Mailboxes),
		"workers", o.cfg.Workers,
	)

	budget := newSessionBudget(o.cfg.MaxEmailsPerSession)

	jobs := make(chan config.Mailbox, len(o.cfg.Mailboxes))
	for _, mb := range o.cfg.Mailboxes {
		jobs <- mb
	}
	close(jobs)

	workers := o.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for mb := range jobs {
				res := o.syncMailbox(ctx, mb, budget)
				mu.Lock()
				report.Mailboxes = append(report.Mailboxes, res)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(report.Mailboxes, func(i, j int) bool {
		return report.Mailboxes[i].Mailbox < report.Mailboxes[j].Mailbox
	})
	for _, res := range report.Mailboxes {
		report.TotalProcessed += res.Processed
		report.TotalNew += res.New
		report.TotalDuplicates += res.Duplicates
		report.TotalErrored += res.Errored
	}
	report.CapReached = budget.exhausted()
	report.Elapsed = time.Since(start)

	slog.Info("sync run complete",
		"run_id", report.RunID,
		"processed", report.TotalProcessed,
		"new", report.TotalNew,
		"duplicates", report.TotalDuplicates,
		"errored", report.TotalErrored,
		"cap_reached", report.CapReached,
		"elapsed", report.Elapsed,
	)

	if err := o.recorder.RecordRun(ctx, report); err != nil {
		slog.Error("failed to record sync run", "run_id", report.RunID, "error", err)
	}
	o.health.absorb(report)

	return report
}

// SyncOne runs a sync pass for a single mailbox by name, with a fresh
// session budget. Used by the CLI.
func (o *Orchestrator) SyncOne(ctx context.Context, name string) (*models.MailboxResult, error) {
	mb, err := o.mailboxByName(name)
	if err != nil {
		return nil, err
	}
	budget := newSessionBudget(o.cfg.MaxEmailsPerSession)
	res := o.syncMailbox(ctx, mb, budget)
	return &res, nil
}

// syncMailbox connects to one mailbox and processes each enabled folder.
// All failures are collected into the result; none propagate.
func (o *Orchestrator) syncMailbox(ctx context.Context, mb config.Mailbox, budget *sessionBudget) models.MailboxResult {
	start := time.Now()
	res := models.MailboxResult{
		Mailbox: mb.Name,
		Folders: make(map[string]models.FolderCount),
	}

	client, err := o.connect(ctx, mb)
	if err != nil {
		slog.Error("mailbox connect failed", "mailbox", mb.Name, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("connect: %v", err))
		res.Elapsed = time.Since(start)
		o.recordState(ctx, o.health.markFailed(mb, err))
		return res
	}
	defer client.Disconnect()

	for _, folder := range mb.EnabledFolders() {
		if ctx.Err() != nil {
			break
		}
		if budget.exhausted() {
			slog.Warn("session email cap reached, skipping remaining folders",
				"mailbox", mb.Name,
				"folder", folder,
			)
			break
		}

		fc, errs := o.syncFolder(ctx, client, mb, folder, mb.Folders[folder], budget)
		res.Folders[folder] = fc
		res.Processed += fc.Processed
		res.New += fc.New
		res.Duplicates += fc.Duplicates
		res.Errored += fc.Errored
		res.Errors = append(res.Errors, errs...)
	}

	res.Elapsed = time.Since(start)
	o.recordState(ctx, o.health.markSynced(mb))

	slog.Info("mailbox sync complete",
		"mailbox", mb.Name,
		"processed", res.Processed,
		"new", res.New,
		"duplicates", res.Duplicates,
		"errored", res.Errored,
		"elapsed", res.Elapsed,
	)
	return res
}

// syncFolder searches one folder, fetches the matching messages and runs
// each through the pipeline. Messages that were handled (published or
// deliberately skipped) are marked seen; failed ones stay unseen so the
// next run retries them.
func (o *Orchestrator) syncFolder(ctx context.Context, client MailClient, mb config.Mailbox, folder string, policy config.FolderPolicy, budget *sessionBudget) (models.FolderCount, []string) {
	var fc models.FolderCount
	var errs []string

	if _, err := client.SelectFolder(folder); err != nil {
		slog.Error("folder select failed", "mailbox", mb.Name, "folder", folder, "error", err)
		return fc, append(errs, fmt.Sprintf("%s: select: %v", folder, err))
	}

	uids, err := client.Search(mailclient.SearchOptions{
		UnseenOnly: !policy.ProcessAll,
		Since:      time.Now().UTC().AddDate(0, 0, -mb.LookbackDays),
	})
	if err != nil {
		slog.Error("folder search failed", "mailbox", mb.Name, "folder", folder, "error", err)
		return fc, append(errs, fmt.Sprintf("%s: search: %v", folder, err))
	}
	if len(uids) == 0 {
		slog.Debug("no matching messages", "mailbox", mb.Name, "folder", folder)
		return fc, nil
	}

	granted := budget.take(len(uids))
	if granted < len(uids) {
		slog.Warn("session email cap clamps folder batch",
			"mailbox", mb.Name,
			"folder", folder,
			"matched", len(uids),
			"granted", granted,
		)
	}
	if granted == 0 {
		return fc, nil
	}
	uids = uids[:granted]

	fetched, err := client.FetchBatch(ctx, uids)
	if err != nil {
		// Partial results are still worth processing.
		errs = append(errs, fmt.Sprintf("%s: fetch: %v", folder, err))
	}
	if fetched == nil {
		return fc, errs
	}
	fc.Errored += len(fetched.Failed)

	var seen []imap.UID
	for _, msg := range fetched.Messages {
		if ctx.Err() != nil {
			break
		}
		switch o.processMessage(ctx, mb, folder, policy, msg) {
		case outcomeNew:
			fc.New++
			seen = append(seen, msg.UID)
		case outcomeDuplicate:
			fc.Duplicates++
			seen = append(seen, msg.UID)
		case outcomeSkipped:
			seen = append(seen, msg.UID)
		case outcomeErrored:
			fc.Errored++
		}
		fc.Processed++
	}

	if err := client.MarkSeen(seen); err != nil {
		slog.Warn("failed to mark messages seen", "mailbox", mb.Name, "folder", folder, "error", err)
		errs = append(errs, fmt.Sprintf("%s: mark seen: %v", folder, err))
	}

	return fc, errs
}

type outcome int

const (
	outcomeNew outcome = iota
	outcomeDuplicate
	outcomeSkipped
	outcomeErrored
)

// processMessage runs one fetched message through parse, policy,
// dedup and attachment handling, then publishes the ticket record.
func (o *Orchestrator) processMessage(ctx context.Context, mb config.Mailbox, folder string, policy config.FolderPolicy, msg mailclient.RawMessage) outcome {
	email, parts, err := mailparse.Parse(uint32(msg.UID), msg.Raw, time.Now().UTC())
	if err != nil {
		slog.Warn("message parse failed",
			"mailbox", mb.Name,
			"folder", folder,
			"uid", msg.UID,
			"error", err,
		)
		return outcomeErrored
	}
	email.Mailbox = mb.Name
	email.Folder = folder

	if skipByPolicy(email.Type, policy) {
		slog.Debug("message skipped by folder policy",
			"mailbox", mb.Name,
			"folder", folder,
			"uid", msg.UID,
			"type", email.Type,
		)
		return outcomeSkipped
	}

	decision := o.cache.CheckAndInsert(email)
	if decision.Duplicate {
		slog.Debug("duplicate email",
			"mailbox", mb.Name,
			"folder", folder,
			"uid", msg.UID,
			"match", decision.Match,
			"of", decision.Of.Key,
		)
		return outcomeDuplicate
	}

	email.Attachments = o.processor.ProcessAll(ctx, parts)

	record := &models.TicketRecord{
		NormalizedEmail: *email,
		IngestedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := o.sink.PublishTicket(ctx, record); err != nil {
		// Withdraw the dedup entry so the next pass retries this message
		// instead of declaring it a duplicate of a ticket that never
		// reached the queue.
		o.cache.Remove(email)
		slog.Error("ticket publish failed",
			"mailbox", mb.Name,
			"folder", folder,
			"uid", msg.UID,
			"error", err,
		)
		return outcomeErrored
	}
	return outcomeNew
}

// skipByPolicy reports whether a classified message should be dropped
// under the folder's policy. Auto-replies, system mail and newsletters
// are skipped unless the folder opts in to processing them.
func skipByPolicy(t models.MessageType, policy config.FolderPolicy) bool {
	if policy.ProcessAutoReplies {
		return false
	}
	switch t {
	case models.TypeAutoReply, models.TypeSystem, models.TypeNewsletter:
		return true
	}
	return false
}

// Start launches the periodic sync loop. The first pass runs immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		o.SyncAll(loopCtx)

		ticker := time.NewTicker(o.cfg.SyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				slog.Info("sync loop stopping")
				return
			case <-ticker.C:
				o.SyncAll(loopCtx)
			}
		}
	}()

	slog.Info("periodic sync started", "interval", o.cfg.SyncInterval)
}

// Stop shuts down the periodic sync loop and waits for it to finish.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) mailboxByName(name string) (config.Mailbox, error) {
	for _, mb := range o.cfg.Mailboxes {
		if mb.Name == name {
			return mb, nil
		}
	}
	return config.Mailbox{}, fmt.Errorf("no mailbox named %q configured", name)
}

// recordState persists a mailbox state change, logging instead of
// failing when the sync log is unavailable.
func (o *Orchestrator) recordState(ctx context.Context, state models.MailboxHealth) {
	if err := o.recorder.UpdateMailboxState(ctx, state); err != nil {
		slog.Error("failed to record mailbox state", "mailbox", state.Mailbox, "error", err)
	}
}

// sessionBudget enforces the cap on emails handled in one sync run.
// Folder batches reserve slots atomically so concurrent workers never
// overshoot the cap between them.
type sessionBudget struct {
	enabled   bool
	remaining atomic.Int64
}

func newSessionBudget(limit int) *sessionBudget {
	b := &sessionBudget{}
	if limit > 0 {
		b.enabled = true
		b.remaining.Store(int64(limit))
	}
	return b
}

// take reserves up to n slots and returns how many were granted.
func (b *sessionBudget) take(n int) int {
	if !b.enabled {
		return n
	}
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return 0
		}
		grant := int64(n)
		if grant > cur {
			grant = cur
		}
		if b.remaining.CompareAndSwap(cur, cur-grant) {
			return int(grant)
		}
	}
}

func (b *sessionBudget) exhausted() bool {
	return b.enabled && b.remaining.Load() <= 0
}
