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

package ingest

import (
	"sort"
	"sync"
	"time"

	"github.com/bcem/mailingest/internal/config"
	"github.com/bcem/mailingest/internal/models"
)

// healthTracker accumulates lifetime counters and per-mailbox connection
// state across sync runs. Safe for concurrent use by the worker pool.
type healthTracker struct {
	mu        sync.Mutex
	mailboxes map[string]*models.MailboxHealth

	totalProcessed  int
	totalNew        int
	totalDuplicates int
	totalErrored    int
	lastRunID       string
	lastSyncAt      *time.Time
}

func newHealthTracker(mailboxes []config.Mailbox) *healthTracker {
	t := &healthTracker{mailboxes: make(map[string]*models.MailboxHealth, len(mailboxes))}
	for _, mb := range mailboxes {
		t.mailboxes[mb.Name] = &models.MailboxHealth{
			Mailbox:  mb.Name,
			Provider: mb.Provider,
		}
	}
	return t
}

// markFailed records a connection failure and returns a copy of the
// updated state for persistence.
func (t *healthTracker) markFailed(mb config.Mailbox, err error) models.MailboxHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(mb)
	h.Connected = false
	h.LastError = err.Error()
	return *h
}

// markSynced records a completed sync over an established connection.
func (t *healthTracker) markSynced(mb config.Mailbox) models.MailboxHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	h := t.get(mb)
	h.Connected = true
	h.LastError = ""
	h.LastSyncAt = &now
	return *h
}

// get returns the tracked state for a mailbox, creating it on first use
// so SyncOne works for mailboxes added after startup.
func (t *healthTracker) get(mb config.Mailbox) *models.MailboxHealth {
	h, ok := t.mailboxes[mb.Name]
	if !ok {
		h = &models.MailboxHealth{Mailbox: mb.Name, Provider: mb.Provider}
		t.mailboxes[mb.Name] = h
	}
	return h
}

// absorb folds a finished run into the lifetime counters.
func (t *healthTracker) absorb(report *models.SyncReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalProcessed += report.TotalProcessed
	t.totalNew += report.TotalNew
	t.totalDuplicates += report.TotalDuplicates
	t.totalErrored += report.TotalErrored
	t.lastRunID = report.RunID
	finished := report.StartedAt.Add(report.Elapsed)
	t.lastSyncAt = &finished
}

// snapshot returns the counters plus the mailbox states sorted by name.
func (t *healthTracker) snapshot() (models.ServiceStats, []models.MailboxHealth) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := models.ServiceStats{
		TotalProcessed:  t.totalProcessed,
		TotalNew:        t.totalNew,
		TotalDuplicates: t.totalDuplicates,
		TotalErrored:    t.totalErrored,
		LastSyncAt:      t.lastSyncAt,
		LastRunID:       t.lastRunID,
	}

	states := make([]models.MailboxHealth, 0, len(t.mailboxes))
	for _, h := range t.mailboxes {
		states = append(states, *h)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Mailbox < states[j].Mailbox })
	return stats, states
}

// Stats reports the service's lifetime counters, dedup cache statistics
// and per-mailbox health. Served over HTTP by the status server.
func (o *Orchestrator) Stats() models.ServiceStats {
	stats, states := o.health.snapshot()
	stats.Cache = o.cache.Stats()
	stats.Mailboxes = states
	return stats
}
