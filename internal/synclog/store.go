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

// Package synclog provides a Postgres-backed history of sync runs and
// per-mailbox connection state. The history feeds the operational status
// surface and the mailsync CLI; when no database is configured the
// pipeline runs with the no-op recorder instead.
package synclog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/mailingest/internal/models"
)

// Recorder persists run outcomes and mailbox state. The orchestrator only
// depends on this interface so the database stays optional.
type Recorder interface {
	RecordRun(ctx context.Context, report *models.SyncReport) error
	UpdateMailboxState(ctx context.Context, state models.MailboxHealth) error
}

// Nop discards everything it is given. Used when DatabaseURL is empty.
type Nop struct{}

func (Nop) RecordRun(context.Context, *models.SyncReport) error          { return nil }
func (Nop) UpdateMailboxState(context.Context, models.MailboxHealth) error { return nil }

// RunRecord is a single completed sync run persisted in Postgres.
type RunRecord struct {
	ID         int64
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Mailboxes  int
	Processed  int
	New        int
	Duplicates int
	Errored    int
	CapReached bool
}

// Store provides persistence for sync runs and mailbox state in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a sync log store backed by the given Postgres pool.
// It ensures the sync_runs and mailbox_state tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure sync log schema: %w", err)
	}
	slog.Info("sync log store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_runs (
			id           BIGSERIAL PRIMARY KEY,
			run_id       TEXT NOT NULL UNIQUE,
			started_at   TIMESTAMPTZ NOT NULL,
			finished_at  TIMESTAMPTZ NOT NULL,
			mailboxes    INT NOT NULL DEFAULT 0,
			processed    INT NOT NULL DEFAULT 0,
			new_emails   INT NOT NULL DEFAULT 0,
			duplicates   INT NOT NULL DEFAULT 0,
			errored      INT NOT NULL DEFAULT 0,
			cap_reached  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);

		CREATE TABLE IF NOT EXISTS mailbox_state (
			id           BIGSERIAL PRIMARY KEY,
			mailbox      TEXT NOT NULL UNIQUE,
			provider     TEXT NOT NULL DEFAULT '',
			connected    BOOLEAN NOT NULL DEFAULT FALSE,
			last_sync_at TIMESTAMPTZ,
			last_error   TEXT NOT NULL DEFAULT '',
			updated_at   TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// RecordRun inserts one completed run. FinishedAt is derived from the
// report's start time and elapsed duration.
func (s *Store) RecordRun(ctx context.Context, report *models.SyncReport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_runs
			(run_id, started_at, finished_at, mailboxes, processed, new_emails, duplicates, errored, cap_reached)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO NOTHING
	`, report.RunID, report.StartedAt, report.StartedAt.Add(report.Elapsed),
		len(report.Mailboxes), report.TotalProcessed, report.TotalNew,
		report.TotalDuplicates, report.TotalErrored, report.CapReached)
	return err
}

// UpdateMailboxState inserts or updates the state row for a mailbox.
func (s *Store) UpdateMailboxState(ctx context.Context, state models.MailboxHealth) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mailbox_state
			(mailbox, provider, connected, last_sync_at, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (mailbox) DO UPDATE SET
			provider     = EXCLUDED.provider,
			connected    = EXCLUDED.connected,
			last_sync_at = COALESCE(EXCLUDED.last_sync_at, mailbox_state.last_sync_at),
			last_error   = EXCLUDED.last_error,
			updated_at   = NOW()
	`, state.Mailbox, state.Provider, state.Connected, state.LastSyncAt, state.LastError)
	return err
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, started_at, finished_at, mailboxes,
		       processed, new_emails, duplicates, errored, cap_reached
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// MailboxStates returns the persisted state of every known mailbox.
func (s *Store) MailboxStates(ctx context.Context) ([]models.MailboxHealth, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT mailbox, provider, connected, last_sync_at, last_error
		FROM mailbox_state
		ORDER BY mailbox
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []models.MailboxHealth
	for rows.Next() {
		var st models.MailboxHealth
		if err := rows.Scan(&st.Mailbox, &st.Provider, &st.Connected, &st.LastSyncAt, &st.LastError); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// Prune deletes run records older than the retention window and returns
// how many were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sync_runs WHERE started_at < NOW() - $1::interval
	`, fmt.Sprintf("%d seconds", int(retention.Seconds())))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// collectRuns scans multiple rows into a slice of RunRecords.
func collectRuns(rows pgx.Rows) ([]RunRecord, error) {
	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.StartedAt, &r.FinishedAt, &r.Mailboxes,
			&r.Processed, &r.New, &r.Duplicates, &r.Errored, &r.CapReached,
		); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
