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

package models

import "time"

// FolderCount tracks processing counts for one folder within a mailbox.
type FolderCount struct {
	Processed  int `json:"processed"`
	New        int `json:"new"`
	Duplicates int `json:"duplicates"`
	Errored    int `json:"errored"`
}

// MailboxResult tracks a single mailbox's outcome within a sync run.
// Errors are collected, never thrown past the orchestration boundary.
type MailboxResult struct {
	Mailbox    string                 `json:"mailbox"`
	Processed  int                    `json:"processed"`
	New        int                    `json:"new"`
	Duplicates int                    `json:"duplicates"`
	Errored    int                    `json:"errored"`
	Folders    map[string]FolderCount `json:"folders,omitempty"`
	Errors     []string               `json:"errors,omitempty"`
	Elapsed    time.Duration          `json:"elapsed"`
}

// SyncReport summarises a completed sync run across all mailboxes.
type SyncReport struct {
	RunID           string          `json:"run_id"`
	StartedAt       time.Time       `json:"started_at"`
	Mailboxes       []MailboxResult `json:"mailboxes"`
	TotalProcessed  int             `json:"total_processed"`
	TotalNew        int             `json:"total_new"`
	TotalDuplicates int             `json:"total_duplicates"`
	TotalErrored    int             `json:"total_errored"`
	CapReached      bool            `json:"cap_reached,omitempty"`
	Elapsed         time.Duration   `json:"elapsed"`
}

// CacheStats reports dedup cache occupancy and effectiveness.
type CacheStats struct {
	Entries  int     `json:"entries"`
	Capacity int     `json:"capacity"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

// MailboxHealth reports the last known connection state of one mailbox.
type MailboxHealth struct {
	Mailbox    string     `json:"mailbox"`
	Provider   string     `json:"provider"`
	Connected  bool       `json:"connected"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// ServiceStats is the operational statistics surface served over HTTP
// and logged after each run.
type ServiceStats struct {
	TotalProcessed  int             `json:"total_processed"`
	TotalNew        int             `json:"total_new"`
	TotalDuplicates int             `json:"total_duplicates"`
	TotalErrored    int             `json:"total_errored"`
	LastSyncAt      *time.Time      `json:"last_sync_at,omitempty"`
	LastRunID       string          `json:"last_run_id,omitempty"`
	Cache           CacheStats      `json:"cache"`
	Mailboxes       []MailboxHealth `json:"mailboxes"`
}
