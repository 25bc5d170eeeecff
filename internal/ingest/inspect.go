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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/mailingest/internal/config"
	"github.com/bcem/mailingest/internal/mailclient"
	"github.com/bcem/mailingest/internal/mailparse"
	"github.com/bcem/mailingest/internal/models"
)

// ValidateMailbox connects to one mailbox and verifies that every enabled
// folder exists, returning the names of those missing. Used at startup so
// a typo in the folder config surfaces before the first sync.
func (o *Orchestrator) ValidateMailbox(ctx context.Context, mb config.Mailbox) ([]string, error) {
	client, err := o.connect(ctx, mb)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect()

	folders, err := client.ListFolders()
	if err != nil {
		return nil, err
	}

	available := make(map[string]bool, len(folders))
	for _, f := range folders {
		available[f] = true
	}

	var missing []string
	for _, f := range mb.EnabledFolders() {
		if !available[f] {
			slog.Warn("configured folder missing from mailbox", "mailbox", mb.Name, "folder", f)
			missing = append(missing, f)
		}
	}
	return missing, nil
}

// ValidateAll checks folder configuration across every configured mailbox.
// Validation failures are logged, never fatal; an unreachable provider at
// startup should not keep the service from syncing the others.
func (o *Orchestrator) ValidateAll(ctx context.Context) {
	for _, mb := range o.cfg.Mailboxes {
		missing, err := o.ValidateMailbox(ctx, mb)
		if err != nil {
			slog.Error("mailbox validation failed", "mailbox", mb.Name, "error", err)
			continue
		}
		if len(missing) == 0 {
			slog.Info("mailbox validated", "mailbox", mb.Name, "folders", len(mb.EnabledFolders()))
		}
	}
}

// MailboxStats reports message counts for each enabled folder of one
// configured mailbox.
func (o *Orchestrator) MailboxStats(ctx context.Context, name string) ([]mailclient.FolderStats, error) {
	mb, err := o.mailboxByName(name)
	if err != nil {
		return nil, err
	}

	client, err := o.connect(ctx, mb)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect()

	var out []mailclient.FolderStats
	for _, folder := range mb.EnabledFolders() {
		st, err := client.Stats(folder)
		if err != nil {
			return nil, fmt.Errorf("stats for %s/%s: %w", name, folder, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// FindMessages searches one folder of a configured mailbox and returns
// the matching messages in normalized form. Nothing is published, marked
// seen or entered into the dedup cache; this is a read-only lookup.
func (o *Orchestrator) FindMessages(ctx context.Context, name, folder string, opts mailclient.SearchOptions) ([]models.NormalizedEmail, error) {
	mb, err := o.mailboxByName(name)
	if err != nil {
		return nil, err
	}

	client, err := o.connect(ctx, mb)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect()

	if _, err := client.SelectFolder(folder); err != nil {
		return nil, err
	}

	uids, err := client.Search(opts)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	fetched, err := client.FetchBatch(ctx, uids)
	if err != nil {
		return nil, err
	}

	emails := make([]models.NormalizedEmail, 0, len(fetched.Messages))
	for _, msg := range fetched.Messages {
		email, _, err := mailparse.Parse(uint32(msg.UID), msg.Raw, time.Now().UTC())
		if err != nil {
			slog.Warn("skipping malformed message in search results", "uid", msg.UID, "error", err)
			continue
		}
		email.Mailbox = mb.Name
		email.Folder = folder
		emails = append(emails, *email)
	}
	return emails, nil
}
