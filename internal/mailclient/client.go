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

// Package mailclient speaks IMAP to the configured providers. It wraps
// go-imap v2 behind a small surface: connect, list and select folders,
// search, batch fetch with retry, flag updates. Connection profiles for
// the named providers live here; everything provider-specific stays out
// of the rest of the pipeline.
package mailclient

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/bcem/mailingest/internal/config"
)

const (
	defaultChunkSize   = 50
	fetchRetryAttempts = 3
	fetchRetryBase     = 500 * time.Millisecond
)

// Client is one authenticated IMAP session for a configured mailbox.
// Not safe for concurrent use; each mailbox worker owns its client.
type Client struct {
	mailbox config.Mailbox
	profile Profile
	imap    *imapclient.Client
}

// Connect dials the mailbox's provider, performs the TLS handshake and
// authenticates. The caller must Disconnect when done.
func Connect(ctx context.Context, mb config.Mailbox) (*Client, error) {
	profile, err := ProfileFor(mb)
	if err != nil {
		return nil, err
	}
	addr := profile.Addr()

	var imapConn *imapclient.Client
	if profile.TLS {
		imapConn, err = imapclient.DialTLS(addr, nil)
	} else {
		imapConn, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		if isTLSFailure(err) {
			return nil, &TLSError{Addr: addr, Err: err}
		}
		return nil, &NetworkError{Op: "dial", Addr: addr, Err: err}
	}

	if err := authenticate(ctx, imapConn, mb, profile); err != nil {
		_ = imapConn.Logout().Wait()
		return nil, err
	}

	slog.Info("mailbox connected", "mailbox", mb.Name, "host", profile.Host)
	return &Client{mailbox: mb, profile: profile, imap: imapConn}, nil
}

func isTLSFailure(err error) bool {
	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	return errors.As(err, &recordErr) || errors.As(err, &certErr)
}

// Disconnect logs out. Safe to call more than once.
func (c *Client) Disconnect() {
	if c.imap == nil {
		return
	}
	if err := c.imap.Logout().Wait(); err != nil {
		slog.Debug("logout failed", "mailbox", c.mailbox.Name, "error", err)
	}
	c.imap = nil
}

// ListFolders returns every folder name the server advertises.
func (c *Client) ListFolders() ([]string, error) {
	boxes, err := c.imap.List("", "*", nil).Collect()
	if err != nil {
		return nil, &NetworkError{Op: "list", Addr: c.profile.Addr(), Err: err}
	}

	folders := make([]string, 0, len(boxes))
	for _, box := range boxes {
		folders = append(folders, box.Mailbox)
	}
	return folders, nil
}

// SelectFolder opens a folder for searching and fetching.
func (c *Client) SelectFolder(folder string) (*imap.SelectData, error) {
	data, err := c.imap.Select(folder, nil).Wait()
	if err != nil {
		var imapErr *imap.Error
		if errors.As(err, &imapErr) && imapErr.Type == imap.StatusResponseTypeNo {
			return nil, &NoSuchFolderError{Mailbox: c.mailbox.Name, Folder: folder}
		}
		return nil, &NetworkError{Op: "select", Addr: c.profile.Addr(), Err: err}
	}
	return data, nil
}

// SearchOptions narrows a folder search. Zero values mean no filter.
type SearchOptions struct {
	UnseenOnly bool
	Since      time.Time
	Sender     string
	Subject    string
}

// buildCriteria translates SearchOptions into IMAP search criteria.
// SINCE is date-granular on the wire; callers needing finer cutoffs
// filter client-side.
func buildCriteria(opts SearchOptions) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	if opts.UnseenOnly {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}
	if !opts.Since.IsZero() {
		criteria.Since = opts.Since
	}
	if opts.Sender != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "From", Value: opts.Sender})
	}
	if opts.Subject != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: opts.Subject})
	}
	return criteria
}

// Search returns the UIDs in the selected folder matching the options.
func (c *Client) Search(opts SearchOptions) ([]imap.UID, error) {
	searchData, err := c.imap.UIDSearch(buildCriteria(opts), nil).Wait()
	if err != nil {
		return nil, &NetworkError{Op: "search", Addr: c.profile.Addr(), Err: err}
	}
	return searchData.AllUIDs(), nil
}

// RawMessage is one fetched message body with its UID.
type RawMessage struct {
	UID imap.UID
	Raw []byte
}

// FetchResult reports a batch fetch: the messages retrieved plus the
// UIDs that still failed after retries. A UID expunged between search
// and fetch appears in neither list.
type FetchResult struct {
	Messages []RawMessage
	Failed   []imap.UID
}

// FetchBatch downloads full messages in chunks. Each chunk is retried
// with exponential backoff; a chunk that keeps failing marks its UIDs
// failed without aborting the rest of the batch. Returns early with
// partial results when ctx is cancelled.
func (c *Client) FetchBatch(ctx context.Context, uids []imap.UID) (*FetchResult, error) {
	result := &FetchResult{}
	chunkSize := c.mailbox.BatchSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	for _, chunk := range chunkUIDs(uids, chunkSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		msgs, err := c.fetchChunk(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			slog.Error("fetch chunk failed after retries",
				"mailbox", c.mailbox.Name,
				"uids", len(chunk),
				"error", err)
			result.Failed = append(result.Failed, chunk...)
			continue
		}
		result.Messages = append(result.Messages, msgs...)
	}
	return result, nil
}

// fetchChunk fetches one chunk, retrying transient failures.
func (c *Client) fetchChunk(ctx context.Context, chunk []imap.UID) ([]RawMessage, error) {
	var lastErr error
	backoff := fetchRetryBase

	for attempt := 1; attempt <= fetchRetryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		msgs, err := c.doFetch(chunk)
		if err == nil {
			return msgs, nil
		}
		lastErr = err
		slog.Warn("fetch chunk failed",
			"mailbox", c.mailbox.Name,
			"attempt", attempt,
			"error", err)
	}
	return nil, &NetworkError{Op: "fetch", Addr: c.profile.Addr(), Err: lastErr}
}

func (c *Client) doFetch(chunk []imap.UID) ([]RawMessage, error) {
	uidSet := imap.UIDSetNum(chunk...)
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := c.imap.Fetch(uidSet, fetchOpts)
	var out []RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			slog.Debug("collecting message failed", "mailbox", c.mailbox.Name, "error", err)
			continue
		}
		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}
		out = append(out, RawMessage{UID: buf.UID, Raw: raw})
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

// chunkUIDs splits uids into slices of at most size elements.
func chunkUIDs(uids []imap.UID, size int) [][]imap.UID {
	if len(uids) == 0 {
		return nil
	}
	var chunks [][]imap.UID
	for start := 0; start < len(uids); start += size {
		end := start + size
		if end > len(uids) {
			end = len(uids)
		}
		chunks = append(chunks, uids[start:end])
	}
	return chunks
}

// MarkSeen sets the Seen flag so processed messages drop out of
// unseen-only searches on the next run.
func (c *Client) MarkSeen(uids []imap.UID) error {
	if len(uids) == 0 {
		return nil
	}
	uidSet := imap.UIDSetNum(uids...)
	storeCmd := c.imap.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return &NetworkError{Op: "store", Addr: c.profile.Addr(), Err: err}
	}
	return nil
}

// FolderStats reports message counts for one folder.
type FolderStats struct {
	Folder string `json:"folder"`
	Total  uint32 `json:"total"`
	Recent int    `json:"recent"`
	Unseen int    `json:"unseen"`
}

// Stats selects the folder and counts total, last-week and unseen
// messages.
func (c *Client) Stats(folder string) (FolderStats, error) {
	selectData, err := c.SelectFolder(folder)
	if err != nil {
		return FolderStats{}, err
	}
	stats := FolderStats{Folder: folder, Total: selectData.NumMessages}

	recent, err := c.Search(SearchOptions{Since: time.Now().AddDate(0, 0, -7)})
	if err != nil {
		return stats, err
	}
	stats.Recent = len(recent)

	unseen, err := c.Search(SearchOptions{UnseenOnly: true})
	if err != nil {
		return stats, err
	}
	stats.Unseen = len(unseen)
	return stats, nil
}
