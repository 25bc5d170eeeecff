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

// Package attachment sizes, hashes, categorizes and security-scans mail
// attachments, then hands accepted payloads to a storage sink. Size and
// hash are always computed before any storage write, and rejected files
// never reach the sink.
package attachment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bcem/mailingest/internal/models"
	"github.com/bcem/mailingest/internal/storage"
)

const (
	defaultMaxFileBytes  = 25 << 20
	defaultMaxTotalBytes = 100 << 20
	maxFilenameLen       = 255
)

var unsafeFilenameRe = regexp.MustCompile(`[<>:"/\\|?*]`)

// Processor applies the attachment policy for one service instance. It
// is storage-agnostic; the sink may be local disk, S3 or a test double.
type Processor struct {
	sink             storage.Sink
	save             bool
	maxFileBytes     int64
	maxTotalBytes    int64
	allowExecutables bool
}

// ProcessorConfig holds the configuration for an attachment processor.
type ProcessorConfig struct {
	Sink             storage.Sink
	Save             bool
	MaxFileBytes     int64
	MaxTotalBytes    int64
	AllowExecutables bool
}

// NewProcessor creates an attachment processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		sink:             cfg.Sink,
		save:             cfg.Save,
		maxFileBytes:     cfg.MaxFileBytes,
		maxTotalBytes:    cfg.MaxTotalBytes,
		allowExecutables: cfg.AllowExecutables,
	}
	if p.maxFileBytes <= 0 {
		p.maxFileBytes = defaultMaxFileBytes
	}
	if p.maxTotalBytes <= 0 {
		p.maxTotalBytes = defaultMaxTotalBytes
	}
	return p
}

// Budget tracks the cumulative attachment size for one email.
type Budget struct {
	limit int64
	used  int64
}

// NewBudget returns a fresh per-email size budget.
func (p *Processor) NewBudget() *Budget {
	return &Budget{limit: p.maxTotalBytes}
}

func (b *Budget) add(n int64) bool {
	if b.limit > 0 && b.used+n > b.limit {
		return false
	}
	b.used += n
	return true
}

// Process handles one attachment part. The returned record is always
// usable; a non-nil error means the sink failed and only affects this
// attachment, never the rest of the email.
func (p *Processor) Process(ctx context.Context, part models.AttachmentPart, budget *Budget) (models.AttachmentRecord, error) {
	name := SafeFilename(part.Filename)
	if name == "" {
		name = "unnamed_attachment"
	}

	contentType := strings.ToLower(strings.TrimSpace(part.ContentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = detectMIME(part.Content, name)
	}

	size := int64(len(part.Content))
	sum := sha256.Sum256(part.Content)
	verdict, executable := analyzeSecurity(name, contentType, part.Content)

	rec := models.AttachmentRecord{
		Filename:    name,
		ContentType: contentType,
		Size:        size,
		ContentHash: hex.EncodeToString(sum[:]),
		Category:    categorize(name, contentType, part.Content),
		Security:    verdict,
	}

	switch {
	case size > p.maxFileBytes:
		rec.Rejected = "exceeds per-file size limit"
	case budget != nil && !budget.add(size):
		rec.Rejected = "total attachment size limit exceeded"
	case executable && !p.allowExecutables:
		rec.Rejected = "executable attachments are not allowed"
	}
	if rec.Rejected != "" {
		slog.Warn("attachment rejected",
			"filename", name,
			"size", size,
			"reason", rec.Rejected)
		return rec, nil
	}

	if !p.save || p.sink == nil {
		return rec, nil
	}

	key, err := p.sink.Save(ctx, name, part.Content)
	if err != nil {
		return rec, fmt.Errorf("saving attachment %s: %w", name, err)
	}
	rec.StorageKey = key
	rec.Stored = true
	return rec, nil
}

// ProcessAll handles every attachment of one email under a shared size
// budget. Storage failures are logged and surface as unstored records.
func (p *Processor) ProcessAll(ctx context.Context, parts []models.AttachmentPart) []models.AttachmentRecord {
	if len(parts) == 0 {
		return nil
	}

	budget := p.NewBudget()
	records := make([]models.AttachmentRecord, 0, len(parts))
	for _, part := range parts {
		rec, err := p.Process(ctx, part, budget)
		if err != nil {
			slog.Error("attachment storage failed",
				"filename", rec.Filename,
				"sink", p.sink.Name(),
				"error", err)
		}
		records = append(records, rec)
	}
	return records
}

// SafeFilename strips path separators and other dangerous characters
// from an attachment filename and caps its length.
func SafeFilename(filename string) string {
	safe := unsafeFilenameRe.ReplaceAllString(filename, "_")
	safe = strings.Trim(safe, ". ")

	if len(safe) > maxFilenameLen {
		ext := filepath.Ext(safe)
		base := strings.TrimSuffix(safe, ext)
		if len(base) > 240 {
			base = strings.ToValidUTF8(base[:240], "")
		}
		safe = base + ext
	}
	return safe
}
