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

package attachment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bcem/mailingest/internal/models"
	"github.com/bcem/mailingest/internal/storage"
)

type memorySink struct {
	objects map[string][]byte
	fail    bool
	saves   int
}

func newMemorySink() *memorySink {
	return &memorySink{objects: make(map[string][]byte)}
}

func (m *memorySink) Save(ctx context.Context, filename string, data []byte) (string, error) {
	m.saves++
	if m.fail {
		return "", &storage.StorageError{Sink: "memory", Err: errors.New("disk full")}
	}
	key := fmt.Sprintf("mem/%03d%s", len(m.objects), filepath.Ext(filename))
	m.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *memorySink) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, &storage.StorageError{Sink: "memory", Key: key, Err: storage.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memorySink) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memorySink) Name() string { return "memory" }

// TestProcess_StoresAccepted verifies that an ordinary document is
// hashed, categorized and stored under the returned key.
func TestProcess_StoresAccepted(t *testing.T) {
	sink := newMemorySink()
	p := NewProcessor(ProcessorConfig{Sink: sink, Save: true})

	content := []byte("%PDF-1.4 fake invoice")
	rec, err := p.Process(context.Background(), models.AttachmentPart{
		Filename:    "invoice.pdf",
		ContentType: "application/pdf",
		Content:     content,
	}, p.NewBudget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !rec.Stored || rec.StorageKey == "" {
		t.Fatalf("record not stored: %+v", rec)
	}
	if rec.Category != models.CategoryDocument {
		t.Errorf("category = %q, want %q", rec.Category, models.CategoryDocument)
	}
	if rec.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", rec.Size, len(content))
	}
	sum := sha256.Sum256(content)
	if rec.ContentHash != hex.EncodeToString(sum[:]) {
		t.Errorf("content hash = %q, want sha256 of the payload", rec.ContentHash)
	}
	if rec.Security.Risk != models.RiskLow {
		t.Errorf("risk = %q, want %q", rec.Security.Risk, models.RiskLow)
	}
	if got := sink.objects[rec.StorageKey]; !bytes.Equal(got, content) {
		t.Error("stored payload differs from the original")
	}
}

// TestProcess_OversizeNeverReachesSink verifies that a file above the
// per-file limit is rejected before any storage write.
func TestProcess_OversizeNeverReachesSink(t *testing.T) {
	sink := newMemorySink()
	p := NewProcessor(ProcessorConfig{Sink: sink, Save: true, MaxFileBytes: 10})

	rec, err := p.Process(context.Background(), models.AttachmentPart{
		Filename:    "big.pdf",
		ContentType: "application/pdf",
		Content:     []byte("0123456789A"),
	}, p.NewBudget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Rejected != "exceeds per-file size limit" {
		t.Errorf("rejected = %q, want the per-file limit reason", rec.Rejected)
	}
	if rec.Stored {
		t.Error("oversize record marked stored")
	}
	if sink.saves != 0 {
		t.Errorf("sink.Save called %d times, want 0", sink.saves)
	}
}

// TestProcess_ExecutableRejectedByDefault verifies the default policy
// of refusing to store executables.
func TestProcess_ExecutableRejectedByDefault(t *testing.T) {
	sink := newMemorySink()
	p := NewProcessor(ProcessorConfig{Sink: sink, Save: true})

	rec, err := p.Process(context.Background(), models.AttachmentPart{
		Filename:    "invoice.exe",
		ContentType: "application/octet-stream",
		Content:     []byte("MZ binary"),
	}, p.NewBudget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Rejected != "executable attachments are not allowed" {
		t.Errorf("rejected = %q, want the executable policy reason", rec.Rejected)
	}
	if sink.saves != 0 {
		t.Errorf("sink.Save called %d times, want 0", sink.saves)
	}
	if rec.Security.Risk == models.RiskLow {
		t.Error("executable scored low risk")
	}
}

// TestProcess_ExecutableAllowedWhenConfigured verifies the opt-in
// override for executables.
func TestProcess_ExecutableAllowedWhenConfigured(t *testing.T) {
	sink := newMemorySink()
	p := NewProcessor(ProcessorConfig{Sink: sink, Save: true, AllowExecutables: true})

	rec, err := p.Process(context.Background(), models.AttachmentPart{
		Filename: "tool.exe",
		Content:  []byte("MZ binary"),
	}, p.NewBudget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.Stored {
		t.Errorf("executable not stored despite AllowExecutables: %+v", rec)
	}
}

// TestProcess_StorageErrorSurfaced verifies that a sink failure is
// returned to the caller but still yields a usable record.
func TestProcess_StorageErrorSurfaced(t *testing.T) {
	sink := newMemorySink()
	sink.fail = true
	p := NewProcessor(ProcessorConfig{Sink: sink, Save: true})

	rec, err := p.Process(context.Background(), models.AttachmentPart{
		Filename:    "invoice.pdf",
		ContentType: "application/pdf",
		Content:     []byte("%PDF-1.4"),
	}, p.NewBudget())
	if err == nil {
		t.Fatal("expected a storage error")
	}
	if !storage.IsStorage(err) {
		t.Errorf("error %v not recognised by IsStorage", err)
	}
	if rec.Stored || rec.Rejected != "" {
		t.Errorf("record = %+v, want unstored and not rejected", rec)
	}
	if rec.ContentHash == "" || rec.Size == 0 {
		t.Error("hash and size missing from record despite storage failure")
	}
}

// TestProcessAll_TotalBudget verifies that the cumulative limit rejects
// later attachments while earlier ones stay stored.
func TestProcessAll_TotalBudget(t *testing.T) {
	sink := newMemorySink()
	p := NewProcessor(ProcessorConfig{Sink: sink, Save: true, MaxTotalBytes: 10})

	parts := []models.AttachmentPart{
		{Filename: "a.txt", ContentType: "text/plain", Content: []byte("123456")},
		{Filename: "b.txt", ContentType: "text/plain", Content: []byte("789012")},
		{Filename: "c.txt", ContentType: "text/plain", Content: []byte("345678")},
	}
	records := p.ProcessAll(context.Background(), parts)

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if !records[0].Stored {
		t.Error("first attachment not stored")
	}
	for i, rec := range records[1:] {
		if rec.Rejected != "total attachment size limit exceeded" {
			t.Errorf("record %d rejected = %q, want the total limit reason", i+1, rec.Rejected)
		}
	}
	if sink.saves != 1 {
		t.Errorf("sink.Save called %d times, want 1", sink.saves)
	}
}

// TestProcessAll_SaveDisabled verifies that records are still produced
// when attachment saving is turned off.
func TestProcessAll_SaveDisabled(t *testing.T) {
	sink := newMemorySink()
	p := NewProcessor(ProcessorConfig{Sink: sink, Save: false})

	records := p.ProcessAll(context.Background(), []models.AttachmentPart{
		{Filename: "invoice.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")},
	})
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Stored || records[0].StorageKey != "" {
		t.Errorf("record stored despite save being disabled: %+v", records[0])
	}
	if records[0].ContentHash == "" {
		t.Error("content hash missing")
	}
	if sink.saves != 0 {
		t.Errorf("sink.Save called %d times, want 0", sink.saves)
	}
}

// TestSafeFilename verifies dangerous-character stripping and length
// capping.
func TestSafeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"invoice.pdf", "invoice.pdf"},
		{"inv<oi>ce.pdf", "inv_oi_ce.pdf"},
		{"../../etc/passwd", "_.._etc_passwd"},
		{`c:\windows\cmd.exe`, "c__windows_cmd.exe"},
		{"  report.pdf  ", "report.pdf"},
		{"...hidden...", "hidden"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SafeFilename(tc.in); got != tc.want {
			t.Errorf("SafeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := SafeFilename(strings.Repeat("a", 300) + ".pdf")
	if len(long) != 244 {
		t.Errorf("long filename capped to %d bytes, want 244", len(long))
	}
	if !strings.HasSuffix(long, ".pdf") {
		t.Errorf("long filename lost its extension: %q", long)
	}
}
