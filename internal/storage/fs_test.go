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

package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// TestFileSinkSaveAndOpen verifies that saved data can be read back
// under the returned key and that keys are fanned out into
// subdirectories.
func TestFileSinkSaveAndOpen(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	key, err := sink.Save(ctx, "invoice.pdf", []byte("%PDF-1.4 fake"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(key, ".pdf") {
		t.Errorf("key = %q, want .pdf extension preserved", key)
	}
	if !strings.Contains(key, "/") {
		t.Errorf("key = %q, want a subdirectory prefix", key)
	}

	r, err := sink.Open(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "%PDF-1.4 fake" {
		t.Errorf("read back %q, want the saved payload", data)
	}
}

// TestFileSinkRejectsTraversal verifies that keys escaping the base
// directory are refused.
func TestFileSinkRejectsTraversal(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"../../etc/passwd", "/etc/passwd", "ab/../../x"} {
		_, err := sink.Open(ctx, key)
		if err == nil {
			t.Fatalf("Open(%q) succeeded, want traversal error", key)
		}
		if !errors.Is(err, ErrPathTraversal) {
			t.Errorf("Open(%q) error = %v, want ErrPathTraversal", key, err)
		}
		if !IsStorage(err) {
			t.Errorf("Open(%q) error not recognised by IsStorage", key)
		}
	}
}

// TestFileSinkOpenMissing verifies that a missing object yields
// ErrNotFound.
func TestFileSinkOpenMissing(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = sink.Open(context.Background(), "ab/no-such-object.pdf")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestFileSinkDeleteIdempotent verifies that deleting twice does not
// fail.
func TestFileSinkDeleteIdempotent(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	key, err := sink.Save(ctx, "note.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Delete(ctx, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Delete(ctx, key); err != nil {
		t.Errorf("second delete returned %v, want nil", err)
	}
	if _, err := sink.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("object still readable after delete: %v", err)
	}
}
