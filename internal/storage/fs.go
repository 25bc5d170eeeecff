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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileSink stores attachments under a base directory on local disk.
// Files are fanned out into subdirectories named after the first two
// characters of their generated name to keep directory listings small.
type FileSink struct {
	basePath string
}

// NewFileSink creates the base directory if needed and returns a sink
// writing into it.
func NewFileSink(basePath string) (*FileSink, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, &StorageError{Sink: "filesystem", Err: fmt.Errorf("creating storage directory: %w", err)}
	}
	return &FileSink{basePath: basePath}, nil
}

func (s *FileSink) Name() string {
	return "filesystem"
}

// Save writes data under a generated uuid-based key and returns the
// key relative to the base directory.
func (s *FileSink) Save(ctx context.Context, filename string, data []byte) (string, error) {
	ext := filepath.Ext(filepath.Base(filename))
	uniqueName := uuid.New().String() + ext
	subDir := uniqueName[:2]

	if err := os.MkdirAll(filepath.Join(s.basePath, subDir), 0o755); err != nil {
		return "", &StorageError{Sink: "filesystem", Err: fmt.Errorf("creating subdirectory: %w", err)}
	}

	key := filepath.Join(subDir, uniqueName)
	if err := os.WriteFile(filepath.Join(s.basePath, key), data, 0o644); err != nil {
		return "", &StorageError{Sink: "filesystem", Key: key, Err: fmt.Errorf("writing file: %w", err)}
	}
	return key, nil
}

// Open returns a reader for the object stored under key.
func (s *FileSink) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &StorageError{Sink: "filesystem", Key: key, Err: ErrNotFound}
		}
		return nil, &StorageError{Sink: "filesystem", Key: key, Err: err}
	}
	return f, nil
}

// Delete removes the object stored under key. A missing object is not
// an error.
func (s *FileSink) Delete(ctx context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return &StorageError{Sink: "filesystem", Key: key, Err: err}
	}
	return nil
}

// resolve turns a storage key into an absolute path, rejecting any key
// that would escape the base directory.
func (s *FileSink) resolve(key string) (string, error) {
	cleaned := filepath.Clean(key)
	if filepath.IsAbs(cleaned) || strings.Contains(cleaned, "..") {
		return "", &StorageError{Sink: "filesystem", Key: key, Err: ErrPathTraversal}
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, cleaned))
	if err != nil {
		return "", &StorageError{Sink: "filesystem", Key: key, Err: err}
	}
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", &StorageError{Sink: "filesystem", Err: err}
	}
	if absPath != absBase && !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", &StorageError{Sink: "filesystem", Key: key, Err: ErrPathTraversal}
	}
	return absPath, nil
}
