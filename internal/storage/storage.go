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

// Package storage persists attachment payloads behind a single Sink
// interface so the rest of the pipeline never knows whether bytes land
// on local disk or in an S3 bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("object not found")
	// ErrPathTraversal is returned when a key tries to escape the
	// storage root.
	ErrPathTraversal = errors.New("path traversal detected")
)

// Sink stores attachment payloads. Implementations generate their own
// keys; callers treat the returned key as opaque.
type Sink interface {
	// Save persists data and returns the storage key it was stored
	// under. filename is only consulted for its extension.
	Save(ctx context.Context, filename string, data []byte) (string, error)
	// Open returns a reader for a previously saved object.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes an object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, key string) error
	// Name identifies the sink in logs and errors.
	Name() string
}

// StorageError wraps a failure from a concrete sink.
type StorageError struct {
	Sink string
	Key  string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s: key %s: %v", e.Sink, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Sink, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorage reports whether err originated in a storage sink.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
