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

package dedup

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

const snapshotVersion = 1

type snapshot struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Entries    []*Entry  `json:"entries"`
}

// Export writes the cache state as versioned JSON. The written snapshot
// can be imported by this or any later version of the service.
func (c *Cache) Export(w io.Writer) error {
	snap := snapshot{
		Version:    snapshotVersion,
		ExportedAt: time.Now().UTC(),
	}

	for _, sh := range c.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if key == e.Key {
				snap.Entries = append(snap.Entries, e)
			}
		}
		sh.mu.Unlock()
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encoding dedup snapshot: %w", err)
	}
	return nil
}

// Import replaces the cache state with a previously exported snapshot.
// A corrupt or unrecognised snapshot resets the cache to empty instead
// of failing startup; duplicates from before the restart are then simply
// re-ticketed once.
func (c *Cache) Import(r io.Reader) error {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		slog.Warn("dedup snapshot corrupt, starting with empty cache", "error", err)
		c.reset()
		return nil
	}
	if snap.Version < 1 {
		slog.Warn("dedup snapshot has no version tag, starting with empty cache")
		c.reset()
		return nil
	}

	c.reset()
	now := time.Now()
	loaded := 0
	for _, e := range snap.Entries {
		if e == nil || e.Key == "" || !e.ExpiresAt.After(now) {
			continue
		}
		c.insertEntry(e)
		loaded++
	}
	for c.Len() > c.capacity {
		c.evictOldest()
	}

	slog.Info("dedup snapshot imported", "entries", loaded, "exported_at", snap.ExportedAt)
	return nil
}

// SaveSnapshot exports the cache to the configured snapshot path.
func (c *Cache) SaveSnapshot() error {
	if c.snapshotPath == "" {
		return nil
	}

	tmp := c.snapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	if err := c.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmp, c.snapshotPath); err != nil {
		return fmt.Errorf("replacing snapshot file: %w", err)
	}
	return nil
}

// LoadSnapshot imports the cache from the configured snapshot path. A
// missing file is not an error; the service may simply never have saved
// one.
func (c *Cache) LoadSnapshot() error {
	if c.snapshotPath == "" {
		return nil
	}

	f, err := os.Open(c.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	return c.Import(f)
}
