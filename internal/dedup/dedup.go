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

// Package dedup decides whether a normalized email was already processed.
// Matching runs in order: exact message-id, exact content hash, then a
// fuzzy same-sender subject-similarity match for resends that providers
// re-id. The cache is bounded, TTL-evicting and snapshot-persistable so
// restarts do not re-ticket a week of mail.
package dedup

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bcem/mailingest/internal/mailparse"
	"github.com/bcem/mailingest/internal/models"
)

const shardCount = 16

// Match describes how a duplicate was recognised.
type Match string

const (
	MatchMessageID   Match = "message-id"
	MatchContentHash Match = "content-hash"
	MatchFuzzy       Match = "fuzzy"
)

// Entry is one remembered sighting of an email.
type Entry struct {
	// Key is the dedup key: the message-id when present, else the
	// content hash, prefixed so the two namespaces cannot collide.
	Key         string    `json:"key"`
	MessageID   string    `json:"message_id,omitempty"`
	ContentHash string    `json:"content_hash"`
	Sender      string    `json:"sender"`
	SubjectFP   string    `json:"subject_fp"`
	ArrivedAt   time.Time `json:"arrived_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Decision is the outcome of a duplicate check.
type Decision struct {
	Duplicate bool
	Match     Match  // which rule matched, empty when not a duplicate
	Of        *Entry // the prior sighting, nil when not a duplicate
}

type shard struct {
	mu sync.Mutex
	// entries maps dedup keys and secondary content-hash keys to entries.
	entries map[string]*Entry
	// senders groups live entries by sender address for fuzzy matching.
	senders map[string][]*Entry
}

// Cache is the in-process deduplication cache shared by all mailbox
// workers. Keys are sharded so concurrent check-and-insert calls only
// contend when they touch the same key range.
type Cache struct {
	shards    [shardCount]*shard
	capacity  int
	ttl       time.Duration
	threshold float64
	window    time.Duration

	count  atomic.Int64
	hits   atomic.Uint64
	misses atomic.Uint64

	snapshotPath  string
	sweepInterval time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// CacheConfig holds the configuration for the dedup cache.
type CacheConfig struct {
	Capacity       int
	TTL            time.Duration
	FuzzyThreshold float64
	FuzzyWindow    time.Duration
	SweepInterval  time.Duration
	SnapshotPath   string
}

// NewCache creates a dedup cache.
func NewCache(cfg CacheConfig) *Cache {
	c := &Cache{
		capacity:      cfg.Capacity,
		ttl:           cfg.TTL,
		threshold:     cfg.FuzzyThreshold,
		window:        cfg.FuzzyWindow,
		snapshotPath:  cfg.SnapshotPath,
		sweepInterval: cfg.SweepInterval,
	}
	if c.capacity <= 0 {
		c.capacity = 10000
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = time.Hour
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			entries: make(map[string]*Entry),
			senders: make(map[string][]*Entry),
		}
	}
	return c
}

// Check reports whether the email is a duplicate without recording it.
func (c *Cache) Check(email *models.NormalizedEmail) Decision {
	e := c.newEntry(email)
	now := time.Now()

	sh := c.shardFor(e.Key)
	sh.mu.Lock()
	prior, ok := sh.entries[e.Key]
	sh.mu.Unlock()
	if ok && prior.ExpiresAt.After(now) {
		c.hits.Add(1)
		return Decision{Duplicate: true, Match: e.primaryMatch(), Of: prior}
	}

	if d, ok := c.lookupHash(e, now); ok {
		c.hits.Add(1)
		return d
	}
	if d, ok := c.lookupFuzzy(e, now); ok {
		c.hits.Add(1)
		return d
	}

	c.misses.Add(1)
	return Decision{}
}

// CheckAndInsert atomically checks the email and records it when new.
// Two workers racing on the same dedup key (the same email delivered to
// two folders) get exactly one non-duplicate decision between them.
func (c *Cache) CheckAndInsert(email *models.NormalizedEmail) Decision {
	e := c.newEntry(email)
	now := time.Now()

	if int(c.count.Load()) >= c.capacity {
		c.evictOldest()
	}

	sh := c.shardFor(e.Key)
	sh.mu.Lock()
	prior, existed := sh.entries[e.Key]
	if existed && prior.ExpiresAt.After(now) {
		sh.mu.Unlock()
		c.hits.Add(1)
		return Decision{Duplicate: true, Match: e.primaryMatch(), Of: prior}
	}
	// Reserve the dedup key before the remaining checks so a concurrent
	// identical email observes it and reports duplicate.
	sh.entries[e.Key] = e
	sh.mu.Unlock()

	if existed {
		// Replaced an expired entry; scrub its leftover indexes.
		c.unindex(prior, e.Key)
	} else {
		c.count.Add(1)
	}

	if d, ok := c.lookupHash(e, now); ok {
		c.rollback(e)
		c.hits.Add(1)
		return d
	}
	if d, ok := c.lookupFuzzy(e, now); ok {
		c.rollback(e)
		c.hits.Add(1)
		return d
	}

	c.misses.Add(1)
	c.index(e)
	return Decision{}
}

// Insert records the email unconditionally, bypassing duplicate checks.
func (c *Cache) Insert(email *models.NormalizedEmail) {
	if int(c.count.Load()) >= c.capacity {
		c.evictOldest()
	}
	c.insertEntry(c.newEntry(email))
}

// insertEntry places a ready-made entry into the primary and secondary
// indexes. Used by Insert and by snapshot import.
func (c *Cache) insertEntry(e *Entry) {
	sh := c.shardFor(e.Key)
	sh.mu.Lock()
	prior, existed := sh.entries[e.Key]
	sh.entries[e.Key] = e
	sh.mu.Unlock()

	if existed {
		c.unindex(prior, e.Key)
	} else {
		c.count.Add(1)
	}
	c.index(e)
}

// EvictExpired removes every entry whose TTL has lapsed and returns how
// many were evicted.
func (c *Cache) EvictExpired() int {
	now := time.Now()
	var victims []*Entry

	for _, sh := range c.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.ExpiresAt.After(now) {
				continue
			}
			if key == e.Key {
				victims = append(victims, e)
			} else {
				// Stale secondary index for an expired entry.
				delete(sh.entries, key)
			}
		}
		for sender, bucket := range sh.senders {
			kept := bucket[:0]
			for _, e := range bucket {
				if e.ExpiresAt.After(now) {
					kept = append(kept, e)
				}
			}
			if len(kept) == 0 {
				delete(sh.senders, sender)
			} else {
				sh.senders[sender] = kept
			}
		}
		sh.mu.Unlock()
	}

	for _, e := range victims {
		sh := c.shardFor(e.Key)
		sh.mu.Lock()
		if cur, ok := sh.entries[e.Key]; ok && cur == e {
			delete(sh.entries, e.Key)
			c.count.Add(-1)
		}
		sh.mu.Unlock()
	}

	return len(victims)
}

// Remove withdraws the email's entry so a later pass can decide it
// fresh. Used when downstream handoff fails after CheckAndInsert has
// already recorded the email. Reports whether an entry was removed.
func (c *Cache) Remove(email *models.NormalizedEmail) bool {
	key := c.newEntry(email).Key
	sh := c.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok || e.Key != key {
		// Absent, or the slot is a secondary registration for another
		// entry; nothing of ours to withdraw.
		sh.mu.Unlock()
		return false
	}
	delete(sh.entries, key)
	c.count.Add(-1)
	sh.mu.Unlock()
	c.unindex(e, "")
	return true
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return int(c.count.Load())
}

// Stats returns occupancy and hit-rate counters.
func (c *Cache) Stats() models.CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := models.CacheStats{
		Entries:  c.Len(),
		Capacity: c.capacity,
		Hits:     hits,
		Misses:   misses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// StartSweeper runs TTL eviction (and snapshot autosave when a snapshot
// path is configured) at the configured interval until Stop is called.
func (c *Cache) StartSweeper(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if evicted := c.EvictExpired(); evicted > 0 {
					slog.Info("dedup sweep evicted expired entries", "evicted", evicted)
				}
				if c.snapshotPath != "" {
					if err := c.SaveSnapshot(); err != nil {
						slog.Error("dedup snapshot save failed", "error", err)
					}
				}
			}
		}
	}()

	slog.Info("dedup sweeper started", "interval", c.sweepInterval)
}

// Stop shuts down the sweeper loop.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Cache) newEntry(email *models.NormalizedEmail) *Entry {
	mid := strings.TrimSpace(email.MessageID)
	key := "h:" + email.ContentHash
	if mid != "" {
		key = "m:" + mid
	}
	return &Entry{
		Key:         key,
		MessageID:   mid,
		ContentHash: email.ContentHash,
		Sender:      strings.ToLower(email.From.Address),
		SubjectFP:   mailparse.NormalizeSubject(email.Subject),
		ArrivedAt:   email.ArrivedAt,
		ExpiresAt:   time.Now().Add(c.ttl),
	}
}

func (e *Entry) primaryMatch() Match {
	if e.MessageID != "" {
		return MatchMessageID
	}
	return MatchContentHash
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// lookupHash finds a live entry with the same content hash registered
// under a different dedup key.
func (c *Cache) lookupHash(e *Entry, now time.Time) (Decision, bool) {
	hk := "h:" + e.ContentHash
	if hk == e.Key || e.ContentHash == "" {
		return Decision{}, false
	}
	sh := c.shardFor(hk)
	sh.mu.Lock()
	prior, ok := sh.entries[hk]
	sh.mu.Unlock()
	if ok && prior != e && prior.ExpiresAt.After(now) {
		return Decision{Duplicate: true, Match: MatchContentHash, Of: prior}, true
	}
	return Decision{}, false
}

// lookupFuzzy finds a live entry from the same sender with a similar
// subject fingerprint arriving within the configured window.
func (c *Cache) lookupFuzzy(e *Entry, now time.Time) (Decision, bool) {
	if e.Sender == "" || e.SubjectFP == "" {
		return Decision{}, false
	}
	sh := c.shardFor("s:" + e.Sender)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, prior := range sh.senders[e.Sender] {
		if prior == e || !prior.ExpiresAt.After(now) {
			continue
		}
		if gap := e.ArrivedAt.Sub(prior.ArrivedAt); gap > c.window || gap < -c.window {
			continue
		}
		if similarity(e.SubjectFP, prior.SubjectFP) < c.threshold {
			continue
		}
		return Decision{Duplicate: true, Match: MatchFuzzy, Of: prior}, true
	}
	return Decision{}, false
}

// index registers the secondary content-hash key and the sender bucket
// for an entry already holding its primary key.
func (c *Cache) index(e *Entry) {
	if hk := "h:" + e.ContentHash; hk != e.Key && e.ContentHash != "" {
		sh := c.shardFor(hk)
		sh.mu.Lock()
		sh.entries[hk] = e
		sh.mu.Unlock()
	}
	if e.Sender != "" {
		sh := c.shardFor("s:" + e.Sender)
		sh.mu.Lock()
		sh.senders[e.Sender] = append(sh.senders[e.Sender], e)
		sh.mu.Unlock()
	}
}

// unindex removes an entry's secondary registrations. skipKey names a
// primary slot that was already overwritten and must not be touched.
func (c *Cache) unindex(e *Entry, skipKey string) {
	if hk := "h:" + e.ContentHash; hk != skipKey && e.ContentHash != "" {
		sh := c.shardFor(hk)
		sh.mu.Lock()
		if cur, ok := sh.entries[hk]; ok && cur == e {
			delete(sh.entries, hk)
		}
		sh.mu.Unlock()
	}
	if e.Sender != "" {
		sh := c.shardFor("s:" + e.Sender)
		sh.mu.Lock()
		bucket := sh.senders[e.Sender]
		for i, cur := range bucket {
			if cur == e {
				sh.senders[e.Sender] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(sh.senders[e.Sender]) == 0 {
			delete(sh.senders, e.Sender)
		}
		sh.mu.Unlock()
	}
}

// rollback withdraws a reserved dedup key after the email turned out to
// be a duplicate of a different entry.
func (c *Cache) rollback(e *Entry) {
	sh := c.shardFor(e.Key)
	sh.mu.Lock()
	if cur, ok := sh.entries[e.Key]; ok && cur == e {
		delete(sh.entries, e.Key)
		c.count.Add(-1)
	}
	sh.mu.Unlock()
}

// evictOldest removes the entry with the oldest arrival timestamp.
// Eviction is by arrival, not last access, so replaying a fixed message
// sequence always evicts the same entry.
func (c *Cache) evictOldest() {
	var oldest *Entry
	for _, sh := range c.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if key != e.Key {
				continue
			}
			if oldest == nil || e.ArrivedAt.Before(oldest.ArrivedAt) {
				oldest = e
			}
		}
		sh.mu.Unlock()
	}
	if oldest == nil {
		return
	}

	sh := c.shardFor(oldest.Key)
	sh.mu.Lock()
	if cur, ok := sh.entries[oldest.Key]; ok && cur == oldest {
		delete(sh.entries, oldest.Key)
		c.count.Add(-1)
	}
	sh.mu.Unlock()
	c.unindex(oldest, "")
}

// reset drops every entry, keeping lifetime hit/miss counters.
func (c *Cache) reset() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*Entry)
		sh.senders = make(map[string][]*Entry)
		sh.mu.Unlock()
	}
	c.count.Store(0)
}

// similarity computes word-set Jaccard similarity between two subject
// fingerprints.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	set := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		set[w] = true
	}
	union := len(set)
	inter := 0
	seen := make(map[string]bool)
	for _, w := range strings.Fields(b) {
		if seen[w] {
			continue
		}
		seen[w] = true
		if set[w] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
