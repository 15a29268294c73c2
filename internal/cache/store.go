package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache/internal/storage"
)

// DefaultTTL is how long a response stays servable when no TTL is configured.
const DefaultTTL = 5 * time.Minute

// Store is the request cache: expiring, best-effort storage of decoded GET results.
//
// Expiry is lazy. An entry older than the TTL is deleted by the read that
// observes it; nothing sweeps entries that are never read again.
// No method returns an error: storage failures read as misses and writes
// that fail are dropped.
type Store struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store on top of backend. A non-positive ttl falls back to DefaultTTL.
func New(backend Backend, ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the entry for key if it exists and is not older than the TTL.
// An expired entry is deleted before reporting the miss.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool) {
	rec, found, err := s.backend.Get(ctx, key)
	if err != nil {
		logrus.Warnf("Cache read failed for %q, treating as miss: %v", key, err)
		return Entry{}, false
	}
	if !found {
		return Entry{}, false
	}

	entry := Entry{Key: rec.Key, Payload: json.RawMessage(rec.Payload), StoredAt: rec.StoredAt}
	if entry.Age(s.now()) > s.ttl {
		logrus.Debugf("Cache entry %q expired (stored at %s)", key, entry.StoredAt.Format(time.RFC3339))
		if err := s.backend.Delete(ctx, key); err != nil {
			logrus.Warnf("Failed to delete expired cache entry %q: %v", key, err)
		}
		return Entry{}, false
	}
	return entry, true
}

// Set stores payload under key with the current time, replacing any previous entry.
func (s *Store) Set(ctx context.Context, key string, payload json.RawMessage) {
	rec := storage.Record{Key: key, Payload: []byte(payload), StoredAt: s.now()}
	if err := s.backend.Put(ctx, rec); err != nil {
		logrus.Warnf("Failed to cache response for %q: %v", key, err)
		return
	}
	logrus.Debugf("Cached response: %s", key)
}

// DeleteByPrefix removes every entry whose key starts with prefix and
// returns how many were removed. Each delete is independent: a concurrent
// Set may land between the scan and the delete of another key.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) int {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		logrus.Warnf("Failed to list cache keys for invalidation of %q: %v", prefix, err)
		return 0
	}

	removed := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := s.backend.Delete(ctx, key); err != nil {
			logrus.Warnf("Failed to invalidate cache entry %q: %v", key, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logrus.Debugf("Invalidated %d cache entries under %q", removed, prefix)
	}
	return removed
}
