package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-cache/internal/storage"
)

// memoryBackend is an in-memory Backend with switchable failures.
type memoryBackend struct {
	mu      sync.Mutex
	records map[string]storage.Record
	fail    bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{records: make(map[string]storage.Record)}
}

var errBroken = errors.New("broken backend")

func (m *memoryBackend) Get(_ context.Context, key string) (storage.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return storage.Record{}, false, errBroken
	}
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *memoryBackend) Put(_ context.Context, rec storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errBroken
	}
	m.records[rec.Key] = rec
	return nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errBroken
	}
	delete(m.records, key)
	return nil
}

func (m *memoryBackend) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errBroken
	}
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memoryBackend) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[key]
	return ok
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(ttl time.Duration) (*Store, *memoryBackend, *fakeClock) {
	backend := newMemoryBackend()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(backend, ttl, WithClock(clock.Now)), backend, clock
}

func TestNew(t *testing.T) {
	store := New(newMemoryBackend(), time.Hour)
	assert.Equal(t, time.Hour, store.TTL())

	store = New(newMemoryBackend(), 0)
	assert.Equal(t, DefaultTTL, store.TTL())
}

func TestSetAndGet(t *testing.T) {
	store, _, clock := newTestStore(time.Hour)
	ctx := context.Background()

	store.Set(ctx, "GET /api/budgets", json.RawMessage(`{"items":[1,2]}`))

	entry, found := store.Get(ctx, "GET /api/budgets")
	require.True(t, found)
	assert.Equal(t, "GET /api/budgets", entry.Key)
	assert.JSONEq(t, `{"items":[1,2]}`, string(entry.Payload))
	assert.True(t, entry.StoredAt.Equal(clock.Now()))
}

func TestGetMissing(t *testing.T) {
	store, _, _ := newTestStore(time.Hour)
	_, found := store.Get(context.Background(), "GET /nothing")
	assert.False(t, found)
}

func TestGetBeforeExpiry(t *testing.T) {
	store, backend, clock := newTestStore(5 * time.Minute)
	ctx := context.Background()

	store.Set(ctx, "GET /path", json.RawMessage(`"A"`))
	clock.Advance(5*time.Minute - time.Millisecond)

	entry, found := store.Get(ctx, "GET /path")
	require.True(t, found)
	assert.Equal(t, `"A"`, string(entry.Payload))
	assert.True(t, backend.has("GET /path"))
}

func TestGetExpired(t *testing.T) {
	store, backend, clock := newTestStore(5 * time.Minute)
	ctx := context.Background()

	store.Set(ctx, "GET /path", json.RawMessage(`"A"`))
	clock.Advance(5*time.Minute + time.Millisecond)

	_, found := store.Get(ctx, "GET /path")
	assert.False(t, found, "expired entry must not be returned")

	// Verify entry was deleted
	assert.False(t, backend.has("GET /path"), "expired entry should have been deleted")
}

func TestSetIsIdempotent(t *testing.T) {
	store, backend, clock := newTestStore(time.Hour)
	ctx := context.Background()

	store.Set(ctx, "GET /path", json.RawMessage(`"A"`))
	clock.Advance(time.Second)
	store.Set(ctx, "GET /path", json.RawMessage(`"A"`))

	keys, err := backend.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /path"}, keys)

	entry, found := store.Get(ctx, "GET /path")
	require.True(t, found)
	assert.Equal(t, `"A"`, string(entry.Payload))
	assert.True(t, entry.StoredAt.Equal(clock.Now()), "latest write should win")
}

func TestSetRefreshesExpiry(t *testing.T) {
	store, _, clock := newTestStore(time.Minute)
	ctx := context.Background()

	store.Set(ctx, "GET /path", json.RawMessage(`1`))
	clock.Advance(50 * time.Second)
	store.Set(ctx, "GET /path", json.RawMessage(`2`))
	clock.Advance(50 * time.Second)

	entry, found := store.Get(ctx, "GET /path")
	require.True(t, found)
	assert.Equal(t, `2`, string(entry.Payload))
}

func TestDeleteByPrefix(t *testing.T) {
	store, backend, _ := newTestStore(time.Hour)
	ctx := context.Background()

	store.Set(ctx, "GET /resource?x=1", json.RawMessage(`"A"`))
	store.Set(ctx, "GET /resource?y=2", json.RawMessage(`"B"`))
	store.Set(ctx, "GET /resource", json.RawMessage(`"C"`))
	store.Set(ctx, "GET /other", json.RawMessage(`"D"`))

	removed := store.DeleteByPrefix(ctx, "GET /resource")
	assert.Equal(t, 3, removed)

	assert.False(t, backend.has("GET /resource?x=1"))
	assert.False(t, backend.has("GET /resource?y=2"))
	assert.False(t, backend.has("GET /resource"))

	entry, found := store.Get(ctx, "GET /other")
	require.True(t, found)
	assert.Equal(t, `"D"`, string(entry.Payload))
}

func TestBrokenBackendFailsSoft(t *testing.T) {
	store, backend, _ := newTestStore(time.Hour)
	ctx := context.Background()
	backend.fail = true

	assert.NotPanics(t, func() {
		store.Set(ctx, "GET /path", json.RawMessage(`1`))
	})
	_, found := store.Get(ctx, "GET /path")
	assert.False(t, found)
	assert.Zero(t, store.DeleteByPrefix(ctx, "GET /"))
}

func TestConcurrentAccess(t *testing.T) {
	store, _, _ := newTestStore(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			store.Set(ctx, "GET /resource?page=1", json.RawMessage(`1`))
		}()
		go func() {
			defer wg.Done()
			store.Get(ctx, "GET /resource?page=1")
		}()
		go func() {
			defer wg.Done()
			store.DeleteByPrefix(ctx, "GET /resource")
		}()
	}
	wg.Wait()
}

func TestSQLiteBackedStore(t *testing.T) {
	handle := storage.NewHandle(filepath.Join(t.TempDir(), "responses.db"))
	t.Cleanup(func() { _ = handle.Close(context.Background()) })

	clock := &fakeClock{now: time.Now()}
	store := New(handle, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	store.Set(ctx, "GET /api/tx?page=1", json.RawMessage(`{"ok":true}`))
	store.Set(ctx, "GET /api/tx?page=2", json.RawMessage(`{"ok":true}`))
	store.Set(ctx, "GET /api/budgets", json.RawMessage(`[]`))

	entry, found := store.Get(ctx, "GET /api/tx?page=1")
	require.True(t, found)
	assert.JSONEq(t, `{"ok":true}`, string(entry.Payload))

	assert.Equal(t, 2, store.DeleteByPrefix(ctx, "GET /api/tx"))

	clock.Advance(2 * time.Minute)
	_, found = store.Get(ctx, "GET /api/budgets")
	assert.False(t, found)

	keys, err := handle.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
