package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleOpensLazily(t *testing.T) {
	var opens atomic.Int32
	path := filepath.Join(t.TempDir(), "responses.db")
	h := NewHandle(path)
	h.open = func(p string) (*SQLiteStore, error) {
		opens.Add(1)
		return Open(p)
	}
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	assert.Equal(t, int32(0), opens.Load())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := h.Acquire(context.Background())
			if assert.NoError(t, err) {
				release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opens.Load())
	assert.Equal(t, 0, h.Refs())
}

func TestHandleRetriesFailedOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.db")
	h := NewHandle(path)
	fail := true
	h.open = func(p string) (*SQLiteStore, error) {
		if fail {
			return nil, unavailable("open", errors.New("disk on fire"))
		}
		return Open(p)
	}
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	_, _, err := h.Acquire(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)

	fail = false
	_, release, err := h.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	h := NewHandle(filepath.Join(t.TempDir(), "responses.db"))
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	_, release, err := h.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.Refs())
	release()
	release()
	assert.Equal(t, 0, h.Refs())
}

func TestHandleCloseWaitsForReferences(t *testing.T) {
	h := NewHandle(filepath.Join(t.TempDir(), "responses.db"))

	store, release, err := h.Acquire(context.Background())
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- h.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close returned while a reference was outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	// the outstanding reference is still usable
	require.NoError(t, store.Put(context.Background(), Record{Key: "k", Payload: []byte(`1`)}))

	release()
	require.NoError(t, <-closed)

	_, _, err = h.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHandleCloseHonoursContext(t *testing.T) {
	h := NewHandle(filepath.Join(t.TempDir(), "responses.db"))
	_, release, err := h.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Close(ctx), context.DeadlineExceeded)
}

func TestHandleBackendOperations(t *testing.T) {
	h := NewHandle(filepath.Join(t.TempDir(), "responses.db"))
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	ctx := context.Background()

	require.NoError(t, h.Put(ctx, Record{Key: "GET /a", Payload: []byte(`1`)}))
	require.NoError(t, h.Put(ctx, Record{Key: "GET /b", Payload: []byte(`2`)}))

	keys, err := h.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /a", "GET /b"}, keys)

	require.NoError(t, h.Delete(ctx, "GET /a"))
	_, found, err := h.Get(ctx, "GET /a")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, h.Refs())
}
