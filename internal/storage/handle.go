package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var errHandleClosed = errors.New("handle closed")

// Handle lazily opens the shared SQLiteStore and counts its users.
//
// The store is opened on the first Acquire. A failed open is not remembered,
// so the next Acquire tries again. Close stops new acquisitions and closes the
// connection once the last outstanding reference is released.
type Handle struct {
	path string
	open func(path string) (*SQLiteStore, error)

	mu      sync.Mutex
	store   *SQLiteStore
	refs    int
	closing bool
	drained chan struct{}
}

// NewHandle returns a handle for the database at path. Nothing is opened yet.
func NewHandle(path string) *Handle {
	return &Handle{path: path, open: Open}
}

// Acquire returns the shared store and a release func that must be called
// once the caller is done with it.
func (h *Handle) Acquire(ctx context.Context) (*SQLiteStore, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, unavailable("acquire", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return nil, nil, unavailable("acquire", errHandleClosed)
	}
	if h.store == nil {
		store, err := h.open(h.path)
		if err != nil {
			return nil, nil, err
		}
		logrus.Debugf("Opened response store at %s", h.path)
		h.store = store
	}
	h.refs++

	var once sync.Once
	return h.store, func() { once.Do(h.release) }, nil
}

func (h *Handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.refs--
	if h.refs == 0 && h.closing {
		h.closeLocked()
	}
}

// closeLocked must be called with mu held and no outstanding references.
func (h *Handle) closeLocked() {
	if h.store != nil {
		if err := h.store.Close(); err != nil {
			logrus.Errorf("Failed to close response store %s: %v", h.path, err)
		}
		h.store = nil
	}
	if h.drained != nil {
		close(h.drained)
		h.drained = nil
	}
}

// Close waits until every acquired reference is released, then closes the store.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil
	}
	h.closing = true
	if h.refs == 0 {
		h.closeLocked()
		h.mu.Unlock()
		return nil
	}
	drained := make(chan struct{})
	h.drained = drained
	h.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refs reports the number of outstanding references.
func (h *Handle) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// Get implements the cache backend by acquiring the store for one operation.
func (h *Handle) Get(ctx context.Context, key string) (Record, bool, error) {
	store, release, err := h.Acquire(ctx)
	if err != nil {
		return Record{}, false, err
	}
	defer release()
	return store.Get(ctx, key)
}

// Put implements the cache backend by acquiring the store for one operation.
func (h *Handle) Put(ctx context.Context, rec Record) error {
	store, release, err := h.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return store.Put(ctx, rec)
}

// Delete implements the cache backend by acquiring the store for one operation.
func (h *Handle) Delete(ctx context.Context, key string) error {
	store, release, err := h.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return store.Delete(ctx, key)
}

// Keys implements the cache backend by acquiring the store for one operation.
func (h *Handle) Keys(ctx context.Context) ([]string, error) {
	store, release, err := h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return store.Keys(ctx)
}
