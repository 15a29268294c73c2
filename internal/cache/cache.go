// Handles caching of decoded API responses
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/iTrooz/offline-cache/internal/storage"
)

// Backend is the durable key-value primitive the store is built on.
// Every error it returns is treated as "storage unavailable".
type Backend interface {
	// returns found=false, err=nil when the key does not exist
	Get(ctx context.Context, key string) (storage.Record, bool, error)
	// replaces any record already stored under rec.Key
	Put(ctx context.Context, rec storage.Record) error
	// deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Entry is a cached, decoded GET result.
type Entry struct {
	Key      string
	Payload  json.RawMessage
	StoredAt time.Time
}

// Age returns how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}
