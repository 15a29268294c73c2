// Package storage is the durable key-value primitive behind the response cache.
//
// Records live in a single SQLite table. Every operation is its own statement,
// hence its own transaction; nothing here coordinates across operations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iTrooz/offline-cache/internal/storage/migrations"
)

// ErrUnavailable wraps every storage failure. Callers on the caching path
// treat it as a miss (reads) or a no-op (writes).
var ErrUnavailable = errors.New("storage unavailable")

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Record is one row of the responses table.
type Record struct {
	Key      string
	Payload  []byte
	StoredAt time.Time
}

// SQLiteStore is a SQLite-backed key-value store.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, unavailable("open", errors.New("storage path is required"))
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, unavailable("create storage directory", err)
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open sqlite db", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, unavailable("ping sqlite db", err)
	}

	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, unavailable("run migrations", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get loads the record stored under key. found is false when no row exists.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, payload, stored_at FROM responses WHERE key = ?`, key)

	var rec Record
	var storedAt int64
	if err := row.Scan(&rec.Key, &rec.Payload, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, unavailable("get", err)
	}
	rec.StoredAt = time.UnixMilli(storedAt).UTC()
	return rec, true, nil
}

// Put upserts rec. An existing row for the same key is replaced.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	if rec.Key == "" {
		return unavailable("put", errors.New("key is required"))
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (key, payload, stored_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		    payload = excluded.payload,
		    stored_at = excluded.stored_at`,
		rec.Key, rec.Payload, rec.StoredAt.UTC().UnixMilli(),
	)
	if err != nil {
		return unavailable("put", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE key = ?`, key); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Keys lists every stored key.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM responses ORDER BY key`)
	if err != nil {
		return nil, unavailable("keys", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, unavailable("scan key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate keys", err)
	}
	return keys, nil
}
