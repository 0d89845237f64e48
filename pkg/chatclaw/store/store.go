// Package store provides the keyed-JSON persistence layer backed by the
// central chatclaw.db SQLite database. Records are grouped into buckets
// (thread registry, transcription cache) and stored as opaque JSON blobs,
// so callers own their own schemas.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a bucketed key→JSON store on top of SQLite.
// Safe for concurrent use from multiple goroutines.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// Open opens (or creates) the SQLite database at path and ensures the
// kv table exists. Use ":memory:" for an ephemeral store in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = path
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent orchestration flows.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			bucket     TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (bucket, key)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Put serializes value as JSON and upserts it under (bucket, key).
func (s *Store) Put(bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s/%s: %w", bucket, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO kv (bucket, key, value, updated_at)
		VALUES (?, ?, ?, ?)`,
		bucket, key, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get reads the record under (bucket, key) into out.
// Returns false with a nil error when the key does not exist.
func (s *Store) Get(bucket, key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT value FROM kv WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("unmarshaling %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// Delete removes the record under (bucket, key). Missing keys are a no-op.
func (s *Store) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM kv WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// List returns all records in a bucket, keyed by their store key.
func (s *Store) List(bucket string) (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT key, value FROM kv WHERE bucket = ?`, bucket)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", bucket, err)
		}
		out[key] = json.RawMessage(raw)
	}
	return out, rows.Err()
}

// Count returns the number of records in a bucket.
func (s *Store) Count(bucket string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM kv WHERE bucket = ?`, bucket).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", bucket, err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
