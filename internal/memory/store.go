// Package memory keeps user context snapshots in an in-process SQLite
// database, apart from the response cache so that API traffic never
// evicts them. Nothing is written to disk; snapshots live as long as the
// process.
//
// It satisfies contextstore.DurableStore. Every row carries an absolute
// expiry; expired rows are invisible to Get and are purged on write.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// dsn names a private in-memory database. Each connection to it would see
// a fresh database, so the pool is pinned to one connection.
const dsn = ":memory:"

// Stats holds aggregate snapshot statistics.
type Stats struct {
	Snapshots int `json:"snapshots"`
	Expired   int `json:"expired"`
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is a key/value snapshot table backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens an empty in-memory snapshot database.
func New() (*Store, error) {
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			key        TEXT    PRIMARY KEY,
			value      BLOB    NOT NULL,
			expires_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_expires ON snapshots(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Snapshots ───────────────────────────────────────────────────────────────

// Get returns the value stored under key. An expired row reads as absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM snapshots WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memory: get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key for ttl, replacing any previous value, and
// drops rows that have already expired.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("memory: set %s: ttl must be positive", key)
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
		   expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		key, value, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("memory: set %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE expires_at <= ?`, now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("memory: purge: %w", err)
	}
	return tx.Commit()
}

// Stats counts live and expired rows.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
		 FROM snapshots`,
		s.now().UnixMilli(), s.now().UnixMilli(),
	).Scan(&st.Snapshots, &st.Expired)
	if err != nil {
		return Stats{}, fmt.Errorf("memory: stats: %w", err)
	}
	return st, nil
}
