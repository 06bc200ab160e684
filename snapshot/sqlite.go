package snapshot

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshots in a single SQLite file. WAL mode lets a
// metrics scraper read the file while the hub writes.
type SQLiteStore struct {
	db     *sql.DB
	retain int
}

// NewSQLiteStore opens (or creates) the snapshot database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &SQLiteStore{db: db, retain: 10}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate snapshot db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS snapshots (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		component TEXT NOT NULL,
		taken_at  TEXT NOT NULL,
		state     BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_component ON snapshots(component, id);
	`)
	return err
}

// Save appends a snapshot and prunes old rows beyond the retention count.
func (s *SQLiteStore) Save(state *State) error {
	blob, err := state.Encode()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO snapshots (component, taken_at, state) VALUES (?, ?, ?)`,
		state.Component, state.TakenAt.UTC().Format(time.RFC3339Nano), blob,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	_, _ = s.db.Exec(
		`DELETE FROM snapshots WHERE component = ? AND id NOT IN (
			SELECT id FROM snapshots WHERE component = ? ORDER BY id DESC LIMIT ?
		)`,
		state.Component, state.Component, s.retain,
	)
	return nil
}

// Load returns the newest snapshot for the hub component.
func (s *SQLiteStore) Load() (*State, error) {
	var blob []byte
	err := s.db.QueryRow(
		`SELECT state FROM snapshots WHERE component = ? ORDER BY id DESC LIMIT 1`,
		Component,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return Decode(blob)
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
