package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5000

// Store wraps the SQLite handle that backs the presence journal.
type Store struct {
	db *sql.DB
}

// Transition is one recorded presence change of a user.
type Transition struct {
	ID     int64
	UserID string
	Online bool
	At     time.Time
}

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "presencehub.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=journal_mode=WAL", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS presence_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			online INTEGER NOT NULL,
			at_unix_nano INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS presence_transitions_user
			ON presence_transitions(user_id, id);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertTransition appends one presence change.
func (s *Store) InsertTransition(ctx context.Context, t Transition) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO presence_transitions(user_id, online, at_unix_nano) VALUES(?, ?, ?)`,
		t.UserID, t.Online, t.At.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert transition: %w", err)
	}
	return result.LastInsertId()
}

// ListTransitions returns up to limit transitions of userID, newest first.
func (s *Store) ListTransitions(ctx context.Context, userID string, limit int) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, online, at_unix_nano
		FROM presence_transitions
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()
	transitions := make([]Transition, 0)
	for rows.Next() {
		var (
			t  Transition
			at int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Online, &at); err != nil {
			return nil, err
		}
		t.At = time.Unix(0, at).UTC()
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
