package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/roomrelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL DEFAULT '',
	room       TEXT NOT NULL,
	nick       TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_events_room ON session_events(room, id DESC);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, id);
`

// SQLiteStore implements store.Journal for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup opens the database and runs setup instead of the built-in schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores a single entry and fills in its ID.
func (s *SQLiteStore) Append(ctx context.Context, e *store.Entry) error {
	query := `
		INSERT INTO session_events (session_id, room, nick, kind, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, e.SessionID, e.Room, e.Nick, string(e.Kind), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// ListByRoom returns the most recent entries for a room, newest first.
func (s *SQLiteStore) ListByRoom(ctx context.Context, room string, limit int) ([]*store.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, room, nick, kind, created_at
		FROM session_events
		WHERE room = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, room, limit)
	if err != nil {
		return nil, fmt.Errorf("query room events: %w", err)
	}
	return scanEntries(rows)
}

// ListBySession returns all entries for a session in insertion order.
func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string) ([]*store.Entry, error) {
	query := `
		SELECT id, session_id, room, nick, kind, created_at
		FROM session_events
		WHERE session_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*store.Entry, error) {
	defer rows.Close()

	entries := make([]*store.Entry, 0)
	for rows.Next() {
		var (
			e    store.Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Room, &e.Nick, &kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		e.Kind = store.EntryKind(kind)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session events: %w", err)
	}
	return entries, nil
}
