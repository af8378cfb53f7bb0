// Package audit keeps a persistent log of remote actions (pointer input,
// terminal sessions, file writes) in SQLite.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DefaultRecent is the number of entries /log returns by default.
const DefaultRecent = 50

// Event is one audit entry.
type Event struct {
	ID      int64          `json:"id"`
	Time    time.Time      `json:"ts"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Log records and queries audit events.
type Log interface {
	Record(ctx context.Context, kind, message string, fields map[string]any) error
	Recent(ctx context.Context, n int) ([]Event, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	fields TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
`

// Store is a SQLite-backed Log.
type Store struct {
	db   *sql.DB
	path string

	stmtInsert *sql.Stmt
	stmtRecent *sql.Stmt
}

// Open opens (creating if needed) the audit database at path. Use
// ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("failed to set pragma")
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init audit schema: %w", err)
	}

	s := &Store{db: db, path: path}
	if s.stmtInsert, err = db.Prepare(`INSERT INTO events (ts, kind, message, fields) VALUES (?, ?, ?, ?)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	if s.stmtRecent, err = db.Prepare(`SELECT id, ts, kind, message, fields FROM events ORDER BY id DESC LIMIT ?`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	log.Debug().Str("path", path).Msg("audit log opened")
	return s, nil
}

// Record appends an event.
func (s *Store) Record(ctx context.Context, kind, message string, fields map[string]any) error {
	var encoded sql.NullString
	if len(fields) > 0 {
		data, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode audit fields: %w", err)
		}
		encoded = sql.NullString{String: string(data), Valid: true}
	}
	if _, err := s.stmtInsert.ExecContext(ctx, time.Now().UnixMilli(), kind, message, encoded); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns the newest n events, oldest first. n <= 0 means
// DefaultRecent.
func (s *Store) Recent(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		n = DefaultRecent
	}
	rows, err := s.stmtRecent.QueryContext(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			ts     int64
			fields sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &e.Message, &fields); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Time = time.UnixMilli(ts).UTC()
		if fields.Valid {
			if err := json.Unmarshal([]byte(fields.String), &e.Fields); err != nil {
				log.Debug().Err(err).Int64("id", e.ID).Msg("corrupt audit fields")
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Close releases the database.
func (s *Store) Close() error {
	_ = s.stmtInsert.Close()
	_ = s.stmtRecent.Close()
	return s.db.Close()
}

// Memory is an in-process Log used when persistence is disabled. It keeps
// at most capacity events.
type Memory struct {
	mu       sync.Mutex
	events   []Event
	nextID   int64
	capacity int
}

// NewMemory creates a Memory log. capacity <= 0 means DefaultRecent.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultRecent
	}
	return &Memory{capacity: capacity}
}

// Record appends an event, evicting the oldest beyond capacity.
func (m *Memory) Record(_ context.Context, kind, message string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.events = append(m.events, Event{
		ID:      m.nextID,
		Time:    time.Now().UTC(),
		Kind:    kind,
		Message: message,
		Fields:  fields,
	})
	if over := len(m.events) - m.capacity; over > 0 {
		m.events = append(m.events[:0], m.events[over:]...)
	}
	return nil
}

// Recent returns the newest n events, oldest first.
func (m *Memory) Recent(_ context.Context, n int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		n = DefaultRecent
	}
	start := len(m.events) - n
	if start < 0 {
		start = 0
	}
	out := make([]Event, len(m.events)-start)
	copy(out, m.events[start:])
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
