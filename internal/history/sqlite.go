package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"StreamChat/internal/session"
)

// SQLiteStore keeps history in a SQLite database, one transaction per session
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}

	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		started_at TEXT NOT NULL,
		model TEXT,
		stats TEXT
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		role TEXT,
		content TEXT,
		FOREIGN KEY(session_id) REFERENCES sessions(id)
	);`

	if _, err := db.Exec(createSessionsTable); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Path: path, Err: fmt.Errorf("failed to create sessions table: %w", err)}
	}
	if _, err := db.Exec(createMessagesTable); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Path: path, Err: fmt.Errorf("failed to create messages table: %w", err)}
	}

	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

// Save inserts the session and its messages in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, entry session.HistoryEntry) error {
	stats, err := json.Marshal(entry.Stats)
	if err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO sessions (id, started_at, model, stats) VALUES (?, ?, ?, ?)",
		entry.SessionID, entry.StartedAt.Format(time.RFC3339Nano), entry.Model, string(stats),
	)
	if err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: fmt.Errorf("failed to save session: %w", err)}
	}

	for i, msg := range entry.Messages {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, position, role, content) VALUES (?, ?, ?, ?)",
			entry.SessionID, i, msg.Role, msg.Content,
		)
		if err != nil {
			return &StorageError{Op: "save", Path: s.path, Err: fmt.Errorf("failed to save message: %w", err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}

	s.logger.Info("session saved", "path", s.path, "session_id", entry.SessionID, "message_count", len(entry.Messages))
	return nil
}

// LoadAll returns every session in insertion order.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]session.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, started_at, model, stats FROM sessions ORDER BY seq")
	if err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: err}
	}
	defer rows.Close()

	entries := []session.HistoryEntry{}
	index := map[string]int{}
	for rows.Next() {
		var (
			e                   session.HistoryEntry
			startedAt           string
			model, statsPayload sql.NullString
		)
		if err := rows.Scan(&e.SessionID, &startedAt, &model, &statsPayload); err != nil {
			return nil, &StorageError{Op: "load", Path: s.path, Err: fmt.Errorf("failed to scan session: %w", err)}
		}
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, &StorageError{Op: "load", Path: s.path, Err: fmt.Errorf("bad started_at for %s: %w", e.SessionID, err)}
		}
		e.Model = model.String
		if statsPayload.Valid && statsPayload.String != "" {
			if err := json.Unmarshal([]byte(statsPayload.String), &e.Stats); err != nil {
				return nil, &StorageError{Op: "load", Path: s.path, Err: fmt.Errorf("bad stats for %s: %w", e.SessionID, err)}
			}
		}
		e.Messages = []session.Message{}
		index[e.SessionID] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: err}
	}

	msgRows, err := s.db.QueryContext(ctx, "SELECT session_id, role, content FROM messages ORDER BY session_id, position")
	if err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: err}
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var (
			sessionID string
			msg       session.Message
		)
		if err := msgRows.Scan(&sessionID, &msg.Role, &msg.Content); err != nil {
			return nil, &StorageError{Op: "load", Path: s.path, Err: fmt.Errorf("failed to scan message: %w", err)}
		}
		i, ok := index[sessionID]
		if !ok {
			s.logger.Warn("message without session", "session_id", sessionID)
			continue
		}
		entries[i].Messages = append(entries[i].Messages, msg)
	}
	if err := msgRows.Err(); err != nil {
		return nil, &StorageError{Op: "load", Path: s.path, Err: err}
	}

	return entries, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
