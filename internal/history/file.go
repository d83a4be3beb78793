package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"StreamChat/internal/session"
)

// FileStore keeps the whole history as one JSON array. Writes go to a temp
// file in the same directory which is renamed over the store, so a crash
// leaves either the old or the new contents.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore returns a store backed by path. The file is created on first save.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("history file path is empty")
	}
	return &FileStore{path: path, logger: logger}, nil
}

// Path returns the store location.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) lock() *flock.Flock {
	return flock.New(f.path + ".lock")
}

// LoadAll reads every entry under a shared lock.
func (f *FileStore) LoadAll(ctx context.Context) ([]session.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return []session.HistoryEntry{}, nil
	}

	lock := f.lock()
	if err := lock.RLock(); err != nil {
		return nil, &StorageError{Op: "lock", Path: f.path, Err: err}
	}
	defer lock.Unlock()

	return f.read()
}

func (f *FileStore) read() ([]session.HistoryEntry, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []session.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Path: f.path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []session.HistoryEntry{}, nil
	}

	var entries []session.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &StorageError{Op: "parse", Path: f.path, Err: err}
	}
	if entries == nil {
		entries = []session.HistoryEntry{}
	}
	return entries, nil
}

// Save appends entry under an exclusive lock. A store that cannot be parsed is
// left untouched and reported as a StorageError.
func (f *FileStore) Save(ctx context.Context, entry session.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return &StorageError{Op: "save", Path: f.path, Err: err}
	}

	lock := f.lock()
	if err := lock.Lock(); err != nil {
		return &StorageError{Op: "lock", Path: f.path, Err: err}
	}
	defer lock.Unlock()

	entries, err := f.read()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	if err := f.writeAtomic(entries); err != nil {
		return &StorageError{Op: "save", Path: f.path, Err: err}
	}

	f.logger.Info("session saved", "path", f.path, "session_id", entry.SessionID, "entries", len(entries))
	return nil
}

func (f *FileStore) writeAtomic(entries []session.HistoryEntry) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	renamed := false
	defer func() {
		if !renamed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	renamed = true
	return nil
}

// Close is a no-op; FileStore holds no open handles between calls.
func (f *FileStore) Close() error { return nil }
