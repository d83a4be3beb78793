package history

import (
	"context"
	"errors"
	"fmt"

	"StreamChat/internal/session"
)

var (
	// ErrInvalidPage is returned by Browse for a page or page size below 1.
	ErrInvalidPage = errors.New("page and page size must be at least 1")
	// ErrNotFound is returned by Get for a position outside the history.
	ErrNotFound = errors.New("history entry not found")
)

// StorageError reports an unreadable or unwritable history store. It is fatal
// for history operations only.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is an append-only collection of completed sessions. LoadAll returns
// entries in the order they were saved; a store that does not exist yet is empty.
type Store interface {
	Save(ctx context.Context, entry session.HistoryEntry) error
	LoadAll(ctx context.Context) ([]session.HistoryEntry, error)
	Close() error
}
