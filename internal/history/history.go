package history

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"StreamChat/internal/session"
)

// History answers browse and search queries over a Store
type History struct {
	store  Store
	logger *slog.Logger
}

// Page is one page of entries, most recent first
type Page struct {
	Number     int
	Size       int
	Total      int // entries in the whole history
	TotalPages int
	Entries    []session.HistoryEntry
	// First is the 1-based position of Entries[0] in browse order.
	First int
}

// SearchHit is a session containing the keyword, with the indexes of the
// messages that matched.
type SearchHit struct {
	Position int // 1-based, same numbering as Browse and Get
	Entry    session.HistoryEntry
	Matches  []int
}

// New wraps store.
func New(store Store, logger *slog.Logger) *History {
	return &History{store: store, logger: logger}
}

// Save appends entry to the store.
func (h *History) Save(ctx context.Context, entry session.HistoryEntry) error {
	return h.store.Save(ctx, entry)
}

// LoadAll returns every entry in storage order.
func (h *History) LoadAll(ctx context.Context) ([]session.HistoryEntry, error) {
	return h.store.LoadAll(ctx)
}

// Close closes the underlying store.
func (h *History) Close() error {
	return h.store.Close()
}

// Count returns the number of stored sessions.
func (h *History) Count(ctx context.Context) (int, error) {
	entries, err := h.store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// recent returns entries newest first: by start time, then by save order.
func (h *History) recent(ctx context.Context) ([]session.HistoryEntry, error) {
	entries, err := h.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]session.HistoryEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Browse returns page (1-based) of pageSize entries, most recent first. A page
// past the end is empty, not an error.
func (h *History) Browse(ctx context.Context, page, pageSize int) (Page, error) {
	if page < 1 || pageSize < 1 {
		return Page{}, ErrInvalidPage
	}
	entries, err := h.recent(ctx)
	if err != nil {
		return Page{}, err
	}

	p := Page{
		Number:     page,
		Size:       pageSize,
		Total:      len(entries),
		TotalPages: (len(entries) + pageSize - 1) / pageSize,
		Entries:    []session.HistoryEntry{},
	}
	start := (page - 1) * pageSize
	if start >= len(entries) {
		return p, nil
	}
	end := min(start+pageSize, len(entries))
	p.Entries = entries[start:end]
	p.First = start + 1
	return p, nil
}

// Get returns the entry at 1-based position n in browse order.
func (h *History) Get(ctx context.Context, n int) (session.HistoryEntry, error) {
	entries, err := h.recent(ctx)
	if err != nil {
		return session.HistoryEntry{}, err
	}
	if n < 1 || n > len(entries) {
		return session.HistoryEntry{}, ErrNotFound
	}
	return entries[n-1], nil
}

// Search returns the sessions with a message containing keyword, ignoring
// case, most recent first. A blank keyword matches nothing.
func (h *History) Search(ctx context.Context, keyword string) ([]SearchHit, error) {
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return []SearchHit{}, nil
	}

	entries, err := h.recent(ctx)
	if err != nil {
		return nil, err
	}

	hits := []SearchHit{}
	for i, e := range entries {
		var matches []int
		for j, msg := range e.Messages {
			if strings.Contains(strings.ToLower(msg.Content), needle) {
				matches = append(matches, j)
			}
		}
		if len(matches) > 0 {
			hits = append(hits, SearchHit{Position: i + 1, Entry: e, Matches: matches})
		}
	}

	h.logger.Debug("history searched", "keyword", keyword, "hits", len(hits))
	return hits, nil
}
