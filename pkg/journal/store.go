package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-journal/pkg/core"
)

// Searcher finds entries matching a query.
type Searcher interface {
	FindEntries(ctx context.Context, q Query) ([]Entry, error)
}

// Updater rewrites one field of the entry at row.
type Updater interface {
	UpdateField(ctx context.Context, row int, field Field, value string) error
}

// Store is the full journal storage surface.
type Store interface {
	Searcher
	Updater
	// CreateSheet creates a new journal spreadsheet and returns its id.
	CreateSheet(ctx context.Context, title string) (string, error)
	ListEntries(ctx context.Context) ([]Entry, error)
	// AppendEntry stores e as a new row and returns it with Row and ID set.
	AppendEntry(ctx context.Context, e Entry) (Entry, error)
}

// NewEntry fills in the id and timestamp for a new entry.
func NewEntry(text string, now time.Time) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		Entry:     text,
	}
}

// MemoryStore is an in-process Store used for offline runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewMemoryStore returns a store preloaded with entries. Rows are assigned
// from 2 in the given order.
func NewMemoryStore(entries ...Entry) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for _, e := range entries {
		e.Row = len(s.entries) + 2
		s.entries = append(s.entries, e)
	}
	return s
}

func (s *MemoryStore) CreateSheet(_ context.Context, title string) (string, error) {
	if title == "" {
		return "", core.NewInvalidRequestErrorWithParam("title is required", "title")
	}
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	return "memory-" + uuid.NewString(), nil
}

func (s *MemoryStore) ListEntries(context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *MemoryStore) AppendEntry(_ context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	e.Row = len(s.entries) + 2
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *MemoryStore) UpdateField(_ context.Context, row int, field Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := row - 2
	if idx < 0 || idx >= len(s.entries) {
		return core.NewNotFoundError("no journal entry at that row")
	}
	s.entries[idx].Set(field, value)
	return nil
}

func (s *MemoryStore) FindEntries(ctx context.Context, q Query) ([]Entry, error) {
	entries, err := s.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(entries, q)
}
