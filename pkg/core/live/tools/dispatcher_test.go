package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/core/live/protocol"
	"github.com/vango-go/vai-journal/pkg/journal"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) FindEntries(ctx context.Context, q journal.Query) ([]journal.Entry, error) {
	args := m.Called(ctx, q)
	entries, _ := args.Get(0).([]journal.Entry)
	return entries, args.Error(1)
}

func (m *mockBackend) UpdateField(ctx context.Context, row int, field journal.Field, value string) error {
	return m.Called(ctx, row, field, value).Error(0)
}

type transcriptRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *transcriptRecorder) narrate(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *transcriptRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func coffeeEntries() []journal.Entry {
	return []journal.Entry{
		{Row: 3, ID: "a", Entry: "Coffee with Sam"},
		{Row: 8, ID: "b", Entry: "Bought coffee beans"},
		{Row: 12, ID: "c", Entry: "Too much COFFEE today"},
	}
}

func TestDispatch_FindEntriesRoundTrip(t *testing.T) {
	backend := &mockBackend{}
	rec := &transcriptRecorder{}
	d := NewDispatcher(backend, rec.narrate)

	backend.On("FindEntries", mock.Anything, journal.Query{Text: "coffee"}).
		Run(func(mock.Arguments) {
			// The narration must already be visible while storage is working.
			assert.Len(t, rec.snapshot(), 1)
		}).
		Return(coffeeEntries(), nil).Once()

	res := d.Call(context.Background(), protocol.ToolCall{
		ID:   "call-1",
		Name: protocol.ToolFindEntries,
		Args: map[string]any{"query": "coffee"},
	})

	require.False(t, res.IsError(), "unexpected error: %s", res.Err)
	assert.Equal(t, "call-1", res.ID)
	assert.Equal(t, protocol.ToolFindEntries, res.Name)
	entries, ok := res.Response["entries"].([]journal.Entry)
	require.True(t, ok)
	require.Len(t, entries, 3)
	assert.Equal(t, []int{3, 8, 12}, []int{entries[0].Row, entries[1].Row, entries[2].Row})

	lines := rec.snapshot()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Searching journal for")
	assert.Contains(t, lines[0], "coffee")
	backend.AssertExpectations(t)
}

func TestDispatch_FindEntriesNoArgsNarratesRecent(t *testing.T) {
	backend := &mockBackend{}
	rec := &transcriptRecorder{}
	d := NewDispatcher(backend, rec.narrate)

	backend.On("FindEntries", mock.Anything, journal.Query{}).Return(nil, nil).Once()

	res := d.Call(context.Background(), protocol.ToolCall{ID: "1", Name: protocol.ToolFindEntries})
	require.False(t, res.IsError())
	entries, ok := res.Response["entries"].([]journal.Entry)
	require.True(t, ok)
	assert.Empty(t, entries)
	assert.Equal(t, []string{"Looking up your most recent journal entries..."}, rec.snapshot())
}

func TestDispatch_StorageFailureBecomesToolError(t *testing.T) {
	backend := &mockBackend{}
	d := NewDispatcher(backend, nil)

	backend.On("FindEntries", mock.Anything, mock.Anything).
		Return(nil, core.NewStorageError("read journal", errors.New("googleapi: Error 403: forbidden"))).Once()

	res := d.Call(context.Background(), protocol.ToolCall{ID: "1", Name: protocol.ToolFindEntries, Args: map[string]any{"query": "x"}})
	require.True(t, res.IsError())
	assert.Contains(t, res.Err, "read journal")
	assert.Equal(t, map[string]any{"error": res.Err}, res.Payload())
}

func TestDispatch_UnknownFieldRejectedWithoutStorageCall(t *testing.T) {
	backend := &mockBackend{}
	rec := &transcriptRecorder{}
	d := NewDispatcher(backend, rec.narrate)

	res := d.Call(context.Background(), protocol.ToolCall{
		ID:   "u1",
		Name: protocol.ToolUpdateJournalEntry,
		Args: map[string]any{"row": float64(5), "field": "bogus", "value": "x"},
	})

	require.True(t, res.IsError())
	assert.Contains(t, res.Err, "unknown field")
	backend.AssertNotCalled(t, "UpdateField", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, rec.snapshot(), 1)
}

func TestDispatch_UpdateJournalEntry(t *testing.T) {
	backend := &mockBackend{}
	rec := &transcriptRecorder{}
	d := NewDispatcher(backend, rec.narrate)

	backend.On("UpdateField", mock.Anything, 5, journal.FieldTaskStatus, "done").Return(nil).Once()

	res := d.Call(context.Background(), protocol.ToolCall{
		ID:   "u1",
		Name: protocol.ToolUpdateJournalEntry,
		Args: map[string]any{"row": float64(5), "field": "taskStatus", "value": "done"},
	})

	require.False(t, res.IsError(), res.Err)
	assert.Equal(t, true, res.Response["success"])
	assert.Equal(t, []string{`Updating taskStatus of row 5 to "done"...`}, rec.snapshot())
	backend.AssertExpectations(t)
}

func TestDispatch_UpdateStorageFailure(t *testing.T) {
	backend := &mockBackend{}
	d := NewDispatcher(backend, nil)

	backend.On("UpdateField", mock.Anything, 9, journal.FieldTags, "work").
		Return(core.NewNotFoundError("row 9 does not exist")).Once()

	res := d.Call(context.Background(), protocol.ToolCall{
		ID:   "u2",
		Name: protocol.ToolUpdateJournalEntry,
		Args: map[string]any{"row": "9", "field": "tags", "value": "work"},
	})
	require.True(t, res.IsError())
	assert.Equal(t, "row 9 does not exist", res.Err)
}

func TestRowArg(t *testing.T) {
	cases := []struct {
		in      any
		want    int
		wantErr bool
	}{
		{in: float64(4), want: 4},
		{in: 7, want: 7},
		{in: int64(2), want: 2},
		{in: " 11 ", want: 11},
		{in: float64(2.5), wantErr: true},
		{in: float64(0), wantErr: true},
		{in: -3, wantErr: true},
		{in: "row five", wantErr: true},
		{in: nil, wantErr: true},
		{in: true, wantErr: true},
	}
	for _, tc := range cases {
		got, err := rowArg(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "rowArg(%v)", tc.in)
			assert.True(t, core.IsType(err, core.ErrInvalidRequest))
			continue
		}
		require.NoError(t, err, "rowArg(%v)", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestDispatch_ConcurrentCallsAnsweredOnceInOrder(t *testing.T) {
	backend := &mockBackend{}
	rec := &transcriptRecorder{}
	d := NewDispatcher(backend, rec.narrate)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	backend.On("FindEntries", mock.Anything, journal.Query{Text: "slow"}).
		Run(func(mock.Arguments) {
			started <- struct{}{}
			<-release
		}).
		Return(coffeeEntries()[:1], nil).Once()
	backend.On("UpdateField", mock.Anything, 3, journal.FieldPriority, "high").
		Run(func(mock.Arguments) { started <- struct{}{} }).
		Return(nil).Once()

	done := make(chan []protocol.ToolResult, 1)
	go func() {
		done <- d.Dispatch(context.Background(), []protocol.ToolCall{
			{ID: "a", Name: protocol.ToolFindEntries, Args: map[string]any{"query": "slow"}},
			{ID: "b", Name: protocol.ToolUpdateJournalEntry, Args: map[string]any{"row": 3, "field": "priority", "value": "high"}},
			{ID: "c", Name: "deleteEverything"},
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("calls did not run concurrently")
		}
	}
	close(release)

	var results []protocol.ToolResult
	select {
	case results = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Dispatch did not return")
	}
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{results[0].ID, results[1].ID, results[2].ID})
	assert.False(t, results[0].IsError())
	assert.False(t, results[1].IsError())
	assert.Contains(t, results[2].Err, "unknown tool")
	assert.Len(t, rec.snapshot(), 2)
	backend.AssertExpectations(t)
}

func TestDescribeFind(t *testing.T) {
	assert.Equal(t, `Searching journal for "tea", due 2024-01-01 to 2024-01-31...`,
		describeFind(journal.Query{Text: "tea", StartDate: "2024-01-01", EndDate: "2024-01-31"}))
	assert.Equal(t, "Searching journal for due by 2024-03-01...", describeFind(journal.Query{EndDate: "2024-03-01"}))
}
