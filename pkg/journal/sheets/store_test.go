package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/journal"
)

type recordedCall struct {
	Method string
	Path   string
	Body   map[string]any
}

type fakeSheets struct {
	mu     sync.Mutex
	calls  []recordedCall
	values [][]any
	fail   int
}

func (f *fakeSheets) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &body); err != nil {
					t.Errorf("decode request body: %v", err)
				}
			}
		}
		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Body: body})
		fail := f.fail
		values := f.values
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail != 0 {
			w.WriteHeader(fail)
			_, _ = io.WriteString(w, `{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`)
			return
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v4/spreadsheets":
			_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-new"})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"updates": map[string]any{"updatedRange": "Journal!A7:I7"},
			})
		case r.Method == http.MethodPut:
			_ = json.NewEncoder(w).Encode(map[string]any{"updatedCells": 1})
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"range": "Journal!A2:I100", "values": values})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeSheets) lastCall() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestStore(t *testing.T, fake *fakeSheets, spreadsheetID string) *Store {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	s, err := New(context.Background(), spreadsheetID, nil,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestStore_ListEntriesDecodesRowsAndSkipsBlank(t *testing.T) {
	fake := &fakeSheets{values: [][]any{
		{"id-1", "2024-01-02T10:00:00Z", "bought coffee", "", "food", "note", "", "", ""},
		{},
		{"id-3", "2024-01-03T10:00:00Z", "pay rent", "", "", "task", "open", "2024-02-01", "high"},
	}}
	s := newTestStore(t, fake, "sheet-1")

	entries, err := s.ListEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 2, entries[0].Row)
	assert.Equal(t, "bought coffee", entries[0].Entry)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), entries[0].Timestamp)

	assert.Equal(t, 4, entries[1].Row, "blank rows keep row numbering")
	assert.Equal(t, "2024-02-01", entries[1].DueDate)
	assert.Equal(t, "high", entries[1].Priority)

	assert.Contains(t, fake.lastCall().Path, "/v4/spreadsheets/sheet-1/values/")
}

func TestStore_FindEntriesFiltersLocally(t *testing.T) {
	fake := &fakeSheets{values: [][]any{
		{"a", "2024-01-02T10:00:00Z", "Coffee with Ana"},
		{"b", "2024-01-03T10:00:00Z", "gym"},
		{"c", "2024-01-04T10:00:00Z", "coffee grinder"},
	}}
	s := newTestStore(t, fake, "sheet-1")

	got, err := s.FindEntries(context.Background(), journal.Query{Text: "coffee"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Row)
	assert.Equal(t, 4, got[1].Row)
}

func TestStore_AppendEntryUsesUpdatedRange(t *testing.T) {
	fake := &fakeSheets{}
	s := newTestStore(t, fake, "sheet-1")

	e, err := s.AppendEntry(context.Background(), journal.Entry{Entry: "walked the dog", Tags: "pets"})
	require.NoError(t, err)
	assert.Equal(t, 7, e.Row)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), e.Timestamp)

	call := fake.lastCall()
	assert.Equal(t, http.MethodPost, call.Method)
	values := call.Body["values"].([]any)
	row := values[0].([]any)
	assert.Equal(t, "walked the dog", row[2])
	assert.Equal(t, "pets", row[4])
}

func TestStore_UpdateFieldTargetsSingleCell(t *testing.T) {
	fake := &fakeSheets{}
	s := newTestStore(t, fake, "sheet-1")

	require.NoError(t, s.UpdateField(context.Background(), 5, journal.FieldTaskStatus, "done"))
	call := fake.lastCall()
	assert.Equal(t, http.MethodPut, call.Method)
	assert.True(t, strings.HasSuffix(call.Path, "Journal!G5"), "path %q", call.Path)

	err := s.UpdateField(context.Background(), 1, journal.FieldEntry, "x")
	assert.Equal(t, core.ErrInvalidRequest, core.TypeOf(err))
}

func TestStore_CreateSheetWritesHeaderAndSwitchesID(t *testing.T) {
	fake := &fakeSheets{}
	s := newTestStore(t, fake, "")

	_, err := s.ListEntries(context.Background())
	assert.Equal(t, core.ErrPrecondition, core.TypeOf(err))

	id, err := s.CreateSheet(context.Background(), "My Journal")
	require.NoError(t, err)
	assert.Equal(t, "sheet-new", id)
	assert.Equal(t, "sheet-new", s.SpreadsheetID())

	header := fake.lastCall()
	assert.Equal(t, http.MethodPut, header.Method)
	values := header.Body["values"].([]any)
	assert.Len(t, values[0].([]any), len(journal.Columns))
}

func TestStore_APIErrorIsStorageError(t *testing.T) {
	fake := &fakeSheets{fail: http.StatusForbidden}
	s := newTestStore(t, fake, "sheet-1")

	err := s.UpdateField(context.Background(), 3, journal.FieldTags, "x")
	require.Error(t, err)
	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.ErrStorage, ce.Type)
	assert.Equal(t, "403", ce.Code)
}

func TestFirstRow(t *testing.T) {
	row, ok := firstRow("Journal!A12:I12")
	assert.True(t, ok)
	assert.Equal(t, 12, row)

	_, ok = firstRow("garbage")
	assert.False(t, ok)
}
