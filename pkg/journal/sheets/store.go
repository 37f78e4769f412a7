// Package sheets stores journal entries as rows of a Google Sheet.
//
// The journal lives on a tab named "Journal". Row 1 is the header
// (journal.Columns) and every following row is one entry, so an entry's Row
// is its 1-based sheet row.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/journal"
)

// TabName is the sheet tab holding the journal.
const TabName = "Journal"

const (
	lastColumn       = "I"
	valueInputOption = "USER_ENTERED"
)

// Store implements journal.Store over the Sheets v4 API.
type Store struct {
	svc    *gsheets.Service
	logger *slog.Logger
	now    func() time.Time

	mu            sync.RWMutex
	spreadsheetID string
}

var _ journal.Store = (*Store)(nil)

// New creates a Store for spreadsheetID. Client options carry credentials
// (option.WithTokenSource) or test endpoints.
func New(ctx context.Context, spreadsheetID string, logger *slog.Logger, opts ...option.ClientOption) (*Store, error) {
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		svc:           svc,
		logger:        logger,
		now:           time.Now,
		spreadsheetID: spreadsheetID,
	}, nil
}

// SpreadsheetID returns the spreadsheet the store reads and writes.
func (s *Store) SpreadsheetID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spreadsheetID
}

func (s *Store) requireID() (string, error) {
	id := s.SpreadsheetID()
	if id == "" {
		return "", core.NewPreconditionError("no journal spreadsheet configured; run `vai-journal sheet create`")
	}
	return id, nil
}

// CreateSheet creates a spreadsheet with a Journal tab and header row, and
// points the store at it.
func (s *Store) CreateSheet(ctx context.Context, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", core.NewInvalidRequestErrorWithParam("title is required", "title")
	}
	created, err := s.svc.Spreadsheets.Create(&gsheets.Spreadsheet{
		Properties: &gsheets.SpreadsheetProperties{Title: title},
		Sheets: []*gsheets.Sheet{{
			Properties: &gsheets.SheetProperties{Title: TabName},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return "", storageError("create spreadsheet", err)
	}

	header := make([]any, len(journal.Columns))
	for i, c := range journal.Columns {
		header[i] = c
	}
	_, err = s.svc.Spreadsheets.Values.Update(created.SpreadsheetId, TabName+"!A1:"+lastColumn+"1", &gsheets.ValueRange{
		Values: [][]any{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return "", storageError("write header", err)
	}

	s.mu.Lock()
	s.spreadsheetID = created.SpreadsheetId
	s.mu.Unlock()
	s.logger.Info("journal spreadsheet created", "spreadsheet_id", created.SpreadsheetId, "title", title)
	return created.SpreadsheetId, nil
}

// ListEntries reads every entry row.
func (s *Store) ListEntries(ctx context.Context) ([]journal.Entry, error) {
	id, err := s.requireID()
	if err != nil {
		return nil, err
	}
	resp, err := s.svc.Spreadsheets.Values.Get(id, TabName+"!A2:"+lastColumn).Context(ctx).Do()
	if err != nil {
		return nil, storageError("read entries", err)
	}

	entries := make([]journal.Entry, 0, len(resp.Values))
	for i, cells := range resp.Values {
		if blank(cells) {
			continue
		}
		entries = append(entries, decodeRow(i+2, cells))
	}
	return entries, nil
}

// FindEntries lists entries and filters them locally.
func (s *Store) FindEntries(ctx context.Context, q journal.Query) ([]journal.Entry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	entries, err := s.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	return journal.Filter(entries, q)
}

// AppendEntry writes e as a new row after the last one.
func (s *Store) AppendEntry(ctx context.Context, e journal.Entry) (journal.Entry, error) {
	id, err := s.requireID()
	if err != nil {
		return journal.Entry{}, err
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		fresh := journal.NewEntry(e.Entry, s.now())
		if e.ID == "" {
			e.ID = fresh.ID
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = fresh.Timestamp
		}
	}

	resp, err := s.svc.Spreadsheets.Values.Append(id, TabName+"!A:"+lastColumn, &gsheets.ValueRange{
		Values: [][]any{encodeRow(e)},
	}).ValueInputOption(valueInputOption).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return journal.Entry{}, storageError("append entry", err)
	}
	if resp.Updates != nil {
		if row, ok := firstRow(resp.Updates.UpdatedRange); ok {
			e.Row = row
		}
	}
	s.logger.Debug("journal entry appended", "row", e.Row, "id", e.ID)
	return e, nil
}

// UpdateField overwrites a single cell.
func (s *Store) UpdateField(ctx context.Context, row int, field journal.Field, value string) error {
	id, err := s.requireID()
	if err != nil {
		return err
	}
	if row < 2 {
		return core.NewInvalidRequestErrorWithParam("row must be >= 2 (row 1 is the header)", "row")
	}
	col := field.Column()
	if col == "" {
		return core.NewInvalidRequestErrorWithParam(fmt.Sprintf("unknown field %q", field), "field")
	}

	cell := fmt.Sprintf("%s!%s%d", TabName, col, row)
	_, err = s.svc.Spreadsheets.Values.Update(id, cell, &gsheets.ValueRange{
		Values: [][]any{{value}},
	}).ValueInputOption(valueInputOption).Context(ctx).Do()
	if err != nil {
		return storageError("update "+string(field), err)
	}
	s.logger.Debug("journal entry updated", "row", row, "field", string(field))
	return nil
}

func encodeRow(e journal.Entry) []any {
	return []any{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.Entry,
		e.Summary,
		e.Tags,
		e.Type,
		e.TaskStatus,
		e.DueDate,
		e.Priority,
	}
}

func decodeRow(row int, cells []any) journal.Entry {
	cell := func(i int) string {
		if i >= len(cells) || cells[i] == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(cells[i]))
	}
	e := journal.Entry{
		Row:        row,
		ID:         cell(0),
		Entry:      cell(2),
		Summary:    cell(3),
		Tags:       cell(4),
		Type:       cell(5),
		TaskStatus: cell(6),
		DueDate:    cell(7),
		Priority:   cell(8),
	}
	if ts, err := time.Parse(time.RFC3339, cell(1)); err == nil {
		e.Timestamp = ts
	}
	return e
}

func blank(cells []any) bool {
	for _, c := range cells {
		if c != nil && strings.TrimSpace(fmt.Sprint(c)) != "" {
			return false
		}
	}
	return true
}

var rangeRowRE = regexp.MustCompile(`![A-Z]+(\d+)`)

// firstRow extracts the first row number from an A1 range like
// "Journal!A7:I7".
func firstRow(a1 string) (int, bool) {
	m := rangeRowRE.FindStringSubmatch(a1)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func storageError(op string, err error) error {
	ce := core.NewStorageError(op, err)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		ce.Code = strconv.Itoa(gerr.Code)
		if gerr.Message != "" {
			ce.Message = op + ": " + gerr.Message
		}
	}
	return ce
}
