// Package journal defines journal entries as they are stored in a
// spreadsheet and the storage operations the rest of the module consumes.
package journal

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the format used for due dates and date-range filters.
const DateLayout = "2006-01-02"

// Entry is one journal row. Row is the 1-based spreadsheet row and is the
// stable target for updates; row 1 holds the header.
type Entry struct {
	Row        int       `json:"row"`
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Entry      string    `json:"entry"`
	Summary    string    `json:"summary,omitempty"`
	Tags       string    `json:"tags,omitempty"`
	Type       string    `json:"type,omitempty"`
	TaskStatus string    `json:"taskStatus,omitempty"`
	DueDate    string    `json:"dueDate,omitempty"`
	Priority   string    `json:"priority,omitempty"`
}

// Field names an editable column.
type Field string

const (
	FieldEntry      Field = "entry"
	FieldTags       Field = "tags"
	FieldType       Field = "type"
	FieldTaskStatus Field = "taskStatus"
	FieldDueDate    Field = "dueDate"
	FieldPriority   Field = "priority"
)

// Fields lists the editable fields in column order.
var Fields = []Field{FieldEntry, FieldTags, FieldType, FieldTaskStatus, FieldDueDate, FieldPriority}

// ParseField returns the Field named s. Matching is exact.
func ParseField(s string) (Field, error) {
	for _, f := range Fields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown field %q (want one of %s)", s, FieldNames())
}

// FieldNames renders the editable field names as a comma separated list.
func FieldNames() string {
	names := make([]string, len(Fields))
	for i, f := range Fields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// Columns is the sheet header, in column order A..I.
var Columns = []string{"id", "timestamp", "entry", "summary", "tags", "type", "taskStatus", "dueDate", "priority"}

// Column returns the A1 column letter holding f.
func (f Field) Column() string {
	for i, name := range Columns {
		if name == string(f) {
			return string(rune('A' + i))
		}
	}
	return ""
}

// Set writes value into the field f of e.
func (e *Entry) Set(f Field, value string) {
	switch f {
	case FieldEntry:
		e.Entry = value
	case FieldTags:
		e.Tags = value
	case FieldType:
		e.Type = value
	case FieldTaskStatus:
		e.TaskStatus = value
	case FieldDueDate:
		e.DueDate = value
	case FieldPriority:
		e.Priority = value
	}
}

// Due parses DueDate. ok is false when the entry has no parseable due date.
func (e Entry) Due() (t time.Time, ok bool) {
	s := strings.TrimSpace(e.DueDate)
	if s == "" {
		return time.Time{}, false
	}
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
