package protocol

import (
	"strings"
)

const (
	ToolFindEntries        = "findEntries"
	ToolUpdateJournalEntry = "updateJournalEntry"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers one ToolCall. Exactly one of Response or Err is set.
type ToolResult struct {
	ID       string
	Name     string
	Response map[string]any
	Err      string
}

// Payload is the response object sent back to the model.
func (r ToolResult) Payload() map[string]any {
	if r.Err != "" {
		return map[string]any{"error": r.Err}
	}
	if r.Response == nil {
		return map[string]any{}
	}
	return r.Response
}

// IsError reports whether the result carries an error.
func (r ToolResult) IsError() bool {
	return r.Err != ""
}

// Schema is the subset of OpenAPI schema the tool declarations use.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// ToolDeclaration describes a callable function to the model.
type ToolDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// JournalTools returns the declarations for findEntries and
// updateJournalEntry. fields is the enumerated set of editable columns.
func JournalTools(fields []string) []ToolDeclaration {
	return []ToolDeclaration{
		{
			Name:        ToolFindEntries,
			Description: "Search the user's journal. With no arguments returns the 5 most recent entries. Each result includes its row number, which updateJournalEntry needs.",
			Parameters: &Schema{
				Type: "OBJECT",
				Properties: map[string]*Schema{
					"query":     {Type: "STRING", Description: "Case-insensitive text to look for in the entry text."},
					"startDate": {Type: "STRING", Description: "Earliest due date to include, YYYY-MM-DD."},
					"endDate":   {Type: "STRING", Description: "Latest due date to include, YYYY-MM-DD."},
				},
			},
		},
		{
			Name:        ToolUpdateJournalEntry,
			Description: "Change one field of a journal entry identified by its row number.",
			Parameters: &Schema{
				Type: "OBJECT",
				Properties: map[string]*Schema{
					"row":   {Type: "INTEGER", Description: "Spreadsheet row of the entry, as returned by findEntries."},
					"field": {Type: "STRING", Description: "Field to change: " + strings.Join(fields, ", ") + ".", Enum: fields},
					"value": {Type: "STRING", Description: "New value for the field."},
				},
				Required: []string{"row", "field", "value"},
			},
		},
	}
}
