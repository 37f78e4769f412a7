package journal

import (
	"sort"
	"strings"
	"time"

	"github.com/vango-go/vai-journal/pkg/core"
)

// DefaultRecentLimit is how many entries an unfiltered search returns.
const DefaultRecentLimit = 5

// Query selects entries. Empty fields do not filter.
type Query struct {
	Text      string `json:"query,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// IsZero reports whether q applies no filter at all.
func (q Query) IsZero() bool {
	return strings.TrimSpace(q.Text) == "" && strings.TrimSpace(q.StartDate) == "" && strings.TrimSpace(q.EndDate) == ""
}

func (q Query) hasDates() bool {
	return strings.TrimSpace(q.StartDate) != "" || strings.TrimSpace(q.EndDate) != ""
}

// Validate checks the date bounds.
func (q Query) Validate() error {
	if _, err := parseBound(q.StartDate, "startDate"); err != nil {
		return err
	}
	if _, err := parseBound(q.EndDate, "endDate"); err != nil {
		return err
	}
	return nil
}

func parseBound(s, param string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, core.NewInvalidRequestErrorWithParam(param+" must be YYYY-MM-DD", param)
	}
	return &t, nil
}

// Filter applies q to entries and returns the matches.
//
// Text is a case-insensitive substring match against the entry text. Date
// bounds are inclusive and match against the due date; entries without a
// due date never match a date-filtered query. A zero query returns the
// DefaultRecentLimit most recent entries by timestamp, newest first.
func Filter(entries []Entry, q Query) ([]Entry, error) {
	if q.IsZero() {
		return Recent(entries, DefaultRecentLimit), nil
	}

	start, err := parseBound(q.StartDate, "startDate")
	if err != nil {
		return nil, err
	}
	end, err := parseBound(q.EndDate, "endDate")
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if needle != "" && !strings.Contains(strings.ToLower(e.Entry), needle) {
			continue
		}
		if q.hasDates() {
			due, ok := e.Due()
			if !ok {
				continue
			}
			if start != nil && due.Before(*start) {
				continue
			}
			if end != nil && due.After(*end) {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// Recent returns up to limit entries ordered by timestamp, newest first.
// Ties keep the later sheet row first.
func Recent(entries []Entry, limit int) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Row > sorted[j].Row
		}
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
