package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/journal"
)

type updateArgs struct {
	row   int
	field journal.Field
	value string
}

func parseFindArgs(args map[string]any) (journal.Query, error) {
	var q journal.Query
	var err error
	if q.Text, err = optionalString(args, "query"); err != nil {
		return q, err
	}
	if q.StartDate, err = optionalString(args, "startDate"); err != nil {
		return q, err
	}
	if q.EndDate, err = optionalString(args, "endDate"); err != nil {
		return q, err
	}
	return q, nil
}

func parseUpdateArgs(args map[string]any) (updateArgs, error) {
	var out updateArgs

	row, err := rowArg(args["row"])
	if err != nil {
		return out, err
	}
	out.row = row

	rawField, ok := args["field"].(string)
	if !ok || strings.TrimSpace(rawField) == "" {
		return out, core.NewInvalidRequestErrorWithParam("field is required", "field")
	}
	field, err := journal.ParseField(strings.TrimSpace(rawField))
	if err != nil {
		return out, core.NewInvalidRequestErrorWithParam(err.Error(), "field")
	}
	out.field = field

	value, ok := args["value"]
	if !ok || value == nil {
		return out, core.NewInvalidRequestErrorWithParam("value is required", "value")
	}
	switch v := value.(type) {
	case string:
		out.value = v
	case float64, int, int64, bool:
		out.value = fmt.Sprint(v)
	default:
		return out, core.NewInvalidRequestErrorWithParam("value must be a string", "value")
	}
	return out, nil
}

func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", core.NewInvalidRequestErrorWithParam(key+" must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

// rowArg accepts the JSON number the model normally sends as well as ints
// and numeric strings.
func rowArg(v any) (int, error) {
	var row int
	switch n := v.(type) {
	case nil:
		return 0, core.NewInvalidRequestErrorWithParam("row is required", "row")
	case float64:
		if n != math.Trunc(n) {
			return 0, core.NewInvalidRequestErrorWithParam("row must be a whole number", "row")
		}
		row = int(n)
	case int:
		row = n
	case int64:
		row = int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, core.NewInvalidRequestErrorWithParam("row must be a number", "row")
		}
		row = parsed
	default:
		return 0, core.NewInvalidRequestErrorWithParam("row must be a number", "row")
	}
	if row <= 0 {
		return 0, core.NewInvalidRequestErrorWithParam("row must be > 0", "row")
	}
	return row, nil
}
