// Package tools answers the model's function calls against the journal.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/core/live/protocol"
	"github.com/vango-go/vai-journal/pkg/journal"
)

// DefaultTimeout bounds one storage call.
const DefaultTimeout = 20 * time.Second

// Narrator receives the system transcript line for a call before it runs.
type Narrator func(line string)

// Backend is the storage the dispatcher needs.
type Backend interface {
	journal.Searcher
	journal.Updater
}

type Dispatcher struct {
	backend Backend
	narrate Narrator
	logger  *slog.Logger
	timeout time.Duration
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

func NewDispatcher(backend Backend, narrate Narrator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend: backend,
		narrate: narrate,
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// invocation is a call whose arguments have been parsed.
type invocation struct {
	call      protocol.ToolCall
	narration string
	run       func(ctx context.Context) (map[string]any, error)
	err       error
}

// Dispatch answers every call exactly once. Narration lines are emitted in
// call order before any storage request starts; the calls then run
// concurrently. Results are returned in call order.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []protocol.ToolCall) []protocol.ToolResult {
	invs := make([]invocation, len(calls))
	for i, call := range calls {
		invs[i] = d.prepare(call)
		if invs[i].narration != "" && d.narrate != nil {
			d.narrate(invs[i].narration)
		}
	}

	results := make([]protocol.ToolResult, len(invs))
	runOne := func(i int) {
		results[i] = d.execute(ctx, invs[i])
	}
	if len(invs) == 1 {
		runOne(0)
		return results
	}
	var wg sync.WaitGroup
	for i := range invs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			runOne(idx)
		}(i)
	}
	wg.Wait()
	return results
}

// Call answers a single call.
func (d *Dispatcher) Call(ctx context.Context, call protocol.ToolCall) protocol.ToolResult {
	return d.Dispatch(ctx, []protocol.ToolCall{call})[0]
}

func (d *Dispatcher) execute(ctx context.Context, inv invocation) protocol.ToolResult {
	res := protocol.ToolResult{ID: inv.call.ID, Name: inv.call.Name}
	if inv.err != nil {
		res.Err = errorText(inv.err)
		d.logger.Warn("tool call rejected", "tool", inv.call.Name, "id", inv.call.ID, "error", inv.err)
		return res
	}

	toolCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := inv.run(toolCtx)
	if err != nil {
		res.Err = errorText(err)
		d.logger.Warn("tool call failed", "tool", inv.call.Name, "id", inv.call.ID, "duration", time.Since(start), "error", err)
		return res
	}
	res.Response = resp
	d.logger.Debug("tool call complete", "tool", inv.call.Name, "id", inv.call.ID, "duration", time.Since(start))
	return res
}

func (d *Dispatcher) prepare(call protocol.ToolCall) invocation {
	inv := invocation{call: call}
	if d.backend == nil {
		inv.err = core.NewToolError("journal is not configured", nil)
		return inv
	}
	switch call.Name {
	case protocol.ToolFindEntries:
		q, err := parseFindArgs(call.Args)
		if err != nil {
			inv.narration = fmt.Sprintf("Could not search journal: %s", errorText(err))
			inv.err = err
			return inv
		}
		inv.narration = describeFind(q)
		inv.run = func(ctx context.Context) (map[string]any, error) {
			entries, err := d.backend.FindEntries(ctx, q)
			if err != nil {
				return nil, err
			}
			if entries == nil {
				entries = []journal.Entry{}
			}
			return map[string]any{"entries": entries, "count": len(entries)}, nil
		}
	case protocol.ToolUpdateJournalEntry:
		args, err := parseUpdateArgs(call.Args)
		if err != nil {
			inv.narration = fmt.Sprintf("Could not update journal entry: %s", errorText(err))
			inv.err = err
			return inv
		}
		inv.narration = fmt.Sprintf("Updating %s of row %d to %q...", args.field, args.row, args.value)
		inv.run = func(ctx context.Context) (map[string]any, error) {
			if err := d.backend.UpdateField(ctx, args.row, args.field, args.value); err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "row": args.row, "field": string(args.field)}, nil
		}
	default:
		inv.err = core.NewToolError(fmt.Sprintf("unknown tool %q", call.Name), nil)
	}
	return inv
}

func describeFind(q journal.Query) string {
	if q.IsZero() {
		return "Looking up your most recent journal entries..."
	}
	var parts []string
	if q.Text != "" {
		parts = append(parts, fmt.Sprintf("%q", q.Text))
	}
	switch {
	case q.StartDate != "" && q.EndDate != "":
		parts = append(parts, fmt.Sprintf("due %s to %s", q.StartDate, q.EndDate))
	case q.StartDate != "":
		parts = append(parts, "due from "+q.StartDate)
	case q.EndDate != "":
		parts = append(parts, "due by "+q.EndDate)
	}
	return "Searching journal for " + strings.Join(parts, ", ") + "..."
}

// errorText is the message the model sees. Internal type prefixes are
// stripped.
func errorText(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) && ce.Message != "" {
		if ce.Cause != nil {
			return ce.Message + ": " + ce.Cause.Error()
		}
		return ce.Message
	}
	return err.Error()
}
