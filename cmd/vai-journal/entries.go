package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/journal"
)

func newSheetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheet",
		Short: "Manage the journal spreadsheet",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create TITLE",
		Short: "Create a new journal spreadsheet",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			id, err := store.CreateSheet(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Created journal spreadsheet %s\n", id)
			fmt.Fprintf(a.stdout, "Set VAI_JOURNAL_SPREADSHEET_ID=%s to use it.\n", id)
			return nil
		},
	})
	return cmd
}

func newEntriesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List, search, add and edit journal entries",
	}
	cmd.AddCommand(
		newEntriesListCmd(a),
		newEntriesSearchCmd(a),
		newEntriesAddCmd(a),
		newEntriesUpdateCmd(a),
	)
	return cmd
}

func newEntriesListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := store.ListEntries(cmd.Context())
			if err != nil {
				return err
			}
			return writeEntries(a.stdout, entries, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newEntriesSearchCmd(a *app) *cobra.Command {
	var q journal.Query
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search entries by text and due date (no filters: most recent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := q.Validate(); err != nil {
				return err
			}
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := store.FindEntries(cmd.Context(), q)
			if err != nil {
				return err
			}
			return writeEntries(a.stdout, entries, asJSON)
		},
	}
	cmd.Flags().StringVar(&q.Text, "query", "", "case-insensitive text to match")
	cmd.Flags().StringVar(&q.StartDate, "start", "", "earliest due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&q.EndDate, "end", "", "latest due date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newEntriesAddCmd(a *app) *cobra.Command {
	var noInsight bool
	var sets []string
	cmd := &cobra.Command{
		Use:   "add TEXT",
		Short: "Add an entry, enriched with a summary, tags, type and priority",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e := journal.NewEntry(strings.Join(args, " "), a.deps.now())
			for _, kv := range sets {
				field, value, err := parseSet(kv)
				if err != nil {
					return err
				}
				e.Set(field, value)
			}

			if !noInsight {
				e = a.enrich(cmd, e)
			}

			store, err := a.store(ctx)
			if err != nil {
				return err
			}
			stored, err := store.AppendEntry(ctx, e)
			if err != nil {
				return err
			}
			a.logger.Info("entry added", "row", stored.Row, "id", stored.ID)
			fmt.Fprintf(a.stdout, "Added entry at row %d\n", stored.Row)
			if stored.Summary != "" {
				fmt.Fprintf(a.stdout, "  %s [%s] %s/%s\n", stored.Summary, stored.Tags, stored.Type, stored.Priority)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noInsight, "no-insight", false, "store the entry without a generated summary")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set a field, e.g. --set dueDate=2025-03-01 (repeatable)")
	return cmd
}

// enrich adds a generated insight to e. Any failure leaves e unchanged.
func (a *app) enrich(cmd *cobra.Command, e journal.Entry) journal.Entry {
	if a.cfg.APIKey == "" {
		a.logger.Debug("no API key; skipping entry insight")
		return e
	}
	s, err := a.deps.newSummarizer(cmd.Context(), a.cfg, a.logger)
	if err != nil {
		a.logger.Warn("entry insight unavailable", "error", err)
		return e
	}
	in, err := s.Summarize(cmd.Context(), e.Entry)
	if err != nil {
		a.logger.Warn("entry insight unavailable", "error", err)
		return e
	}
	return in.Apply(e)
}

func newEntriesUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update ROW FIELD VALUE",
		Short: "Change one field of the entry at ROW (fields: " + journal.FieldNames() + ")",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := strconv.Atoi(args[0])
			if err != nil || row <= 0 {
				return core.NewInvalidRequestErrorWithParam("row must be a positive integer", "row")
			}
			field, err := journal.ParseField(args[1])
			if err != nil {
				return core.NewInvalidRequestErrorWithParam(err.Error(), "field")
			}
			value := strings.Join(args[2:], " ")

			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.UpdateField(cmd.Context(), row, field, value); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Updated %s of row %d\n", field, row)
			return nil
		},
	}
}

func parseSet(kv string) (journal.Field, string, error) {
	name, value, ok := strings.Cut(kv, "=")
	if !ok {
		return "", "", core.NewInvalidRequestErrorWithParam("--set wants FIELD=VALUE", "set")
	}
	field, err := journal.ParseField(strings.TrimSpace(name))
	if err != nil {
		return "", "", core.NewInvalidRequestErrorWithParam(err.Error(), "set")
	}
	return field, strings.TrimSpace(value), nil
}

const entryWidth = 48

func writeEntries(w io.Writer, entries []journal.Entry, asJSON bool) error {
	if asJSON {
		if entries == nil {
			entries = []journal.Entry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No entries.")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ROW", "DATE", "ENTRY", "TAGS", "TYPE", "STATUS", "DUE", "PRIORITY")
	for _, e := range entries {
		date := ""
		if !e.Timestamp.IsZero() {
			date = e.Timestamp.Local().Format(journal.DateLayout)
		}
		t.Row(strconv.Itoa(e.Row), date, truncate(e.Entry, entryWidth), e.Tags, e.Type, e.TaskStatus, e.DueDate, e.Priority)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
