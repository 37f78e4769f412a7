// Command vai-journal is a voice and command-line front end for a journal
// kept in a Google Sheet.
//
// Usage:
//
//	vai-journal auth login
//	vai-journal sheet create "My journal"
//	vai-journal entries add "call the plumber about the sink"
//	vai-journal live
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/vango-go/vai-journal/internal/tui"
	"github.com/vango-go/vai-journal/pkg/auth"
	"github.com/vango-go/vai-journal/pkg/config"
	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/insight"
	"github.com/vango-go/vai-journal/pkg/journal"
	"github.com/vango-go/vai-journal/pkg/journal/sheets"
)

type summarizer interface {
	Summarize(ctx context.Context, text string) (insight.Insight, error)
}

type journalDeps struct {
	loadConfig    func(path string) (config.Config, error)
	openStore     func(ctx context.Context, cfg config.Config, tokens oauth2.TokenSource, logger *slog.Logger) (journal.Store, error)
	startLogin    func(ctx context.Context, cfg auth.Config) (<-chan auth.LoginResult, string, error)
	openBrowser   func(url string)
	newSummarizer func(ctx context.Context, cfg config.Config, logger *slog.Logger) (summarizer, error)
	newSession    func(ctx context.Context, env liveEnv) (tui.Session, error)
	runTUI        func(ctx context.Context, s tui.Session) error
	now           func() time.Time
}

func defaultJournalDeps() journalDeps {
	return journalDeps{
		loadConfig:  config.Load,
		openStore:   openSheetsStore,
		startLogin:  auth.StartLogin,
		openBrowser: openBrowser,
		newSummarizer: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (summarizer, error) {
			return insight.New(ctx, cfg.APIKey, cfg.InsightModel, logger)
		},
		newSession: newLiveSession,
		runTUI: func(ctx context.Context, s tui.Session) error {
			return tui.Run(ctx, s)
		},
		now: time.Now,
	}
}

func openSheetsStore(ctx context.Context, cfg config.Config, tokens oauth2.TokenSource, logger *slog.Logger) (journal.Store, error) {
	return sheets.New(ctx, cfg.SpreadsheetID, logger, option.WithTokenSource(tokens))
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	deps   journalDeps
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	offline    bool

	cfg    config.Config
	logger *slog.Logger
	memory *journal.MemoryStore
}

func (a *app) setup() error {
	cfg, err := a.deps.loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	return nil
}

func (a *app) tokens() *auth.TokenSource {
	return auth.NewTokenSource(a.cfg.OAuth(), auth.NewFileTokenStore(a.cfg.TokenPath), a.logger)
}

// store opens the journal. Offline runs use a process-local store.
func (a *app) store(ctx context.Context) (journal.Store, error) {
	if a.offline {
		if a.memory == nil {
			a.memory = journal.NewMemoryStore()
		}
		return a.memory, nil
	}
	tokens := a.tokens()
	// Fail with the sign-in hint before the first API call does.
	if _, err := tokens.Token(); err != nil {
		return nil, err
	}
	return a.deps.openStore(ctx, a.cfg, tokens, a.logger)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "vai-journal",
		Short:         "Talk to your journal",
		Long:          "vai-journal keeps a journal in a Google Sheet and lets you search and edit it by voice through a Gemini live session.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+config.FileName+" in the user config dir)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&a.offline, "offline", false, "use an in-memory journal instead of Google Sheets")

	root.AddCommand(
		newAuthCmd(a),
		newSheetCmd(a),
		newEntriesCmd(a),
		newLiveCmd(a),
	)
	return root
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps journalDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	a := &app{deps: deps, stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "vai-journal: %s\n", errorText(err))
		return 1
	}
	return 0
}

// errorText prefers the user-facing message of a core error.
func errorText(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) && ce.Message != "" {
		if ce.Cause != nil && ce.Type != core.ErrPrecondition {
			return ce.Message + ": " + ce.Cause.Error()
		}
		return ce.Message
	}
	return err.Error()
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultJournalDeps())
	stop()
	os.Exit(code)
}
