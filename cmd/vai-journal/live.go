package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-journal/internal/tui"
	"github.com/vango-go/vai-journal/pkg/config"
	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/core/live"
	"github.com/vango-go/vai-journal/pkg/core/live/audio"
	"github.com/vango-go/vai-journal/pkg/core/live/transport"
	"github.com/vango-go/vai-journal/pkg/journal"
)

// liveEnv is everything needed to build a live session.
type liveEnv struct {
	cfg      config.Config
	inputWAV string
	store    journal.Store
	// tokens is nil for offline runs.
	tokens live.TokenProvider
	logger *slog.Logger
}

func newLiveSession(ctx context.Context, env liveEnv) (tui.Session, error) {
	var mic audio.Microphone
	if env.inputWAV != "" {
		mic = &audio.WAVMicrophone{Path: env.inputWAV, Realtime: true}
	} else {
		m, err := audio.NewMicrophone(env.cfg.MicBackend, 0, env.logger)
		if err != nil {
			return nil, core.NewInvalidRequestErrorWithParam(err.Error(), "mic_backend")
		}
		mic = m
	}

	dialer, err := transport.NewDialer(ctx, env.cfg.Transport, env.cfg.APIKey, env.cfg.WebSocketURL, env.logger)
	if err != nil {
		return nil, err
	}

	m, err := live.NewManager(env.cfg.Live(), live.Deps{
		Token:      env.tokens,
		Microphone: mic,
		Dialer:     dialer,
		Speaker:    &audio.Speaker{Rate: env.cfg.OutputSampleRate, Logger: env.logger},
		Journal:    env.store,
		Logger:     env.logger,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newLiveCmd(a *app) *cobra.Command {
	var recordDir, inputWAV string
	var noTUI bool
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Start a voice session with your journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			if recordDir != "" {
				cfg.RecordDir = recordDir
			}

			logger := a.logger
			if !noTUI {
				// The TUI owns the terminal, so logs go to a file.
				f, err := openLogFile()
				if err != nil {
					return err
				}
				defer f.Close()
				logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			}

			env := liveEnv{cfg: cfg, inputWAV: inputWAV, logger: logger}
			if a.offline {
				store, err := a.store(ctx)
				if err != nil {
					return err
				}
				env.store = store
			} else {
				tokens := a.tokens()
				// A missing sign-in surfaces through the session, not here.
				store, err := a.deps.openStore(ctx, cfg, tokens, logger)
				if err != nil {
					return err
				}
				env.store = store
				env.tokens = tokens
			}

			session, err := a.deps.newSession(ctx, env)
			if err != nil {
				return err
			}
			if noTUI {
				return runHeadless(ctx, session, a.stdout)
			}
			return a.deps.runTUI(ctx, session)
		},
	}
	cmd.Flags().StringVar(&recordDir, "record", "", "write a WAV of each side of the session to this directory")
	cmd.Flags().StringVar(&inputWAV, "input-wav", "", "use a WAV file instead of the microphone")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "print the transcript instead of showing the interactive UI")
	return cmd
}

func openLogFile() (*os.File, error) {
	dir := config.DefaultDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return os.OpenFile(filepath.Join(dir, "vai-journal.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// runHeadless starts the session and prints transcript lines as they
// settle, until the session ends or ctx is cancelled.
func runHeadless(ctx context.Context, s tui.Session, w io.Writer) error {
	changes, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "Listening. Press Ctrl+C to stop.")

	printed := 0
	flush := func(entries []live.TranscriptEntry, all bool) {
		end := len(entries)
		if !all {
			// The trailing entry may still grow.
			end--
		}
		for ; printed < end; printed++ {
			e := entries[printed]
			fmt.Fprintf(w, "%s: %s\n", speaker(e.Source), e.Text)
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			flush(s.Snapshot().Transcript, true)
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			snap := s.Snapshot()
			if snap.State.Active() {
				flush(snap.Transcript, false)
				continue
			}
			flush(snap.Transcript, true)
			if snap.State == live.StateError {
				return errors.New(snap.LastError)
			}
			return nil
		}
	}
}

func speaker(src live.Source) string {
	switch src {
	case live.SourceUser:
		return "you"
	case live.SourceAI:
		return "assistant"
	default:
		return "journal"
	}
}
