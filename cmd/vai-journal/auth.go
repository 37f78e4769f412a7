package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-journal/pkg/auth"
	"github.com/vango-go/vai-journal/pkg/core"
)

const loginTimeout = 5 * time.Minute

func newAuthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the Google sign-in used for the journal sheet",
	}
	cmd.AddCommand(newAuthLoginCmd(a), newAuthStatusCmd(a))
	return cmd
}

func newAuthLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google in the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.OAuthClientID == "" {
				return core.NewPreconditionError("no OAuth client configured; set VAI_JOURNAL_OAUTH_CLIENT_ID and VAI_JOURNAL_OAUTH_CLIENT_SECRET")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
			defer cancel()

			results, authURL, err := a.deps.startLogin(ctx, a.cfg.OAuth())
			if err != nil {
				return fmt.Errorf("start login: %w", err)
			}
			fmt.Fprintln(a.stdout, "Opening browser for Google sign-in...")
			fmt.Fprintln(a.stdout, "If the browser doesn't open, visit:")
			fmt.Fprintln(a.stdout, authURL)
			a.deps.openBrowser(authURL)

			res := <-results
			if res.Err != nil {
				return res.Err
			}
			store := auth.NewFileTokenStore(a.cfg.TokenPath)
			if err := store.Save(res.Token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			a.logger.Info("signed in", "token_path", store.Path())
			fmt.Fprintf(a.stdout, "Signed in. Token saved to %s\n", store.Path())
			return nil
		},
	}
}

func newAuthStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a Google token is stored",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			store := auth.NewFileTokenStore(a.cfg.TokenPath)
			if !a.tokens().SignedIn() {
				fmt.Fprintf(a.stdout, "Not signed in (no token at %s). Run `vai-journal auth login`.\n", store.Path())
				return nil
			}
			fmt.Fprintf(a.stdout, "Signed in (token: %s)\n", store.Path())
			if a.cfg.SpreadsheetID == "" {
				fmt.Fprintln(a.stdout, "No journal spreadsheet configured. Run `vai-journal sheet create TITLE`.")
			} else {
				fmt.Fprintf(a.stdout, "Journal spreadsheet: %s\n", a.cfg.SpreadsheetID)
			}
			return nil
		},
	}
}
