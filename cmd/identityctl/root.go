package main

import (
	"context"
	"fmt"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/provider/firebase"
	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	verbose     bool
	metrics     bool
	sessionFile string
	timeout     time.Duration
}

// NewRootCmd creates the root command for identityctl.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "identityctl",
		Short: "Manage an identity provider session from the command line",
		Long: `identityctl signs users up and in against Firebase Authentication,
keeps the session in a local file and reports the session state.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log gateway activity")
	cmd.PersistentFlags().BoolVar(&opts.metrics, "metrics", false, "print collected metrics after the command")
	cmd.PersistentFlags().StringVar(&opts.sessionFile, "session-file", "", "session file path (overrides IDENTITY_SESSION_FILE)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "operation timeout")

	cmd.AddCommand(newSignUpCmd(opts))
	cmd.AddCommand(newSignInCmd(opts))
	cmd.AddCommand(newSignInProviderCmd(opts))
	cmd.AddCommand(newSignOutCmd(opts))
	cmd.AddCommand(newChangePasswordCmd(opts))
	cmd.AddCommand(newResetPasswordCmd(opts))
	cmd.AddCommand(newWhoAmICmd(opts))

	return cmd
}

// run wires the gateway, runs fn and tears everything down.
func run(cmd *cobra.Command, opts *rootOptions, opener firebase.PopupOpener, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	a, err := newApp(ctx, opts, opener)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		return describe(err)
	}

	if opts.metrics {
		return a.writeMetrics(cmd.OutOrStdout())
	}
	return nil
}

func describe(err error) error {
	kind := identity.KindOf(err)
	switch {
	case identity.IsRecoverable(err):
		return fmt.Errorf("%s (retry later): %w", kind, err)
	case identity.RequiresReauthentication(err):
		return fmt.Errorf("%s (sign in again first): %w", kind, err)
	}
	return fmt.Errorf("%s: %w", kind, err)
}

func printJSON(cmd *cobra.Command, v any) {
	fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(v))
}

func userView(u *identity.User) map[string]any {
	if u == nil {
		return nil
	}
	return map[string]any{
		"id":           u.ID,
		"email":        u.Email,
		"display_name": u.DisplayName,
		"avatar_url":   u.AvatarURL,
		"providers":    u.Providers(),
	}
}
