package main

import (
	"context"
	"fmt"
	"strings"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/provider/firebase"
	"github.com/spf13/cobra"
)

type credentialsFlags struct {
	email    string
	password string
}

func (f *credentialsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "email", "", "account email")
	cmd.Flags().StringVar(&f.password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
}

func newSignUpCmd(opts *rootOptions) *cobra.Command {
	creds := &credentialsFlags{}
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account with email and password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, nil, func(ctx context.Context, a *app) error {
				user, err := a.gateway.SignUp(ctx, creds.email, creds.password)
				if err != nil {
					return err
				}
				printJSON(cmd, userView(user))
				return nil
			})
		},
	}
	creds.register(cmd)
	return cmd
}

func newSignInCmd(opts *rootOptions) *cobra.Command {
	creds := &credentialsFlags{}
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, nil, func(ctx context.Context, a *app) error {
				user, err := a.gateway.SignIn(ctx, creds.email, creds.password)
				if err != nil {
					return err
				}
				printJSON(cmd, userView(user))
				return nil
			})
		},
	}
	creds.register(cmd)
	return cmd
}

type grantFlags struct {
	accessToken string
	idToken     string
}

func newSignInProviderCmd(opts *rootOptions) *cobra.Command {
	grant := &grantFlags{}
	cmd := &cobra.Command{
		Use:   "signin-provider <google|facebook>",
		Short: "Sign in with a provider grant obtained from a browser consent flow",
		Long: `Exchange a Google or Facebook grant for a session. The grant tokens
come from a consent flow completed outside identityctl.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag := identity.ProviderTag(strings.ToLower(args[0]))
			opener := firebase.PopupOpenerFunc(func(context.Context, identity.ProviderTag) (*firebase.IdPGrant, error) {
				return &firebase.IdPGrant{AccessToken: grant.accessToken, IDToken: grant.idToken}, nil
			})
			return run(cmd, opts, opener, func(ctx context.Context, a *app) error {
				res, err := a.gateway.SignInWithProvider(ctx, tag)
				if err != nil {
					return err
				}
				printJSON(cmd, map[string]any{
					"user": userView(res.User),
					"credential": map[string]any{
						"provider":     string(res.Credential.Provider),
						"access_token": res.Credential.AccessToken,
					},
				})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&grant.accessToken, "access-token", "", "provider OAuth access token")
	cmd.Flags().StringVar(&grant.idToken, "id-token", "", "provider OpenID id token")
	_ = cmd.MarkFlagRequired("access-token")
	return cmd
}

func newSignOutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "End the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, nil, func(ctx context.Context, a *app) error {
				if err := a.gateway.SignOut(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

func newChangePasswordCmd(opts *rootOptions) *cobra.Command {
	var newPassword string
	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change the password of the signed in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, nil, func(ctx context.Context, a *app) error {
				if err := a.gateway.ChangePassword(ctx, newPassword); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "password changed")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&newPassword, "new-password", "", "new account password")
	return cmd
}

func newResetPasswordCmd(opts *rootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Request a password reset email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, nil, func(ctx context.Context, a *app) error {
				if err := a.gateway.RequestPasswordReset(ctx, email); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "password reset requested")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newWhoAmICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, nil, func(_ context.Context, a *app) error {
				session := a.gateway.Session()
				view := map[string]any{"session": session.Kind().String()}
				if user, ok := session.User(); ok {
					view["user"] = userView(user)
				}
				printJSON(cmd, view)
				return nil
			})
		},
	}
}
