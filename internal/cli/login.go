package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/blinkauth/internal/app"
	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
)

func newLoginCommand(g *globals) *cobra.Command {
	var legacy bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in, reusing a stored refresh token when possible",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.Application) error {
				session := a.Session()

				var err error
				if legacy {
					err = session.LegacyLogin(cmd.Context(), "", "")
					if errors.Is(err, blinksdk.ErrTwoFARequired) {
						if perr := session.Prompt2FA(cmd.Context()); !errors.Is(perr, blinksdk.ErrConfig) {
							err = perr
						}
					}
				} else {
					err = session.Login(cmd.Context())
				}

				if errors.Is(err, blinksdk.ErrTwoFARequired) {
					return fmt.Errorf("%w: rerun without --no-prompt or set BLINK_TOTP_SECRET", err)
				}
				if err != nil {
					return err
				}

				creds := session.Credentials()
				fmt.Fprintf(cmd.OutOrStdout(), "logged in: region %s, account %s, token valid until %s\n",
					orUnknown(creds.RegionID), orUnknown(creds.AccountID),
					creds.ExpiresAt().Local().Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&legacy, "legacy", false, "use the legacy password grant instead of OAuth2 PKCE")
	return cmd
}

func newRefreshCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored refresh token for new tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.Application) error {
				if err := a.Session().Refresh(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "refreshed: token valid until %s\n",
					a.Session().Credentials().ExpiresAt().Local().Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}

func newLogoutCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored tokens, keeping the device id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.Application) error {
				a.Session().Logout(cmd.Context())
				fmt.Fprintln(cmd.OutOrStdout(), "logged out")
				return nil
			})
		},
	}
}

func newKeepAliveCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "keepalive",
		Short: "Refresh tokens ahead of expiry until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.Application) error {
				return a.RunKeepAlive(cmd.Context())
			})
		},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
