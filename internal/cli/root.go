// Package cli is the blinkauth command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/blinkauth/internal/app"
	"github.com/aussiebroadwan/blinkauth/internal/prompt"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	envFile   string
	account   string
	store     string
	logLevel  string
	logFormat string
	noPrompt  bool

	// appOptions are passed to app.New; tests inject transports here.
	appOptions []app.Option
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts ...app.Option) *cobra.Command {
	g := &globals{appOptions: opts}

	root := &cobra.Command{
		Use:   "blinkauth",
		Short: "Log in to Blink and keep the session fresh",
		Long: `blinkauth signs in to a Blink camera account (OAuth2 PKCE with 2FA),
stores the resulting tokens and keeps them refreshed. Other tools can then
read the credentials from the store or call the REST API through "get".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.envFile, "env-file", "", "dotenv file to load (default $BLINK_ENV_FILE or .env)")
	flags.StringVarP(&g.account, "account", "a", "", "account name the credentials are stored under")
	flags.StringVar(&g.store, "store", "", "credential store driver: sqlite or yaml")
	flags.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
	flags.BoolVar(&g.noPrompt, "no-prompt", false, "fail instead of prompting for input")

	root.AddCommand(
		newLoginCommand(g),
		newRefreshCommand(g),
		newStatusCommand(g),
		newGetCommand(g),
		newLogoutCommand(g),
		newKeepAliveCommand(g),
	)
	return root
}

// ExecuteContext runs the CLI with ctx, typically cancelled on SIGINT.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// config merges the environment with the flags that were set.
func (g *globals) config(cmd *cobra.Command) (app.Config, error) {
	if err := app.LoadEnv(g.envFile); err != nil {
		return app.Config{}, fmt.Errorf("failed to load env file: %w", err)
	}
	cfg := app.LoadConfig()

	if g.account != "" {
		cfg.Account = g.account
	}
	if g.store != "" {
		cfg.StoreDriver = g.store
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	if cmd.Flags().Changed("no-prompt") {
		cfg.NoPrompt = g.noPrompt
	}
	return cfg, nil
}

// open builds the application for one command invocation.
func (g *globals) open(cmd *cobra.Command) (*app.Application, error) {
	cfg, err := g.config(cmd)
	if err != nil {
		return nil, err
	}

	opts := []app.Option{app.WithPrompter(prompt.Terminal{Username: cfg.Username})}
	opts = append(opts, g.appOptions...)
	return app.New(cmd.Context(), cfg, opts...)
}

// withApp opens the application, runs fn and closes it.
func (g *globals) withApp(cmd *cobra.Command, fn func(a *app.Application) error) error {
	a, err := g.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger().Warn("failed to close store", "error", err)
		}
	}()
	return fn(a)
}
