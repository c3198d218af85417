package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/blinkauth/internal/prompt"
	"github.com/aussiebroadwan/blinkauth/internal/store"
	"github.com/aussiebroadwan/blinkauth/internal/store/drivers/sqlite"
	"github.com/aussiebroadwan/blinkauth/internal/store/drivers/yamlfile"
	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
	"github.com/aussiebroadwan/blinkauth/pkg/cryptox"
	"github.com/aussiebroadwan/blinkauth/pkg/idx"
	"github.com/aussiebroadwan/blinkauth/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires one account's session to its persistent store.
type Application struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	db      store.Store
	session *blinksdk.Session

	sdkConfig blinksdk.Config
	transport blinksdk.Transport
	prompter  blinksdk.Prompter
}

type Option func(*Application)

// WithLogger replaces the logger built from Config.
func WithLogger(logger *slog.Logger) Option {
	return func(app *Application) { app.logger = logger }
}

// WithPrompter sets the interactive prompter. A TOTP secret in Config still
// answers 2FA prompts; this prompter then only supplies login credentials.
func WithPrompter(p blinksdk.Prompter) Option {
	return func(app *Application) { app.prompter = p }
}

// WithTransport replaces the HTTP transport.
func WithTransport(t blinksdk.Transport) Option {
	return func(app *Application) { app.transport = t }
}

// WithSDKConfig replaces blinksdk.DefaultConfig as the endpoint set.
func WithSDKConfig(c blinksdk.Config) Option {
	return func(app *Application) { app.sdkConfig = c }
}

// WithClock replaces time.Now for the session, the keep-alive worker and
// event timestamps.
func WithClock(now func() time.Time) Option {
	return func(app *Application) { app.now = now }
}

// New opens the store, loads the account's credentials and builds the session.
func New(ctx context.Context, cfg Config, opts ...Option) (*Application, error) {
	app := &Application{
		cfg:       cfg,
		now:       time.Now,
		sdkConfig: blinksdk.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: "blinkauth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}
	app.logger = app.logger.With("account", cfg.Account)

	if err := app.initStore(); err != nil {
		return nil, err
	}
	if err := app.initSession(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	return app, nil
}

func (app *Application) Session() *blinksdk.Session { return app.session }
func (app *Application) Store() store.Store         { return app.db }
func (app *Application) Logger() *slog.Logger       { return app.logger }
func (app *Application) Config() Config             { return app.cfg }

// Close releases the store.
func (app *Application) Close() error {
	return app.db.Close()
}

// NewKeepAlive builds the keep-alive worker for this application.
func (app *Application) NewKeepAlive() *KeepAlive {
	k := NewKeepAlive(app.session, app.db, app.logger, app.cfg.KeepAliveInterval)
	k.Retention = app.cfg.EventRetention
	k.Margin = app.session.Config().RefreshMargin
	k.Now = app.now
	return k
}

// RunKeepAlive keeps the session fresh until ctx is cancelled.
func (app *Application) RunKeepAlive(ctx context.Context) error {
	k := app.NewKeepAlive()
	k.Start(ctx)
	<-ctx.Done()
	k.Stop()
	return nil
}

func (app *Application) sealer() (store.Sealer, error) {
	switch {
	case app.cfg.MasterKey != "":
		return cryptox.NewSealer([]byte(app.cfg.MasterKey))
	case app.cfg.MasterKeyPath != "":
		return cryptox.NewSealerFromFile(app.cfg.MasterKeyPath)
	default:
		app.logger.Warn("no master key configured; tokens are stored unencrypted")
		return store.Plaintext{}, nil
	}
}

// initStore opens the configured driver and applies migrations.
func (app *Application) initStore() error {
	sealer, err := app.sealer()
	if err != nil {
		return fmt.Errorf("failed to initialize sealer: %w", err)
	}

	var db store.Store
	switch app.cfg.StoreDriver {
	case StoreSQLite, "":
		db, err = sqlite.NewStore(sqlite.DSN(app.cfg.DatabaseFile), sealer)
	case StoreYAML:
		db, err = yamlfile.NewStore(app.cfg.CredentialsFile, sealer)
	default:
		return fmt.Errorf("unknown store driver %q", app.cfg.StoreDriver)
	}
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply store migrations: %w", err)
	}

	app.db = db
	app.logger.Debug("store ready", "driver", app.cfg.StoreDriver)
	return nil
}

func (app *Application) initSession(ctx context.Context) error {
	var creds blinksdk.Credentials
	rec, err := app.db.Credentials().GetCredentials(ctx, app.cfg.Account)
	switch {
	case err == nil:
		creds = rec.Credentials
		app.logger.Debug("loaded stored credentials", "updated_at", rec.UpdatedAt)
	case errors.Is(err, store.ErrNotFound):
	default:
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	sdkCfg := app.sdkConfig
	if app.cfg.PendingFlowTTL > 0 {
		sdkCfg.PendingFlowTTL = app.cfg.PendingFlowTTL
	}
	if app.cfg.RefreshMargin > 0 {
		sdkCfg.RefreshMargin = app.cfg.RefreshMargin
	}

	transport := app.transport
	if transport == nil {
		transport, err = blinksdk.NewHTTPTransport(blinksdk.HTTPTransportConfig{
			Timeout:   app.cfg.HTTPTimeout,
			RateLimit: rate.Limit(app.cfg.RateLimit),
			Burst:     1,
			Logger:    app.logger,
		})
		if err != nil {
			return err
		}
	}

	prompter, noPrompt := app.buildPrompter()
	session, err := blinksdk.NewSession(blinksdk.Options{
		Config:      sdkCfg,
		Credentials: creds,
		Username:    app.cfg.Username,
		Password:    app.cfg.Password,
		Transport:   transport,
		Listener:    blinksdk.ListenerFunc(app.persist),
		Prompter:    prompter,
		NoPrompt:    noPrompt,
		Logger:      app.logger,
		Clock:       app.now,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	app.session = session

	// Keep a generated hardware id stable across restarts.
	if creds.HardwareID == "" {
		err := app.db.Credentials().PutCredentials(ctx, app.cfg.Account, session.Credentials(), app.now())
		if err != nil {
			app.logger.Warn("failed to persist hardware id", "error", err)
		}
	}
	return nil
}

// buildPrompter layers the TOTP generator over the interactive prompter. A
// TOTP secret never needs a terminal, so it stays active under NoPrompt.
func (app *Application) buildPrompter() (blinksdk.Prompter, bool) {
	interactive := app.prompter
	if app.cfg.NoPrompt {
		interactive = nil
	}
	if app.cfg.TOTPSecret == "" {
		return interactive, app.cfg.NoPrompt
	}
	return prompt.TOTP{
		Secret:      app.cfg.TOTPSecret,
		Credentials: interactive,
		Now:         app.now,
	}, false
}

// persist saves a credential snapshot together with an audit event.
func (app *Application) persist(ctx context.Context, creds blinksdk.Credentials) error {
	now := app.now()

	event := store.Event{
		ID:        idx.NewAt(now).String(),
		Account:   app.cfg.Account,
		Kind:      store.EventUpdated,
		AccessFP:  cryptox.LogFingerprint(creds.AccessToken),
		ExpiresAt: creds.ExpiresAt(),
		CreatedAt: now,
	}
	if creds.AccessToken == "" {
		event.Kind = store.EventCleared
	}

	return app.db.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Credentials().PutCredentials(ctx, app.cfg.Account, creds, now); err != nil {
			return err
		}
		return tx.Events().AppendEvent(ctx, event)
	})
}
