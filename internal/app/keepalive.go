package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/blinkauth/internal/store"
	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
	"github.com/aussiebroadwan/blinkauth/pkg/cryptox"
)

// refresher is the part of blinksdk.Session the worker drives.
type refresher interface {
	Credentials() blinksdk.Credentials
	Refresh(ctx context.Context) error
}

// KeepAlive periodically refreshes the session's tokens ahead of expiry and
// prunes old credential events.
type KeepAlive struct {
	Session  refresher
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// Margin is added to Interval when deciding whether the token would
	// go stale before the next tick.
	Margin time.Duration

	// Retention bounds the event log. Zero disables pruning.
	Retention time.Duration

	Now func() time.Time

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewKeepAlive creates a worker with the given interval.
// If interval is 0 or negative, defaults to 5 minutes.
func NewKeepAlive(session refresher, st store.Store, logger *slog.Logger, interval time.Duration) *KeepAlive {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &KeepAlive{
		Session:  session,
		Store:    st,
		Logger:   logger,
		Interval: interval,
		Now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (k *KeepAlive) Start(ctx context.Context) {
	go k.run(ctx)
	k.Logger.Info("keep-alive started", "interval", k.Interval)
}

// Stop shuts down the worker and waits for an in-progress tick to finish.
func (k *KeepAlive) Stop() {
	close(k.stopCh)
	<-k.doneCh
	k.Logger.Info("keep-alive stopped")
}

func (k *KeepAlive) run(ctx context.Context) {
	defer close(k.doneCh)

	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	k.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			k.Tick(ctx)
		case <-k.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one refresh check and one prune. Failures are logged; the
// worker keeps going.
func (k *KeepAlive) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if err := k.refresh(ctx); err != nil {
		if errors.Is(err, blinksdk.ErrAuth) {
			k.Logger.Error("refresh rejected; run login again", "error", err)
		} else {
			k.Logger.Error("keep-alive refresh failed", "error", err)
		}
	}

	if k.Retention > 0 && k.Store != nil {
		cutoff := k.Now().Add(-k.Retention)
		n, err := k.Store.Events().DeleteEventsBefore(ctx, cutoff)
		if err != nil {
			k.Logger.Error("failed to prune credential events", "error", err)
		} else if n > 0 {
			k.Logger.Debug("pruned credential events", "deleted", n)
		}
	}
}

// due reports whether the token would be stale before the next tick.
func (k *KeepAlive) due(creds blinksdk.Credentials) bool {
	if creds.RefreshToken == "" {
		return false
	}
	expiresAt := creds.ExpiresAt()
	if expiresAt.IsZero() || creds.AccessToken == "" {
		return true
	}
	return expiresAt.Sub(k.Now()) < k.Interval+k.Margin
}

func (k *KeepAlive) refresh(ctx context.Context) error {
	creds := k.Session.Credentials()
	if creds.RefreshToken == "" {
		k.Logger.Warn("no refresh token; keep-alive idle until login")
		return nil
	}
	if !k.due(creds) {
		k.Logger.Debug("token still fresh", "expires_at", creds.ExpiresAt())
		return nil
	}

	if err := k.Session.Refresh(ctx); err != nil {
		return err
	}

	after := k.Session.Credentials()
	k.Logger.Info("tokens refreshed",
		"access_fp", cryptox.LogFingerprint(after.AccessToken),
		"expires_at", after.ExpiresAt(),
	)
	return nil
}
