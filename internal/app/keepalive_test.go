package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/blinkauth/internal/store"
	"github.com/aussiebroadwan/blinkauth/internal/store/drivers/yamlfile"
	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
	"github.com/aussiebroadwan/blinkauth/pkg/idx"
	"github.com/aussiebroadwan/blinkauth/pkg/slogx"
)

var keepAliveNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	mu    sync.Mutex
	creds blinksdk.Credentials
	err   error
	calls int
}

func (f *fakeRefresher) Credentials() blinksdk.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds
}

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.creds.AccessToken = "refreshed"
	f.creds.ExpirationEpoch = float64(keepAliveNow.Add(time.Hour).Unix())
	return nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func expiringIn(d time.Duration) blinksdk.Credentials {
	return blinksdk.Credentials{
		AccessToken:     "access",
		RefreshToken:    "refresh",
		ExpirationEpoch: float64(keepAliveNow.Add(d).Unix()),
	}
}

func newTestKeepAlive(t *testing.T, r refresher) (*KeepAlive, store.Store) {
	t.Helper()

	st, err := yamlfile.NewStore(filepath.Join(t.TempDir(), "creds.yaml"), nil)
	require.NoError(t, err)

	k := NewKeepAlive(r, st, slogx.Discard(), 5*time.Minute)
	k.Margin = time.Minute
	k.Now = func() time.Time { return keepAliveNow }
	return k, st
}

func TestKeepAlive_RefreshDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		creds blinksdk.Credentials
		want  int
	}{
		{"fresh token is left alone", expiringIn(time.Hour), 0},
		{"token expiring before next tick", expiringIn(5 * time.Minute), 1},
		{"expired token", expiringIn(-time.Minute), 1},
		{"unknown expiry", blinksdk.Credentials{AccessToken: "a", RefreshToken: "r"}, 1},
		{"no refresh token", blinksdk.Credentials{AccessToken: "a"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := &fakeRefresher{creds: tt.creds}
			k, _ := newTestKeepAlive(t, r)

			k.Tick(context.Background())
			require.Equal(t, tt.want, r.callCount())
		})
	}
}

func TestKeepAlive_RefreshFailureIsLogged(t *testing.T) {
	t.Parallel()

	r := &fakeRefresher{creds: expiringIn(0), err: errors.New("boom")}
	k, _ := newTestKeepAlive(t, r)

	k.Tick(context.Background())
	k.Tick(context.Background())
	require.Equal(t, 2, r.callCount())
}

func TestKeepAlive_ServerErrorIsNotReportedAsRejection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{"refresh token revoked", fmt.Errorf("refresh: %w", blinksdk.ErrAuth), true},
		{"token endpoint down", fmt.Errorf("refresh (status 502): %w", blinksdk.ErrUnexpectedStatus), false},
		{"network failure", fmt.Errorf("refresh: %w", blinksdk.ErrNetwork), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			r := &fakeRefresher{creds: expiringIn(0), err: tt.err}
			k, _ := newTestKeepAlive(t, r)
			k.Logger = slog.New(slog.NewTextHandler(&buf, nil))

			k.Tick(context.Background())
			require.Equal(t, tt.rejected, strings.Contains(buf.String(), "run login again"), buf.String())
		})
	}
}

func TestKeepAlive_PrunesEvents(t *testing.T) {
	t.Parallel()

	r := &fakeRefresher{creds: expiringIn(time.Hour)}
	k, st := newTestKeepAlive(t, r)
	k.Retention = 24 * time.Hour
	ctx := context.Background()

	for _, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		require.NoError(t, st.Events().AppendEvent(ctx, store.Event{
			ID:        idx.New().String(),
			Account:   "default",
			Kind:      store.EventUpdated,
			CreatedAt: keepAliveNow.Add(-age),
		}))
	}

	k.Tick(ctx)

	events, err := st.Events().ListEvents(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestKeepAlive_StartStop(t *testing.T) {
	t.Parallel()

	r := &fakeRefresher{creds: expiringIn(0)}
	k, _ := newTestKeepAlive(t, r)

	k.Start(context.Background())
	require.Eventually(t, func() bool { return r.callCount() >= 1 }, time.Second, 10*time.Millisecond)
	k.Stop()
}

func TestKeepAlive_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	r := &fakeRefresher{creds: expiringIn(time.Hour)}
	k, _ := newTestKeepAlive(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	k.Start(ctx)
	cancel()

	select {
	case <-k.doneCh:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after cancel")
	}
}

func TestNewKeepAlive_DefaultInterval(t *testing.T) {
	t.Parallel()

	k := NewKeepAlive(&fakeRefresher{}, nil, slogx.Discard(), 0)
	require.Equal(t, 5*time.Minute, k.Interval)
}
