// Package storetest holds the behaviour every store driver must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/blinkauth/internal/store"
	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
	"github.com/aussiebroadwan/blinkauth/pkg/idx"
)

// Factory opens a fresh, migrated store for one subtest.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample() blinksdk.Credentials {
	return blinksdk.Credentials{
		AccessToken:     "access-1",
		RefreshToken:    "refresh-1",
		ExpiresIn:       3600,
		ExpirationEpoch: 1772370000.5,
		AccountID:       "12345",
		RegionID:        "u011",
		Hostname:        "u011.immedia-semi.com",
		HardwareID:      "6F1D0C7A-2B3E-4C5D-8E9F-0A1B2C3D4E5F",
	}
}

// Run exercises a driver against the store contract.
func Run(t *testing.T, open Factory) {
	t.Run("get missing account", func(t *testing.T) {
		s := open(t)
		_, err := s.Credentials().GetCredentials(context.Background(), "nobody")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put then get round trips every field", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Credentials().PutCredentials(ctx, "home", sample(), base))

		rec, err := s.Credentials().GetCredentials(ctx, "home")
		require.NoError(t, err)
		require.Equal(t, "home", rec.Account)
		require.Equal(t, sample(), rec.Credentials)
		require.True(t, base.Equal(rec.UpdatedAt))
	})

	t.Run("put replaces existing account", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Credentials().PutCredentials(ctx, "home", sample(), base))

		next := sample()
		next.AccessToken = "access-2"
		next.RefreshToken = ""
		require.NoError(t, s.Credentials().PutCredentials(ctx, "home", next, base.Add(time.Minute)))

		rec, err := s.Credentials().GetCredentials(ctx, "home")
		require.NoError(t, err)
		require.Equal(t, "access-2", rec.Credentials.AccessToken)
		require.Empty(t, rec.Credentials.RefreshToken)
		require.True(t, base.Add(time.Minute).Equal(rec.UpdatedAt))

		all, err := s.Credentials().ListCredentials(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("list is ordered by account", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for _, name := range []string{"office", "cabin", "home"} {
			require.NoError(t, s.Credentials().PutCredentials(ctx, name, sample(), base))
		}

		all, err := s.Credentials().ListCredentials(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, "cabin", all[0].Account)
		require.Equal(t, "home", all[1].Account)
		require.Equal(t, "office", all[2].Account)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Credentials().PutCredentials(ctx, "home", sample(), base))
		require.NoError(t, s.Credentials().DeleteCredentials(ctx, "home"))
		require.NoError(t, s.Credentials().DeleteCredentials(ctx, "home"))

		_, err := s.Credentials().GetCredentials(ctx, "home")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("events newest first with limit", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i := range 5 {
			require.NoError(t, s.Events().AppendEvent(ctx, store.Event{
				ID:        idx.New().String(),
				Account:   "home",
				Kind:      store.EventUpdated,
				AccessFP:  "fp",
				ExpiresAt: base.Add(time.Duration(i+1) * time.Hour),
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, s.Events().AppendEvent(ctx, store.Event{
			ID:        idx.New().String(),
			Account:   "office",
			Kind:      store.EventCleared,
			CreatedAt: base,
		}))

		events, err := s.Events().ListEvents(ctx, "home", 3)
		require.NoError(t, err)
		require.Len(t, events, 3)
		require.True(t, base.Add(4*time.Minute).Equal(events[0].CreatedAt))
		require.True(t, base.Add(2*time.Minute).Equal(events[2].CreatedAt))
		require.Equal(t, store.EventUpdated, events[0].Kind)

		office, err := s.Events().ListEvents(ctx, "office", 10)
		require.NoError(t, err)
		require.Len(t, office, 1)
		require.Equal(t, store.EventCleared, office[0].Kind)
		require.True(t, office[0].ExpiresAt.IsZero())
	})

	t.Run("prune events before cutoff", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i := range 4 {
			require.NoError(t, s.Events().AppendEvent(ctx, store.Event{
				ID:        idx.New().String(),
				Account:   "home",
				Kind:      store.EventUpdated,
				CreatedAt: base.Add(time.Duration(i) * 24 * time.Hour),
			}))
		}

		n, err := s.Events().DeleteEventsBefore(ctx, base.Add(48*time.Hour))
		require.NoError(t, err)
		require.Equal(t, 2, n)

		events, err := s.Events().ListEvents(ctx, "home", 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
	})

	t.Run("transaction commits both repos", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		err := s.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.Credentials().PutCredentials(ctx, "home", sample(), base); err != nil {
				return err
			}
			return tx.Events().AppendEvent(ctx, store.Event{
				ID: idx.New().String(), Account: "home", Kind: store.EventUpdated, CreatedAt: base,
			})
		})
		require.NoError(t, err)

		_, err = s.Credentials().GetCredentials(ctx, "home")
		require.NoError(t, err)
		events, err := s.Events().ListEvents(ctx, "home", 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.Credentials().PutCredentials(ctx, "home", sample(), base); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.Credentials().GetCredentials(ctx, "home")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Ping(context.Background()))
	})
}
