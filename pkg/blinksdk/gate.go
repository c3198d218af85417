package blinksdk

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

const refreshFlightKey = "refresh"

// refreshGate refreshes stale tokens before a request goes out. Concurrent
// callers share one refresh; staleness is checked again inside the flight so
// a caller arriving just after a refresh reuses its result.
type refreshGate struct {
	*core
	group singleflight.Group

	// mu is held while a refresh grant runs and while the session logs out,
	// so a late refresh never restores cleared tokens.
	mu sync.Mutex
}

// refreshResult is what one flight hands to every caller sharing it.
type refreshResult struct {
	token       string
	refreshed   bool
	tierChecked bool
}

// pass prepares req for sending. When a refresh was needed and succeeded, an
// Authorization header already on req is rewritten with the new token.
func (g *refreshGate) pass(ctx context.Context, req *Request, skip bool) error {
	if !g.creds.NeedsRefresh(skip) {
		return nil
	}

	token, err := g.refresh(ctx, false)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if req.Header != nil && req.Header.Get("Authorization") != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// refresh runs the refresh grant once for all concurrent callers. With force
// unset it is a no-op when the token turned fresh while waiting.
func (g *refreshGate) refresh(ctx context.Context, force bool) (string, error) {
	res, err := g.run(ctx, force, false)
	return res.token, err
}

// startupRefresh renews tokens from a persisted refresh token, also filling
// in the account region if it is unknown.
func (g *refreshGate) startupRefresh(ctx context.Context) error {
	res, err := g.run(ctx, true, true)
	if err != nil {
		return err
	}
	// A flight started by the request path skips the tier lookup.
	if !res.tierChecked && g.fillTierInfo(ctx) {
		g.notify(ctx)
	}
	return nil
}

// run joins or starts a refresh flight. The flight is detached from the
// caller's cancellation so one caller giving up does not fail the others;
// each caller still stops waiting when its own ctx is done. A forced caller
// that joined a flight which found the token fresh starts another one.
func (g *refreshGate) run(ctx context.Context, force, withTier bool) (refreshResult, error) {
	for {
		ch := g.group.DoChan(refreshFlightKey, func() (any, error) {
			return g.flight(context.WithoutCancel(ctx), force, withTier)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return refreshResult{}, ctx.Err()
		}

		if res.Shared {
			g.log(ctx).Debug("joined in-flight token refresh")
		}
		if res.Err != nil {
			return refreshResult{}, res.Err
		}

		out := res.Val.(refreshResult)
		if force && !out.refreshed {
			continue
		}
		return out, nil
	}
}

func (g *refreshGate) flight(ctx context.Context, force, withTier bool) (refreshResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !force && !g.creds.NeedsRefresh(false) {
		return refreshResult{token: g.creds.accessToken()}, nil
	}

	tok, err := g.refreshGrant(ctx)
	if err != nil {
		return refreshResult{}, err
	}
	if err := g.acceptTokens(ctx, tok, withTier); err != nil {
		return refreshResult{}, stepError(StepRefresh, 0, err)
	}
	return refreshResult{
		token:       g.creds.accessToken(),
		refreshed:   true,
		tierChecked: withTier,
	}, nil
}

// clear forgets the session's tokens once no refresh grant is running.
func (g *refreshGate) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creds.Clear()
}
