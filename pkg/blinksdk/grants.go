package blinksdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/blinkauth/pkg/cryptox"
	"github.com/aussiebroadwan/blinkauth/pkg/slogx"
)

// core is the state shared by the flow engine and the refresh gate.
type core struct {
	cfg       Config
	creds     *CredentialStore
	transport Transport
	listener  CredentialsListener
	logger    *slog.Logger
	now       Clock
}

// log returns the contextual logger, falling back to the session's.
func (c *core) log(ctx context.Context) *slog.Logger {
	if l, ok := slogx.Lookup(ctx); ok {
		return l
	}
	return c.logger
}

func (c *core) withLogger(ctx context.Context, args ...any) context.Context {
	return slogx.WithContext(ctx, c.log(ctx).With(args...))
}

// notify hands the current snapshot to the listener.
func (c *core) notify(ctx context.Context) {
	if c.listener == nil {
		return
	}
	if err := c.listener.CredentialsUpdated(ctx, c.creds.Snapshot()); err != nil {
		c.log(ctx).Warn("credentials listener failed", "error", err)
	}
}

// requestToken posts a grant form and decodes the token response.
func (c *core) requestToken(
	ctx context.Context,
	step Step,
	target string,
	form url.Values,
	header http.Header,
) (*TokenResponse, error) {
	req := formRequest(http.MethodPost, target, form)
	for key, values := range header {
		req.Header[key] = values
	}

	resp, err := send(ctx, c.transport, req)
	if err != nil {
		return nil, stepError(step, 0, err)
	}
	if resp.Status != http.StatusOK {
		return nil, grantError(step, resp.Status, resp.Body)
	}

	var tok TokenResponse
	if err := resp.DecodeJSON(&tok); err != nil {
		return nil, stepError(step, resp.Status, fmt.Errorf("%w: %w", ErrUnexpectedStatus, err))
	}
	if tok.AccessToken == "" {
		return nil, stepError(step, resp.Status, errNoAccessToken)
	}
	return &tok, nil
}

// refreshGrant exchanges the stored refresh token for new tokens. It does
// not touch the credential store.
func (c *core) refreshGrant(ctx context.Context) (*TokenResponse, error) {
	refreshToken := c.creds.refreshToken()
	if refreshToken == "" {
		return nil, stepError(StepRefresh, 0, fmt.Errorf("%w: no refresh token", ErrAuth))
	}

	c.log(ctx).Debug("refreshing access token",
		"refresh_fp", cryptox.LogFingerprint(refreshToken),
	)

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.cfg.OAuthClientID},
		"scope":         {c.cfg.Scope},
		"hardware_id":   {c.creds.hardwareID()},
	}
	header := http.Header{}
	header.Set("User-Agent", c.cfg.TokenUserAgent)

	return c.requestToken(ctx, StepRefresh, c.cfg.OAuthTokenURL, form, header)
}

// exchangeCode redeems an authorization code with its PKCE verifier.
func (c *core) exchangeCode(ctx context.Context, code, verifier string) (*TokenResponse, error) {
	form := url.Values{
		"app_brand":     {c.cfg.AppBrand},
		"client_id":     {c.cfg.OAuthClientID},
		"code":          {code},
		"code_verifier": {verifier},
		"grant_type":    {"authorization_code"},
		"hardware_id":   {c.creds.hardwareID()},
		"redirect_uri":  {c.cfg.RedirectURI},
		"scope":         {c.cfg.Scope},
	}
	header := http.Header{}
	header.Set("User-Agent", c.cfg.TokenUserAgent)
	header.Set("Accept", "*/*")

	return c.requestToken(ctx, StepTokenExchange, c.cfg.OAuthTokenURL, form, header)
}

// passwordGrant is the legacy login. A 412 is reported as ErrTwoFARequired
// with no state change; the caller records the pending flow.
func (c *core) passwordGrant(ctx context.Context, username, password, twoFACode string) (*TokenResponse, error) {
	form := url.Values{
		"username":   {username},
		"password":   {password},
		"grant_type": {"password"},
		"client_id":  {c.cfg.LegacyClientID},
		"scope":      {c.cfg.Scope},
	}
	req := formRequest(http.MethodPost, c.cfg.LegacyLoginURL, form)
	req.Header.Set("User-Agent", c.cfg.DefaultUserAgent)
	req.Header.Set("hardware_id", c.cfg.LegacyDeviceID)
	if twoFACode != "" {
		req.Header.Set("2fa-code", twoFACode)
	}

	resp, err := send(ctx, c.transport, req)
	if err != nil {
		return nil, stepError(StepLegacyLogin, 0, err)
	}

	switch resp.Status {
	case http.StatusOK:
		var tok TokenResponse
		if err := resp.DecodeJSON(&tok); err != nil {
			return nil, stepError(StepLegacyLogin, resp.Status, fmt.Errorf("%w: %w", ErrUnexpectedStatus, err))
		}
		if tok.AccessToken == "" {
			return nil, stepError(StepLegacyLogin, resp.Status, errNoAccessToken)
		}
		return &tok, nil
	case http.StatusPreconditionFailed:
		return nil, ErrTwoFARequired
	case http.StatusUnauthorized:
		return nil, stepError(StepLegacyLogin, resp.Status, ErrAuth)
	default:
		return nil, stepError(StepLegacyLogin, resp.Status, ErrUnexpectedStatus)
	}
}

// fetchTierInfo looks up the account's region. It bypasses the refresh
// gate: it only runs right after a token was obtained.
func (c *core) fetchTierInfo(ctx context.Context) (*TierInfo, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("User-Agent", c.cfg.DefaultUserAgent)
	header.Set("Authorization", "Bearer "+c.creds.accessToken())

	resp, err := send(ctx, c.transport, &Request{
		Method:          http.MethodGet,
		URL:             c.cfg.TierURL,
		Header:          header,
		FollowRedirects: true,
	})
	if err != nil {
		return nil, stepError(StepTierLookup, 0, err)
	}
	if resp.Status != http.StatusOK {
		return nil, stepError(StepTierLookup, resp.Status, ErrUnexpectedStatus)
	}

	var tier TierInfo
	if err := resp.DecodeJSON(&tier); err != nil {
		return nil, stepError(StepTierLookup, resp.Status, fmt.Errorf("%w: %w", ErrConfig, err))
	}
	return &tier, nil
}

// acceptTokens applies a token response, fills in the account region when
// it is unknown, and notifies the listener. Tier lookup failures only warn:
// the tokens are valid regardless.
func (c *core) acceptTokens(ctx context.Context, tok *TokenResponse, withTier bool) error {
	if err := c.creds.ApplyTokenResponse(*tok); err != nil {
		return err
	}

	if withTier {
		c.fillTierInfo(ctx)
	}

	c.log(ctx).Info("credentials updated",
		"access_fp", cryptox.LogFingerprint(tok.AccessToken),
		"expires_in", c.creds.Snapshot().ExpiresIn,
	)
	c.notify(ctx)
	return nil
}

// fillTierInfo looks up the account region when it is unknown and reports
// whether the store changed.
func (c *core) fillTierInfo(ctx context.Context) bool {
	if !c.creds.NeedsTierInfo() {
		return false
	}
	tier, err := c.fetchTierInfo(ctx)
	if err == nil {
		err = c.creds.ApplyTierInfo(tier)
	}
	if err != nil {
		c.log(ctx).Warn("tier lookup failed", "error", err)
		return false
	}
	return true
}
