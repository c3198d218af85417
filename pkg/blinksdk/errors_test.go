package blinksdk

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, ErrFlowExpired, ErrInvalidState)
	require.ErrorIs(t, ErrCSRFTokenMissing, ErrProtocol)
	require.ErrorIs(t, ErrAuthorizationCodeMissing, ErrProtocol)
	require.ErrorIs(t, ErrUnexpectedStatus, ErrProtocol)
	require.False(t, errors.Is(ErrUnexpectedStatus, ErrAuth))
	require.False(t, errors.Is(ErrCSRFTokenMissing, ErrAuth))
	require.ErrorIs(t, ErrTwoFACodeEmpty, ErrTwoFAVerificationFailed)
	require.False(t, errors.Is(ErrTwoFARequired, ErrAuth))
}

func TestGrantErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		kind   error
		not    error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid_client"}`, ErrAuth, ErrProtocol},
		{"forbidden", http.StatusForbidden, ``, ErrAuth, ErrProtocol},
		{"invalid grant", http.StatusBadRequest, `{"error":"invalid_grant"}`, ErrAuth, ErrProtocol},
		{"malformed request", http.StatusBadRequest, `{"error":"invalid_request"}`, ErrProtocol, ErrAuth},
		{"bad gateway", http.StatusBadGateway, `<html>bad gateway</html>`, ErrProtocol, ErrAuth},
		{"unavailable", http.StatusServiceUnavailable, ``, ErrProtocol, ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := grantError(StepRefresh, tt.status, []byte(tt.body))
			require.ErrorIs(t, err, tt.kind)
			require.False(t, errors.Is(err, tt.not))

			var oauthErr *OAuth2Error
			require.ErrorAs(t, err, &oauthErr)
			require.Equal(t, tt.status, oauthErr.StatusCode)
		})
	}
}

func TestFlowErrorMessage(t *testing.T) {
	t.Parallel()

	err := stepError(StepVerify2FA, http.StatusBadRequest, ErrTwoFAVerificationFailed)
	require.Equal(t, "verify_2fa (status 400): blinksdk: two-factor verification failed", err.Error())

	err = stepError(StepAuthorize, 0, ErrNetwork)
	require.Equal(t, "authorize: blinksdk: network error", err.Error())
}

func TestParseOAuth2Error(t *testing.T) {
	t.Parallel()

	e := parseOAuth2Error(http.StatusBadRequest, []byte(`{"error":"invalid_grant","error_description":"expired"}`))
	require.Equal(t, "invalid_grant", e.Code)
	require.Equal(t, "invalid_grant: expired", e.Error())

	e = parseOAuth2Error(http.StatusBadGateway, []byte(`<html>bad gateway</html>`))
	require.Equal(t, "server_error", e.Code)
	require.Equal(t, http.StatusBadGateway, e.StatusCode)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.OAuthSigninURL = ""
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrConfig)
	require.Contains(t, err.Error(), "OAuthSigninURL")

	cfg = DefaultConfig()
	cfg.RefreshMargin = -time.Second
	require.ErrorIs(t, cfg.Validate(), ErrConfig)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.Equal(t, "https://api.oauth.blink.com/oauth/v2/authorize", cfg.OAuthAuthorizeURL)
	require.Equal(t, "https://api.oauth.blink.com/oauth/token", cfg.OAuthTokenURL)
	require.Equal(t, "https://rest-prod.immedia-semi.com/api/v1/users/tier_info", cfg.TierURL)
	require.Equal(t, "ios", cfg.OAuthClientID)
	require.Equal(t, 60*time.Second, cfg.RefreshMargin)
	require.Equal(t, 10*time.Minute, cfg.PendingFlowTTL)
}
