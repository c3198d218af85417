package blinksdk

import (
	"fmt"
	"time"
)

// Config holds every endpoint and client identifier the session talks to.
// A Session copies its Config at construction; nothing here is mutated later.
type Config struct {
	// BaseDomain is appended to the tier to form the regional hostname
	// ("u011" + "." + BaseDomain).
	BaseDomain string

	// RESTPrefix is prepended to the regional hostname by Session.URL.
	RESTPrefix string

	// TierURL resolves the account's region and id after login.
	TierURL string

	// LegacyLoginURL is the password/refresh grant endpoint of the older API.
	LegacyLoginURL string

	OAuthAuthorizeURL string
	OAuthSigninURL    string
	OAuth2FAVerifyURL string
	OAuthTokenURL     string

	// OAuthClientID identifies the app on the PKCE flow, LegacyClientID on
	// the password grant.
	OAuthClientID  string
	LegacyClientID string
	RedirectURI    string
	Scope          string

	AppBrand        string
	AppVersion      string
	DeviceBrand     string
	DeviceModel     string
	DeviceOSVersion string

	// BrowserUserAgent is sent on the web signin pages, TokenUserAgent on the
	// token endpoint and DefaultUserAgent on REST calls.
	BrowserUserAgent string
	TokenUserAgent   string
	DefaultUserAgent string

	// LegacyDeviceID is sent as the hardware_id header on the legacy grant.
	LegacyDeviceID string

	// RefreshMargin is how long before expiry an access token counts as stale.
	RefreshMargin time.Duration

	// DefaultExpiresIn applies when a token response omits expires_in.
	DefaultExpiresIn int

	// PendingFlowTTL bounds how long a login may wait for its 2FA code.
	// Zero disables the bound.
	PendingFlowTTL time.Duration

	// Max2FAAttempts bounds Session.Login's prompt loop.
	Max2FAAttempts int
}

const (
	blinkDomain   = "immedia-semi.com"
	oauthBaseURL  = "https://api.oauth.blink.com"
	legacyBaseURL = "https://rest-prod." + blinkDomain
)

// DefaultConfig returns the production Blink endpoints.
func DefaultConfig() Config {
	return Config{
		BaseDomain:     blinkDomain,
		RESTPrefix:     "https://rest-",
		TierURL:        legacyBaseURL + "/api/v1/users/tier_info",
		LegacyLoginURL: oauthBaseURL + "/oauth/token",

		OAuthAuthorizeURL: oauthBaseURL + "/oauth/v2/authorize",
		OAuthSigninURL:    oauthBaseURL + "/oauth/v2/signin",
		OAuth2FAVerifyURL: oauthBaseURL + "/oauth/v2/2fa/verify",
		OAuthTokenURL:     oauthBaseURL + "/oauth/token",

		OAuthClientID:  "ios",
		LegacyClientID: "android",
		RedirectURI:    "immedia-blink://applinks.blink.com/signin/callback",
		Scope:          "client",

		AppBrand:        "blink",
		AppVersion:      "50.1",
		DeviceBrand:     "Apple",
		DeviceModel:     "iPhone16,1",
		DeviceOSVersion: "26.1",

		BrowserUserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 18_7 like Mac OS X) " +
			"AppleWebKit/605.1.15 (KHTML, like Gecko) " +
			"Version/26.1 Mobile/15E148 Safari/604.1",
		TokenUserAgent:   "Blink/2511191620 CFNetwork/3860.200.71 Darwin/25.1.0",
		DefaultUserAgent: "27.0ANDROID_28373244",

		LegacyDeviceID: "node-blink-security",

		RefreshMargin:    60 * time.Second,
		DefaultExpiresIn: 3600,
		PendingFlowTTL:   10 * time.Minute,
		Max2FAAttempts:   3,
	}
}

// Validate reports the first missing required field.
func (c Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"BaseDomain", c.BaseDomain},
		{"TierURL", c.TierURL},
		{"OAuthAuthorizeURL", c.OAuthAuthorizeURL},
		{"OAuthSigninURL", c.OAuthSigninURL},
		{"OAuth2FAVerifyURL", c.OAuth2FAVerifyURL},
		{"OAuthTokenURL", c.OAuthTokenURL},
		{"OAuthClientID", c.OAuthClientID},
		{"RedirectURI", c.RedirectURI},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("%w: %s is required", ErrConfig, f.name)
		}
	}
	if c.RefreshMargin < 0 {
		return fmt.Errorf("%w: RefreshMargin must not be negative", ErrConfig)
	}
	return nil
}

// withDefaults fills zero numeric knobs so a partially built Config (common
// in tests that only override URLs) still behaves.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultExpiresIn <= 0 {
		c.DefaultExpiresIn = d.DefaultExpiresIn
	}
	if c.RefreshMargin == 0 {
		c.RefreshMargin = d.RefreshMargin
	}
	if c.Max2FAAttempts <= 0 {
		c.Max2FAAttempts = d.Max2FAAttempts
	}
	return c
}
