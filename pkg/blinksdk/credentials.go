package blinksdk

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// CredentialStore holds the session's tokens, expiry and account
// coordinates. It is safe for concurrent use; readers never observe a
// half-applied token response.
type CredentialStore struct {
	mu    sync.RWMutex
	creds Credentials

	now              Clock
	baseDomain       string
	margin           time.Duration
	defaultExpiresIn int
}

// NewCredentialStore seeds a store from a persisted snapshot.
func NewCredentialStore(cfg Config, initial Credentials, now Clock) *CredentialStore {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	s := &CredentialStore{
		now:              now,
		baseDomain:       cfg.BaseDomain,
		margin:           cfg.RefreshMargin,
		defaultExpiresIn: cfg.DefaultExpiresIn,
	}
	s.Restore(initial)
	return s
}

// HasValidToken reports whether an access token is held. Staleness is
// NeedsRefresh's concern.
func (s *CredentialStore) HasValidToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken != ""
}

// NeedsRefresh reports whether a request should refresh first. With skip set
// it is always false. With no expiration recorded it is true only when a
// refresh token exists. Otherwise it is true within the refresh margin of
// expiry.
func (s *CredentialStore) NeedsRefresh(skip bool) bool {
	if skip {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.needsRefreshLocked()
}

func (s *CredentialStore) needsRefreshLocked() bool {
	if s.creds.ExpirationEpoch == 0 {
		return s.creds.RefreshToken != ""
	}
	return s.creds.ExpirationEpoch-timeToEpoch(s.now()) < s.margin.Seconds()
}

// ApplyTokenResponse replaces the token state in one step. A response
// without refresh_token keeps the current one. A response without
// access_token is an error and leaves the store unchanged.
func (s *CredentialStore) ApplyTokenResponse(resp TokenResponse) error {
	if resp.AccessToken == "" {
		return errNoAccessToken
	}
	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = s.defaultExpiresIn
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		s.creds.RefreshToken = resp.RefreshToken
	}
	s.creds.ExpiresIn = expiresIn
	s.creds.ExpirationEpoch = timeToEpoch(s.now().Add(time.Duration(expiresIn) * time.Second))
	return nil
}

// ApplyTierInfo records the account's region. A missing tier is an error
// and leaves the store unchanged.
func (s *CredentialStore) ApplyTierInfo(tier *TierInfo) error {
	if tier == nil || tier.Tier == "" {
		return fmt.Errorf("%w: tier info is empty", ErrConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.RegionID = tier.Tier
	s.creds.Hostname = tier.Tier + "." + s.baseDomain
	s.creds.AccountID = string(tier.AccountID)
	return nil
}

// NeedsTierInfo reports whether the account coordinates are incomplete.
func (s *CredentialStore) NeedsTierInfo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Hostname == "" || s.creds.RegionID == "" || s.creds.AccountID == ""
}

// Snapshot returns a copy of the current state.
func (s *CredentialStore) Snapshot() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Restore replaces the state with a persisted snapshot. A token without an
// expiry (or the reverse) is dropped so that HasValidToken and NeedsRefresh
// stay consistent.
func (s *CredentialStore) Restore(c Credentials) {
	if c.AccessToken == "" || c.ExpirationEpoch == 0 {
		c.AccessToken = ""
		c.ExpirationEpoch = 0
		c.ExpiresIn = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
}

// Clear forgets tokens and account data but keeps the hardware id, which
// identifies this installation rather than the login.
func (s *CredentialStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{HardwareID: s.creds.HardwareID}
}

func (s *CredentialStore) accessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

func (s *CredentialStore) refreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.RefreshToken
}

func (s *CredentialStore) hardwareID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.HardwareID
}

func (s *CredentialStore) setHardwareID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.HardwareID = id
}
