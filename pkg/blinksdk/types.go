package blinksdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TokenResponse is the body of a successful token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TierInfo is the body of the tier lookup.
type TierInfo struct {
	Tier      string    `json:"tier"`
	AccountID AccountID `json:"account_id"`
}

// AccountID accepts both numeric and string JSON ids.
type AccountID string

func (a *AccountID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AccountID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("account_id: %w", err)
	}
	*a = AccountID(n.String())
	return nil
}

// verifyResponse is the body of a successful 2FA verification.
type verifyResponse struct {
	Status string `json:"status"`
}

const verifyStatusCompleted = "auth-completed"

// Credentials is a point-in-time copy of a session's credential state, the
// unit handed to persistence. Zero values mean "absent".
type Credentials struct {
	AccessToken     string  `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	RefreshToken    string  `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	ExpiresIn       int     `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
	ExpirationEpoch float64 `json:"expiration_epoch,omitempty" yaml:"expiration_epoch,omitempty"`
	AccountID       string  `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	RegionID        string  `json:"region_id,omitempty" yaml:"region_id,omitempty"`
	Hostname        string  `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	HardwareID      string  `json:"hardware_id,omitempty" yaml:"hardware_id,omitempty"`
}

// ExpiresAt converts ExpirationEpoch to a time. It is zero when unset.
func (c Credentials) ExpiresAt() time.Time {
	if c.ExpirationEpoch == 0 {
		return time.Time{}
	}
	return epochToTime(c.ExpirationEpoch)
}

// AccountIDInt parses AccountID for REST paths that want a number.
func (c Credentials) AccountIDInt() (int64, error) {
	if c.AccountID == "" {
		return 0, fmt.Errorf("%w: account id not set", ErrConfig)
	}
	return strconv.ParseInt(c.AccountID, 10, 64)
}

func timeToEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func epochToTime(epoch float64) time.Time {
	return time.Unix(0, int64(epoch*float64(time.Second)))
}
