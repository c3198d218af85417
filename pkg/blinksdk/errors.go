package blinksdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Error kinds
// ============================================================================

// Session errors match one kind with errors.Is: ErrNetwork, ErrAuth,
// ErrProtocol, ErrTwoFARequired, ErrTwoFAVerificationFailed, ErrConfig or
// ErrInvalidState. The remaining sentinels refine a kind and match it too.
var (
	// ErrNetwork is returned when a request could not be sent or its response
	// could not be read.
	ErrNetwork = errors.New("blinksdk: network error")

	// ErrAuth is returned when Blink rejected the credentials or the refresh
	// token, or when no refresh token is available.
	ErrAuth = errors.New("blinksdk: authentication failed")

	// ErrProtocol is returned when Blink answered with a status or body that
	// fits no step of the flow, such as a 5xx. Retrying later may succeed.
	ErrProtocol = errors.New("blinksdk: unexpected response from Blink")

	// ErrTwoFARequired is returned when login paused for a 2FA code. The
	// session keeps the pending flow; call Session.Submit2FA to continue.
	ErrTwoFARequired = errors.New("blinksdk: two-factor code required")

	// ErrTwoFAVerificationFailed is returned when Blink rejected a 2FA code.
	// The pending flow is kept so the caller may retry.
	ErrTwoFAVerificationFailed = errors.New("blinksdk: two-factor verification failed")

	// ErrTwoFACodeEmpty is returned when a prompter produced an empty code.
	ErrTwoFACodeEmpty = fmt.Errorf("%w: code is empty", ErrTwoFAVerificationFailed)

	// ErrConfig is returned for missing configuration or invalid tier data.
	ErrConfig = errors.New("blinksdk: configuration error")

	// ErrInvalidState is returned when an operation does not fit the current
	// login state, e.g. Submit2FA with nothing pending.
	ErrInvalidState = errors.New("blinksdk: invalid login state")

	// ErrFlowExpired is returned by Submit2FA once the pending flow outlived
	// Config.PendingFlowTTL. The flow is discarded.
	ErrFlowExpired = fmt.Errorf("%w: pending login expired", ErrInvalidState)

	// ErrCSRFTokenMissing is returned when the signin page carries no token.
	ErrCSRFTokenMissing = fmt.Errorf("%w: csrf token not found on signin page", ErrProtocol)

	// ErrAuthorizationCodeMissing is returned when the authorize redirect has
	// no code parameter.
	ErrAuthorizationCodeMissing = fmt.Errorf("%w: authorization code missing from redirect", ErrProtocol)

	// ErrUnexpectedStatus is returned for any status or body a login step
	// does not expect.
	ErrUnexpectedStatus = fmt.Errorf("%w: unexpected status", ErrProtocol)

	errNoAccessToken = fmt.Errorf("%w: token response has no access_token", ErrUnexpectedStatus)

	// ErrRefreshFailed is returned by the request path when the pre-request
	// refresh failed. The original request is never sent. The refresh's own
	// error is wrapped alongside, so its kind still matches.
	ErrRefreshFailed = errors.New("blinksdk: token refresh failed")

	// ErrNotJWT is returned by InspectAccessToken for opaque tokens.
	ErrNotJWT = errors.New("blinksdk: access token is not a JWT")
)

// ============================================================================
// FlowError
// ============================================================================

// Step names a single network exchange of a login or refresh.
type Step string

const (
	StepAuthorize         Step = "authorize"
	StepSigninPage        Step = "signin_page"
	StepSubmitCredentials Step = "submit_credentials"
	StepVerify2FA         Step = "verify_2fa"
	StepAuthorizationCode Step = "authorization_code"
	StepTokenExchange     Step = "token_exchange"
	StepRefresh           Step = "refresh"
	StepLegacyLogin       Step = "legacy_login"
	StepTierLookup        Step = "tier_lookup"
)

// FlowError reports which step of a flow failed and with what status.
type FlowError struct {
	Step   Step
	Status int // zero when no response was received
	Err    error
}

func (e *FlowError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Step, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

func stepError(step Step, status int, err error) error {
	return &FlowError{Step: step, Status: status, Err: err}
}

// ============================================================================
// OAuth2Error
// ============================================================================

// OAuth2Error is the error body returned by the Blink token endpoint.
type OAuth2Error struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *OAuth2Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// parseOAuth2Error turns a failed token response into an OAuth2Error,
// falling back to the status text when the body is not an OAuth2 error.
func parseOAuth2Error(status int, body []byte) *OAuth2Error {
	var errResp OAuth2Error
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Code != "" {
		errResp.StatusCode = status
		return &errResp
	}
	return &OAuth2Error{
		StatusCode:  status,
		Code:        "server_error",
		Description: fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status)),
	}
}

// grantError classifies a failed grant response: 401, 403 and invalid_grant
// mean the grant was rejected, anything else is unexpected.
func grantError(step Step, status int, body []byte) error {
	oauthErr := parseOAuth2Error(status, body)
	kind := ErrUnexpectedStatus
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = ErrAuth
	case oauthErr.Code == "invalid_grant":
		kind = ErrAuth
	}
	return stepError(step, status, fmt.Errorf("%w: %w", kind, oauthErr))
}
