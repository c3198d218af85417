package blinksdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aussiebroadwan/blinkauth/pkg/idx"
)

// Phase is the observable position of the login state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAuthorizing
	PhaseSigninFetched
	PhaseCredentialsSubmitted
	PhaseTwoFAPending
	PhaseCodeReceived
	PhaseTokenExchanged
	PhaseComplete
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:                 "idle",
	PhaseAuthorizing:          "authorizing",
	PhaseSigninFetched:        "signin_fetched",
	PhaseCredentialsSubmitted: "credentials_submitted",
	PhaseTwoFAPending:         "two_fa_pending",
	PhaseCodeReceived:         "code_received",
	PhaseTokenExchanged:       "token_exchanged",
	PhaseComplete:             "complete",
	PhaseFailed:               "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// ============================================================================
// Flow state
// ============================================================================

// flowState is one of noActiveFlow, *pendingOAuth2FA or *pendingLegacy2FA.
type flowState interface {
	pendingSince() (time.Time, bool)
}

type noActiveFlow struct{}

func (noActiveFlow) pendingSince() (time.Time, bool) { return time.Time{}, false }

// pendingOAuth2FA is a PKCE login paused at the 2FA challenge. The verifier
// and CSRF token exist nowhere else.
type pendingOAuth2FA struct {
	id           idx.ID
	csrfToken    string
	codeVerifier string
	startedAt    time.Time
}

func (p *pendingOAuth2FA) pendingSince() (time.Time, bool) { return p.startedAt, true }

// pendingLegacy2FA is a password grant waiting to be resent with a code.
type pendingLegacy2FA struct {
	id        idx.ID
	username  string
	password  string
	startedAt time.Time
}

func (p *pendingLegacy2FA) pendingSince() (time.Time, bool) { return p.startedAt, true }

// ============================================================================
// Engine
// ============================================================================

// authFlow runs the login handshakes. At most one runs at a time; a paused
// flow blocks new logins until it is resumed, abandoned or expires.
type authFlow struct {
	*core
	csrf CSRFExtractor

	mu    sync.Mutex
	state flowState
	phase Phase
	busy  bool
}

func newAuthFlow(c *core, csrf CSRFExtractor) *authFlow {
	return &authFlow{core: c, csrf: csrf, state: noActiveFlow{}}
}

// begin claims the engine for a new login.
func (f *authFlow) begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy {
		return fmt.Errorf("%w: a login is already running", ErrInvalidState)
	}
	f.expireLocked()
	if _, pending := f.state.pendingSince(); pending {
		return fmt.Errorf("%w: a login is waiting for its 2FA code", ErrInvalidState)
	}
	f.busy = true
	return nil
}

// beginResume claims the engine to continue the paused flow.
func (f *authFlow) beginResume() (flowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy {
		return nil, fmt.Errorf("%w: a login is already running", ErrInvalidState)
	}
	if f.expireLocked() {
		return nil, ErrFlowExpired
	}
	if _, pending := f.state.pendingSince(); !pending {
		return nil, fmt.Errorf("%w: no login is waiting for a 2FA code", ErrInvalidState)
	}
	f.busy = true
	return f.state, nil
}

func (f *authFlow) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
}

// expireLocked drops a paused flow older than the TTL.
func (f *authFlow) expireLocked() bool {
	started, pending := f.state.pendingSince()
	if !pending || f.cfg.PendingFlowTTL <= 0 {
		return false
	}
	if f.now().Sub(started) <= f.cfg.PendingFlowTTL {
		return false
	}
	f.state = noActiveFlow{}
	f.phase = PhaseFailed
	f.logger.Info("pending login expired", "ttl", f.cfg.PendingFlowTTL)
	return true
}

func (f *authFlow) setPhase(p Phase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phase = p
}

func (f *authFlow) currentPhase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireLocked()
	return f.phase
}

func (f *authFlow) pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireLocked()
	_, pending := f.state.pendingSince()
	return pending
}

// park records a paused flow and reports ErrTwoFARequired.
func (f *authFlow) park(ctx context.Context, st flowState) error {
	f.mu.Lock()
	f.state = st
	f.phase = PhaseTwoFAPending
	f.mu.Unlock()

	f.log(ctx).Info("two-factor code required")
	return ErrTwoFARequired
}

func (f *authFlow) purge() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = noActiveFlow{}
}

// abandon discards a paused flow. It is a no-op when nothing is pending.
func (f *authFlow) abandon() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, pending := f.state.pendingSince(); pending {
		f.state = noActiveFlow{}
		f.phase = PhaseIdle
	}
}

func (f *authFlow) fail(ctx context.Context, err error) error {
	f.setPhase(PhaseFailed)
	f.log(ctx).Warn("login failed", "error", err)
	return err
}

// ============================================================================
// PKCE login
// ============================================================================

// login runs the authorization code flow. It returns ErrTwoFARequired when
// the account asks for a code; the flow then waits for resume.
func (f *authFlow) login(ctx context.Context, username, password string) error {
	if err := f.begin(); err != nil {
		return err
	}
	defer f.end()

	id := idx.New()
	ctx = f.withLogger(ctx, "flow_id", id.String())
	f.setPhase(PhaseAuthorizing)

	pkce, err := GeneratePKCEPair()
	if err != nil {
		return f.fail(ctx, stepError(StepAuthorize, 0, err))
	}

	if err := f.authorize(ctx, pkce); err != nil {
		return f.fail(ctx, err)
	}

	csrfToken, err := f.signinPage(ctx)
	if err != nil {
		return f.fail(ctx, err)
	}
	f.setPhase(PhaseSigninFetched)

	needs2FA, err := f.submitCredentials(ctx, username, password, csrfToken)
	if err != nil {
		return f.fail(ctx, err)
	}
	f.setPhase(PhaseCredentialsSubmitted)

	if needs2FA {
		return f.park(ctx, &pendingOAuth2FA{
			id:           id,
			csrfToken:    csrfToken,
			codeVerifier: pkce.Verifier,
			startedAt:    f.now(),
		})
	}

	if err := f.finish(ctx, pkce.Verifier); err != nil {
		return f.fail(ctx, err)
	}
	return nil
}

// resume continues the paused flow with a 2FA code. On failure the flow
// stays paused so the caller can retry or abandon it.
func (f *authFlow) resume(ctx context.Context, code string) error {
	st, err := f.beginResume()
	if err != nil {
		return err
	}
	defer f.end()

	switch p := st.(type) {
	case *pendingOAuth2FA:
		ctx = f.withLogger(ctx, "flow_id", p.id.String())
		if err := f.verify2FA(ctx, p.csrfToken, code); err != nil {
			f.log(ctx).Warn("two-factor verification failed", "error", err)
			return err
		}
		if err := f.finish(ctx, p.codeVerifier); err != nil {
			f.setPhase(PhaseTwoFAPending)
			f.log(ctx).Warn("login after two-factor verification failed", "error", err)
			return err
		}
		return nil

	case *pendingLegacy2FA:
		ctx = f.withLogger(ctx, "flow_id", p.id.String())
		tok, err := f.passwordGrant(ctx, p.username, p.password, code)
		if err != nil {
			f.log(ctx).Warn("legacy two-factor login failed", "error", err)
			if errors.Is(err, ErrTwoFARequired) {
				return stepError(StepLegacyLogin, http.StatusPreconditionFailed, ErrTwoFAVerificationFailed)
			}
			return err
		}
		if err := f.acceptTokens(ctx, tok, true); err != nil {
			return stepError(StepLegacyLogin, http.StatusOK, err)
		}
		f.purge()
		f.setPhase(PhaseComplete)
		return nil
	}

	return fmt.Errorf("%w: unknown flow state %T", ErrInvalidState, st)
}

// finish runs steps 5 to 7: authorization code, token exchange, completion.
func (f *authFlow) finish(ctx context.Context, verifier string) error {
	code, err := f.authorizationCode(ctx)
	if err != nil {
		return err
	}
	f.setPhase(PhaseCodeReceived)

	tok, err := f.exchangeCode(ctx, code, verifier)
	if err != nil {
		return err
	}
	f.setPhase(PhaseTokenExchanged)

	if err := f.acceptTokens(ctx, tok, true); err != nil {
		return stepError(StepTokenExchange, http.StatusOK, err)
	}
	f.purge()
	f.setPhase(PhaseComplete)
	f.log(ctx).Info("login complete")
	return nil
}

// legacyLogin runs the password grant.
func (f *authFlow) legacyLogin(ctx context.Context, username, password string) error {
	if err := f.begin(); err != nil {
		return err
	}
	defer f.end()

	id := idx.New()
	ctx = f.withLogger(ctx, "flow_id", id.String(), "grant", "password")
	f.setPhase(PhaseCredentialsSubmitted)

	tok, err := f.passwordGrant(ctx, username, password, "")
	if errors.Is(err, ErrTwoFARequired) {
		return f.park(ctx, &pendingLegacy2FA{
			id:        id,
			username:  username,
			password:  password,
			startedAt: f.now(),
		})
	}
	if err != nil {
		return f.fail(ctx, err)
	}

	if err := f.acceptTokens(ctx, tok, true); err != nil {
		return f.fail(ctx, stepError(StepLegacyLogin, http.StatusOK, err))
	}
	f.setPhase(PhaseComplete)
	return nil
}

// ============================================================================
// Steps
// ============================================================================

func (f *authFlow) browserRequest(method, target string, follow bool) *Request {
	h := http.Header{}
	h.Set("User-Agent", f.cfg.BrowserUserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return &Request{Method: method, URL: target, Header: h, FollowRedirects: follow}
}

func (f *authFlow) browserForm(target string, form url.Values) *Request {
	req := f.browserRequest(http.MethodPost, target, false)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if u, err := url.Parse(f.cfg.OAuthSigninURL); err == nil {
		req.Header.Set("Origin", u.Scheme+"://"+u.Host)
	}
	req.Header.Set("Referer", f.cfg.OAuthSigninURL)
	req.Body = []byte(form.Encode())
	return req
}

// authorize is step 1: open the authorization session.
func (f *authFlow) authorize(ctx context.Context, pkce *PKCEPair) error {
	params := url.Values{
		"app_brand":             {f.cfg.AppBrand},
		"app_version":           {f.cfg.AppVersion},
		"client_id":             {f.cfg.OAuthClientID},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {pkce.Method},
		"device_brand":          {f.cfg.DeviceBrand},
		"device_model":          {f.cfg.DeviceModel},
		"device_os_version":     {f.cfg.DeviceOSVersion},
		"hardware_id":           {f.creds.hardwareID()},
		"redirect_uri":          {f.cfg.RedirectURI},
		"response_type":         {"code"},
		"scope":                 {f.cfg.Scope},
	}

	resp, err := send(ctx, f.transport, f.browserRequest(http.MethodGet, withQuery(f.cfg.OAuthAuthorizeURL, params), true))
	if err != nil {
		return stepError(StepAuthorize, 0, err)
	}
	if resp.Status != http.StatusOK {
		return stepError(StepAuthorize, resp.Status, ErrUnexpectedStatus)
	}
	return nil
}

// signinPage is step 2: load the signin page and read its CSRF token.
func (f *authFlow) signinPage(ctx context.Context) (string, error) {
	resp, err := send(ctx, f.transport, f.browserRequest(http.MethodGet, f.cfg.OAuthSigninURL, true))
	if err != nil {
		return "", stepError(StepSigninPage, 0, err)
	}
	if resp.Status != http.StatusOK {
		return "", stepError(StepSigninPage, resp.Status, ErrUnexpectedStatus)
	}

	token, ok := f.csrf.Extract(resp.Body)
	if !ok || token == "" {
		return "", stepError(StepSigninPage, resp.Status, ErrCSRFTokenMissing)
	}
	return token, nil
}

// submitCredentials is step 3. It reports whether a 2FA code is needed.
func (f *authFlow) submitCredentials(ctx context.Context, username, password, csrfToken string) (bool, error) {
	form := url.Values{
		"username":   {username},
		"password":   {password},
		"csrf-token": {csrfToken},
	}

	resp, err := send(ctx, f.transport, f.browserForm(f.cfg.OAuthSigninURL, form))
	if err != nil {
		return false, stepError(StepSubmitCredentials, 0, err)
	}

	switch {
	case resp.Status == http.StatusPreconditionFailed:
		return true, nil
	case isRedirect(resp.Status):
		return false, nil
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		return false, stepError(StepSubmitCredentials, resp.Status, ErrAuth)
	default:
		return false, stepError(StepSubmitCredentials, resp.Status, ErrUnexpectedStatus)
	}
}

// verify2FA is step 4.
func (f *authFlow) verify2FA(ctx context.Context, csrfToken, code string) error {
	form := url.Values{
		"2fa_code":    {code},
		"csrf-token":  {csrfToken},
		"remember_me": {"false"},
	}

	resp, err := send(ctx, f.transport, f.browserForm(f.cfg.OAuth2FAVerifyURL, form))
	if err != nil {
		return stepError(StepVerify2FA, 0, err)
	}
	if resp.Status != http.StatusCreated {
		return stepError(StepVerify2FA, resp.Status, ErrTwoFAVerificationFailed)
	}

	var body verifyResponse
	if err := resp.DecodeJSON(&body); err != nil {
		return stepError(StepVerify2FA, resp.Status, fmt.Errorf("%w: %w", ErrTwoFAVerificationFailed, err))
	}
	if body.Status != verifyStatusCompleted {
		return stepError(StepVerify2FA, resp.Status,
			fmt.Errorf("%w: status %q", ErrTwoFAVerificationFailed, body.Status))
	}
	return nil
}

// authorizationCode is step 5: the authorize endpoint now redirects to the
// app's callback with the code.
func (f *authFlow) authorizationCode(ctx context.Context) (string, error) {
	resp, err := send(ctx, f.transport, f.browserRequest(http.MethodGet, f.cfg.OAuthAuthorizeURL, false))
	if err != nil {
		return "", stepError(StepAuthorizationCode, 0, err)
	}
	if !isRedirect(resp.Status) {
		return "", stepError(StepAuthorizationCode, resp.Status, ErrAuthorizationCodeMissing)
	}

	loc, err := resp.Location()
	if err != nil {
		return "", stepError(StepAuthorizationCode, resp.Status, fmt.Errorf("%w: %w", ErrAuthorizationCodeMissing, err))
	}
	if loc == nil {
		return "", stepError(StepAuthorizationCode, resp.Status, ErrAuthorizationCodeMissing)
	}

	query := loc.Query()
	code := query.Get("code")
	if code == "" {
		if e := query.Get("error"); e != "" {
			return "", stepError(StepAuthorizationCode, resp.Status,
				fmt.Errorf("%w: %s %s", ErrAuthorizationCodeMissing, e, query.Get("error_description")))
		}
		return "", stepError(StepAuthorizationCode, resp.Status, ErrAuthorizationCodeMissing)
	}
	return code, nil
}
