package blinksdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aussiebroadwan/blinkauth/pkg/cryptox"
)

// Options configures NewSession. Only Config is commonly set; every other
// field has a usable default.
type Options struct {
	// Config defaults to DefaultConfig() when zero.
	Config Config

	// Credentials is a previously persisted snapshot.
	Credentials Credentials

	// Username and Password are used by Startup when a full login is needed.
	// When empty the Prompter is asked.
	Username string
	Password string

	Transport     Transport
	CSRFExtractor CSRFExtractor
	Listener      CredentialsListener
	Prompter      Prompter

	// NoPrompt disables the Prompter even when one is set.
	NoPrompt bool

	Logger *slog.Logger
	Clock  Clock
}

// Session owns one account's credentials and its login state. All methods
// are safe for concurrent use; requests run concurrently and share a single
// refresh when their token goes stale.
type Session struct {
	core     *core
	flow     *authFlow
	gate     *refreshGate
	prompter Prompter
	noPrompt bool
	username string
	password string
}

// NewSession builds a session from persisted credentials. A hardware id is
// generated when the snapshot carries none.
func NewSession(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg.OAuthTokenURL == "" && cfg.BaseDomain == "" {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	transport := opts.Transport
	if transport == nil {
		t, err := NewHTTPTransport(HTTPTransportConfig{Logger: logger})
		if err != nil {
			return nil, err
		}
		transport = t
	}

	csrf := opts.CSRFExtractor
	if csrf == nil {
		csrf = CSRFExtractorFunc(ExtractCSRFToken)
	}

	creds := NewCredentialStore(cfg, opts.Credentials, now)
	if creds.hardwareID() == "" {
		creds.setHardwareID(strings.ToUpper(uuid.NewString()))
		logger.Debug("generated hardware id")
	}

	c := &core{
		cfg:       cfg,
		creds:     creds,
		transport: transport,
		listener:  opts.Listener,
		logger:    logger,
		now:       now,
	}

	return &Session{
		core:     c,
		flow:     newAuthFlow(c, csrf),
		gate:     &refreshGate{core: c},
		prompter: opts.Prompter,
		noPrompt: opts.NoPrompt,
		username: opts.Username,
		password: opts.Password,
	}, nil
}

// ============================================================================
// Login lifecycle
// ============================================================================

// Startup brings the session to an authenticated state. A persisted refresh
// token is tried first; when that fails (or there is none) the full PKCE
// login runs. ErrTwoFARequired means the login is paused for Submit2FA.
func (s *Session) Startup(ctx context.Context) error {
	if s.flow.pending() {
		return fmt.Errorf("%w: a login is waiting for its 2FA code", ErrInvalidState)
	}

	snap := s.core.creds.Snapshot()
	if snap.RefreshToken != "" && snap.HardwareID != "" {
		err := s.gate.startupRefresh(ctx)
		if err == nil {
			s.core.log(ctx).Info("session resumed from refresh token")
			return nil
		}
		s.core.log(ctx).Info("refresh at startup failed, falling back to login", "error", err)
	}

	username, password, err := s.loginCredentials(ctx)
	if err != nil {
		return err
	}
	return s.flow.login(ctx, username, password)
}

// Login is Startup followed, when a 2FA code is requested and a Prompter is
// available, by up to Config.Max2FAAttempts prompts.
func (s *Session) Login(ctx context.Context) error {
	err := s.Startup(ctx)
	if !errors.Is(err, ErrTwoFARequired) || !s.canPrompt() {
		return err
	}

	for attempt := 1; attempt <= s.core.cfg.Max2FAAttempts; attempt++ {
		err = s.Prompt2FA(ctx)
		if !errors.Is(err, ErrTwoFAVerificationFailed) {
			return err
		}
		s.core.log(ctx).Warn("two-factor code rejected", "attempt", attempt)
	}
	return err
}

// Submit2FA continues a paused login with the code the user received.
// A rejected code keeps the login paused so it can be retried.
func (s *Session) Submit2FA(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrTwoFACodeEmpty
	}
	return s.flow.resume(ctx, code)
}

// Prompt2FA asks the Prompter for a code and submits it.
func (s *Session) Prompt2FA(ctx context.Context) error {
	if !s.canPrompt() {
		return fmt.Errorf("%w: no prompter available", ErrConfig)
	}
	code, err := s.prompter.TwoFactorCode(ctx)
	if err != nil {
		return fmt.Errorf("failed to read 2FA code: %w", err)
	}
	return s.Submit2FA(ctx, code)
}

// Abandon discards a paused login.
func (s *Session) Abandon() {
	s.flow.abandon()
}

// LegacyLogin authenticates with the password grant of the older API.
func (s *Session) LegacyLogin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		var err error
		username, password, err = s.loginCredentials(ctx)
		if err != nil {
			return err
		}
	}
	return s.flow.legacyLogin(ctx, username, password)
}

// Refresh forces a refresh grant regardless of token age.
func (s *Session) Refresh(ctx context.Context) error {
	if _, err := s.gate.refresh(ctx, true); err != nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return nil
}

// Logout forgets tokens and account data, keeping the hardware id, and tells
// the listener. A refresh already running finishes first.
func (s *Session) Logout(ctx context.Context) {
	s.flow.abandon()
	s.gate.clear()
	s.core.log(ctx).Info("logged out")
	s.core.notify(ctx)
}

func (s *Session) canPrompt() bool {
	return s.prompter != nil && !s.noPrompt
}

func (s *Session) loginCredentials(ctx context.Context) (string, string, error) {
	if s.username != "" && s.password != "" {
		return s.username, s.password, nil
	}
	if !s.canPrompt() {
		return "", "", fmt.Errorf("%w: username and password are required", ErrConfig)
	}
	username, password, err := s.prompter.LoginCredentials(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials: %w", err)
	}
	if username == "" || password == "" {
		return "", "", fmt.Errorf("%w: username and password are required", ErrConfig)
	}
	return username, password, nil
}

// ============================================================================
// Requests
// ============================================================================

// Do sends req after the refresh gate. With skipRefreshCheck set the gate is
// bypassed. A failed refresh returns ErrRefreshFailed and req is not sent.
// Non-2xx statuses are returned as responses, not errors.
func (s *Session) Do(ctx context.Context, req *Request, skipRefreshCheck bool) (*Response, error) {
	return s.do(ctx, req, skipRefreshCheck, false)
}

// do optionally attaches the current bearer token after the gate, so a
// request never carries a token replaced by a concurrent refresh.
func (s *Session) do(ctx context.Context, req *Request, skip, attachToken bool) (*Response, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if err := s.gate.pass(ctx, req, skip); err != nil {
		return nil, err
	}
	if attachToken {
		if token := s.core.creds.accessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return send(ctx, s.core.transport, req)
}

// Get sends a GET through the refresh gate. A nil header means the default
// REST headers with the current bearer token.
func (s *Session) Get(ctx context.Context, target string, header http.Header) (*Response, error) {
	return s.do(ctx, &Request{
		Method:          http.MethodGet,
		URL:             target,
		Header:          s.headerOrDefault(header),
		FollowRedirects: true,
	}, false, header == nil)
}

// Post sends a POST through the refresh gate. A nil header means the
// default REST headers with the current bearer token.
func (s *Session) Post(ctx context.Context, target string, header http.Header, body []byte) (*Response, error) {
	return s.do(ctx, &Request{
		Method:          http.MethodPost,
		URL:             target,
		Header:          s.headerOrDefault(header),
		Body:            body,
		FollowRedirects: true,
	}, false, header == nil)
}

func (s *Session) headerOrDefault(header http.Header) http.Header {
	if header != nil {
		return header
	}
	h := http.Header{}
	h.Set("User-Agent", s.core.cfg.DefaultUserAgent)
	h.Set("Content-Type", "application/json")
	return h
}

// AuthHeaders returns the default REST headers with the current token.
// Authorization is omitted when no token is held.
func (s *Session) AuthHeaders() http.Header {
	h := s.headerOrDefault(nil)
	if token := s.core.creds.accessToken(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// URL returns the regional REST URL for path, e.g.
// "https://rest-u011.immedia-semi.com/api/v3/accounts/1/homescreen".
func (s *Session) URL(path string) (string, error) {
	host := s.core.creds.Snapshot().Hostname
	if host == "" {
		return "", fmt.Errorf("%w: account region unknown, log in first", ErrConfig)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.core.cfg.RESTPrefix + host + path, nil
}

// ============================================================================
// Accessors
// ============================================================================

// Credentials returns a snapshot for persistence.
func (s *Session) Credentials() Credentials {
	return s.core.creds.Snapshot()
}

// HasValidToken reports whether an access token is held.
func (s *Session) HasValidToken() bool {
	return s.core.creds.HasValidToken()
}

// NeedsRefresh reports whether the next request would refresh first.
func (s *Session) NeedsRefresh() bool {
	return s.core.creds.NeedsRefresh(false)
}

// Pending reports whether a login is paused waiting for a 2FA code.
func (s *Session) Pending() bool {
	return s.flow.pending()
}

// Phase reports the login state machine's position.
func (s *Session) Phase() Phase {
	return s.flow.currentPhase()
}

// Config returns the session's configuration.
func (s *Session) Config() Config {
	return s.core.cfg
}

// LogValue keeps tokens out of logs when a session is logged directly.
func (s *Session) LogValue() slog.Value {
	snap := s.core.creds.Snapshot()
	return slog.GroupValue(
		slog.String("access_fp", cryptox.LogFingerprint(snap.AccessToken)),
		slog.String("region", snap.RegionID),
		slog.String("account_id", snap.AccountID),
		slog.String("phase", s.Phase().String()),
	)
}
