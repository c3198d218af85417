package blinksdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/blinkauth/pkg/slogx"
)

const (
	testAuthorizeURL = "https://oauth.test/oauth/v2/authorize"
	testSigninURL    = "https://oauth.test/oauth/v2/signin"
	testVerifyURL    = "https://oauth.test/oauth/v2/2fa/verify"
	testTokenURL     = "https://oauth.test/oauth/token"
	testLegacyURL    = "https://legacy.test/oauth/token"
	testTierURL      = "https://rest-prod.test/api/v1/users/tier_info"
	testAPIURL       = "https://rest-u011.test/api/v3/accounts/4242/homescreen"
	testCallbackCode = "immedia-blink://applinks.blink.com/signin/callback?code=code-123&state=x"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OAuthAuthorizeURL = testAuthorizeURL
	cfg.OAuthSigninURL = testSigninURL
	cfg.OAuth2FAVerifyURL = testVerifyURL
	cfg.OAuthTokenURL = testTokenURL
	cfg.LegacyLoginURL = testLegacyURL
	cfg.TierURL = testTierURL
	return cfg
}

func signinPage(csrf string) string {
	return `<!doctype html><html><head>
<script src="/assets/app.js"></script>
<script id="oauth-args" type="application/json">{"csrf-token":"` + csrf + `","client_id":"ios"}</script>
</head><body><form method="post"></form></body></html>`
}

func tokenJSON(access, refresh string, expiresIn int) string {
	b, _ := json.Marshal(TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	})
	return string(b)
}

// fakeBlink scripts every Blink endpoint the session talks to. Fields are
// set before use and read concurrently afterwards.
type fakeBlink struct {
	mu    sync.Mutex
	calls []Request

	authorizeStatus int
	signinStatus    int
	signinHTML      string
	submitStatus    int
	verifyStatus    int
	verifyBody      string
	validCode       string
	codeStatus      int
	codeLocation    string
	exchangeStatus  int
	exchangeBody    string
	refreshStatus   int
	refreshBody     string
	refreshDelay    time.Duration
	tierStatus      int
	tierBody        string
	legacyStatus    int
	legacyBody      string
	legacyCode      string
	apiStatus       int
	apiBody         []byte

	refreshes atomic.Int32
}

func newFakeBlink() *fakeBlink {
	return &fakeBlink{
		authorizeStatus: http.StatusOK,
		signinStatus:    http.StatusOK,
		signinHTML:      signinPage("csrf-abc"),
		submitStatus:    http.StatusFound,
		verifyStatus:    http.StatusCreated,
		verifyBody:      `{"status":"auth-completed"}`,
		codeStatus:      http.StatusFound,
		codeLocation:    testCallbackCode,
		exchangeStatus:  http.StatusOK,
		exchangeBody:    tokenJSON("access-1", "refresh-1", 3600),
		refreshStatus:   http.StatusOK,
		refreshBody:     tokenJSON("access-2", "refresh-2", 3600),
		tierStatus:      http.StatusOK,
		tierBody:        `{"tier":"u011","account_id":4242}`,
		legacyStatus:    http.StatusOK,
		legacyBody:      tokenJSON("legacy-access", "legacy-refresh", 86400),
		apiStatus:       http.StatusOK,
		apiBody:         []byte(`{"ok":true}`),
	}
}

func text(status int, body string) *Response {
	return &Response{Status: status, Header: http.Header{}, Body: []byte(body)}
}

func (f *fakeBlink) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recorded := *req
	recorded.Header = req.Header.Clone()
	recorded.Body = append([]byte(nil), req.Body...)
	f.mu.Lock()
	f.calls = append(f.calls, recorded)
	f.mu.Unlock()

	base, _, _ := strings.Cut(req.URL, "?")
	form, _ := url.ParseQuery(string(req.Body))

	switch {
	case base == testAuthorizeURL && req.FollowRedirects:
		return text(f.authorizeStatus, "<html>authorize</html>"), nil

	case base == testAuthorizeURL:
		resp := text(f.codeStatus, "")
		if f.codeLocation != "" {
			resp.Header.Set("Location", f.codeLocation)
		}
		return resp, nil

	case base == testSigninURL && req.Method == http.MethodGet:
		return text(f.signinStatus, f.signinHTML), nil

	case base == testSigninURL:
		resp := text(f.submitStatus, "")
		resp.Header.Set("Location", testAuthorizeURL)
		return resp, nil

	case base == testVerifyURL:
		if f.validCode != "" && form.Get("2fa_code") != f.validCode {
			return text(http.StatusBadRequest, `{"status":"invalid-code"}`), nil
		}
		return text(f.verifyStatus, f.verifyBody), nil

	case base == testTokenURL && form.Get("grant_type") == "refresh_token":
		f.refreshes.Add(1)
		if f.refreshDelay > 0 {
			select {
			case <-time.After(f.refreshDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return text(f.refreshStatus, f.refreshBody), nil

	case base == testTokenURL:
		return text(f.exchangeStatus, f.exchangeBody), nil

	case base == testLegacyURL:
		if f.legacyCode != "" {
			if req.Header.Get("2fa-code") != f.legacyCode {
				return text(http.StatusPreconditionFailed, ""), nil
			}
			return text(http.StatusOK, f.legacyBody), nil
		}
		return text(f.legacyStatus, f.legacyBody), nil

	case base == testTierURL:
		return text(f.tierStatus, f.tierBody), nil
	}

	return &Response{Status: f.apiStatus, Header: http.Header{}, Body: f.apiBody}, nil
}

// callsTo returns the recorded requests whose URL (without query) is base.
func (f *fakeBlink) callsTo(base string) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, c := range f.calls {
		if u, _, _ := strings.Cut(c.URL, "?"); u == base {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBlink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// steps renders the recorded calls as "METHOD url" without query strings.
func (f *fakeBlink) steps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		u, _, _ := strings.Cut(c.URL, "?")
		out = append(out, c.Method+" "+u)
	}
	return out
}

func formOf(t *testing.T, req Request) url.Values {
	t.Helper()
	form, err := url.ParseQuery(string(req.Body))
	require.NoError(t, err)
	return form
}

func queryOf(t *testing.T, req Request) url.Values {
	t.Helper()
	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	return u.Query()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingListener keeps every snapshot it is handed.
type recordingListener struct {
	mu    sync.Mutex
	snaps []Credentials
	err   error
}

func (l *recordingListener) CredentialsUpdated(_ context.Context, c Credentials) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, c)
	return l.err
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.snaps)
}

func (l *recordingListener) last() Credentials {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.snaps) == 0 {
		return Credentials{}
	}
	return l.snaps[len(l.snaps)-1]
}

// scriptedPrompter answers from fixed values, one code per call.
type scriptedPrompter struct {
	mu       sync.Mutex
	username string
	password string
	codes    []string
	asked    int
}

func (p *scriptedPrompter) LoginCredentials(context.Context) (string, string, error) {
	return p.username, p.password, nil
}

func (p *scriptedPrompter) TwoFactorCode(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asked >= len(p.codes) {
		return "", fmt.Errorf("no more codes")
	}
	code := p.codes[p.asked]
	p.asked++
	return code, nil
}

type sessionFixture struct {
	session  *Session
	blink    *fakeBlink
	clock    *fakeClock
	listener *recordingListener
}

func newFixture(t *testing.T, mutate ...func(*Options, *sessionFixture)) *sessionFixture {
	t.Helper()

	fx := &sessionFixture{
		blink:    newFakeBlink(),
		clock:    newFakeClock(),
		listener: &recordingListener{},
	}
	opts := Options{
		Config:      testConfig(),
		Credentials: Credentials{HardwareID: "HW-TEST-1"},
		Username:    "user@example.com",
		Password:    "hunter2",
		Transport:   fx.blink,
		Listener:    fx.listener,
		Logger:      slogx.Discard(),
		Clock:       fx.clock.Now,
	}
	for _, m := range mutate {
		m(&opts, fx)
	}

	s, err := NewSession(opts)
	require.NoError(t, err)
	fx.session = s
	return fx
}

// epochIn returns an epoch the given offset away from the fixture clock.
func (fx *sessionFixture) epochIn(d time.Duration) float64 {
	return timeToEpoch(fx.clock.Now().Add(d))
}
