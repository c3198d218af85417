package blink_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/blinkauth/internal/prompt"
	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
	"github.com/aussiebroadwan/blinkauth/pkg/slogx"
)

/*
 * A fake Blink cloud for end-to-end tests: the OAuth web signin with CSRF
 * and cookies, 2FA verification, the token endpoint, the tier lookup and a
 * regional REST host. Every hostname is routed to one httptest server.
 */

const (
	testUsername = "owner@example.com"
	testPassword = "correct-horse"
	testCode     = "123456"
	testTier     = "e2e"
	testAccount  = 42

	oauthHost = "api.oauth.blink.com"
	tierHost  = "rest-prod.immedia-semi.com"
	restHost  = "rest-" + testTier + ".immedia-semi.com"

	sessionCookie = "_blink_session"
)

var signingKey = []byte("e2e-signing-key")

type webSession struct {
	challenge  string
	hardwareID string
	csrf       string
	signedIn   bool
	verified   bool
}

type issuedCode struct {
	challenge  string
	hardwareID string
}

type fakeBlink struct {
	t *testing.T

	// require2FA makes the signin answer 412 until a code is verified.
	require2FA bool
	// expiresIn is the lifetime of issued access tokens, in seconds.
	expiresIn int

	mu       sync.Mutex
	sessions map[string]*webSession
	codes    map[string]issuedCode
	access   map[string]time.Time
	refresh  map[string]bool

	refreshGrants atomic.Int32
	codeGrants    atomic.Int32
	restCalls     atomic.Int32
}

func newFakeBlink(t *testing.T) *fakeBlink {
	return &fakeBlink{
		t:          t,
		require2FA: true,
		expiresIn:  3600,
		sessions:   map[string]*webSession{},
		codes:      map[string]issuedCode{},
		access:     map[string]time.Time{},
		refresh:    map[string]bool{},
	}
}

func randomHex(t *testing.T) string {
	b := make([]byte, 12)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeBlink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Host == oauthHost && r.URL.Path == "/oauth/v2/authorize":
		f.authorize(w, r)
	case r.Host == oauthHost && r.URL.Path == "/oauth/v2/signin" && r.Method == http.MethodGet:
		f.signinPage(w, r)
	case r.Host == oauthHost && r.URL.Path == "/oauth/v2/signin" && r.Method == http.MethodPost:
		f.signin(w, r)
	case r.Host == oauthHost && r.URL.Path == "/oauth/v2/2fa/verify":
		f.verify(w, r)
	case r.Host == oauthHost && r.URL.Path == "/oauth/token":
		f.token(w, r)
	case r.Host == tierHost && r.URL.Path == "/api/v1/users/tier_info":
		f.tierInfo(w, r)
	case r.Host == restHost:
		f.rest(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBlink) session(r *http.Request) *webSession {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[c.Value]
}

func (f *fakeBlink) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Step 1 opens a web session; step 5 (no query) collects the code.
	if q.Get("response_type") == "code" {
		if q.Get("code_challenge_method") != "S256" || q.Get("client_id") != "ios" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}

		id := randomHex(f.t)
		f.mu.Lock()
		f.sessions[id] = &webSession{
			challenge:  q.Get("code_challenge"),
			hardwareID: q.Get("hardware_id"),
		}
		f.mu.Unlock()

		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/"})
		http.Redirect(w, r, "/oauth/v2/signin", http.StatusFound)
		return
	}

	s := f.session(r)
	code := randomHex(f.t)

	f.mu.Lock()
	ready := s != nil && s.signedIn && (!f.require2FA || s.verified)
	if ready {
		f.codes[code] = issuedCode{challenge: s.challenge, hardwareID: s.hardwareID}
	}
	f.mu.Unlock()

	if !ready {
		http.Redirect(w, r, "immedia-blink://applinks.blink.com/signin/callback?error=access_denied", http.StatusFound)
		return
	}

	http.Redirect(w, r, "immedia-blink://applinks.blink.com/signin/callback?code="+code, http.StatusFound)
}

func (f *fakeBlink) signinPage(w http.ResponseWriter, r *http.Request) {
	s := f.session(r)
	if s == nil {
		http.Error(w, "no session", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	s.csrf = randomHex(f.t)
	csrf := s.csrf
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!doctype html><html><head>
<script id="oauth-args" type="application/json">{"csrf-token":%q,"client_id":"ios"}</script>
</head><body><form method="post"></form></body></html>`, csrf)
}

func (f *fakeBlink) checkCSRF(r *http.Request) *webSession {
	s := f.session(r)
	if s == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.csrf == "" || r.PostFormValue("csrf-token") != s.csrf {
		return nil
	}
	return s
}

func (f *fakeBlink) signin(w http.ResponseWriter, r *http.Request) {
	s := f.checkCSRF(r)
	if s == nil {
		http.Error(w, "bad csrf", http.StatusForbidden)
		return
	}
	if r.PostFormValue("username") != testUsername || r.PostFormValue("password") != testPassword {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	s.signedIn = true
	f.mu.Unlock()

	if f.require2FA {
		writeJSON(w, http.StatusPreconditionFailed, map[string]any{"next_time_in_secs": 60})
		return
	}
	http.Redirect(w, r, "/oauth/v2/authorize", http.StatusFound)
}

func (f *fakeBlink) verify(w http.ResponseWriter, r *http.Request) {
	s := f.checkCSRF(r)
	if s == nil {
		http.Error(w, "bad csrf", http.StatusForbidden)
		return
	}
	f.mu.Lock()
	signedIn := s.signedIn
	f.mu.Unlock()
	if !signedIn {
		http.Error(w, "bad session", http.StatusForbidden)
		return
	}
	if r.PostFormValue("2fa_code") != testCode {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "invalid-code"})
		return
	}

	f.mu.Lock()
	s.verified = true
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"status": "auth-completed"})
}

func (f *fakeBlink) issueTokens(w http.ResponseWriter) {
	f.mu.Lock()
	expiresIn := f.expiresIn
	f.mu.Unlock()

	now := time.Now()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": fmt.Sprint(testAccount),
		"iss": "fake-blink",
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(expiresIn) * time.Second).Unix(),
		"jti": randomHex(f.t),
	}).SignedString(signingKey)
	require.NoError(f.t, err)

	refresh := randomHex(f.t)

	f.mu.Lock()
	f.access[access] = now.Add(time.Duration(expiresIn) * time.Second)
	f.refresh[refresh] = true
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, blinksdk.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		Scope:        "client",
	})
}

func (f *fakeBlink) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.codeGrants.Add(1)
		f.mu.Lock()
		issued, ok := f.codes[r.PostForm.Get("code")]
		delete(f.codes, r.PostForm.Get("code"))
		f.mu.Unlock()

		if !ok || oauth2.S256ChallengeFromVerifier(r.PostForm.Get("code_verifier")) != issued.challenge ||
			r.PostForm.Get("hardware_id") != issued.hardwareID {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "authorization code is invalid",
			})
			return
		}
		f.issueTokens(w)

	case "refresh_token":
		f.refreshGrants.Add(1)
		token := r.PostForm.Get("refresh_token")
		f.mu.Lock()
		valid := f.refresh[token]
		delete(f.refresh, token)
		f.mu.Unlock()

		if !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":             "invalid_grant",
				"error_description": "refresh token revoked",
			})
			return
		}
		f.issueTokens(w)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

// authorized reports whether r carries a live access token.
func (f *fakeBlink) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.access[h[len(prefix):]]
	return ok && time.Now().Before(exp)
}

func (f *fakeBlink) tierInfo(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized Access"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": testTier, "account_id": testAccount})
}

func (f *fakeBlink) rest(w http.ResponseWriter, r *http.Request) {
	f.restCalls.Add(1)
	if !f.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized Access"})
		return
	}

	switch r.URL.Path {
	case fmt.Sprintf("/api/v3/accounts/%d/homescreen", testAccount):
		writeJSON(w, http.StatusOK, map[string]any{"cameras": []map[string]any{{"id": 7, "name": "Porch"}}})
	case "/media/thumb.jpg":
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0x00, 0x10})
	default:
		http.NotFound(w, r)
	}
}

// hostRouter sends every request to the test server, keeping the original
// host in the Host header so the fake can route on it.
type hostRouter struct {
	target *url.URL
	base   http.RoundTripper
}

func (rt *hostRouter) RoundTrip(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	out.Host = r.URL.Host
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	return rt.base.RoundTrip(out)
}

// setupBlink starts the fake cloud and returns a transport wired to it.
func setupBlink(t *testing.T, fake *fakeBlink) *blinksdk.HTTPTransport {
	t.Helper()

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	transport, err := blinksdk.NewHTTPTransport(blinksdk.HTTPTransportConfig{
		Timeout: 5 * time.Second,
		Base:    &hostRouter{target: target, base: srv.Client().Transport},
		Logger:  slogx.Discard(),
	})
	require.NoError(t, err)
	return transport
}

// newSession builds a session against the fake with the default endpoints.
func newSession(t *testing.T, transport blinksdk.Transport, mutate ...func(*blinksdk.Options)) *blinksdk.Session {
	t.Helper()

	opts := blinksdk.Options{
		Config:    blinksdk.DefaultConfig(),
		Username:  testUsername,
		Password:  testPassword,
		Transport: transport,
		Prompter:  &prompt.Static{Codes: []string{testCode}},
		Logger:    slogx.Discard(),
	}
	for _, m := range mutate {
		m(&opts)
	}

	s, err := blinksdk.NewSession(opts)
	require.NoError(t, err)
	return s
}

func login(t *testing.T, s *blinksdk.Session) {
	t.Helper()
	require.NoError(t, s.Login(context.Background()))
	require.Equal(t, blinksdk.PhaseComplete, s.Phase())
}
