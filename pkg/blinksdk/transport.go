package blinksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/blinkauth/pkg/slogx"
)

// Request is a single outbound exchange. Bodies are small JSON or form
// payloads so they are held in memory.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// FollowRedirects selects whether 3xx responses are followed or
	// returned as-is so the caller can read Location.
	FollowRedirects bool
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Location returns the parsed Location header, or nil.
func (r *Response) Location() (*url.URL, error) {
	loc := r.Header.Get("Location")
	if loc == "" {
		return nil, nil
	}
	return url.Parse(loc)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Transport sends requests. Implementations must share cookies across calls
// so the signin session survives from one flow step to the next.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// HTTPTransportConfig tunes NewHTTPTransport. The zero value is usable.
type HTTPTransportConfig struct {
	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration

	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit rate.Limit
	Burst     int

	// Base is the underlying round tripper. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	Logger *slog.Logger
}

// HTTPTransport is the net/http Transport with a shared cookie jar.
type HTTPTransport struct {
	follow   *http.Client
	noFollow *http.Client
	limiter  *rate.Limiter
}

// NewHTTPTransport builds a transport whose two clients (redirect following
// and not) share one cookie jar and round tripper.
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	rt := slogx.NewRoundTripper(cfg.Base, cfg.Logger)

	t := &HTTPTransport{
		follow: &http.Client{
			Transport: rt,
			Jar:       jar,
			Timeout:   cfg.Timeout,
		},
		noFollow: &http.Client{
			Transport: rt,
			Jar:       jar,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return t, nil
}

// Do sends req and reads the whole response. Transport failures wrap
// ErrNetwork; any received status is returned without error.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range req.Header {
		httpReq.Header[key] = append([]string(nil), values...)
	}

	client := t.noFollow
	if req.FollowRedirects {
		client = t.follow
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrNetwork, err)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// send runs req on t, making sure transport failures match ErrNetwork even
// for user supplied transports.
func send(ctx context.Context, t Transport, req *Request) (*Response, error) {
	resp, err := t.Do(ctx, req)
	if err != nil {
		if !errors.Is(err, ErrNetwork) {
			err = fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		return nil, err
	}
	return resp, nil
}

func formRequest(method, target string, form url.Values) *Request {
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return &Request{
		Method: method,
		URL:    target,
		Header: h,
		Body:   []byte(form.Encode()),
	}
}

func withQuery(base string, params url.Values) string {
	if len(params) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}
