package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/blinkauth/pkg/idx"
)

// RequestIDHeader is set on every outbound request that does not carry one.
const RequestIDHeader = "X-Request-ID"

// RoundTripper logs outbound requests. The logger is taken from the request
// context when present, falling back to base. Query strings are never logged
// because the OAuth endpoints carry codes and challenges in them.
type RoundTripper struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewRoundTripper wraps next (http.DefaultTransport when nil).
func NewRoundTripper(next http.RoundTripper, base *slog.Logger) *RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RoundTripper{Base: next, Logger: base}
}

func (rt *RoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = idx.New().String()
		r = r.Clone(r.Context())
		r.Header.Set(RequestIDHeader, reqID)
	}

	logger := rt.Logger
	if l, ok := r.Context().Value(ctxKey{}).(*slog.Logger); ok {
		logger = l
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		"req_id", reqID,
		"method", r.Method,
		"host", r.URL.Host,
		"path", r.URL.Path,
	)

	resp, err := rt.Base.RoundTrip(r)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		logger.Warn("http_request_failed", "duration_ms", duration, "error", err)
		return nil, err
	}

	logger.Debug("http_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}
