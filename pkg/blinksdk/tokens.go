package blinksdk

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// TokenSource exposes the session as an oauth2.TokenSource, so an
// oauth2.Transport can authorize requests through the refresh gate.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, s: s}
}

type sessionTokenSource struct {
	ctx context.Context
	s   *Session
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	if ts.s.core.creds.NeedsRefresh(false) {
		if _, err := ts.s.gate.refresh(ts.ctx, false); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		}
	}

	snap := ts.s.core.creds.Snapshot()
	if snap.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token, log in first", ErrAuth)
	}
	return &oauth2.Token{
		AccessToken:  snap.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: snap.RefreshToken,
		Expiry:       snap.ExpiresAt(),
	}, nil
}

// TokenClaims are the unverified claims of a JWT access token.
type TokenClaims struct {
	Subject   string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Raw       jwt.MapClaims
}

// InspectAccessToken decodes a JWT access token without verifying it. The
// session never trusts these claims; they are shown to humans only.
func InspectAccessToken(token string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotJWT, err)
	}

	out := &TokenClaims{Raw: claims}
	out.Subject, _ = claims.GetSubject()
	out.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil {
		out.Audience = aud
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
