package blinksdk

import (
	"fmt"

	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/blinkauth/pkg/cryptox"
)

// PKCEPair holds a code verifier and its S256 challenge.
type PKCEPair struct {
	// Verifier stays with the client until the token exchange.
	Verifier string

	// Challenge is sent on the authorize request.
	Challenge string

	// Method is always "S256".
	Method string
}

// GeneratePKCEPair creates a fresh verifier with 256 bits of entropy
// (43 base64url characters) and its challenge.
func GeneratePKCEPair() (*PKCEPair, error) {
	verifier, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	return &PKCEPair{
		Verifier:  verifier,
		Challenge: ChallengeFromVerifier(verifier),
		Method:    "S256",
	}, nil
}

// ChallengeFromVerifier computes BASE64URL(SHA256(verifier)) without padding.
func ChallengeFromVerifier(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
