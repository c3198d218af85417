package blinksdk

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var base64URLNoPad = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestChallengeFromVerifierRFC7636(t *testing.T) {
	t.Parallel()

	// Appendix B of RFC 7636.
	require.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		ChallengeFromVerifier("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"),
	)
}

func TestGeneratePKCEPair(t *testing.T) {
	t.Parallel()

	pkce, err := GeneratePKCEPair()
	require.NoError(t, err)
	require.Equal(t, "S256", pkce.Method)
	require.Len(t, pkce.Verifier, 43)
	require.Len(t, pkce.Challenge, 43)
	require.Regexp(t, base64URLNoPad, pkce.Verifier)
	require.Regexp(t, base64URLNoPad, pkce.Challenge)
	require.Equal(t, ChallengeFromVerifier(pkce.Verifier), pkce.Challenge)

	other, err := GeneratePKCEPair()
	require.NoError(t, err)
	require.NotEqual(t, pkce.Verifier, other.Verifier)
}
