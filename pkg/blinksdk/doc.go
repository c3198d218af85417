/*
Package blinksdk manages an authenticated session with the Blink camera
cloud service.

# Overview

A Session logs in with the OAuth2 authorization code flow (PKCE, S256) that
the Blink mobile apps use, handles the optional 2FA challenge, and keeps the
access token fresh before every request it sends.

	session, err := blinksdk.NewSession(blinksdk.Options{
		Credentials: saved,       // may be zero
		Username:    "user@example.com",
		Password:    password,
		Listener:    blinksdk.ListenerFunc(save),
	})

	err = session.Startup(ctx)
	if errors.Is(err, blinksdk.ErrTwoFARequired) {
		err = session.Submit2FA(ctx, code)
	}

	url, _ := session.URL("/api/v3/accounts/" + session.Credentials().AccountID + "/homescreen")
	resp, err := session.Get(ctx, url, nil)

# Login

Startup first tries the refresh token of a persisted snapshot. When there is
none, or Blink rejects it, the full login runs:

 1. GET the authorize endpoint with the PKCE challenge
 2. GET the signin page and read its CSRF token
 3. POST username and password (412 pauses for 2FA)
 4. POST the 2FA code (only when paused)
 5. GET the authorize endpoint again and read the code from Location
 6. POST the code and verifier to the token endpoint
 7. look up the account's region when unknown

A paused login keeps its verifier and CSRF token in memory until Submit2FA
succeeds, Abandon is called, or Config.PendingFlowTTL passes.

LegacyLogin runs the older password grant instead, with the same 2FA pause.

# Refresh

Every request sent through Session.Do, Get or Post passes the refresh gate.
When the access token is within Config.RefreshMargin of expiry, the gate runs
the refresh grant once for all concurrent callers, rewrites the request's
Authorization header and notifies the CredentialsListener. If the refresh
fails the request is not sent.

# Errors

Errors match one kind with errors.Is: ErrNetwork, ErrAuth, ErrProtocol,
ErrTwoFARequired, ErrTwoFAVerificationFailed, ErrConfig or ErrInvalidState,
with refinements
such as ErrCSRFTokenMissing. Flow failures are *FlowError values naming the
failed step and status.
*/
package blinksdk
