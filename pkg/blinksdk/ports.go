package blinksdk

import "context"

// CredentialsListener receives the full credential snapshot after every
// token acquisition or refresh. Errors are logged and never fail the
// request that triggered the update.
type CredentialsListener interface {
	CredentialsUpdated(ctx context.Context, creds Credentials) error
}

// ListenerFunc adapts a function to CredentialsListener.
type ListenerFunc func(ctx context.Context, creds Credentials) error

func (f ListenerFunc) CredentialsUpdated(ctx context.Context, creds Credentials) error {
	return f(ctx, creds)
}

// Prompter supplies interactive input: account credentials when none were
// configured, and the 2FA code once Blink asks for one.
type Prompter interface {
	LoginCredentials(ctx context.Context) (username, password string, err error)
	TwoFactorCode(ctx context.Context) (string, error)
}
