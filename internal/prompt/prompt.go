// Package prompt provides blinksdk.Prompter implementations: an interactive
// terminal form, a TOTP code generator for unattended logins, and a static
// source for tests and scripts.
package prompt

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
)

// ErrNoInput is returned when a prompter has nothing to supply.
var ErrNoInput = errors.New("prompt: no input available")

// Terminal asks on the controlling terminal using huh forms.
type Terminal struct {
	// Username pre-fills the email field.
	Username string
}

func (p Terminal) LoginCredentials(ctx context.Context) (string, string, error) {
	username := p.Username
	var password string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Blink account email").
				Value(&username).
				Validate(required("email")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(required("password")),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(username), password, nil
}

func (p Terminal) TwoFactorCode(ctx context.Context) (string, error) {
	var code string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Verification code").
				Description("Blink sent a PIN to your email or phone.").
				Value(&code).
				Validate(required("code")),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(field + " is required")
		}
		return nil
	}
}

// TOTP answers 2FA prompts from a shared secret. Login credentials come from
// Credentials, which may be nil when the session is configured with them.
type TOTP struct {
	Secret      string
	Credentials blinksdk.Prompter
	Now         func() time.Time
}

func (p TOTP) LoginCredentials(ctx context.Context) (string, string, error) {
	if p.Credentials == nil {
		return "", "", ErrNoInput
	}
	return p.Credentials.LoginCredentials(ctx)
}

func (p TOTP) TwoFactorCode(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Secret == "" {
		return "", ErrNoInput
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	return totp.GenerateCodeCustom(normalizeSecret(p.Secret), now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// normalizeSecret accepts secrets copied with spaces or in lower case.
func normalizeSecret(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

// Static returns fixed values. Codes are handed out in order; the last one
// repeats.
type Static struct {
	Username string
	Password string
	Codes    []string

	next int
}

func (p *Static) LoginCredentials(ctx context.Context) (string, string, error) {
	if p.Username == "" || p.Password == "" {
		return "", "", ErrNoInput
	}
	return p.Username, p.Password, nil
}

func (p *Static) TwoFactorCode(ctx context.Context) (string, error) {
	if len(p.Codes) == 0 {
		return "", ErrNoInput
	}
	code := p.Codes[min(p.next, len(p.Codes)-1)]
	p.next++
	return code, nil
}
