package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
)

var (
	ErrNotFound = errors.New("store: not found")
)

// Store persists session credentials per account name. Drivers (sqlite,
// yamlfile) implement it. Sub-repositories are reached through methods so a
// Tx exposes the same surface.
type Store interface {
	Credentials() Credentials
	Events() Events

	ApplyMigrations() error

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store.
type Tx interface {
	Credentials() Credentials
	Events() Events
}

// Record is a stored credential snapshot.
type Record struct {
	Account     string
	Credentials blinksdk.Credentials
	UpdatedAt   time.Time
}

type Credentials interface {
	// GetCredentials returns the snapshot stored for account.
	GetCredentials(ctx context.Context, account string) (Record, error)

	// PutCredentials inserts or replaces the snapshot for account.
	PutCredentials(ctx context.Context, account string, creds blinksdk.Credentials, at time.Time) error

	// DeleteCredentials removes account. Deleting an unknown account is not an error.
	DeleteCredentials(ctx context.Context, account string) error

	// ListCredentials returns every record ordered by account.
	ListCredentials(ctx context.Context) ([]Record, error)
}

// EventKind labels a credential change.
type EventKind string

const (
	EventUpdated EventKind = "updated"
	EventCleared EventKind = "cleared"
)

// Event is one entry of the credential audit log. Tokens are never stored
// here, only their fingerprints.
type Event struct {
	ID        string
	Account   string
	Kind      EventKind
	AccessFP  string
	ExpiresAt time.Time // zero when the event carries no token
	CreatedAt time.Time
}

type Events interface {
	// AppendEvent records e. ID must be set by the caller (ULID).
	AppendEvent(ctx context.Context, e Event) error

	// ListEvents returns up to limit events for account, newest first.
	ListEvents(ctx context.Context, account string, limit int) ([]Event, error)

	// DeleteEventsBefore prunes events created before cutoff and reports
	// how many were removed.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Sealer encrypts token fields at rest. cryptox.Sealer implements it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(encoded string) (string, error)
}

// Plaintext is the Sealer used when no master key is configured.
type Plaintext struct{}

func (Plaintext) Seal(s string) (string, error) { return s, nil }
func (Plaintext) Open(s string) (string, error) { return s, nil }
