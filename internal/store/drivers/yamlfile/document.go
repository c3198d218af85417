package yamlfile

import (
	"time"

	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
)

type document struct {
	Version  int                `yaml:"version"`
	Accounts map[string]account `yaml:"accounts"`
	Events   []event            `yaml:"events,omitempty"`
}

// account holds sealed token fields; the rest of the snapshot is stored as is.
type account struct {
	Credentials blinksdk.Credentials `yaml:",inline"`
	UpdatedAt   time.Time            `yaml:"updated_at"`
}

type event struct {
	ID        string    `yaml:"id"`
	Account   string    `yaml:"account"`
	Kind      string    `yaml:"kind"`
	AccessFP  string    `yaml:"access_fp,omitempty"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
}

func newDocument() *document {
	return &document{Accounts: map[string]account{}}
}
