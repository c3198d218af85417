package yamlfile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aussiebroadwan/blinkauth/internal/store"
	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
)

type credentialsRepo struct {
	src    source
	sealer store.Sealer
}

func (r *credentialsRepo) record(name string, a account) (store.Record, error) {
	c := a.Credentials

	var err error
	if c.AccessToken, err = r.sealer.Open(c.AccessToken); err != nil {
		return store.Record{}, fmt.Errorf("open access token for %s: %w", name, err)
	}
	if c.RefreshToken, err = r.sealer.Open(c.RefreshToken); err != nil {
		return store.Record{}, fmt.Errorf("open refresh token for %s: %w", name, err)
	}
	return store.Record{Account: name, Credentials: c, UpdatedAt: a.UpdatedAt}, nil
}

func (r *credentialsRepo) GetCredentials(ctx context.Context, name string) (store.Record, error) {
	var rec store.Record
	err := r.src.read(ctx, func(doc *document) error {
		a, ok := doc.Accounts[name]
		if !ok {
			return store.ErrNotFound
		}
		var err error
		rec, err = r.record(name, a)
		return err
	})
	return rec, err
}

func (r *credentialsRepo) PutCredentials(
	ctx context.Context,
	name string,
	c blinksdk.Credentials,
	at time.Time,
) error {
	var err error
	if c.AccessToken, err = r.sealer.Seal(c.AccessToken); err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	if c.RefreshToken, err = r.sealer.Seal(c.RefreshToken); err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	return r.src.update(ctx, func(doc *document) error {
		doc.Accounts[name] = account{Credentials: c, UpdatedAt: at.UTC()}
		return nil
	})
}

func (r *credentialsRepo) DeleteCredentials(ctx context.Context, name string) error {
	return r.src.update(ctx, func(doc *document) error {
		delete(doc.Accounts, name)
		return nil
	})
}

func (r *credentialsRepo) ListCredentials(ctx context.Context) ([]store.Record, error) {
	var out []store.Record
	err := r.src.read(ctx, func(doc *document) error {
		names := make([]string, 0, len(doc.Accounts))
		for name := range doc.Accounts {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			rec, err := r.record(name, doc.Accounts[name])
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
