package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/blinkauth/internal/store"
	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
)

type credentialsRepo struct {
	q      dbtx
	sealer store.Sealer
}

const credentialColumns = `account, access_token, refresh_token, expires_in, expiration_epoch,
	account_id, region_id, hostname, hardware_id, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *credentialsRepo) scan(row rowScanner) (store.Record, error) {
	var (
		rec             store.Record
		access, refresh string
		updatedAt       int64
		c               = &rec.Credentials
	)
	if err := row.Scan(
		&rec.Account, &access, &refresh, &c.ExpiresIn, &c.ExpirationEpoch,
		&c.AccountID, &c.RegionID, &c.Hostname, &c.HardwareID, &updatedAt,
	); err != nil {
		return store.Record{}, err
	}

	var err error
	if c.AccessToken, err = r.sealer.Open(access); err != nil {
		return store.Record{}, fmt.Errorf("open access token for %s: %w", rec.Account, err)
	}
	if c.RefreshToken, err = r.sealer.Open(refresh); err != nil {
		return store.Record{}, fmt.Errorf("open refresh token for %s: %w", rec.Account, err)
	}
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

func (r *credentialsRepo) GetCredentials(ctx context.Context, account string) (store.Record, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE account = ?`, account)
	rec, err := r.scan(row)
	if err != nil {
		return store.Record{}, mapNotFound(err)
	}
	return rec, nil
}

func (r *credentialsRepo) PutCredentials(
	ctx context.Context,
	account string,
	c blinksdk.Credentials,
	at time.Time,
) error {
	access, err := r.sealer.Seal(c.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := r.sealer.Seal(c.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET
			access_token     = excluded.access_token,
			refresh_token    = excluded.refresh_token,
			expires_in       = excluded.expires_in,
			expiration_epoch = excluded.expiration_epoch,
			account_id       = excluded.account_id,
			region_id        = excluded.region_id,
			hostname         = excluded.hostname,
			hardware_id      = excluded.hardware_id,
			updated_at       = excluded.updated_at`,
		account, access, refresh, c.ExpiresIn, c.ExpirationEpoch,
		c.AccountID, c.RegionID, c.Hostname, c.HardwareID, toMillis(at),
	)
	return err
}

func (r *credentialsRepo) DeleteCredentials(ctx context.Context, account string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM credentials WHERE account = ?`, account)
	return err
}

func (r *credentialsRepo) ListCredentials(ctx context.Context) ([]store.Record, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
