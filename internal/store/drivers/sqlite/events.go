package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/blinkauth/internal/store"
)

type eventsRepo struct {
	q dbtx
}

func (r *eventsRepo) AppendEvent(ctx context.Context, e store.Event) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO credential_events (id, account, kind, access_fp, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Account, string(e.Kind), e.AccessFP, toMillis(e.ExpiresAt), toMillis(e.CreatedAt),
	)
	return err
}

func (r *eventsRepo) ListEvents(ctx context.Context, account string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, account, kind, access_fp, expires_at, created_at
		FROM credential_events
		WHERE account = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		var (
			e                    store.Event
			kind                 string
			expiresAt, createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Account, &kind, &e.AccessFP, &expiresAt, &createdAt); err != nil {
			return nil, err
		}
		e.Kind = store.EventKind(kind)
		e.ExpiresAt = fromMillis(expiresAt)
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *eventsRepo) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM credential_events WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
