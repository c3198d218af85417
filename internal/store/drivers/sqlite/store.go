package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aussiebroadwan/blinkauth/internal/store"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so repos work inside and
// outside transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db     *sql.DB
	sealer store.Sealer
}

// NewStore opens the database at dsn. Token columns are sealed with sealer;
// nil stores them in plaintext.
func NewStore(dsn string, sealer store.Sealer) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if sealer == nil {
		sealer = store.Plaintext{}
	}
	return &Store{db: db, sealer: sealer}, nil
}

// DSN builds the connection string for a database file. The busy timeout lets
// the keepalive worker and a foreground command share one file.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Credentials() store.Credentials {
	return &credentialsRepo{q: s.db, sealer: s.sealer}
}

func (s *Store) Events() store.Events { return &eventsRepo{q: s.db} }

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback() // no-op after commit
	}()

	if err := fn(&tx{q: sqlTx, sealer: s.sealer}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type tx struct {
	q      dbtx
	sealer store.Sealer
}

func (t *tx) Credentials() store.Credentials {
	return &credentialsRepo{q: t.q, sealer: t.sealer}
}

func (t *tx) Events() store.Events { return &eventsRepo{q: t.q} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
