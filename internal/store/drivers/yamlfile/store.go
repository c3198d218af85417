// Package yamlfile stores credentials in a single YAML document. It suits a
// CLI that keeps one or two accounts next to its config. Writes replace the
// file atomically.
package yamlfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/blinkauth/internal/store"
)

// schemaVersion is bumped whenever the document layout changes.
const schemaVersion = 1

// DefaultMaxEvents bounds the audit log kept in the file.
const DefaultMaxEvents = 500

var ErrSchemaTooNew = errors.New("yamlfile: document written by a newer version")

type Store struct {
	path      string
	sealer    store.Sealer
	maxEvents int

	mu sync.Mutex
}

type Option func(*Store)

// WithMaxEvents caps the number of events retained; the oldest are dropped.
func WithMaxEvents(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

// NewStore returns a store backed by path. The file is created on first write.
func NewStore(path string, sealer store.Sealer, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("yamlfile: empty path")
	}
	if sealer == nil {
		sealer = store.Plaintext{}
	}

	s := &Store{path: path, sealer: sealer, maxEvents: DefaultMaxEvents}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Credentials() store.Credentials {
	return &credentialsRepo{src: s, sealer: s.sealer}
}

func (s *Store) Events() store.Events {
	return &eventsRepo{src: s, maxEvents: s.maxEvents}
}

// ApplyMigrations creates the document if missing and rejects one written by
// a newer schema.
func (s *Store) ApplyMigrations() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if doc.Version > schemaVersion {
		return fmt.Errorf("%w: version %d", ErrSchemaTooNew, doc.Version)
	}
	doc.Version = schemaVersion
	return s.save(doc)
}

// WithTx loads the document once, runs fn against it and writes it back only
// when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	t := &tx{doc: doc, sealer: s.sealer, maxEvents: s.maxEvents}
	if err := fn(t); err != nil {
		return err
	}
	if !t.dirty {
		return nil
	}
	return s.save(doc)
}

func (s *Store) Close() error { return nil }

// Ping reports whether the directory holding the document is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("yamlfile: %s is not a directory", filepath.Dir(s.path))
	}
	return nil
}

func (s *Store) read(ctx context.Context, fn func(*document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

func (s *Store) update(ctx context.Context, fn func(*document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return newDocument(), nil
	}
	if err != nil {
		return nil, err
	}

	doc := newDocument()
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("yamlfile: decode %s: %w", s.path, err)
	}
	if doc.Accounts == nil {
		doc.Accounts = map[string]account{}
	}
	return doc, nil
}

func (s *Store) save(doc *document) error {
	if doc.Version == 0 {
		doc.Version = schemaVersion
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// source is the document access a repo needs. *Store reloads the file on
// every call; *tx works on the copy loaded by WithTx.
type source interface {
	read(ctx context.Context, fn func(*document) error) error
	update(ctx context.Context, fn func(*document) error) error
}

type tx struct {
	doc       *document
	sealer    store.Sealer
	maxEvents int
	dirty     bool
}

func (t *tx) Credentials() store.Credentials {
	return &credentialsRepo{src: t, sealer: t.sealer}
}

func (t *tx) Events() store.Events {
	return &eventsRepo{src: t, maxEvents: t.maxEvents}
}

func (t *tx) read(ctx context.Context, fn func(*document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(t.doc)
}

func (t *tx) update(ctx context.Context, fn func(*document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(t.doc); err != nil {
		return err
	}
	t.dirty = true
	return nil
}
