// Package store implements the transactional state store (C3): CRUD over
// the schema package's tables, with a single-writer-at-a-time discipline
// inside one process and thread-safe connection handling across many
// callers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/gao-dev/gaodev/internal/config"
	"github.com/gao-dev/gaodev/internal/schema"
	"github.com/gao-dev/gaodev/internal/storage"
)

// Store wraps a SQLite connection pool and provides transactional CRUD
// over the project state schema.
type Store struct {
	db     *sql.DB
	log    *zap.Logger
	timout time.Duration
	path   string
}

// Open opens the database file at cfg.DBPath. It fails with ErrConnection
// if the file does not exist — initialization is the migrations' job,
// never implicit, so callers must run Init explicitly on a fresh path.
func Open(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: open %s: %w", cfg.DBPath, ErrConnection)
		}
		return nil, fmt.Errorf("store: stat %s: %w", cfg.DBPath, err)
	}

	connStr := storage.SQLiteConnString(cfg.DBPath, false)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: %w: %w", ErrConnection, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: %w: %w", ErrConnection, err)
	}
	// SQLite serializes writers; a single connection avoids surprising
	// the caller with SQLITE_BUSY from our own pool contending with itself.
	db.SetMaxOpenConns(1)

	return &Store{db: db, log: log, timout: cfg.LockTimeout, path: cfg.DBPath}, nil
}

// Init creates the database file and applies every migration. If the
// file already exists, Init returns nil without applying migrations.
// Use this once, then Open for subsequent process runs.
func Init(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store: init %s: %w", path, err)
	}
	_ = f.Close()

	db, err := sql.Open("sqlite", storage.SQLiteConnString(path, false))
	if err != nil {
		return fmt.Errorf("store: init %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	return schema.Apply(ctx, db)
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for components (schema validation,
// the unify migration) that must operate below the store's own API.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the filesystem path of the open database, used by
// callers that need a sibling location for lock or backup files.
func (s *Store) Path() string { return s.path }

// withTx implements the acquire -> enable foreign keys -> yield ->
// commit/rollback -> release discipline every public operation uses,
// retrying automatically on SQLITE_BUSY/SQLITE_LOCKED.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	operation := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrTransaction, err))
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrTransaction, err))
		}

		if err := fn(tx); err != nil {
			if isBusy(err) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrTransaction, err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.timeout()
	if err := backoff.Retry(operation, bo); err != nil {
		return err
	}
	return nil
}

func (s *Store) timeout() time.Duration {
	if s.timout <= 0 {
		return 30 * time.Second
	}
	return s.timout
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}
