// Package sqlite implements the persistence layer on an embedded SQLite
// database (pure Go driver). It mirrors the PostgreSQL schema and is used
// for local development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// Config configures the SQLite store.
type Config struct {
	// Path is a file path or ":memory:".
	Path        string
	BusyTimeout time.Duration
}

// Store owns the database handle and hands out repositories.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at cfg.Path and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: empty path")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer connection keeps pragmas and transactions on a single handle.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, shared.WrapError("sqlite", "Open", shared.ErrBackendUnavailable, "ping database", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func dsn(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	if cfg.Path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// DB returns the underlying *sql.DB for raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Accounts returns the account repository.
func (s *Store) Accounts() *AccountRepository { return &AccountRepository{db: s.db} }

// Progress returns the answer and aggregate repository.
func (s *Store) Progress() *ProgressRepository { return &ProgressRepository{db: s.db} }

// Achievements returns the achievement repository.
func (s *Store) Achievements() *AchievementRepository { return &AchievementRepository{db: s.db} }

// Catalog returns the catalog repository.
func (s *Store) Catalog() *CatalogRepository { return &CatalogRepository{db: s.db} }

// withTx runs fn in a transaction. fn must use tx only: the pool has a
// single connection.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code(), true
	}
	return 0, false
}

// IsUniqueViolation checks for UNIQUE and PRIMARY KEY violations.
func IsUniqueViolation(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

// IsForeignKeyViolation checks for FOREIGN KEY violations.
func IsForeignKeyViolation(err error) bool {
	code, ok := sqliteCode(err)
	return ok && code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

// IsCheckViolation checks for CHECK constraint violations.
func IsCheckViolation(err error) bool {
	code, ok := sqliteCode(err)
	return ok && code == sqlite3.SQLITE_CONSTRAINT_CHECK
}

// IsUnavailable reports a closed handle, a locked or busy database and
// I/O failures.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "database is closed") {
		return true
	}
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
		return true
	}
	return false
}

func classify(domain, op string, writeKind error, err error) error {
	switch {
	case err == nil:
		return nil
	case IsUnavailable(err):
		return shared.WrapError(domain, op, shared.ErrBackendUnavailable, "database unavailable", err)
	case IsForeignKeyViolation(err):
		return shared.WrapError(domain, op, shared.ErrNotFound, "referenced entity does not exist", err)
	case IsUniqueViolation(err):
		return shared.WrapError(domain, op, shared.ErrAlreadyExists, "duplicate key", err)
	case IsCheckViolation(err):
		return shared.WrapError(domain, op, shared.ErrInvalidInput, "check constraint violated", err)
	default:
		return shared.WrapError(domain, op, writeKind, "query failed", err)
	}
}

// classifyWrite reports a failed write as ErrPersistence. The cause keeps its
// own classification, so IsBackendUnavailable and IsNotFound still match.
func classifyWrite(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	cause := classify(domain, op, shared.ErrPersistence, err)
	var de *shared.DomainError
	if errors.As(cause, &de) && de.Kind == shared.ErrPersistence {
		return cause
	}
	return shared.WrapError(domain, op, shared.ErrPersistence, "write failed", cause)
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
