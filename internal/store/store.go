package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades a run database to version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order on databases whose user_version is below their
// version. Version 0 is the bare schema.sql layout.
var migrations = []migration{
	{1, "fingerprint index", `
		CREATE INDEX IF NOT EXISTS idx_function_reports_fingerprint
		ON function_reports(fingerprint)`},
	{2, "function history index", `
		CREATE INDEX IF NOT EXISTS idx_function_reports_function
		ON function_reports(function, run_id)`},
}

// SchemaVersion is the run database layout this build reads and writes.
var SchemaVersion = migrations[len(migrations)-1].version

// SchemaVersionError reports a run database this build cannot use as is:
// one written by a newer tool, or an outdated one opened read-only.
type SchemaVersionError struct {
	Path  string
	Found int
	Want  int
}

func (e *SchemaVersionError) Error() string {
	if e.Found > e.Want {
		return fmt.Sprintf("run database %s has schema v%d, newer than supported v%d", e.Path, e.Found, e.Want)
	}
	return fmt.Sprintf("run database %s has schema v%d, want v%d (open it read-write once to migrate)", e.Path, e.Found, e.Want)
}

// ErrReadOnly is returned by writes to a store opened with ReadOnly.
var ErrReadOnly = errors.New("run database is read-only")

// Store holds instrumentation run reports.
type Store struct {
	db       *sql.DB
	readOnly bool
}

type openConfig struct {
	readOnly    bool
	busyTimeout time.Duration
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

// ReadOnly opens an existing database for queries only. The file is neither
// created nor migrated, and writes fail.
func ReadOnly() OpenOption {
	return func(c *openConfig) { c.readOnly = true }
}

// WithBusyTimeout sets how long a connection waits on a locked database.
// Default 5s.
func WithBusyTimeout(d time.Duration) OpenOption {
	return func(c *openConfig) { c.busyTimeout = d }
}

// Open opens the run database at path, ":memory:" for a private in-memory
// one. A read-write open creates the file and migrates it to SchemaVersion.
func Open(path string, options ...OpenOption) (*Store, error) {
	cfg := openConfig{busyTimeout: 5 * time.Second}
	for _, opt := range options {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite3", dsn(path, cfg))
	if err != nil {
		return nil, fmt.Errorf("open run database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open run database %s: %w", path, err)
	}
	// one connection: sqlite has a single writer, and ":memory:" is per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.readOnly {
		err = checkVersion(db, path)
	} else {
		err = migrate(db, path)
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, readOnly: cfg.readOnly}, nil
}

// dsn builds a go-sqlite3 data source name. Pragmas travel as DSN
// parameters so the driver applies them to every connection it opens.
func dsn(path string, cfg openConfig) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt(cfg.busyTimeout.Milliseconds(), 10))
	q.Set("_foreign_keys", "1")
	if cfg.readOnly {
		q.Set("mode", "ro")
		return "file:" + path + "?" + q.Encode()
	}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	return path + "?" + q.Encode()
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReadOnly reports whether the store was opened with ReadOnly.
func (s *Store) ReadOnly() bool { return s.readOnly }

// Version returns the schema version recorded in the database.
func (s *Store) Version(ctx context.Context) (int, error) {
	return userVersion(ctx, s.db)
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func checkVersion(db *sql.DB, path string) error {
	v, err := userVersion(context.Background(), db)
	if err != nil {
		return err
	}
	if v != SchemaVersion {
		return &SchemaVersionError{Path: path, Found: v, Want: SchemaVersion}
	}
	return nil
}

// migrate creates the tables and applies pending migrations, each in its
// own transaction together with its user_version bump.
func migrate(db *sql.DB, path string) error {
	ctx := context.Background()
	v, err := userVersion(ctx, db)
	if err != nil {
		return err
	}
	if v > SchemaVersion {
		return &SchemaVersionError{Path: path, Found: v, Want: SchemaVersion}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	for _, m := range migrations {
		if m.version <= v {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		// PRAGMA takes no bound parameters
		if _, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
	}
	return nil
}
