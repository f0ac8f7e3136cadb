package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Replica identity seeded in crr_meta
const currentSchemaVersion = 1

const (
	metaSiteID    = "site_id"
	metaDBVersion = "db_version"
)

// SiteIDLen is the byte length of a replica identity.
const SiteIDLen = 16

// Store is one replica's clock store and row store.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	siteID []byte
}

// Option configures Open.
type Option func(*options)

type options struct {
	busyTimeoutMS int
	siteID        []byte
	newSiteID     func() ([]byte, error)
}

// WithBusyTimeout sets the SQLite busy timeout in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(o *options) { o.busyTimeoutMS = ms }
}

// WithSiteID fixes the identity a new replica is created with.
// Opening an existing replica with a different identity fails.
func WithSiteID(id []byte) Option {
	return func(o *options) { o.siteID = bytes.Clone(id) }
}

// WithSiteIDGenerator overrides how a new replica's identity is minted.
func WithSiteIDGenerator(gen func() ([]byte, error)) Option {
	return func(o *options) { o.newSiteID = gen }
}

// NewSiteID mints a UUIDv7 replica identity.
func NewSiteID() ([]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate site id: %w", err)
	}
	return id[:], nil
}

// Open creates or opens a replica database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - busy timeout for lock contention (5 seconds unless overridden)
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{busyTimeoutMS: 5000, newSiteID: NewSiteID}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, o.busyTimeoutMS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	siteID, err := ensureSiteID(db, o)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, siteID: siteID}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SiteID returns this replica's identity.
func (s *Store) SiteID() []byte {
	return bytes.Clone(s.siteID)
}

// Update runs fn inside a read-write transaction. The transaction commits
// iff fn returns nil; any error rolls every write back.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back.
// Every read in fn observes the same snapshot.
func (s *Store) View(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&Tx{tx: sqlTx, readOnly: true})
}

// DBVersion returns the replica's current db_version.
func (s *Store) DBVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		v, err = tx.DBVersion(ctx)
		return err
	})
	return v, err
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, busyTimeoutMS int) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 seeds the db_version clock.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		INSERT INTO crr_meta (key, value) VALUES (?, 0)
		ON CONFLICT(key) DO NOTHING
	`, metaDBVersion)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// ensureSiteID loads the replica identity, minting one on first open.
func ensureSiteID(db *sql.DB, o options) ([]byte, error) {
	var existing []byte
	err := db.QueryRow(`SELECT value FROM crr_meta WHERE key = ?`, metaSiteID).Scan(&existing)
	switch {
	case err == nil:
		if o.siteID != nil && !bytes.Equal(existing, o.siteID) {
			return nil, fmt.Errorf("site id mismatch: database has %x, requested %x", existing, o.siteID)
		}
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("read site id: %w", err)
	}

	id := o.siteID
	if id == nil {
		if id, err = o.newSiteID(); err != nil {
			return nil, err
		}
	}
	if len(id) != SiteIDLen {
		return nil, fmt.Errorf("site id must be %d bytes, got %d", SiteIDLen, len(id))
	}
	if _, err := db.Exec(`INSERT INTO crr_meta (key, value) VALUES (?, ?)`, metaSiteID, id); err != nil {
		return nil, fmt.Errorf("write site id: %w", err)
	}
	return id, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
