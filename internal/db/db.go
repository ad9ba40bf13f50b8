package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quantmind-br/hpkg/internal/core"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// DB is the package ledger. It keeps separate read and write pools; all
// mutations go through the single-connection write pool.
type DB struct {
	write *sql.DB
	read  *sql.DB
	path  string
}

// New opens (creating if needed) the ledger at dbPath
func New(ctx context.Context, dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Connection string with pragmas
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)

	// Write pool: MUST be 1 connection only
	write, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)
	write.SetConnMaxIdleTime(time.Minute)
	write.SetConnMaxLifetime(time.Hour)

	read, err := sql.Open("sqlite", connStr)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read connection: %w", err)
	}
	read.SetMaxOpenConns(10)
	read.SetMaxIdleConns(5)
	read.SetConnMaxIdleTime(time.Minute)
	read.SetConnMaxLifetime(time.Hour)

	db := &DB{
		write: write,
		read:  read,
		path:  dbPath,
	}

	if err := db.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close closes both database connections
func (db *DB) Close() error {
	writeErr := db.write.Close()
	readErr := db.read.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

const schema = `
CREATE TABLE IF NOT EXISTS installed_packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    version TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    license TEXT NOT NULL DEFAULT '',
    architecture TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    installed_size_bytes INTEGER NOT NULL DEFAULT 0,
    install_date TEXT NOT NULL,
    install_path TEXT NOT NULL,
    install_reason TEXT NOT NULL,
    checksum_sha256 TEXT NOT NULL DEFAULT '',
    checksum_blake3 TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS installed_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    package_id INTEGER NOT NULL REFERENCES installed_packages(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    path TEXT NOT NULL,
    checksum TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    permissions INTEGER NOT NULL DEFAULT 0,
    is_dir INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_installed_files_package ON installed_files(package_id);
CREATE INDEX IF NOT EXISTS idx_installed_files_path ON installed_files(path);

CREATE TABLE IF NOT EXISTS dependencies (
    package_id INTEGER NOT NULL REFERENCES installed_packages(id) ON DELETE CASCADE,
    depends_on TEXT NOT NULL,
    version_req TEXT NOT NULL DEFAULT '',
    optional INTEGER NOT NULL DEFAULT 0,
    build_only INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on ON dependencies(depends_on);

CREATE TABLE IF NOT EXISTS provides (
    package_id INTEGER NOT NULL REFERENCES installed_packages(id) ON DELETE CASCADE,
    capability TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_provides_capability ON provides(capability);

CREATE TABLE IF NOT EXISTS conflicts (
    package_id INTEGER NOT NULL REFERENCES installed_packages(id) ON DELETE CASCADE,
    conflicts_with TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS repositories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    url TEXT NOT NULL,
    mirror_urls TEXT NOT NULL DEFAULT '[]',
    enabled INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL DEFAULT 0,
    gpg_check INTEGER NOT NULL DEFAULT 0,
    gpg_key TEXT NOT NULL DEFAULT '',
    last_update TEXT
);

CREATE TABLE IF NOT EXISTS repository_index (
    repository_id INTEGER PRIMARY KEY REFERENCES repositories(id) ON DELETE CASCADE,
    index_data BLOB NOT NULL,
    checksum TEXT NOT NULL,
    last_update TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS available_packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    architecture TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    UNIQUE(repository_id, name, version)
);
CREATE INDEX IF NOT EXISTS idx_available_packages_name ON available_packages(name);

CREATE TABLE IF NOT EXISTS package_groups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    UNIQUE(repository_id, name)
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id INTEGER NOT NULL REFERENCES package_groups(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    package_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    package_name TEXT NOT NULL,
    old_version TEXT NOT NULL DEFAULT '',
    new_version TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    description TEXT
);
`

// initSchema creates the schema if it doesn't exist
func (db *DB) initSchema(ctx context.Context) error {
	if _, err := db.write.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	_, err := db.write.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_migrations (version, description) VALUES (?, ?)",
		schemaVersion, "initial ledger schema")
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied schema version
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := db.read.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return int(v.Int64), nil
}

// withTx runs fn inside a write transaction. The transaction is rolled back
// when fn returns an error or panics; panics are re-raised after rollback.
func (db *DB) withTx(ctx context.Context, op, name string, fn func(tx *sql.Tx) error) error {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return core.NewError(core.ErrDatabase, op, name, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var pe *core.PackageError
		if errors.As(err, &pe) {
			return err
		}
		return core.NewError(core.ErrDatabase, op, name, err)
	}

	if err := tx.Commit(); err != nil {
		return core.NewError(core.ErrDatabase, op, name, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// timestamps are stored fixed-width so they compare correctly as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
