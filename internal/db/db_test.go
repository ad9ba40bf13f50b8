package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), t.TempDir()+"/var/lib/hpkg/packages.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testInstalled(name, version string, reason core.InstallReason, deps ...string) *core.InstalledPackage {
	pkg := core.Package{
		Name:               name,
		Version:            version,
		Description:        name + " package",
		Author:             "hpkg team",
		License:            "MIT",
		Architecture:       core.ArchX86_64,
		SizeBytes:          100,
		InstalledSizeBytes: 400,
		Checksum:           core.Checksum{SHA256: "aa", BLAKE3: "bb"},
		BuildDate:          time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, d := range deps {
		pkg.Dependencies = append(pkg.Dependencies, core.Dependency{Name: d, VersionReq: ">= 1.0"})
	}
	return &core.InstalledPackage{
		Package:       pkg,
		InstallDate:   time.Date(2024, 4, 1, 8, 30, 0, 0, time.UTC),
		InstallPath:   "/",
		InstallReason: reason,
		Files: []core.InstalledFile{
			{Path: "usr/bin/" + name, Checksum: "cc", Size: 10, Permissions: 0755},
			{Path: "usr/share/doc/" + name, Permissions: 0755, IsDir: true},
		},
	}
}

func TestApplyMigrations(t *testing.T) {
	ctx := context.Background()
	tmpfile := t.TempDir() + "/test_migrations.db"
	db, err := New(ctx, tmpfile)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	var count int
	err = db.read.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query schema_migrations: %v", err)
	}
	if count != 1 {
		t.Errorf("schema_migrations count = %d, want 1", count)
	}

	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

func TestNew_Reopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/packages.db"

	db, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.RecordInstallation(ctx, testInstalled("foo", "1.0.0", core.ReasonExplicit)))
	require.NoError(t, db.Close())

	db, err = New(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	installed, err := db.IsInstalled(ctx, "foo")
	require.NoError(t, err)
	assert.True(t, installed)
	assert.Equal(t, path, db.Path())
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	assert.Panics(t, func() {
		_ = db.withTx(ctx, "test", "foo", func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
INSERT INTO installed_packages (name, version, architecture, install_date, install_path, install_reason, metadata)
VALUES ('foo', '1.0.0', 'all', '2024-01-01T00:00:00Z', '/', 'explicit', '{}')`)
			require.NoError(t, err)
			panic("boom")
		})
	})

	installed, err := db.IsInstalled(ctx, "foo")
	require.NoError(t, err)
	assert.False(t, installed)

	// the write connection must be usable again
	require.NoError(t, db.RecordInstallation(ctx, testInstalled("bar", "1.0.0", core.ReasonExplicit)))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	err := db.withTx(ctx, "test", "foo", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO installed_packages (name, version, architecture, install_date, install_path, install_reason, metadata)
VALUES ('foo', '1.0.0', 'all', '2024-01-01T00:00:00Z', '/', 'explicit', '{}')`)
		require.NoError(t, err)
		return errors.New("later step failed")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDatabase))

	installed, err := db.IsInstalled(ctx, "foo")
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestTransactions_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	okID, err := db.BeginTransaction(ctx, core.TxInstall, "foo", "", "1.0.0")
	require.NoError(t, err)
	failID, err := db.BeginTransaction(ctx, core.TxUpgrade, "bar", "1.0.0", "2.0.0")
	require.NoError(t, err)
	pendingID, err := db.BeginTransaction(ctx, core.TxRemove, "baz", "1.0.0", "")
	require.NoError(t, err)

	require.NoError(t, db.CompleteTransaction(ctx, okID))
	require.NoError(t, db.FailTransaction(ctx, failID, errors.New("checksum mismatch")))

	// finished records cannot transition again
	err = db.FailTransaction(ctx, okID, errors.New("late"))
	assert.True(t, errors.Is(err, core.ErrNotFound))

	records, err := db.ListTransactions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, pendingID, records[0].ID)
	assert.Equal(t, core.TxPending, records[0].Status)
	assert.Nil(t, records[0].CompletedAt)

	assert.Equal(t, failID, records[1].ID)
	assert.Equal(t, core.TxFailed, records[1].Status)
	assert.Equal(t, "checksum mismatch", records[1].Error)
	assert.Equal(t, "1.0.0", records[1].OldVersion)
	assert.Equal(t, "2.0.0", records[1].NewVersion)
	assert.NotNil(t, records[1].CompletedAt)

	assert.Equal(t, okID, records[2].ID)
	assert.Equal(t, core.TxCompleted, records[2].Status)
	assert.Equal(t, core.TxInstall, records[2].Type)

	limited, err := db.ListTransactions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.RecordInstallation(ctx, testInstalled("app", "1.0.0", core.ReasonExplicit, "libc")))
	require.NoError(t, db.RecordInstallation(ctx, testInstalled("libc", "2.0.0", core.ReasonDependency)))
	require.NoError(t, db.RecordInstallation(ctx, testInstalled("leftover", "0.1.0", core.ReasonDependency)))
	require.NoError(t, db.UpdateRepositoryIndex(ctx, testIndex("core", 10, "app", "libc", "zlib")))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Installed)
	assert.Equal(t, int64(1), stats.Explicit)
	assert.Equal(t, int64(2), stats.Dependency)
	assert.Equal(t, int64(1), stats.Orphaned)
	assert.Equal(t, int64(3), stats.Available)
	assert.Equal(t, int64(1), stats.Repositories)
	assert.Equal(t, int64(1200), stats.TotalSize)
}
