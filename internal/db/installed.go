package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quantmind-br/hpkg/internal/core"
)

// IsInstalled reports whether a package with this name is in the ledger
func (db *DB) IsInstalled(ctx context.Context, name string) (bool, error) {
	var n int
	err := db.read.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM installed_packages WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, core.NewError(core.ErrDatabase, "query installed", name, err)
	}
	return n > 0, nil
}

// GetInstalledPackage loads the full ledger entry for name, files in install order
func (db *DB) GetInstalledPackage(ctx context.Context, name string) (*core.InstalledPackage, error) {
	row := db.read.QueryRowContext(ctx, `
SELECT id, install_date, install_path, install_reason, metadata
FROM installed_packages WHERE name = ?`, name)

	var (
		id       int64
		date     string
		path     string
		reason   string
		metadata string
	)
	err := row.Scan(&id, &date, &path, &reason, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("get installed package", name)
	}
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "query installed package", name, err)
	}

	pkg, err := decodeInstalled(date, path, reason, metadata)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "decode installed package", name, err)
	}

	files, err := db.installedFiles(ctx, id)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "query installed files", name, err)
	}
	pkg.Files = files
	return pkg, nil
}

// ListInstalled returns every installed package ordered by name. File lists are not loaded.
func (db *DB) ListInstalled(ctx context.Context) ([]core.InstalledPackage, error) {
	rows, err := db.read.QueryContext(ctx, `
SELECT install_date, install_path, install_reason, metadata
FROM installed_packages ORDER BY name`)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "list installed", "", err)
	}
	defer rows.Close()

	var out []core.InstalledPackage
	for rows.Next() {
		var date, path, reason, metadata string
		if err := rows.Scan(&date, &path, &reason, &metadata); err != nil {
			return nil, core.NewError(core.ErrDatabase, "scan installed", "", err)
		}
		pkg, err := decodeInstalled(date, path, reason, metadata)
		if err != nil {
			return nil, core.NewError(core.ErrDatabase, "decode installed package", "", err)
		}
		out = append(out, *pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.ErrDatabase, "list installed", "", err)
	}
	return out, nil
}

func decodeInstalled(date, path, reason, metadata string) (*core.InstalledPackage, error) {
	var pkg core.Package
	if err := json.Unmarshal([]byte(metadata), &pkg); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	installDate, err := parseTime(date)
	if err != nil {
		return nil, err
	}
	return &core.InstalledPackage{
		Package:       pkg,
		InstallDate:   installDate,
		InstallPath:   path,
		InstallReason: core.ParseInstallReason(reason),
	}, nil
}

func (db *DB) installedFiles(ctx context.Context, packageID int64) ([]core.InstalledFile, error) {
	rows, err := db.read.QueryContext(ctx, `
SELECT path, checksum, size, permissions, is_dir
FROM installed_files WHERE package_id = ? ORDER BY position`, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []core.InstalledFile
	for rows.Next() {
		var f core.InstalledFile
		var isDir int
		if err := rows.Scan(&f.Path, &f.Checksum, &f.Size, &f.Permissions, &isDir); err != nil {
			return nil, err
		}
		f.IsDir = isDir != 0
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetDependents returns the installed packages whose dependency list names
// the given package or a capability it provides, distinct and sorted.
func (db *DB) GetDependents(ctx context.Context, name string) ([]string, error) {
	rows, err := db.read.QueryContext(ctx, `
SELECT DISTINCT p.name
FROM dependencies d
JOIN installed_packages p ON p.id = d.package_id
WHERE p.name != ?
  AND (d.depends_on = ?
       OR d.depends_on IN (
           SELECT pr.capability FROM provides pr
           JOIN installed_packages q ON q.id = pr.package_id
           WHERE q.name = ?))
ORDER BY p.name`, name, name, name)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "query dependents", name, err)
	}
	return scanNames(rows, "query dependents", name)
}

// FindOrphans returns dependency-installed packages that no installed package
// depends on, either by name or through a capability they provide.
func (db *DB) FindOrphans(ctx context.Context) ([]string, error) {
	rows, err := db.read.QueryContext(ctx, `
SELECT p.name FROM installed_packages p
WHERE p.install_reason = ?
  AND p.name NOT IN (SELECT DISTINCT depends_on FROM dependencies)
  AND NOT EXISTS (
      SELECT 1 FROM provides pr
      JOIN dependencies d ON d.depends_on = pr.capability
      WHERE pr.package_id = p.id AND d.package_id != p.id)
ORDER BY p.name`, string(core.ReasonDependency))
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "find orphans", "", err)
	}
	return scanNames(rows, "find orphans", "")
}

// FindOwner returns the installed package that recorded path, if any
func (db *DB) FindOwner(ctx context.Context, path string) (string, error) {
	var name string
	err := db.read.QueryRowContext(ctx, `
SELECT p.name FROM installed_files f
JOIN installed_packages p ON p.id = f.package_id
WHERE f.path = ? AND f.is_dir = 0
LIMIT 1`, path).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", core.NewError(core.ErrDatabase, "find owner", path, err)
	}
	return name, nil
}

// RecordInstallation writes the package row, its files, dependencies, provides
// and conflicts in one transaction. A name already in the ledger is rejected.
func (db *DB) RecordInstallation(ctx context.Context, pkg *core.InstalledPackage) error {
	name := pkg.Package.Name

	metadata, err := json.Marshal(pkg.Package)
	if err != nil {
		return core.NewError(core.ErrDatabase, "record installation", name, fmt.Errorf("marshal metadata: %w", err))
	}

	return db.withTx(ctx, "record installation", name, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO installed_packages (
    name, version, description, author, license, architecture,
    size_bytes, installed_size_bytes, install_date, install_path, install_reason,
    checksum_sha256, checksum_blake3, metadata
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			name,
			pkg.Package.Version,
			pkg.Package.Description,
			pkg.Package.Author,
			pkg.Package.License,
			string(pkg.Package.Architecture),
			pkg.Package.SizeBytes,
			pkg.Package.InstalledSizeBytes,
			formatTime(pkg.InstallDate),
			pkg.InstallPath,
			string(pkg.InstallReason),
			pkg.Package.Checksum.SHA256,
			pkg.Package.Checksum.BLAKE3,
			string(metadata),
		)
		if err != nil {
			return fmt.Errorf("insert package: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("package id: %w", err)
		}

		fileStmt, err := tx.PrepareContext(ctx, `
INSERT INTO installed_files (package_id, position, path, checksum, size, permissions, is_dir)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare files: %w", err)
		}
		defer fileStmt.Close()

		for i, f := range pkg.Files {
			if _, err := fileStmt.ExecContext(ctx, id, i, f.Path, f.Checksum, f.Size, f.Permissions, boolInt(f.IsDir)); err != nil {
				return fmt.Errorf("insert file %s: %w", f.Path, err)
			}
		}

		for _, dep := range pkg.Package.Dependencies {
			_, err := tx.ExecContext(ctx, `
INSERT INTO dependencies (package_id, depends_on, version_req, optional, build_only)
VALUES (?, ?, ?, ?, ?)`, id, dep.Name, dep.VersionReq, boolInt(dep.Optional), boolInt(dep.BuildOnly))
			if err != nil {
				return fmt.Errorf("insert dependency %s: %w", dep.Name, err)
			}
		}

		for _, capability := range pkg.Package.Provides {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO provides (package_id, capability) VALUES (?, ?)", id, capability); err != nil {
				return fmt.Errorf("insert provides %s: %w", capability, err)
			}
		}

		for _, other := range pkg.Package.Conflicts {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO conflicts (package_id, conflicts_with) VALUES (?, ?)", id, other); err != nil {
				return fmt.Errorf("insert conflict %s: %w", other, err)
			}
		}
		return nil
	})
}

// MarkRemoved deletes every ledger row belonging to name in one transaction
func (db *DB) MarkRemoved(ctx context.Context, name string) error {
	return db.withTx(ctx, "mark removed", name, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM installed_packages WHERE name = ?", name).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NotFound("mark removed", name)
		}
		if err != nil {
			return fmt.Errorf("lookup package: %w", err)
		}

		for _, table := range []string{"installed_files", "dependencies", "provides", "conflicts"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE package_id = ?", id); err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM installed_packages WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete package: %w", err)
		}
		return nil
	})
}

// GetProviders returns the installed packages that provide capability
func (db *DB) GetProviders(ctx context.Context, capability string) ([]string, error) {
	rows, err := db.read.QueryContext(ctx, `
SELECT DISTINCT p.name FROM provides pr
JOIN installed_packages p ON p.id = pr.package_id
WHERE pr.capability = ?
ORDER BY p.name`, capability)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "query providers", capability, err)
	}
	return scanNames(rows, "query providers", capability)
}

func scanNames(rows *sql.Rows, op, name string) ([]string, error) {
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, core.NewError(core.ErrDatabase, op, name, err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.ErrDatabase, op, name, err)
	}
	return names, nil
}
