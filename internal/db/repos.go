package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/quantmind-br/hpkg/internal/core"
)

// EncodeAll and DecodeAll are safe for concurrent use
var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil)
)

// SaveRepository inserts or updates a repository definition, keeping its id
// and last update time.
func (db *DB) SaveRepository(ctx context.Context, repo core.Repository) error {
	return db.withTx(ctx, "save repository", repo.Name, func(tx *sql.Tx) error {
		_, err := upsertRepository(ctx, tx, repo, false)
		return err
	})
}

func upsertRepository(ctx context.Context, tx *sql.Tx, repo core.Repository, stamp bool) (int64, error) {
	mirrors, err := json.Marshal(repo.MirrorURLs)
	if err != nil {
		return 0, fmt.Errorf("marshal mirrors: %w", err)
	}

	var lastUpdate sql.NullString
	if stamp && repo.LastUpdate != nil {
		lastUpdate = sql.NullString{String: formatTime(*repo.LastUpdate), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO repositories (name, url, mirror_urls, enabled, priority, gpg_check, gpg_key, last_update)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    url = excluded.url,
    mirror_urls = excluded.mirror_urls,
    enabled = excluded.enabled,
    priority = excluded.priority,
    gpg_check = excluded.gpg_check,
    gpg_key = excluded.gpg_key,
    last_update = COALESCE(excluded.last_update, repositories.last_update)`,
		repo.Name, repo.URL, string(mirrors), boolInt(repo.Enabled), repo.Priority,
		boolInt(repo.GPGCheck), repo.GPGKey, lastUpdate)
	if err != nil {
		return 0, fmt.Errorf("upsert repository: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM repositories WHERE name = ?", repo.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup repository id: %w", err)
	}
	return id, nil
}

// ListRepositories returns every known repository ordered by priority, then name
func (db *DB) ListRepositories(ctx context.Context) ([]core.Repository, error) {
	rows, err := db.read.QueryContext(ctx, `
SELECT name, url, mirror_urls, enabled, priority, gpg_check, gpg_key, last_update
FROM repositories ORDER BY priority, name`)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "list repositories", "", err)
	}
	defer rows.Close()

	var repos []core.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, core.NewError(core.ErrDatabase, "scan repository", "", err)
		}
		repos = append(repos, *repo)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.ErrDatabase, "list repositories", "", err)
	}
	return repos, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(row scanner, extra ...any) (*core.Repository, error) {
	var (
		repo              core.Repository
		mirrors           string
		enabled, gpgCheck int
		lastUpdate        sql.NullString
	)
	dest := append([]any{
		&repo.Name, &repo.URL, &mirrors, &enabled, &repo.Priority, &gpgCheck, &repo.GPGKey, &lastUpdate,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(mirrors), &repo.MirrorURLs); err != nil {
		return nil, fmt.Errorf("unmarshal mirrors: %w", err)
	}
	repo.Enabled = enabled != 0
	repo.GPGCheck = gpgCheck != 0

	t, err := parseNullTime(lastUpdate)
	if err != nil {
		return nil, err
	}
	repo.LastUpdate = t
	return &repo, nil
}

// SetRepositoryEnabled toggles a repository
func (db *DB) SetRepositoryEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := db.write.ExecContext(ctx,
		"UPDATE repositories SET enabled = ? WHERE name = ?", boolInt(enabled), name)
	if err != nil {
		return core.NewError(core.ErrDatabase, "set repository enabled", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.NewError(core.ErrDatabase, "set repository enabled", name, err)
	}
	if n == 0 {
		return core.NotFound("set repository enabled", name)
	}
	return nil
}

// DeleteRepository removes a repository together with its index, catalog and groups
func (db *DB) DeleteRepository(ctx context.Context, name string) error {
	return db.withTx(ctx, "delete repository", name, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM repositories WHERE name = ?", name).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NotFound("delete repository", name)
		}
		if err != nil {
			return fmt.Errorf("lookup repository: %w", err)
		}
		if err := clearRepositoryCatalog(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM repository_index WHERE repository_id = ?", id); err != nil {
			return fmt.Errorf("delete index: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM repositories WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete repository: %w", err)
		}
		return nil
	})
}

func clearRepositoryCatalog(ctx context.Context, tx *sql.Tx, repoID int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM available_packages WHERE repository_id = ?", repoID); err != nil {
		return fmt.Errorf("clear available packages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id IN (SELECT id FROM package_groups WHERE repository_id = ?)", repoID); err != nil {
		return fmt.Errorf("clear group members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM package_groups WHERE repository_id = ?", repoID); err != nil {
		return fmt.Errorf("clear groups: %w", err)
	}
	return nil
}

// EncodeIndex serializes an index to its stored form and returns the blob
// together with its hex SHA-256.
func EncodeIndex(idx *core.RepositoryIndex) ([]byte, string, error) {
	raw, err := json.Marshal(idx)
	if err != nil {
		return nil, "", fmt.Errorf("marshal index: %w", err)
	}
	blob := blobEncoder.EncodeAll(raw, nil)
	sum := sha256.Sum256(blob)
	return blob, hex.EncodeToString(sum[:]), nil
}

// DecodeIndex verifies blob against checksum and decodes it
func DecodeIndex(blob []byte, checksum string) (*core.RepositoryIndex, error) {
	sum := sha256.Sum256(blob)
	if got := hex.EncodeToString(sum[:]); got != checksum {
		return nil, fmt.Errorf("%w: index checksum %s, expected %s", core.ErrIntegrityCorrupt, got, checksum)
	}

	raw, err := blobDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress index: %v", core.ErrIntegrityCorrupt, err)
	}

	var idx core.RepositoryIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("%w: unmarshal index: %v", core.ErrIntegrityCorrupt, err)
	}
	if idx.Provides == nil {
		idx.BuildProvidesIndex()
	}
	return &idx, nil
}

// UpdateRepositoryIndex stores a freshly synced index and replaces the
// catalog and group membership of exactly that repository.
func (db *DB) UpdateRepositoryIndex(ctx context.Context, idx *core.RepositoryIndex) error {
	name := idx.Repository.Name

	now := time.Now().UTC()
	idx.Repository.LastUpdate = &now

	blob, checksum, err := EncodeIndex(idx)
	if err != nil {
		return core.NewError(core.ErrDatabase, "update repository index", name, err)
	}

	return db.withTx(ctx, "update repository index", name, func(tx *sql.Tx) error {
		repoID, err := upsertRepository(ctx, tx, idx.Repository, true)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO repository_index (repository_id, index_data, checksum, last_update)
VALUES (?, ?, ?, ?)
ON CONFLICT(repository_id) DO UPDATE SET
    index_data = excluded.index_data,
    checksum = excluded.checksum,
    last_update = excluded.last_update`,
			repoID, blob, checksum, formatTime(now))
		if err != nil {
			return fmt.Errorf("store index: %w", err)
		}

		if err := clearRepositoryCatalog(ctx, tx, repoID); err != nil {
			return err
		}

		pkgStmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO available_packages (repository_id, name, version, description, architecture, size_bytes)
VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare catalog: %w", err)
		}
		defer pkgStmt.Close()

		for pkgName, versions := range idx.Packages {
			for _, p := range versions {
				if _, err := pkgStmt.ExecContext(ctx, repoID, pkgName, p.Version, p.Description,
					string(p.Architecture), p.SizeBytes); err != nil {
					return fmt.Errorf("insert available package %s: %w", pkgName, err)
				}
			}
		}

		for group, members := range idx.Groups {
			res, err := tx.ExecContext(ctx,
				"INSERT INTO package_groups (repository_id, name) VALUES (?, ?)", repoID, group)
			if err != nil {
				return fmt.Errorf("insert group %s: %w", group, err)
			}
			groupID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("group id: %w", err)
			}
			for i, member := range members {
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO group_members (group_id, position, package_name) VALUES (?, ?, ?)",
					groupID, i, member); err != nil {
					return fmt.Errorf("insert group member %s: %w", member, err)
				}
			}
		}
		return nil
	})
}

// GetRepositoryIndices returns the stored indices of enabled repositories,
// ordered by priority then name. Each blob is checksum-verified before decoding.
func (db *DB) GetRepositoryIndices(ctx context.Context) ([]core.RepositoryIndex, error) {
	rows, err := db.read.QueryContext(ctx, `
SELECT r.name, r.url, r.mirror_urls, r.enabled, r.priority, r.gpg_check, r.gpg_key, r.last_update,
       ri.index_data, ri.checksum
FROM repositories r
JOIN repository_index ri ON ri.repository_id = r.id
WHERE r.enabled = 1
ORDER BY r.priority, r.name`)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "load repository indices", "", err)
	}
	defer rows.Close()

	var indices []core.RepositoryIndex
	for rows.Next() {
		var (
			blob     []byte
			checksum string
		)
		repo, err := scanRepository(rows, &blob, &checksum)
		if err != nil {
			return nil, core.NewError(core.ErrDatabase, "scan repository index", "", err)
		}

		idx, err := DecodeIndex(blob, checksum)
		if err != nil {
			return nil, core.NewError(core.ErrIntegrityCorrupt, "load repository index", repo.Name, err)
		}
		// the stored row is authoritative for enablement and priority
		idx.Repository = *repo
		indices = append(indices, *idx)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.ErrDatabase, "load repository indices", "", err)
	}
	return indices, nil
}

// PruneStaleIndices drops stored indices last refreshed before cutoff
func (db *DB) PruneStaleIndices(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.write.ExecContext(ctx,
		"DELETE FROM repository_index WHERE last_update < ?", formatTime(cutoff))
	if err != nil {
		return 0, core.NewError(core.ErrDatabase, "prune indices", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.NewError(core.ErrDatabase, "prune indices", "", err)
	}
	return n, nil
}

// GetGroups returns the group names known to enabled repositories
func (db *DB) GetGroups(ctx context.Context) ([]string, error) {
	rows, err := db.read.QueryContext(ctx, `
SELECT DISTINCT g.name FROM package_groups g
JOIN repositories r ON r.id = g.repository_id
WHERE r.enabled = 1
ORDER BY g.name`)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "list groups", "", err)
	}
	return scanNames(rows, "list groups", "")
}

// GetGroupMembers returns the members of group across enabled repositories in
// priority order, without duplicates.
func (db *DB) GetGroupMembers(ctx context.Context, group string) ([]string, error) {
	rows, err := db.read.QueryContext(ctx, `
SELECT gm.package_name FROM group_members gm
JOIN package_groups g ON g.id = gm.group_id
JOIN repositories r ON r.id = g.repository_id
WHERE g.name = ? AND r.enabled = 1
ORDER BY r.priority, r.name, gm.position`, group)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "list group members", group, err)
	}

	all, err := scanNames(rows, "list group members", group)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, core.NotFound("list group members", group)
	}

	seen := make(map[string]bool, len(all))
	members := make([]string, 0, len(all))
	for _, m := range all {
		if !seen[m] {
			seen[m] = true
			members = append(members, m)
		}
	}
	return members, nil
}
