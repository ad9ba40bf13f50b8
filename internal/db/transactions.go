package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/quantmind-br/hpkg/internal/core"
)

// BeginTransaction opens a pending audit record and returns its id
func (db *DB) BeginTransaction(ctx context.Context, txType core.TransactionType, name, oldVersion, newVersion string) (int64, error) {
	res, err := db.write.ExecContext(ctx, `
INSERT INTO transactions (type, package_name, old_version, new_version, status, started_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		string(txType), name, oldVersion, newVersion, string(core.TxPending), formatTime(time.Now()))
	if err != nil {
		return 0, core.NewError(core.ErrDatabase, "begin transaction", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, core.NewError(core.ErrDatabase, "begin transaction", name, err)
	}
	return id, nil
}

// CompleteTransaction marks an audit record as completed
func (db *DB) CompleteTransaction(ctx context.Context, id int64) error {
	return db.finishTransaction(ctx, id, core.TxCompleted, "")
}

// FailTransaction marks an audit record as failed with the cause
func (db *DB) FailTransaction(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return db.finishTransaction(ctx, id, core.TxFailed, msg)
}

func (db *DB) finishTransaction(ctx context.Context, id int64, status core.TransactionStatus, msg string) error {
	res, err := db.write.ExecContext(ctx, `
UPDATE transactions SET status = ?, completed_at = ?, error = ?
WHERE id = ? AND status = ?`,
		string(status), formatTime(time.Now()), msg, id, string(core.TxPending))
	if err != nil {
		return core.NewError(core.ErrDatabase, "finish transaction", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.NewError(core.ErrDatabase, "finish transaction", "", err)
	}
	if n == 0 {
		return core.NotFound("finish transaction", "pending transaction")
	}
	return nil
}

// ListTransactions returns the most recent audit records, newest first.
// A limit of zero or less returns all of them.
func (db *DB) ListTransactions(ctx context.Context, limit int) ([]core.TransactionRecord, error) {
	query := `
SELECT id, type, package_name, old_version, new_version, status, started_at, completed_at, error
FROM transactions ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "list transactions", "", err)
	}
	defer rows.Close()

	var records []core.TransactionRecord
	for rows.Next() {
		var (
			rec       core.TransactionRecord
			txType    string
			status    string
			started   string
			completed sql.NullString
		)
		if err := rows.Scan(&rec.ID, &txType, &rec.PackageName, &rec.OldVersion, &rec.NewVersion,
			&status, &started, &completed, &rec.Error); err != nil {
			return nil, core.NewError(core.ErrDatabase, "scan transaction", "", err)
		}
		rec.Type = core.TransactionType(txType)
		rec.Status = core.TransactionStatus(status)

		if rec.StartedAt, err = parseTime(started); err != nil {
			return nil, core.NewError(core.ErrDatabase, "scan transaction", "", err)
		}
		if rec.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, core.NewError(core.ErrDatabase, "scan transaction", "", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.ErrDatabase, "list transactions", "", err)
	}
	return records, nil
}

// GetStats summarizes the ledger and catalog
func (db *DB) GetStats(ctx context.Context) (*core.DatabaseStats, error) {
	var stats core.DatabaseStats
	err := db.read.QueryRowContext(ctx, `
SELECT
    (SELECT COUNT(*) FROM installed_packages),
    (SELECT COUNT(*) FROM installed_packages WHERE install_reason = 'explicit'),
    (SELECT COUNT(*) FROM installed_packages WHERE install_reason = 'dependency'),
    (SELECT COUNT(*) FROM installed_packages
        WHERE install_reason = 'dependency'
          AND name NOT IN (SELECT DISTINCT depends_on FROM dependencies)),
    (SELECT COUNT(*) FROM available_packages),
    (SELECT COUNT(*) FROM repositories),
    (SELECT COALESCE(SUM(installed_size_bytes), 0) FROM installed_packages)`).Scan(
		&stats.Installed,
		&stats.Explicit,
		&stats.Dependency,
		&stats.Orphaned,
		&stats.Available,
		&stats.Repositories,
		&stats.TotalSize,
	)
	if err != nil {
		return nil, core.NewError(core.ErrDatabase, "query stats", "", err)
	}
	return &stats, nil
}
