// Package ledger keeps a durable history of clone copy jobs in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const maxErrorBytes = 4 * 1024

type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Begin inserts a running job and returns its id.
func (l *Ledger) Begin(ctx context.Context, req BeginRequest) (string, error) {
	if req.Identity == "" {
		return "", fmt.Errorf("identity is empty")
	}
	if req.Owner == "" {
		return "", fmt.Errorf("owner is empty")
	}
	if req.Reason == "" {
		req.Reason = ReasonCreate
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := l.db.ExecContext(ctx, `
INSERT INTO clone_jobs(
  id, identity, owner, source, reason, center_x, center_y, center_z, radius, tiles, status, started_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.Identity, req.Owner, req.Source, req.Reason,
		req.Spec.Center.X, req.Spec.Center.Y, req.Spec.Center.Z, req.Spec.Radius, req.Tiles,
		StatusRunning, now)
	if err != nil {
		return "", fmt.Errorf("insert clone job: %w", err)
	}
	return id, nil
}

// Finish marks a running job terminal.
func (l *Ledger) Finish(ctx context.Context, id string, sum Summary) error {
	if id == "" {
		return fmt.Errorf("job id is empty")
	}
	if sum.Status != StatusSucceeded && sum.Status != StatusFailed {
		return fmt.Errorf("invalid terminal status: %q", sum.Status)
	}

	var kind, lastErr any
	if sum.FailureKind != "" {
		kind = sum.FailureKind
	}
	if sum.Error != "" {
		s := sum.Error
		if len(s) > maxErrorBytes {
			s = s[:maxErrorBytes]
		}
		lastErr = s
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := l.db.ExecContext(ctx, `
UPDATE clone_jobs
SET status = ?, failure_kind = ?, last_error = ?, tiles_copied = ?, tiles_skipped = ?, bytes = ?, completed_at = ?
WHERE id = ? AND status = ?;
`, sum.Status, kind, lastErr, sum.Copied, sum.Skipped, sum.Bytes, completedAt, id, StatusRunning)
	if err != nil {
		return fmt.Errorf("update clone job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish %s: %w", id, ErrJobNotFound)
	}
	return nil
}

// RecoverOrphans marks jobs left running by a previous process as
// abandoned and returns how many there were.
func (l *Ledger) RecoverOrphans(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := l.db.ExecContext(ctx, `
UPDATE clone_jobs
SET status = ?, last_error = ?, completed_at = ?
WHERE status = ?;
`, StatusAbandoned, "process exited before the copy finished", now, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover orphaned jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Get loads one job by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Record, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get clone job: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit jobs, most recently begun first. An empty identity lists
// jobs for every clone.
func (l *Ledger) Recent(ctx context.Context, identity string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if identity == "" {
		rows, err = l.db.QueryContext(ctx, selectColumns+` ORDER BY rowid DESC LIMIT ?;`, limit)
	} else {
		rows, err = l.db.QueryContext(ctx, selectColumns+` WHERE identity = ? ORDER BY rowid DESC LIMIT ?;`, identity, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list clone jobs: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clone job: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clone jobs: %w", err)
	}
	return out, nil
}

// LastSource returns the source world of the most recent successful copy
// into identity.
func (l *Ledger) LastSource(ctx context.Context, identity string) (string, error) {
	var src string
	err := l.db.QueryRowContext(ctx, `
SELECT source FROM clone_jobs
WHERE identity = ? AND status = ?
ORDER BY rowid DESC
LIMIT 1;
`, identity, StatusSucceeded).Scan(&src)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("look up clone source: %w", err)
	}
	return src, nil
}

const selectColumns = `
SELECT
  id, identity, owner, source, reason, center_x, center_y, center_z, radius, tiles, status,
  failure_kind, last_error, tiles_copied, tiles_skipped, bytes, started_at, completed_at
FROM clone_jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		r            Record
		reason       string
		status       string
		failureKind  sql.NullString
		lastError    sql.NullString
		startedAtS   string
		completedAtS sql.NullString
	)
	err := s.Scan(
		&r.ID, &r.Identity, &r.Owner, &r.Source, &reason,
		&r.Spec.Center.X, &r.Spec.Center.Y, &r.Spec.Center.Z, &r.Spec.Radius, &r.Tiles, &status,
		&failureKind, &lastError, &r.Copied, &r.Skipped, &r.Bytes, &startedAtS, &completedAtS,
	)
	if err != nil {
		return nil, err
	}

	r.Reason = Reason(reason)
	r.Status = Status(status)
	if failureKind.Valid {
		r.FailureKind = &failureKind.String
	}
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		r.StartedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			r.CompletedAt = &t
		}
	}
	return &r, nil
}
