package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"legalscan/internal/domain"
	"legalscan/internal/ports"
)

// CreateScan inserts the scan row and one run row per backend in a single
// transaction. The git token is stored write-only: read paths never select
// it back out.
func (db *DB) CreateScan(ctx context.Context, scan *domain.Scan) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
        INSERT INTO scans (id, git_url, git_token, status, error, created_at, started_at, completed_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
    `, scan.ID, scan.GitURL, scan.GitToken, scan.Status, scan.Error, scan.CreatedAt, scan.StartedAt, scan.CompletedAt)
	if err != nil {
		return err
	}
	for _, run := range scan.Backends {
		if _, err = tx.Exec(ctx, `
            INSERT INTO backend_runs (scan_id, backend, status, error, started_at, completed_at)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, scan.ID, run.Backend, run.Status, run.Error, run.StartedAt, run.CompletedAt); err != nil {
			return err
		}
	}
	return nil
}

// UpdateScan upserts the full scan row and its backend runs; safe to retry.
func (db *DB) UpdateScan(ctx context.Context, scan *domain.Scan) error {
	var riskJSON []byte
	if scan.Risk != nil {
		b, err := json.Marshal(scan.Risk)
		if err != nil {
			return fmt.Errorf("marshal risk: %w", err)
		}
		riskJSON = b
	}

	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	// The token column tracks the in-memory value: the runner blanks it
	// after workspace acquisition, so the first post-acquisition update
	// scrubs it from the database as well.
	tag, err := tx.Exec(ctx, `
        UPDATE scans
        SET status = $2, error = $3, risk = $4, started_at = $5, completed_at = $6,
            git_token = NULLIF($7, '')
        WHERE id = $1
    `, scan.ID, scan.Status, scan.Error, riskJSON, scan.StartedAt, scan.CompletedAt, scan.GitToken)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = ports.ErrNotFound
		return err
	}
	for _, run := range scan.Backends {
		if _, err = tx.Exec(ctx, `
            INSERT INTO backend_runs (scan_id, backend, status, error, started_at, completed_at)
            VALUES ($1, $2, $3, $4, $5, $6)
            ON CONFLICT (scan_id, backend) DO UPDATE
            SET status = EXCLUDED.status, error = EXCLUDED.error,
                started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at
        `, scan.ID, run.Backend, run.Status, run.Error, run.StartedAt, run.CompletedAt); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) GetScan(ctx context.Context, id string) (*domain.Scan, error) {
	scan := domain.Scan{Backends: make(map[string]*domain.BackendRun)}
	var riskJSON []byte
	err := db.Pool.QueryRow(ctx, `
        SELECT id, git_url, COALESCE(git_token, ''), status, error, risk, created_at, started_at, completed_at
        FROM scans WHERE id = $1
    `, id).Scan(&scan.ID, &scan.GitURL, &scan.GitToken, &scan.Status, &scan.Error, &riskJSON,
		&scan.CreatedAt, &scan.StartedAt, &scan.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(riskJSON) > 0 {
		var risk domain.RiskAssessment
		if err := json.Unmarshal(riskJSON, &risk); err != nil {
			return nil, fmt.Errorf("unmarshal risk: %w", err)
		}
		scan.Risk = &risk
	}
	if err := db.loadRuns(ctx, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

func (db *DB) ListScans(ctx context.Context, statuses ...domain.Status) ([]domain.Scan, error) {
	query := `
        SELECT id, git_url, status, error, risk, created_at, started_at, completed_at
        FROM scans
    `
	args := []any{}
	if len(statuses) > 0 {
		query += ` WHERE status = ANY($1)`
		in := make([]string, len(statuses))
		for i, s := range statuses {
			in[i] = string(s)
		}
		args = append(args, in)
	}
	query += ` ORDER BY created_at DESC LIMIT 100`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []domain.Scan
	for rows.Next() {
		scan := domain.Scan{Backends: make(map[string]*domain.BackendRun)}
		var riskJSON []byte
		if err := rows.Scan(&scan.ID, &scan.GitURL, &scan.Status, &scan.Error, &riskJSON,
			&scan.CreatedAt, &scan.StartedAt, &scan.CompletedAt); err != nil {
			return nil, err
		}
		if len(riskJSON) > 0 {
			var risk domain.RiskAssessment
			if err := json.Unmarshal(riskJSON, &risk); err != nil {
				return nil, fmt.Errorf("unmarshal risk: %w", err)
			}
			scan.Risk = &risk
		}
		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range scans {
		if err := db.loadRuns(ctx, &scans[i]); err != nil {
			return nil, err
		}
	}
	return scans, nil
}

func (db *DB) DeleteScan(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM scans WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (db *DB) loadRuns(ctx context.Context, scan *domain.Scan) error {
	rows, err := db.Pool.Query(ctx, `
        SELECT backend, status, error, started_at, completed_at
        FROM backend_runs WHERE scan_id = $1
    `, scan.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var run domain.BackendRun
		if err := rows.Scan(&run.Backend, &run.Status, &run.Error, &run.StartedAt, &run.CompletedAt); err != nil {
			return err
		}
		scan.Backends[run.Backend] = &run
	}
	return rows.Err()
}
