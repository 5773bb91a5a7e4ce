package stats

import (
	"context"
	"fmt"
	"time"
)

// AuditRunRecord is one persisted audit run. The full result is stored
// as JSON; the envelope columns exist for listing and pruning.
type AuditRunRecord struct {
	ID          string
	CreatedAt   time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	ResultJSON  []byte
}

// SaveAuditRun appends a completed audit run to the history.
func (s *Store) SaveAuditRun(ctx context.Context, rec AuditRunRecord) error {
	if !s.IsReady() {
		return ErrNotReady
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_runs
		(id, created_at, period_start, period_end, result_json)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.PeriodStart.UTC().Format(time.RFC3339Nano),
		rec.PeriodEnd.UTC().Format(time.RFC3339Nano),
		string(rec.ResultJSON))
	if err != nil {
		return fmt.Errorf("saving audit run: %w", err)
	}
	return nil
}

// AuditRuns returns the most recent audit runs, newest first.
func (s *Store) AuditRuns(ctx context.Context, limit int) ([]AuditRunRecord, error) {
	if !s.IsReady() {
		return nil, ErrNotReady
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, period_start,
		period_end, result_json
		FROM audit_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []AuditRunRecord
	for rows.Next() {
		var (
			rec                        AuditRunRecord
			created, pStart, pEnd, raw string
		)
		if err := rows.Scan(&rec.ID, &created, &pStart, &pEnd, &raw); err != nil {
			return nil, fmt.Errorf("scanning audit run: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		rec.PeriodStart, _ = time.Parse(time.RFC3339Nano, pStart)
		rec.PeriodEnd, _ = time.Parse(time.RFC3339Nano, pEnd)
		rec.ResultJSON = []byte(raw)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteAuditRun removes one audit run from the history.
func (s *Store) DeleteAuditRun(ctx context.Context, id string) error {
	if !s.IsReady() {
		return ErrNotReady
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM audit_runs WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting audit run: %w", err)
	}
	return nil
}
