package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// FraudReportStore implements domain.FraudReportStore using PostgreSQL.
type FraudReportStore struct {
	pool *pgxpool.Pool
}

// NewFraudReportStore creates a new FraudReportStore backed by the given
// connection pool.
func NewFraudReportStore(pool *pgxpool.Pool) *FraudReportStore {
	return &FraudReportStore{pool: pool}
}

var _ domain.FraudReportStore = (*FraudReportStore)(nil)

// Insert records one suspicious-activity report.
func (s *FraudReportStore) Insert(ctx context.Context, report domain.FraudReport) error {
	const query = `
		INSERT INTO fraud_reports (id, reporter, subject, tag, evidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		report.ID, report.Reporter, report.Subject, report.Tag, report.Evidence, report.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert fraud report %s: %w", report.ID, err)
	}
	return nil
}

// ListBySubject returns reports filed against one participant, newest first.
func (s *FraudReportStore) ListBySubject(ctx context.Context, subject string, opts domain.ListOpts) ([]domain.FraudReport, error) {
	query := `SELECT id, reporter, subject, tag, evidence, created_at FROM fraud_reports WHERE subject = $1`
	args := []any{subject}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fraud reports for %s: %w", subject, err)
	}
	defer rows.Close()

	var out []domain.FraudReport
	for rows.Next() {
		var r domain.FraudReport
		if err := rows.Scan(&r.ID, &r.Reporter, &r.Subject, &r.Tag, &r.Evidence, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan fraud report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fraud reports rows: %w", err)
	}
	return out, nil
}
