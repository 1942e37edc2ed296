package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// PriceHistoryStore implements domain.PriceHistoryStore using PostgreSQL.
type PriceHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPriceHistoryStore creates a new PriceHistoryStore backed by the given
// connection pool.
func NewPriceHistoryStore(pool *pgxpool.Pool) *PriceHistoryStore {
	return &PriceHistoryStore{pool: pool}
}

var _ domain.PriceHistoryStore = (*PriceHistoryStore)(nil)

// Append records one price snapshot for a market.
func (s *PriceHistoryStore) Append(ctx context.Context, marketID string, point domain.PricePoint) error {
	prices, err := json.Marshal(point.Prices)
	if err != nil {
		return fmt.Errorf("postgres: marshal prices for %s: %w", marketID, err)
	}

	const query = `INSERT INTO price_history (market_id, at, prices, volume) VALUES ($1, $2, $3, $4)`
	_, err = s.pool.Exec(ctx, query, marketID, point.At, prices, int64(point.Volume))
	if err != nil {
		return fmt.Errorf("postgres: append price point for %s: %w", marketID, err)
	}
	return nil
}

func scanPricePoint(row pgx.Row) (domain.PricePoint, error) {
	var (
		point      domain.PricePoint
		pricesJSON []byte
		volume     int64
	)
	if err := row.Scan(&point.At, &pricesJSON, &volume); err != nil {
		return domain.PricePoint{}, err
	}
	point.Volume = uint64(volume)
	if err := json.Unmarshal(pricesJSON, &point.Prices); err != nil {
		return domain.PricePoint{}, fmt.Errorf("unmarshal prices: %w", err)
	}
	return point, nil
}

// List returns price snapshots for a market, oldest first.
func (s *PriceHistoryStore) List(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PricePoint, error) {
	query := `SELECT at, prices, volume FROM price_history WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY at"

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
		return nil, fmt.Errorf("postgres: list price history for %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.PricePoint
	for rows.Next() {
		point, err := scanPricePoint(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan price point: %w", err)
		}
		out = append(out, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list price history rows: %w", err)
	}
	return out, nil
}

// ListBefore returns price snapshots older than the cutoff across all
// markets, oldest first. The archiver drains these to cold storage.
func (s *PriceHistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT at, prices, volume FROM price_history WHERE at < $1 ORDER BY at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price history before: %w", err)
	}
	defer rows.Close()

	var out []domain.PricePoint
	for rows.Next() {
		point, err := scanPricePoint(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan price point: %w", err)
		}
		out = append(out, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list price history rows: %w", err)
	}
	return out, nil
}
