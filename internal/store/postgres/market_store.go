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

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

var _ domain.MarketStore = (*MarketStore)(nil)

// Upsert inserts or updates a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, rec domain.MarketRecord) error {
	outcomes, err := json.Marshal(rec.Outcomes)
	if err != nil {
		return fmt.Errorf("postgres: marshal outcomes for %s: %w", rec.ID, err)
	}
	providers, err := json.Marshal(rec.Providers)
	if err != nil {
		return fmt.Errorf("postgres: marshal providers for %s: %w", rec.ID, err)
	}

	const query = `
		INSERT INTO markets (
			id, asset, kind, title, category, creator, status,
			created_at, start_at, end_at, resolution_deadline, governance_end, resolved_at,
			resolved, winning_outcome, resolution_source, outcomes,
			total_volume, participants,
			max_exposure, current_exposure, risk_score_bps, daily_volume_limit, daily_volume_used,
			liquidity, min_liquidity, market_fee_bps, creator_fee_bps, accumulated_fees, providers,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19,
			$20, $21, $22, $23, $24,
			$25, $26, $27, $28, $29, $30,
			NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status              = EXCLUDED.status,
			resolution_deadline = EXCLUDED.resolution_deadline,
			governance_end      = EXCLUDED.governance_end,
			resolved_at         = EXCLUDED.resolved_at,
			resolved            = EXCLUDED.resolved,
			winning_outcome     = EXCLUDED.winning_outcome,
			resolution_source   = EXCLUDED.resolution_source,
			outcomes            = EXCLUDED.outcomes,
			total_volume        = EXCLUDED.total_volume,
			participants        = EXCLUDED.participants,
			max_exposure        = EXCLUDED.max_exposure,
			current_exposure    = EXCLUDED.current_exposure,
			risk_score_bps      = EXCLUDED.risk_score_bps,
			daily_volume_limit  = EXCLUDED.daily_volume_limit,
			daily_volume_used   = EXCLUDED.daily_volume_used,
			liquidity           = EXCLUDED.liquidity,
			min_liquidity       = EXCLUDED.min_liquidity,
			market_fee_bps      = EXCLUDED.market_fee_bps,
			creator_fee_bps     = EXCLUDED.creator_fee_bps,
			accumulated_fees    = EXCLUDED.accumulated_fees,
			providers           = EXCLUDED.providers,
			updated_at          = NOW()`

	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.Asset, string(rec.Kind), rec.Title, rec.Category, rec.Creator, string(rec.Status),
		rec.CreatedAt, rec.StartAt, rec.EndAt, rec.ResolutionDeadline, rec.GovernanceEnd, rec.ResolvedAt,
		rec.Resolved, rec.WinningOutcome, rec.ResolutionSrc, outcomes,
		int64(rec.TotalVolume), rec.Participants,
		int64(rec.MaxExposure), int64(rec.CurrentExposure), int64(rec.RiskScoreBps),
		int64(rec.DailyVolumeLimit), int64(rec.DailyVolumeUsed),
		int64(rec.Liquidity), int64(rec.MinLiquidity), int64(rec.MarketFeeBps),
		int64(rec.CreatorFeeBps), int64(rec.AccumulatedFees), providers,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", rec.ID, err)
	}
	return nil
}

const marketCols = `id, asset, kind, title, category, creator, status,
	created_at, start_at, end_at, resolution_deadline, governance_end, resolved_at,
	resolved, winning_outcome, resolution_source, outcomes,
	total_volume, participants,
	max_exposure, current_exposure, risk_score_bps, daily_volume_limit, daily_volume_used,
	liquidity, min_liquidity, market_fee_bps, creator_fee_bps, accumulated_fees, providers`

// scanMarket scans a single market row into a domain.MarketRecord.
func scanMarket(row pgx.Row) (domain.MarketRecord, error) {
	var (
		rec           domain.MarketRecord
		kind, status  string
		outcomesJSON  []byte
		providersJSON []byte
		totalVolume   int64
		maxExposure   int64
		currExposure  int64
		riskScore     int64
		dailyLimit    int64
		dailyUsed     int64
		liquidity     int64
		minLiquidity  int64
		marketFee     int64
		creatorFee    int64
		accumulated   int64
	)
	err := row.Scan(
		&rec.ID, &rec.Asset, &kind, &rec.Title, &rec.Category, &rec.Creator, &status,
		&rec.CreatedAt, &rec.StartAt, &rec.EndAt, &rec.ResolutionDeadline, &rec.GovernanceEnd, &rec.ResolvedAt,
		&rec.Resolved, &rec.WinningOutcome, &rec.ResolutionSrc, &outcomesJSON,
		&totalVolume, &rec.Participants,
		&maxExposure, &currExposure, &riskScore, &dailyLimit, &dailyUsed,
		&liquidity, &minLiquidity, &marketFee, &creatorFee, &accumulated, &providersJSON,
	)
	if err != nil {
		return domain.MarketRecord{}, err
	}

	rec.Kind = domain.MarketKind(kind)
	rec.Status = domain.MarketStatus(status)
	rec.TotalVolume = uint64(totalVolume)
	rec.MaxExposure = uint64(maxExposure)
	rec.CurrentExposure = uint64(currExposure)
	rec.RiskScoreBps = uint64(riskScore)
	rec.DailyVolumeLimit = uint64(dailyLimit)
	rec.DailyVolumeUsed = uint64(dailyUsed)
	rec.Liquidity = uint64(liquidity)
	rec.MinLiquidity = uint64(minLiquidity)
	rec.MarketFeeBps = uint64(marketFee)
	rec.CreatorFeeBps = uint64(creatorFee)
	rec.AccumulatedFees = uint64(accumulated)

	if err := json.Unmarshal(outcomesJSON, &rec.Outcomes); err != nil {
		return domain.MarketRecord{}, fmt.Errorf("unmarshal outcomes: %w", err)
	}
	if providersJSON != nil {
		if err := json.Unmarshal(providersJSON, &rec.Providers); err != nil {
			return domain.MarketRecord{}, fmt.Errorf("unmarshal providers: %w", err)
		}
	}
	return rec, nil
}

// GetByID retrieves a market snapshot by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.MarketRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	rec, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MarketRecord{}, domain.ErrNotFound
		}
		return domain.MarketRecord{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return rec, nil
}

// ListByAsset returns snapshots for one settlement asset.
func (s *MarketStore) ListByAsset(ctx context.Context, asset string, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	return s.list(ctx, `asset = $1`, asset, opts)
}

// ListByStatus returns snapshots in one lifecycle state.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	return s.list(ctx, `status = $1`, string(status), opts)
}

func (s *MarketStore) list(ctx context.Context, where string, arg any, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE ` + where
	args := []any{arg}
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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketRecord
	for rows.Next() {
		rec, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// ListResolvedBefore returns resolved markets whose resolution happened
// before the cutoff. The archiver drains these to cold storage.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.MarketRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE resolved = TRUE AND resolved_at IS NOT NULL AND resolved_at < $1
		 ORDER BY resolved_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketRecord
	for rows.Next() {
		rec, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolved market: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets rows: %w", err)
	}
	return out, nil
}

// Count returns the total number of market snapshots.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
