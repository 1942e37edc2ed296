package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// RiskProfileStore implements domain.RiskProfileStore using PostgreSQL.
type RiskProfileStore struct {
	pool *pgxpool.Pool
}

// NewRiskProfileStore creates a new RiskProfileStore backed by the given
// connection pool.
func NewRiskProfileStore(pool *pgxpool.Pool) *RiskProfileStore {
	return &RiskProfileStore{pool: pool}
}

var _ domain.RiskProfileStore = (*RiskProfileStore)(nil)

// Upsert inserts or updates one participant's risk profile snapshot.
func (s *RiskProfileStore) Upsert(ctx context.Context, rec domain.RiskProfileRecord) error {
	patterns, err := json.Marshal(rec.Patterns)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk patterns for %s: %w", rec.Address, err)
	}

	const query = `
		INSERT INTO risk_profiles (
			marketplace, address, base_score_bps, blended_score_bps, level,
			accuracy_bps, total_exposure, largest_exposure, active_positions,
			total_trades, daily_trades, velocity_per_hour, fraud_score_bps,
			patterns, restricted, restricted_reason, last_trade_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17, NOW()
		)
		ON CONFLICT (marketplace, address) DO UPDATE SET
			base_score_bps    = EXCLUDED.base_score_bps,
			blended_score_bps = EXCLUDED.blended_score_bps,
			level             = EXCLUDED.level,
			accuracy_bps      = EXCLUDED.accuracy_bps,
			total_exposure    = EXCLUDED.total_exposure,
			largest_exposure  = EXCLUDED.largest_exposure,
			active_positions  = EXCLUDED.active_positions,
			total_trades      = EXCLUDED.total_trades,
			daily_trades      = EXCLUDED.daily_trades,
			velocity_per_hour = EXCLUDED.velocity_per_hour,
			fraud_score_bps   = EXCLUDED.fraud_score_bps,
			patterns          = EXCLUDED.patterns,
			restricted        = EXCLUDED.restricted,
			restricted_reason = EXCLUDED.restricted_reason,
			last_trade_at     = EXCLUDED.last_trade_at,
			updated_at        = NOW()`

	_, err = s.pool.Exec(ctx, query,
		rec.Marketplace, rec.Address, int64(rec.BaseScoreBps), int64(rec.BlendedScoreBps), string(rec.Level),
		int64(rec.AccuracyBps), int64(rec.TotalExposure), int64(rec.LargestExposure), rec.ActivePositions,
		int64(rec.TotalTrades), rec.DailyTrades, int64(rec.VelocityPerHour), int64(rec.FraudScoreBps),
		patterns, rec.Restricted, rec.RestrictedReason, rec.LastTradeAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert risk profile %s/%s: %w", rec.Marketplace, rec.Address, err)
	}
	return nil
}

const riskCols = `marketplace, address, base_score_bps, blended_score_bps, level,
	accuracy_bps, total_exposure, largest_exposure, active_positions,
	total_trades, daily_trades, velocity_per_hour, fraud_score_bps,
	patterns, restricted, restricted_reason, last_trade_at, updated_at`

func scanRiskProfile(row pgx.Row) (domain.RiskProfileRecord, error) {
	var (
		rec          domain.RiskProfileRecord
		level        string
		baseScore    int64
		blendedScore int64
		accuracy     int64
		totalExp     int64
		largestExp   int64
		totalTrades  int64
		velocity     int64
		fraudScore   int64
		patternsJSON []byte
	)
	err := row.Scan(
		&rec.Marketplace, &rec.Address, &baseScore, &blendedScore, &level,
		&accuracy, &totalExp, &largestExp, &rec.ActivePositions,
		&totalTrades, &rec.DailyTrades, &velocity, &fraudScore,
		&patternsJSON, &rec.Restricted, &rec.RestrictedReason, &rec.LastTradeAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.RiskProfileRecord{}, err
	}

	rec.Level = domain.RiskLevel(level)
	rec.BaseScoreBps = uint64(baseScore)
	rec.BlendedScoreBps = uint64(blendedScore)
	rec.AccuracyBps = uint64(accuracy)
	rec.TotalExposure = uint64(totalExp)
	rec.LargestExposure = uint64(largestExp)
	rec.TotalTrades = uint64(totalTrades)
	rec.VelocityPerHour = uint64(velocity)
	rec.FraudScoreBps = uint64(fraudScore)

	if patternsJSON != nil {
		if err := json.Unmarshal(patternsJSON, &rec.Patterns); err != nil {
			return domain.RiskProfileRecord{}, fmt.Errorf("unmarshal patterns: %w", err)
		}
	}
	return rec, nil
}

// Get retrieves one participant's profile within a marketplace namespace.
func (s *RiskProfileStore) Get(ctx context.Context, marketplace, address string) (domain.RiskProfileRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+riskCols+` FROM risk_profiles WHERE marketplace = $1 AND address = $2`,
		marketplace, address)
	rec, err := scanRiskProfile(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.RiskProfileRecord{}, domain.ErrNotFound
		}
		return domain.RiskProfileRecord{}, fmt.Errorf("postgres: get risk profile %s/%s: %w", marketplace, address, err)
	}
	return rec, nil
}

// ListRestricted returns every restricted profile in a marketplace.
func (s *RiskProfileStore) ListRestricted(ctx context.Context, marketplace string) ([]domain.RiskProfileRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+riskCols+` FROM risk_profiles
		 WHERE marketplace = $1 AND restricted = TRUE
		 ORDER BY address`, marketplace)
	if err != nil {
		return nil, fmt.Errorf("postgres: list restricted profiles: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskProfileRecord
	for rows.Next() {
		rec, err := scanRiskProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan risk profile: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list restricted profiles rows: %w", err)
	}
	return out, nil
}
