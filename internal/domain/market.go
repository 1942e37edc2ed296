package domain

import "time"

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusPending   MarketStatus = "pending"
	MarketStatusActive    MarketStatus = "active"
	MarketStatusPaused    MarketStatus = "paused"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusDisputed  MarketStatus = "disputed"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// MarketKind distinguishes the two market shapes. Binary markets are
// resolved by their creator; event markets (2-10 outcomes) are resolved
// by a validator quorum.
type MarketKind string

const (
	MarketKindBinary MarketKind = "binary"
	MarketKindEvent  MarketKind = "event"
)

// Bps constants shared across the core. Prices, scores, and fees are all
// expressed on a 0-10000 basis-point scale.
const (
	BpsScale        = 10000
	NeutralSignal   = 5000
	MaxFeeRateBps   = 1000
	DailyWindowSecs = 86400
)

// OutcomeState bundles everything the engine tracks per outcome: its pool,
// its implied-probability price, and the latest external prediction signal.
// Keeping these in one struct (instead of parallel slices) removes the
// index-alignment hazard the per-outcome data otherwise has.
type OutcomeState struct {
	Label         string `json:"label"`
	Pool          uint64 `json:"pool"`
	PriceBps      uint64 `json:"price_bps"`
	PredictionBps uint64 `json:"prediction_bps"`
	SentimentBps  uint64 `json:"sentiment_bps"`
}

// PricePoint is one entry of a market's bounded price history, captured
// after every accepted stake.
type PricePoint struct {
	At     time.Time `json:"at"`
	Prices []uint64  `json:"prices"`
	Volume uint64    `json:"volume"`
}

// LiquidityProvider records one provider's outstanding contribution.
type LiquidityProvider struct {
	Address string    `json:"address"`
	Amount  uint64    `json:"amount"`
	AddedAt time.Time `json:"added_at"`
}

// MarketRecord is a full read-only snapshot of a market, used for
// persistence, observer APIs, and archival. The live state machine owns
// the mutable form; a record is immutable once taken.
type MarketRecord struct {
	ID       string       `json:"id"`
	Asset    string       `json:"asset"`
	Kind     MarketKind   `json:"kind"`
	Title    string       `json:"title"`
	Category string       `json:"category"`
	Creator  string       `json:"creator"`
	Status   MarketStatus `json:"status"`

	CreatedAt          time.Time  `json:"created_at"`
	StartAt            time.Time  `json:"start_at"`
	EndAt              time.Time  `json:"end_at"`
	ResolutionDeadline *time.Time `json:"resolution_deadline,omitempty"`
	GovernanceEnd      *time.Time `json:"governance_end,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`

	Resolved       bool   `json:"resolved"`
	WinningOutcome *int   `json:"winning_outcome,omitempty"`
	ResolutionSrc  string `json:"resolution_source,omitempty"`

	Outcomes     []OutcomeState `json:"outcomes"`
	TotalVolume  uint64         `json:"total_volume"`
	Participants int            `json:"participants"`

	MaxExposure      uint64 `json:"max_exposure"`
	CurrentExposure  uint64 `json:"current_exposure"`
	RiskScoreBps     uint64 `json:"risk_score_bps"`
	DailyVolumeLimit uint64 `json:"daily_volume_limit"`
	DailyVolumeUsed  uint64 `json:"daily_volume_used"`

	Liquidity       uint64              `json:"liquidity"`
	MinLiquidity    uint64              `json:"min_liquidity"`
	MarketFeeBps    uint64              `json:"market_fee_bps"`
	CreatorFeeBps   uint64              `json:"creator_fee_bps"`
	AccumulatedFees uint64              `json:"accumulated_fees"`
	Providers       []LiquidityProvider `json:"liquidity_providers,omitempty"`
}

// BetReceipt describes one accepted stake, returned to the caller and
// appended to the audit trail.
type BetReceipt struct {
	MarketID    string    `json:"market_id"`
	Bettor      string    `json:"bettor"`
	Outcome     int       `json:"outcome"`
	Amount      uint64    `json:"amount"`
	Fee         uint64    `json:"fee"`
	NetStake    uint64    `json:"net_stake"`
	PriceBps    uint64    `json:"price_bps"`
	TotalVolume uint64    `json:"total_volume"`
	PlacedAt    time.Time `json:"placed_at"`
}

// Payout is one participant's claim after resolution: winning stake
// returned plus a pro-rata share of the losing pools, net of fees.
type Payout struct {
	MarketID string `json:"market_id"`
	Address  string `json:"address"`
	Stake    uint64 `json:"stake"`
	Winnings uint64 `json:"winnings"`
	Total    uint64 `json:"total"`
}
