package domain

import "time"

// RiskLevel is the four-tier classification derived from the blended risk
// score: Low < 3000, Medium < 6000, High < 8500, Critical >= 8500.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskLevelFor maps a blended score in bps onto its tier.
func RiskLevelFor(scoreBps uint64) RiskLevel {
	switch {
	case scoreBps < 3000:
		return RiskLevelLow
	case scoreBps < 6000:
		return RiskLevelMedium
	case scoreBps < 8500:
		return RiskLevelHigh
	default:
		return RiskLevelCritical
	}
}

// RiskProfileRecord is a read-only snapshot of one participant's risk
// profile within a marketplace namespace.
type RiskProfileRecord struct {
	Address          string    `json:"address"`
	Marketplace      string    `json:"marketplace"`
	BaseScoreBps     uint64    `json:"base_score_bps"`
	BlendedScoreBps  uint64    `json:"blended_score_bps"`
	Level            RiskLevel `json:"level"`
	AccuracyBps      uint64    `json:"accuracy_bps"`
	TotalExposure    uint64    `json:"total_exposure"`
	LargestExposure  uint64    `json:"largest_exposure"`
	ActivePositions  int       `json:"active_positions"`
	TotalTrades      uint64    `json:"total_trades"`
	DailyTrades      int       `json:"daily_trades"`
	VelocityPerHour  uint64    `json:"velocity_per_hour"`
	FraudScoreBps    uint64    `json:"fraud_score_bps"`
	Patterns         []string  `json:"patterns,omitempty"`
	Restricted       bool      `json:"restricted"`
	RestrictedReason string    `json:"restricted_reason,omitempty"`
	LastTradeAt      time.Time `json:"last_trade_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// FraudReport is an external suspicious-activity report against a
// participant.
type FraudReport struct {
	ID        string    `json:"id"`
	Reporter  string    `json:"reporter"`
	Subject   string    `json:"subject"`
	Tag       string    `json:"tag"`
	Evidence  string    `json:"evidence,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GlobalRiskMetrics is the platform-wide view held by the risk registry.
type GlobalRiskMetrics struct {
	TotalExposure   uint64     `json:"total_exposure"`
	MarketCount     int        `json:"market_count"`
	CircuitBreaker  bool       `json:"circuit_breaker"`
	BreakerReason   string     `json:"breaker_reason,omitempty"`
	BreakerSince    *time.Time `json:"breaker_since,omitempty"`
	RestrictedUsers int        `json:"restricted_users"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
