package domain

import "time"

// InsightKind labels the records the core emits for downstream consumers
// (signal bus, notifier). Delivery and scheduling of any resulting alert
// are out of scope; the core only publishes.
type InsightKind string

const (
	InsightMarketCreated   InsightKind = "market_created"
	InsightMarketStarted   InsightKind = "market_started"
	InsightBetPlaced       InsightKind = "bet_placed"
	InsightMarketResolved  InsightKind = "market_resolved"
	InsightMarketDisputed  InsightKind = "market_disputed"
	InsightMarketCancelled InsightKind = "market_cancelled"
	InsightConsensus       InsightKind = "consensus"
	InsightUserRestricted  InsightKind = "user_restricted"
	InsightCircuitBreaker  InsightKind = "circuit_breaker"
)

// Insight is a single emitted record. Detail keys are event specific.
type Insight struct {
	ID        string            `json:"id"`
	Kind      InsightKind       `json:"kind"`
	Asset     string            `json:"asset,omitempty"`
	MarketID  string            `json:"market_id,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
