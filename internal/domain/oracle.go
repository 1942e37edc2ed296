package domain

import "time"

// SourceReading is one price observation from a single oracle source.
// Confidence is on the 0-10000 bps scale.
type SourceReading struct {
	Source        string    `json:"source"`
	Symbol        string    `json:"symbol"`
	Price         uint64    `json:"price"`
	ConfidenceBps uint64    `json:"confidence_bps"`
	Timestamp     time.Time `json:"timestamp"`
}

// ConsensusSnapshot is the ephemeral result of one aggregation pass over
// all responding oracle sources. Every score field is clamped to
// [0, 10000].
type ConsensusSnapshot struct {
	Symbol        string    `json:"symbol"`
	Price         uint64    `json:"price"`
	ConfidenceBps uint64    `json:"confidence_bps"`
	ConsensusBps  uint64    `json:"consensus_bps"`
	DeviationBps  uint64    `json:"deviation_bps"`
	SentimentBps  uint64    `json:"sentiment_bps"`
	VolatilityBps uint64    `json:"volatility_bps"`
	RiskBps       uint64    `json:"risk_bps"`
	Responding    int       `json:"responding"`
	TotalSources  int       `json:"total_sources"`
	ComputedAt    time.Time `json:"computed_at"`
}

// Fresh reports whether the snapshot is recent enough to drive pricing or
// risk blending.
func (c ConsensusSnapshot) Fresh(now time.Time, maxStaleness time.Duration) bool {
	return now.Sub(c.ComputedAt) <= maxStaleness
}
