package oracle

import "github.com/kamalbuilds/aptos-markets/internal/domain"

// Derived heuristics. Each is a deterministic bounded function of the
// aggregation outputs, clamped to [0, 10000]; markets treat them as
// advisory signals only.

// deriveSentiment starts neutral, leans bullish with confident broad
// agreement and bearish as responder prices scatter.
func deriveSentiment(confidence, consensus, deviation uint64) uint64 {
	score := int64(domain.NeutralSignal)
	score += (int64(confidence) - domain.NeutralSignal) / 2
	score += (int64(consensus) - domain.NeutralSignal) / 4
	score -= int64(deviation) / 4
	return clampBps(score)
}

// deriveVolatility grows with price scatter and with missing responders.
func deriveVolatility(consensus, deviation uint64) uint64 {
	score := int64(deviation) * 2
	score += (int64(domain.BpsScale) - int64(consensus)) / 4
	return clampBps(score)
}

// deriveRisk summarizes how much the consensus should be trusted: low
// agreement, high scatter, and weak confidence all raise it.
func deriveRisk(confidence, consensus, deviation uint64) uint64 {
	score := (int64(domain.BpsScale) - int64(consensus)) / 2
	score += int64(deviation) / 2
	score += (int64(domain.BpsScale) - int64(confidence)) / 4
	return clampBps(score)
}

func clampBps(v int64) uint64 {
	if v < 0 {
		return 0
	}
	if v > domain.BpsScale {
		return domain.BpsScale
	}
	return uint64(v)
}
