package market

import (
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// Pricing constants, bps scale.
const (
	// signalConfidenceFloor is the minimum reported confidence for the
	// external-signal overlay to activate at all.
	signalConfidenceFloor = 7500
	// signalMaxShift bounds the overlay's shift of the binary yes price.
	signalMaxShift = 500
	// Overlay output bounds.
	priceFloorBps = 500
	priceCeilBps  = 9500
	// signalMaxAge is how long a received signal keeps influencing the
	// price before the pool-proportional price stands alone again.
	signalMaxAge = 300 * time.Second
	// priceHistoryCap bounds the append-only history log.
	priceHistoryCap = 500
)

// uniformPrices returns the initial price split for n outcomes: 10000/n
// each, with the first outcome absorbing the rounding remainder so the
// sum is exactly 10000 (3 outcomes -> 3334/3333/3333).
func uniformPrices(n int) []uint64 {
	base := uint64(domain.BpsScale / n)
	prices := make([]uint64, n)
	for i := range prices {
		prices[i] = base
	}
	prices[0] = domain.BpsScale - base*uint64(n-1)
	return prices
}

// poolPrices computes pari-mutuel implied probabilities: each outcome's
// price is its pool's share of the total in bps, floored, with the last
// outcome absorbing the remainder so the sum is exactly 10000. An empty
// pool keeps the uniform split.
func poolPrices(pools []uint64) []uint64 {
	var total uint64
	for _, p := range pools {
		total += p
	}
	if total == 0 {
		return uniformPrices(len(pools))
	}

	prices := make([]uint64, len(pools))
	var used uint64
	for i := 0; i < len(pools)-1; i++ {
		prices[i] = pools[i] * domain.BpsScale / total
		used += prices[i]
	}
	prices[len(pools)-1] = domain.BpsScale - used
	return prices
}

// overlayYes applies the external-signal overlay to a binary market's yes
// price. The shift is proportional to the signal's distance from the
// neutral midpoint, at most signalMaxShift bps, and the result is kept
// inside [priceFloorBps, priceCeilBps]. Below the confidence floor the
// pool price stands unmodified.
func overlayYes(poolYes, signalBps, confidenceBps uint64) uint64 {
	if confidenceBps < signalConfidenceFloor {
		return poolYes
	}

	shift := (int64(signalBps) - domain.NeutralSignal) * signalMaxShift / domain.NeutralSignal
	yes := int64(poolYes) + shift
	if yes < priceFloorBps {
		yes = priceFloorBps
	}
	if yes > priceCeilBps {
		yes = priceCeilBps
	}
	return uint64(yes)
}
