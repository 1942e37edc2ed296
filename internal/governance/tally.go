package governance

import "github.com/kamalbuilds/aptos-markets/internal/domain"

// tallyLocked counts votes per outcome and returns the plurality winner
// with its vote fraction in bps. Ties break deterministically to the
// lowest outcome index. Caller holds the lock.
func (r *Resolver) tallyLocked() (counts []int, winner int, fractionBps uint64) {
	counts = make([]int, r.market.OutcomeCount())
	for _, outcome := range r.votes {
		counts[outcome]++
	}

	total := len(r.votes)
	if total == 0 {
		return counts, 0, 0
	}

	winner = 0
	for i, c := range counts {
		if c > counts[winner] {
			winner = i
		}
	}
	fractionBps = uint64(counts[winner]) * domain.BpsScale / uint64(total)
	return counts, winner, fractionBps
}
