// Package risk implements per-user admission control, post-trade risk
// bookkeeping, fraud scoring, and the platform-wide circuit breaker for
// the settlement core. One Engine serves one marketplace namespace; the
// Registry is the single global object shared by all of them.
package risk

import (
	"sync"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// Registry is the process-wide risk singleton: aggregate exposure across
// all markets plus the circuit-breaker flag. It is constructed once at
// startup and passed by reference to every Engine; nothing else mutates
// it.
type Registry struct {
	mu sync.RWMutex

	totalExposure uint64
	marketCount   int
	restricted    int
	breaker       bool
	breakerReason string
	breakerSince  time.Time
	updatedAt     time.Time

	clock func() time.Time
}

// NewRegistry creates the global risk registry.
func NewRegistry() *Registry {
	return &Registry{clock: time.Now}
}

// SetClock overrides the registry clock. Intended for tests.
func (r *Registry) SetClock(clock func() time.Time) { r.clock = clock }

// TripBreaker activates the global circuit breaker. All future admissions
// platform-wide are denied until ResetBreaker is called.
func (r *Registry) TripBreaker(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.breaker = true
	r.breakerReason = reason
	r.breakerSince = r.clock()
	r.updatedAt = r.breakerSince
}

// ResetBreaker clears the circuit breaker.
func (r *Registry) ResetBreaker() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.breaker = false
	r.breakerReason = ""
	r.breakerSince = time.Time{}
	r.updatedAt = r.clock()
}

// BreakerActive reports whether the circuit breaker is tripped.
func (r *Registry) BreakerActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breaker
}

func (r *Registry) addExposure(amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalExposure += amount
	r.updatedAt = r.clock()
}

func (r *Registry) removeExposure(amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if amount > r.totalExposure {
		r.totalExposure = 0
	} else {
		r.totalExposure -= amount
	}
	r.updatedAt = r.clock()
}

func (r *Registry) addMarket() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marketCount++
	r.updatedAt = r.clock()
}

func (r *Registry) addRestricted(delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restricted += delta
	if r.restricted < 0 {
		r.restricted = 0
	}
	r.updatedAt = r.clock()
}

// Metrics returns the current platform-wide risk view.
func (r *Registry) Metrics() domain.GlobalRiskMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := domain.GlobalRiskMetrics{
		TotalExposure:   r.totalExposure,
		MarketCount:     r.marketCount,
		CircuitBreaker:  r.breaker,
		BreakerReason:   r.breakerReason,
		RestrictedUsers: r.restricted,
		UpdatedAt:       r.updatedAt,
	}
	if r.breaker {
		since := r.breakerSince
		m.BreakerSince = &since
	}
	return m
}
