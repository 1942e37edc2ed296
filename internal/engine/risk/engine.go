package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// Risk engine thresholds, all on the bps scale unless noted.
const (
	MaxDailyTrades        = 100
	MinTradeIntervalSecs  = 60
	VelocityGuardPerHour  = 10
	FraudDenyBps          = 8000
	AIRiskDenyBps         = 9000
	ReportFraudPenaltyBps = 1000
	PatternFraudPenalty   = 500
	PatternThreshold      = 10
	ExposureMultiple      = 10
	ScoreHistoryCap       = 100
	HighVelocityPerHour   = 60
	BaseRiskFloorBps      = 5000
	VelocityPenaltyCapBps = 2000
)

// Config holds the tunable parameters for one marketplace's risk engine.
type Config struct {
	// MaxPositionSize is the default per-user position cap in base units.
	MaxPositionSize uint64
	// NormalHoursStartUTC / NormalHoursEndUTC bound the window outside of
	// which trading counts as a suspicious pattern.
	NormalHoursStartUTC int
	NormalHoursEndUTC   int
}

// Stores bundles the optional write-behind persistence for profiles and
// fraud reports. Nil fields disable persistence; the in-memory engine
// state stays authoritative either way.
type Stores struct {
	Profiles domain.RiskProfileStore
	Reports  domain.FraudReportStore
}

// profile is the mutable per-user risk state. One exists per user per
// marketplace namespace, created lazily on first use and never deleted.
type profile struct {
	address         string
	baseScoreBps    uint64
	blendedScoreBps uint64
	accuracyBps     uint64
	totalExposure   uint64
	largestExposure uint64
	activePositions int
	totalTrades     uint64
	dailyTrades     int
	dayStart        time.Time
	velocityPerHour uint64
	lastTradeAt     time.Time
	fraudScoreBps   uint64
	patterns        []string
	restricted      bool
	restrictReason  string
	maxPosition     uint64
	aiScoreBps      uint64
	aiConfidence    uint64
	scoreHistory    []uint64
	updatedAt       time.Time
}

// Engine is the per-marketplace risk engine. Check is a pure admission
// predicate; Apply and the report/blend entry points mutate profile state
// and feed the global registry.
type Engine struct {
	mu          sync.RWMutex
	marketplace string
	cfg         Config
	reg         *Registry
	profiles    map[string]*profile
	stores      Stores
	clock       func() time.Time
	logger      *slog.Logger
}

// NewEngine creates a risk engine for one marketplace namespace.
func NewEngine(marketplace string, cfg Config, reg *Registry, stores Stores, logger *slog.Logger) *Engine {
	if cfg.NormalHoursEndUTC == 0 {
		cfg.NormalHoursStartUTC = 6
		cfg.NormalHoursEndUTC = 22
	}
	if cfg.MaxPositionSize == 0 {
		cfg.MaxPositionSize = 1_000_000_000_000 // 10k APT in octas
	}
	return &Engine{
		marketplace: marketplace,
		cfg:         cfg,
		reg:         reg,
		profiles:    make(map[string]*profile),
		stores:      stores,
		clock:       time.Now,
		logger:      logger.With(slog.String("component", "risk_engine"), slog.String("marketplace", marketplace)),
	}
}

// SetClock overrides the engine clock. Intended for tests.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// RegisterMarket records a new market against the global registry.
func (e *Engine) RegisterMarket() { e.reg.addMarket() }

// Check is the pre-trade admission predicate. It evaluates every rule
// against current state without mutating anything, so a denial leaves the
// system byte-for-byte unchanged. Rules, in order:
// circuit breaker, account restriction, position size, projected
// exposure, daily trade count, trade velocity, fraud score, blended AI
// risk score.
func (e *Engine) Check(user string, amount uint64) error {
	if e.reg.BreakerActive() {
		return fmt.Errorf("risk: circuit breaker active: %w", domain.ErrResourceExhausted)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.profiles[user]
	if !ok {
		// First trade for this user: only global and size rules apply.
		if amount > e.cfg.MaxPositionSize {
			return fmt.Errorf("risk: amount %d exceeds max position %d: %w", amount, e.cfg.MaxPositionSize, domain.ErrResourceExhausted)
		}
		return nil
	}

	if p.restricted {
		return fmt.Errorf("risk: account restricted (%s): %w", p.restrictReason, domain.ErrUnauthorized)
	}

	maxPos := e.maxPositionLocked(p)
	if amount > maxPos {
		return fmt.Errorf("risk: amount %d exceeds max position %d: %w", amount, maxPos, domain.ErrResourceExhausted)
	}
	if p.totalExposure+amount > maxPos*ExposureMultiple {
		return fmt.Errorf("risk: projected exposure %d exceeds cap %d: %w", p.totalExposure+amount, maxPos*ExposureMultiple, domain.ErrResourceExhausted)
	}

	now := e.clock()
	daily := p.dailyTrades
	if !p.dayStart.IsZero() && now.Sub(p.dayStart) >= domain.DailyWindowSecs*time.Second {
		daily = 0
	}
	if daily >= MaxDailyTrades {
		return fmt.Errorf("risk: daily trade limit reached (%d): %w", MaxDailyTrades, domain.ErrResourceExhausted)
	}

	if !p.lastTradeAt.IsZero() {
		elapsed := now.Sub(p.lastTradeAt)
		if elapsed < MinTradeIntervalSecs*time.Second && p.velocityPerHour > VelocityGuardPerHour {
			return fmt.Errorf("risk: trading too fast (%d/hr, %s since last): %w", p.velocityPerHour, elapsed, domain.ErrResourceExhausted)
		}
	}

	if p.fraudScoreBps >= FraudDenyBps {
		return fmt.Errorf("risk: fraud score %d: %w", p.fraudScoreBps, domain.ErrResourceExhausted)
	}
	if p.blendedScoreBps >= AIRiskDenyBps {
		return fmt.Errorf("risk: blended risk score %d: %w", p.blendedScoreBps, domain.ErrResourceExhausted)
	}

	return nil
}

// Apply is the post-trade bookkeeping step, called only after the market
// has committed the stake. open=true adds exposure, open=false releases
// it (payout claim or position close).
func (e *Engine) Apply(ctx context.Context, user string, amount uint64, open bool) error {
	e.mu.Lock()

	now := e.clock()
	p := e.profileLocked(user, now)

	// Daily counter rollover.
	if p.dayStart.IsZero() || now.Sub(p.dayStart) >= domain.DailyWindowSecs*time.Second {
		p.dayStart = now
		p.dailyTrades = 0
	}

	if open {
		p.totalExposure += amount
		p.activePositions++
		if amount > p.largestExposure {
			p.largestExposure = amount
		}
		e.reg.addExposure(amount)
	} else {
		if amount > p.totalExposure {
			p.totalExposure = 0
		} else {
			p.totalExposure -= amount
		}
		if p.activePositions > 0 {
			p.activePositions--
		}
		e.reg.removeExposure(amount)
	}

	p.totalTrades++
	p.dailyTrades++

	// Velocity: trades per hour implied by the gap to the previous trade.
	if !p.lastTradeAt.IsZero() {
		secs := int64(now.Sub(p.lastTradeAt) / time.Second)
		if secs < 1 {
			secs = 1
		}
		p.velocityPerHour = uint64(3600 / secs)
	}
	p.lastTradeAt = now

	e.rescoreLocked(p)
	e.detectPatternsLocked(p, amount, now)
	p.updatedAt = now

	rec := e.recordLocked(p)
	e.mu.Unlock()

	e.persist(ctx, rec)
	return nil
}

// UpdateAIRisk blends an external risk score into the profile. The weight
// given to the external score depends on its reported confidence: 40%
// when confidence >= 7000 bps, 20% otherwise. A blended score at or above
// 9000 bps restricts the account.
func (e *Engine) UpdateAIRisk(ctx context.Context, user string, scoreBps, confidenceBps uint64) error {
	if scoreBps > domain.BpsScale || confidenceBps > domain.BpsScale {
		return fmt.Errorf("risk: score/confidence out of range: %w", domain.ErrInvalidArgument)
	}

	e.mu.Lock()

	now := e.clock()
	p := e.profileLocked(user, now)
	p.aiScoreBps = scoreBps
	p.aiConfidence = confidenceBps

	weight := uint64(20)
	if confidenceBps >= 7000 {
		weight = 40
	}
	p.blendedScoreBps = (p.baseScoreBps*(100-weight) + scoreBps*weight) / 100

	restrictedNow := false
	if p.blendedScoreBps >= AIRiskDenyBps && !p.restricted {
		e.restrictLocked(p, fmt.Sprintf("blended risk score %d", p.blendedScoreBps))
		restrictedNow = true
	}
	p.updatedAt = now

	rec := e.recordLocked(p)
	e.mu.Unlock()

	if restrictedNow {
		e.logger.WarnContext(ctx, "account auto-restricted on ai risk",
			slog.String("user", user),
			slog.Uint64("blended_bps", rec.BlendedScoreBps),
		)
	}
	e.persist(ctx, rec)
	return nil
}

// ReportFraud records an external suspicious-activity report against a
// participant: the tag is appended, the fraud score rises by a flat 1000
// bps (capped at 10000), and the account is restricted once the score
// reaches 8000 bps.
func (e *Engine) ReportFraud(ctx context.Context, reporter, subject, tag, evidence string) (domain.FraudReport, error) {
	if subject == "" || tag == "" {
		return domain.FraudReport{}, fmt.Errorf("risk: empty subject or tag: %w", domain.ErrInvalidArgument)
	}

	e.mu.Lock()

	now := e.clock()
	p := e.profileLocked(subject, now)
	p.patterns = append(p.patterns, tag)
	p.fraudScoreBps += ReportFraudPenaltyBps
	if p.fraudScoreBps > domain.BpsScale {
		p.fraudScoreBps = domain.BpsScale
	}

	restrictedNow := false
	if p.fraudScoreBps >= FraudDenyBps && !p.restricted {
		e.restrictLocked(p, fmt.Sprintf("fraud score %d", p.fraudScoreBps))
		restrictedNow = true
	}
	p.updatedAt = now

	rec := e.recordLocked(p)
	e.mu.Unlock()

	report := domain.FraudReport{
		ID:        uuid.NewString(),
		Reporter:  reporter,
		Subject:   subject,
		Tag:       tag,
		Evidence:  evidence,
		CreatedAt: now,
	}

	if restrictedNow {
		e.logger.WarnContext(ctx, "account auto-restricted on fraud report",
			slog.String("subject", subject),
			slog.String("tag", tag),
			slog.Uint64("fraud_bps", rec.FraudScoreBps),
		)
	}
	e.persist(ctx, rec)
	if e.stores.Reports != nil {
		if err := e.stores.Reports.Insert(ctx, report); err != nil {
			e.logger.WarnContext(ctx, "fraud report persist failed", slog.String("error", err.Error()))
		}
	}
	return report, nil
}

// ResetProfile is the administrative reset: it clears the restriction,
// the fraud score, and the accumulated pattern tags. Everything else
// (trade history, exposure) survives.
func (e *Engine) ResetProfile(ctx context.Context, user string) error {
	e.mu.Lock()

	p, ok := e.profiles[user]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("risk: profile %s: %w", user, domain.ErrNotFound)
	}
	if p.restricted {
		e.reg.addRestricted(-1)
	}
	p.restricted = false
	p.restrictReason = ""
	p.fraudScoreBps = 0
	p.patterns = nil
	p.updatedAt = e.clock()

	rec := e.recordLocked(p)
	e.mu.Unlock()

	e.persist(ctx, rec)
	return nil
}

// SetMaxPosition installs a per-user override of the position cap.
func (e *Engine) SetMaxPosition(user string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("risk: zero max position: %w", domain.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.profileLocked(user, e.clock())
	p.maxPosition = amount
	return nil
}

// Snapshot returns a read-only copy of a user's profile.
func (e *Engine) Snapshot(user string) (domain.RiskProfileRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.profiles[user]
	if !ok {
		return domain.RiskProfileRecord{}, fmt.Errorf("risk: profile %s: %w", user, domain.ErrNotFound)
	}
	return e.recordLocked(p), nil
}

// Restricted reports whether a user's account is currently restricted.
func (e *Engine) Restricted(user string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.profiles[user]
	return ok && p.restricted
}

// ---------------------------------------------------------------------
// internal
// ---------------------------------------------------------------------

func (e *Engine) profileLocked(user string, now time.Time) *profile {
	p, ok := e.profiles[user]
	if !ok {
		p = &profile{
			address:         user,
			baseScoreBps:    BaseRiskFloorBps,
			blendedScoreBps: BaseRiskFloorBps,
			maxPosition:     0,
			dayStart:        now,
			updatedAt:       now,
		}
		e.profiles[user] = p
	}
	return p
}

func (e *Engine) maxPositionLocked(p *profile) uint64 {
	if p != nil && p.maxPosition > 0 {
		return p.maxPosition
	}
	return e.cfg.MaxPositionSize
}

// rescoreLocked recomputes the base risk score:
// 5000 + exposureRatio/2 + velocityPenalty, clamped to [0, 10000], where
// exposureRatio is the bps share of the user's exposure cap consumed and
// velocityPenalty is 25 bps per trade/hour, capped at 2000.
func (e *Engine) rescoreLocked(p *profile) {
	maxPos := e.maxPositionLocked(p)
	var expRatio uint64
	if maxPos > 0 {
		expRatio = p.totalExposure * domain.BpsScale / (maxPos * ExposureMultiple)
		if expRatio > domain.BpsScale {
			expRatio = domain.BpsScale
		}
	}

	velPenalty := p.velocityPerHour * 25
	if velPenalty > VelocityPenaltyCapBps {
		velPenalty = VelocityPenaltyCapBps
	}

	score := BaseRiskFloorBps + expRatio/2 + velPenalty
	if score > domain.BpsScale {
		score = domain.BpsScale
	}
	p.baseScoreBps = score

	// Keep the blend current with the stored AI inputs.
	weight := uint64(20)
	if p.aiConfidence >= 7000 {
		weight = 40
	}
	if p.aiScoreBps == 0 && p.aiConfidence == 0 {
		p.blendedScoreBps = score
	} else {
		p.blendedScoreBps = (score*(100-weight) + p.aiScoreBps*weight) / 100
	}

	p.scoreHistory = append(p.scoreHistory, score)
	if len(p.scoreHistory) > ScoreHistoryCap {
		p.scoreHistory = p.scoreHistory[len(p.scoreHistory)-ScoreHistoryCap:]
	}
}

// detectPatternsLocked scans for suspicious trading patterns after each
// trade and applies a flat fraud penalty once more than PatternThreshold
// tags have accumulated.
func (e *Engine) detectPatternsLocked(p *profile, amount uint64, now time.Time) {
	before := len(p.patterns)

	if p.velocityPerHour > HighVelocityPerHour {
		p.patterns = append(p.patterns, "high_velocity")
	}
	if maxPos := e.maxPositionLocked(p); maxPos > 0 && amount > maxPos/2 {
		p.patterns = append(p.patterns, "oversized_position")
	}
	hour := now.UTC().Hour()
	if hour < e.cfg.NormalHoursStartUTC || hour >= e.cfg.NormalHoursEndUTC {
		p.patterns = append(p.patterns, "off_hours")
	}

	if len(p.patterns) > before && len(p.patterns) > PatternThreshold {
		p.fraudScoreBps += PatternFraudPenalty
		if p.fraudScoreBps > domain.BpsScale {
			p.fraudScoreBps = domain.BpsScale
		}
		if p.fraudScoreBps >= FraudDenyBps && !p.restricted {
			e.restrictLocked(p, fmt.Sprintf("fraud score %d", p.fraudScoreBps))
		}
	}
}

func (e *Engine) restrictLocked(p *profile, reason string) {
	p.restricted = true
	p.restrictReason = reason
	e.reg.addRestricted(1)
}

func (e *Engine) recordLocked(p *profile) domain.RiskProfileRecord {
	patterns := make([]string, len(p.patterns))
	copy(patterns, p.patterns)
	return domain.RiskProfileRecord{
		Address:          p.address,
		Marketplace:      e.marketplace,
		BaseScoreBps:     p.baseScoreBps,
		BlendedScoreBps:  p.blendedScoreBps,
		Level:            domain.RiskLevelFor(p.blendedScoreBps),
		AccuracyBps:      p.accuracyBps,
		TotalExposure:    p.totalExposure,
		LargestExposure:  p.largestExposure,
		ActivePositions:  p.activePositions,
		TotalTrades:      p.totalTrades,
		DailyTrades:      p.dailyTrades,
		VelocityPerHour:  p.velocityPerHour,
		FraudScoreBps:    p.fraudScoreBps,
		Patterns:         patterns,
		Restricted:       p.restricted,
		RestrictedReason: p.restrictReason,
		LastTradeAt:      p.lastTradeAt,
		UpdatedAt:        p.updatedAt,
	}
}

func (e *Engine) persist(ctx context.Context, rec domain.RiskProfileRecord) {
	if e.stores.Profiles == nil {
		return
	}
	if err := e.stores.Profiles.Upsert(ctx, rec); err != nil {
		e.logger.WarnContext(ctx, "risk profile persist failed",
			slog.String("user", rec.Address),
			slog.String("error", err.Error()),
		)
	}
}
