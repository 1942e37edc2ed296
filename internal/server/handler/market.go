package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
	"github.com/kamalbuilds/aptos-markets/internal/engine/market"
	"github.com/kamalbuilds/aptos-markets/internal/registry"
)

// Marketplace defines what the market handler requires from a marketplace.
// It is declared locally so the handler package does not depend on the
// generic marketplace type; the engine's gateway methods satisfy it.
type Marketplace interface {
	Asset() string
	Name() string
	GetMarket(id string) (domain.MarketRecord, error)
	ListMarkets(status domain.MarketStatus) []domain.MarketRecord
	OpenMarket(ctx context.Context, p market.CreateParams) (domain.MarketRecord, error)
	OpenEventMarket(ctx context.Context, p market.CreateParams, ev market.EventParams) (domain.MarketRecord, error)
	StartMarket(ctx context.Context, id, caller string) error
	PlaceBet(ctx context.Context, id, bettor string, outcome int, amount uint64) (domain.BetReceipt, error)
	ResolveMarket(ctx context.Context, id, caller string, outcome int, source string) error
	PauseMarket(ctx context.Context, id, caller string) error
	ResumeMarket(ctx context.Context, id, caller string) error
	CancelMarket(ctx context.Context, id, caller string) error
	AddMarketLiquidity(ctx context.Context, id, provider string, amount uint64) error
	RemoveMarketLiquidity(ctx context.Context, id, provider string, amount uint64) error
	MarketPrices(id string) ([]uint64, error)
	MarketHistory(id string) ([]domain.PricePoint, error)
	MarketPayouts(id string) ([]domain.Payout, error)
	ClaimPayout(ctx context.Context, id, claimant string) (domain.Payout, error)
}

// MarketHandler serves marketplace and market endpoints.
type MarketHandler struct {
	registry *registry.Registry
	places   map[string]Marketplace
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler over the registered marketplaces,
// keyed by asset symbol.
func NewMarketHandler(reg *registry.Registry, places map[string]Marketplace, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		registry: reg,
		places:   places,
		logger:   logger,
	}
}

func (h *MarketHandler) place(w http.ResponseWriter, r *http.Request) (Marketplace, bool) {
	asset := pathParam(r, "asset")
	mp, ok := h.places[asset]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown marketplace: "+asset)
		return nil, false
	}
	return mp, true
}

// marketplaceInfo is the directory row returned by the list endpoint.
type marketplaceInfo struct {
	Asset            string    `json:"asset"`
	Name             string    `json:"name"`
	FeeRateBps       uint64    `json:"fee_rate_bps"`
	OracleFeed       string    `json:"oracle_feed"`
	DailyVolumeLimit uint64    `json:"daily_volume_limit"`
	SignalEnabled    bool      `json:"signal_enabled"`
	TotalVolume      uint64    `json:"total_volume"`
	MarketCount      int       `json:"market_count"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// ListMarketplaces returns every registered marketplace.
// GET /api/marketplaces
func (h *MarketHandler) ListMarketplaces(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.List()
	infos := make([]marketplaceInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, marketplaceInfo{
			Asset:            e.Asset,
			Name:             e.Name,
			FeeRateBps:       e.FeeRateBps,
			OracleFeed:       e.OracleFeed,
			DailyVolumeLimit: e.DailyVolumeLimit,
			SignalEnabled:    e.SignalEnabled,
			TotalVolume:      e.TotalVolume,
			MarketCount:      e.MarketCount,
			RegisteredAt:     e.RegisteredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"marketplaces": infos})
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.MarketRecord `json:"markets"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// ListMarkets returns markets for one marketplace, optionally filtered by
// status, with pagination over the in-memory set.
// GET /api/marketplaces/{asset}/markets?status=active&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}
	opts := parseListOpts(r)

	status := domain.MarketStatus(r.URL.Query().Get("status"))
	records := mp.ListMarkets(status)
	total := len(records)

	if opts.Offset >= len(records) {
		records = nil
	} else {
		records = records[opts.Offset:]
	}
	if len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	if records == nil {
		records = []domain.MarketRecord{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: records,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market snapshot.
// GET /api/marketplaces/{asset}/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}
	rec, err := mp.GetMarket(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// createMarketRequest is the JSON body for market creation. A populated
// outcomes list creates a multi-outcome event market with governance-based
// resolution; otherwise the market is binary and oracle-resolved.
type createMarketRequest struct {
	Title            string   `json:"title"`
	Category         string   `json:"category"`
	Creator          string   `json:"creator"`
	StartAt          string   `json:"start_at"`
	EndAt            string   `json:"end_at"`
	InitialLiquidity uint64   `json:"initial_liquidity"`
	MarketFeeBps     uint64   `json:"market_fee_bps"`
	CreatorFeeBps    uint64   `json:"creator_fee_bps"`
	Outcomes         []string `json:"outcomes,omitempty"`
	ResolutionHours  int      `json:"resolution_hours,omitempty"`
	GovernanceHours  int      `json:"governance_hours,omitempty"`
	ConsensusBps     uint64   `json:"consensus_bps,omitempty"`
}

// CreateMarket creates a binary or event market.
// POST /api/marketplaces/{asset}/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}

	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_at: "+req.StartAt)
		return
	}
	endAt, err := time.Parse(time.RFC3339, req.EndAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_at: "+req.EndAt)
		return
	}

	params := market.CreateParams{
		Title:            req.Title,
		Category:         req.Category,
		Creator:          req.Creator,
		StartAt:          startAt,
		EndAt:            endAt,
		InitialLiquidity: req.InitialLiquidity,
		MarketFeeBps:     req.MarketFeeBps,
		CreatorFeeBps:    req.CreatorFeeBps,
	}

	var rec domain.MarketRecord
	if len(req.Outcomes) > 0 {
		ev := market.EventParams{
			Outcomes:     req.Outcomes,
			ConsensusBps: req.ConsensusBps,
		}
		if req.ResolutionHours > 0 {
			ev.ResolutionDeadline = endAt.Add(time.Duration(req.ResolutionHours) * time.Hour)
		}
		if req.GovernanceHours > 0 {
			ev.GovernanceEnd = endAt.Add(time.Duration(req.ResolutionHours+req.GovernanceHours) * time.Hour)
		}
		rec, err = mp.OpenEventMarket(r.Context(), params, ev)
	} else {
		rec, err = mp.OpenMarket(r.Context(), params)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// callerRequest carries the caller address for lifecycle transitions.
type callerRequest struct {
	Caller string `json:"caller"`
}

func (h *MarketHandler) transition(w http.ResponseWriter, r *http.Request, action string,
	fn func(ctx context.Context, mp Marketplace, id, caller string) error) {

	mp, ok := h.place(w, r)
	if !ok {
		return
	}
	id := pathParam(r, "id")

	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	if err := fn(r.Context(), mp, id, req.Caller); err != nil {
		writeDomainError(w, r, h.logger, action, err)
		return
	}

	rec, err := mp.GetMarket(id)
	if err != nil {
		writeDomainError(w, r, h.logger, action, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// StartMarket activates a pending market.
// POST /api/marketplaces/{asset}/markets/{id}/start
func (h *MarketHandler) StartMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start market", func(ctx context.Context, mp Marketplace, id, caller string) error {
		return mp.StartMarket(ctx, id, caller)
	})
}

// PauseMarket pauses an active market.
// POST /api/marketplaces/{asset}/markets/{id}/pause
func (h *MarketHandler) PauseMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause market", func(ctx context.Context, mp Marketplace, id, caller string) error {
		return mp.PauseMarket(ctx, id, caller)
	})
}

// ResumeMarket resumes a paused market.
// POST /api/marketplaces/{asset}/markets/{id}/resume
func (h *MarketHandler) ResumeMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume market", func(ctx context.Context, mp Marketplace, id, caller string) error {
		return mp.ResumeMarket(ctx, id, caller)
	})
}

// CancelMarket cancels a market and schedules stake refunds.
// POST /api/marketplaces/{asset}/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel market", func(ctx context.Context, mp Marketplace, id, caller string) error {
		return mp.CancelMarket(ctx, id, caller)
	})
}

// placeBetRequest is the JSON body for bet placement.
type placeBetRequest struct {
	Bettor  string `json:"bettor"`
	Outcome int    `json:"outcome"`
	Amount  uint64 `json:"amount"`
}

// PlaceBet places a bet on an outcome.
// POST /api/marketplaces/{asset}/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}

	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Bettor == "" {
		writeError(w, http.StatusBadRequest, "bettor is required")
		return
	}

	receipt, err := mp.PlaceBet(r.Context(), pathParam(r, "id"), req.Bettor, req.Outcome, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// resolveRequest is the JSON body for oracle-backed resolution.
type resolveRequest struct {
	Caller  string `json:"caller"`
	Outcome int    `json:"outcome"`
	Source  string `json:"source"`
}

// ResolveMarket resolves a binary market with a winning outcome.
// POST /api/marketplaces/{asset}/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	id := pathParam(r, "id")
	if err := mp.ResolveMarket(r.Context(), id, req.Caller, req.Outcome, req.Source); err != nil {
		writeDomainError(w, r, h.logger, "resolve market", err)
		return
	}

	rec, err := mp.GetMarket(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// liquidityRequest is the JSON body for liquidity changes.
type liquidityRequest struct {
	Provider string `json:"provider"`
	Amount   uint64 `json:"amount"`
	Action   string `json:"action"` // "add" or "remove"
}

// ChangeLiquidity adds or removes pool liquidity.
// POST /api/marketplaces/{asset}/markets/{id}/liquidity
func (h *MarketHandler) ChangeLiquidity(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}

	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}

	id := pathParam(r, "id")
	var err error
	switch req.Action {
	case "add", "":
		err = mp.AddMarketLiquidity(r.Context(), id, req.Provider, req.Amount)
	case "remove":
		err = mp.RemoveMarketLiquidity(r.Context(), id, req.Provider, req.Amount)
	default:
		writeError(w, http.StatusBadRequest, "action must be add or remove")
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "change liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetPrices returns current per-outcome prices in basis points.
// GET /api/marketplaces/{asset}/markets/{id}/prices
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}
	prices, err := mp.MarketPrices(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices_bps": prices})
}

// GetHistory returns the recent price history of a market.
// GET /api/marketplaces/{asset}/markets/{id}/history
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}
	history, err := mp.MarketHistory(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get history", err)
		return
	}
	if history == nil {
		history = []domain.PricePoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// GetPayouts returns the payout table of a resolved market.
// GET /api/marketplaces/{asset}/markets/{id}/payouts
func (h *MarketHandler) GetPayouts(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}
	payouts, err := mp.MarketPayouts(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get payouts", err)
		return
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}

// claimRequest is the JSON body for payout claims.
type claimRequest struct {
	Claimant string `json:"claimant"`
}

// ClaimPayout pays out the claimant's winnings on a resolved market.
// POST /api/marketplaces/{asset}/markets/{id}/claim
func (h *MarketHandler) ClaimPayout(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Claimant == "" {
		writeError(w, http.StatusBadRequest, "claimant is required")
		return
	}

	payout, err := mp.ClaimPayout(r.Context(), pathParam(r, "id"), req.Claimant)
	if err != nil {
		writeDomainError(w, r, h.logger, "claim payout", err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}
