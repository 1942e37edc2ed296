package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kamalbuilds/aptos-markets/internal/governance"
)

// GovernedMarketplace defines what the governance handler requires from a
// marketplace. The engine's gateway methods satisfy it.
type GovernedMarketplace interface {
	GovernanceStatus(id string) (governance.Status, error)
	RegisterValidator(id, caller, validator string) error
	CastVote(ctx context.Context, id, validator string, outcome int) error
	RaiseDispute(ctx context.Context, id, validator string) error
	CloseGovernance(ctx context.Context, id string) error
}

// GovernanceHandler serves validator voting endpoints for event markets.
type GovernanceHandler struct {
	places map[string]GovernedMarketplace
	logger *slog.Logger
}

// NewGovernanceHandler creates a GovernanceHandler over the registered
// marketplaces, keyed by asset symbol.
func NewGovernanceHandler(places map[string]GovernedMarketplace, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{
		places: places,
		logger: logger,
	}
}

func (h *GovernanceHandler) place(w http.ResponseWriter, r *http.Request) (GovernedMarketplace, bool) {
	asset := pathParam(r, "asset")
	mp, ok := h.places[asset]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown marketplace: "+asset)
		return nil, false
	}
	return mp, true
}

// GetStatus returns the voting state of an event market.
// GET /api/marketplaces/{asset}/markets/{id}/governance
func (h *GovernanceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}
	status, err := mp.GovernanceStatus(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get governance status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// registerValidatorRequest is the JSON body for validator registration.
type registerValidatorRequest struct {
	Caller    string `json:"caller"`
	Validator string `json:"validator"`
}

// RegisterValidator adds a validator to an event market's voting set.
// POST /api/marketplaces/{asset}/markets/{id}/governance/validators
func (h *GovernanceHandler) RegisterValidator(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}

	var req registerValidatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Caller == "" || req.Validator == "" {
		writeError(w, http.StatusBadRequest, "caller and validator are required")
		return
	}

	if err := mp.RegisterValidator(pathParam(r, "id"), req.Caller, req.Validator); err != nil {
		writeDomainError(w, r, h.logger, "register validator", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

// castVoteRequest is the JSON body for validator votes.
type castVoteRequest struct {
	Validator string `json:"validator"`
	Outcome   int    `json:"outcome"`
}

// CastVote records a validator's vote. Reaching the consensus threshold
// finalizes the market immediately.
// POST /api/marketplaces/{asset}/markets/{id}/governance/votes
func (h *GovernanceHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}

	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Validator == "" {
		writeError(w, http.StatusBadRequest, "validator is required")
		return
	}

	id := pathParam(r, "id")
	if err := mp.CastVote(r.Context(), id, req.Validator, req.Outcome); err != nil {
		writeDomainError(w, r, h.logger, "cast vote", err)
		return
	}

	status, err := mp.GovernanceStatus(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "cast vote", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// disputeRequest is the JSON body for dispute escalation.
type disputeRequest struct {
	Validator string `json:"validator"`
}

// RaiseDispute records a validator's dispute against the leading outcome.
// POST /api/marketplaces/{asset}/markets/{id}/governance/disputes
func (h *GovernanceHandler) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}

	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Validator == "" {
		writeError(w, http.StatusBadRequest, "validator is required")
		return
	}

	id := pathParam(r, "id")
	if err := mp.RaiseDispute(r.Context(), id, req.Validator); err != nil {
		writeDomainError(w, r, h.logger, "raise dispute", err)
		return
	}

	status, err := mp.GovernanceStatus(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "raise dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// CloseGovernance closes the voting window and settles the market from the
// final tally.
// POST /api/marketplaces/{asset}/markets/{id}/governance/close
func (h *GovernanceHandler) CloseGovernance(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.place(w, r)
	if !ok {
		return
	}

	id := pathParam(r, "id")
	if err := mp.CloseGovernance(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, "close governance", err)
		return
	}

	status, err := mp.GovernanceStatus(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "close governance", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
