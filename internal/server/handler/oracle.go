package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/crypto"
	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// ConsensusService computes a consensus snapshot over the registered price
// sources. The oracle aggregator satisfies it.
type ConsensusService interface {
	Consensus(ctx context.Context, symbol string) (domain.ConsensusSnapshot, error)
}

// Attestor signs resolution attestations. The crypto signer satisfies it.
type Attestor interface {
	Attest(marketID string, outcome int, source string, resolvedAt time.Time) (crypto.Attestation, string, error)
}

// OracleHandler serves consensus and attestation endpoints.
type OracleHandler struct {
	consensus ConsensusService
	cache     domain.ConsensusCache
	attestor  Attestor
	logger    *slog.Logger
}

// NewOracleHandler creates an OracleHandler. cache and attestor may be nil;
// the corresponding endpoints then report unavailable.
func NewOracleHandler(consensus ConsensusService, cache domain.ConsensusCache, attestor Attestor, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		consensus: consensus,
		cache:     cache,
		attestor:  attestor,
		logger:    logger,
	}
}

// GetConsensus recomputes and returns the consensus for a symbol. With
// ?cached=true the last cached snapshot is served instead.
// GET /api/oracle/consensus/{symbol}
func (h *OracleHandler) GetConsensus(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(pathParam(r, "symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	if r.URL.Query().Get("cached") == "true" {
		if h.cache == nil {
			writeError(w, http.StatusServiceUnavailable, "consensus cache disabled")
			return
		}
		snap, err := h.cache.Get(r.Context(), symbol)
		if err != nil {
			writeDomainError(w, r, h.logger, "get cached consensus", err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, err := h.consensus.Consensus(r.Context(), symbol)
	if err != nil {
		writeDomainError(w, r, h.logger, "get consensus", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// attestRequest is the JSON body for attestation signing.
type attestRequest struct {
	MarketID   string    `json:"market_id"`
	Outcome    int       `json:"outcome"`
	Source     string    `json:"source"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// attestResponse carries the attestation and its signature.
type attestResponse struct {
	Attestation crypto.Attestation `json:"attestation"`
	Signature   string             `json:"signature"`
}

// Attest signs a resolution attestation with the configured signing key so
// external verifiers can check which resolution the operator committed to.
// POST /api/oracle/attest
func (h *OracleHandler) Attest(w http.ResponseWriter, r *http.Request) {
	if h.attestor == nil {
		writeError(w, http.StatusServiceUnavailable, "attestation signing disabled")
		return
	}

	var req attestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}
	if req.ResolvedAt.IsZero() {
		req.ResolvedAt = time.Now().UTC()
	}

	att, sig, err := h.attestor.Attest(req.MarketID, req.Outcome, req.Source, req.ResolvedAt)
	if err != nil {
		writeDomainError(w, r, h.logger, "sign attestation", err)
		return
	}
	writeJSON(w, http.StatusCreated, attestResponse{Attestation: att, Signature: sig})
}
