package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// ChainReader looks up on-chain state through the Aptos indexer.
type ChainReader interface {
	GetCoinBalance(ctx context.Context, address string) (uint64, error)
	GetLedgerVersion(ctx context.Context) (int64, error)
}

// AccountHandler serves on-chain account lookups.
type AccountHandler struct {
	chain  ChainReader
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler. chain may be nil when no
// indexer is configured; the endpoints then report unavailable.
func NewAccountHandler(chain ChainReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		chain:  chain,
		logger: logger,
	}
}

// GetBalance returns an account's APT balance in octas.
// GET /api/accounts/{address}/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer not configured")
		return
	}

	address := strings.TrimSpace(pathParam(r, "address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	balance, err := h.chain.GetCoinBalance(r.Context(), address)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get balance failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "indexer lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"balance": balance,
		"unit":    "octa",
	})
}

// GetLedger returns the latest ledger version seen by the indexer.
// GET /api/chain/ledger
func (h *AccountHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer not configured")
		return
	}

	version, err := h.chain.GetLedgerVersion(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get ledger failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "indexer lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ledger_version": version})
}
