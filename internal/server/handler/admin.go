package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// BreakerControl flips and reports the global circuit breaker. The risk
// registry satisfies it.
type BreakerControl interface {
	TripBreaker(reason string)
	ResetBreaker()
	Metrics() domain.GlobalRiskMetrics
}

// AuditLog reads the persisted audit trail. The Postgres audit store
// satisfies it.
type AuditLog interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AdminHandler serves operator endpoints: breaker control, cold-storage
// archival, and the audit trail.
type AdminHandler struct {
	breaker  BreakerControl
	archiver domain.Archiver
	audit    AuditLog
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. archiver and audit may be nil
// when the corresponding backends are not configured.
func NewAdminHandler(breaker BreakerControl, archiver domain.Archiver, audit AuditLog, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		breaker:  breaker,
		archiver: archiver,
		audit:    audit,
		logger:   logger,
	}
}

// GetRiskMetrics returns the platform-wide risk view.
// GET /api/admin/risk/metrics
func (h *AdminHandler) GetRiskMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.breaker.Metrics())
}

// breakerRequest is the JSON body for breaker control.
type breakerRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// SetBreaker trips or resets the global circuit breaker.
// POST /api/admin/risk/breaker
func (h *AdminHandler) SetBreaker(w http.ResponseWriter, r *http.Request) {
	var req breakerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Active {
		reason := req.Reason
		if reason == "" {
			reason = "manual"
		}
		h.breaker.TripBreaker(reason)
	} else {
		h.breaker.ResetBreaker()
	}

	h.logger.InfoContext(r.Context(), "circuit breaker changed",
		slog.Bool("active", req.Active),
		slog.String("reason", req.Reason),
	)
	writeJSON(w, http.StatusOK, h.breaker.Metrics())
}

// archiveRequest is the JSON body for archival triggers.
type archiveRequest struct {
	Kind   string    `json:"kind"`   // "markets", "prices", "audit", or "all"
	Before time.Time `json:"before"` // defaults to 30 days ago
}

// archiveResult is one archival run's outcome.
type archiveResult struct {
	Kind  string `json:"kind"`
	Key   string `json:"key,omitempty"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// TriggerArchive runs cold-storage archival for data older than the cutoff.
// POST /api/admin/archive
func (h *AdminHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "archival not configured")
		return
	}

	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Before.IsZero() {
		req.Before = time.Now().UTC().AddDate(0, 0, -30)
	}
	if req.Kind == "" {
		req.Kind = "all"
	}

	type archiveFn func(ctx context.Context, before time.Time) (string, int, error)
	runs := map[string]archiveFn{
		"markets": h.archiver.ArchiveResolvedMarkets,
		"prices":  h.archiver.ArchivePriceHistory,
		"audit":   h.archiver.ArchiveAuditLog,
	}

	var results []archiveResult
	for _, kind := range []string{"markets", "prices", "audit"} {
		if req.Kind != "all" && req.Kind != kind {
			continue
		}
		key, count, err := runs[kind](r.Context(), req.Before)
		res := archiveResult{Kind: kind, Key: key, Count: count}
		if err != nil {
			res.Error = err.Error()
			h.logger.ErrorContext(r.Context(), "archive run failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		writeError(w, http.StatusBadRequest, "kind must be markets, prices, audit, or all")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ListAudit returns recent audit entries, newest first.
// GET /api/admin/audit?limit=50&offset=0
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit persistence disabled")
		return
	}

	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
