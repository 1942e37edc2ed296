package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// RiskService defines what the risk handler requires from a marketplace's
// risk engine.
type RiskService interface {
	Snapshot(user string) (domain.RiskProfileRecord, error)
	ReportFraud(ctx context.Context, reporter, subject, tag, evidence string) (domain.FraudReport, error)
	UpdateAIRisk(ctx context.Context, user string, scoreBps, confidenceBps uint64) error
	SetMaxPosition(user string, amount uint64) error
	ResetProfile(ctx context.Context, user string) error
}

// FraudReports lists persisted fraud reports. The Postgres fraud store
// satisfies it.
type FraudReports interface {
	ListBySubject(ctx context.Context, subject string, opts domain.ListOpts) ([]domain.FraudReport, error)
}

// RiskHandler serves risk-profile and fraud endpoints.
type RiskHandler struct {
	engines map[string]RiskService
	reports FraudReports
	logger  *slog.Logger
}

// NewRiskHandler creates a RiskHandler over the per-marketplace risk
// engines, keyed by asset symbol. reports may be nil when persistence is
// disabled.
func NewRiskHandler(engines map[string]RiskService, reports FraudReports, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		engines: engines,
		reports: reports,
		logger:  logger,
	}
}

func (h *RiskHandler) engine(w http.ResponseWriter, r *http.Request) (RiskService, bool) {
	asset := pathParam(r, "asset")
	eng, ok := h.engines[asset]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown marketplace: "+asset)
		return nil, false
	}
	return eng, true
}

// GetProfile returns a participant's current risk profile.
// GET /api/marketplaces/{asset}/risk/{address}
func (h *RiskHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	rec, err := eng.Snapshot(pathParam(r, "address"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get risk profile", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// fraudReportRequest is the JSON body for fraud reports.
type fraudReportRequest struct {
	Reporter string `json:"reporter"`
	Subject  string `json:"subject"`
	Tag      string `json:"tag"`
	Evidence string `json:"evidence,omitempty"`
}

// ReportFraud files a fraud report against a participant. Crossing the
// report threshold restricts the subject.
// POST /api/marketplaces/{asset}/risk/fraud
func (h *RiskHandler) ReportFraud(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req fraudReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	report, err := eng.ReportFraud(r.Context(), req.Reporter, req.Subject, req.Tag, req.Evidence)
	if err != nil {
		writeDomainError(w, r, h.logger, "report fraud", err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// ListFraudReports returns persisted fraud reports for a subject.
// GET /api/marketplaces/{asset}/risk/{address}/fraud?limit=50&offset=0
func (h *RiskHandler) ListFraudReports(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.engine(w, r); !ok {
		return
	}
	if h.reports == nil {
		writeError(w, http.StatusServiceUnavailable, "fraud report persistence disabled")
		return
	}

	reports, err := h.reports.ListBySubject(r.Context(), pathParam(r, "address"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list fraud reports", err)
		return
	}
	if reports == nil {
		reports = []domain.FraudReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// aiRiskRequest is the JSON body for AI score updates.
type aiRiskRequest struct {
	Address       string `json:"address"`
	ScoreBps      uint64 `json:"score_bps"`
	ConfidenceBps uint64 `json:"confidence_bps"`
}

// UpdateAIRisk ingests an external model's risk score for a participant.
// POST /api/marketplaces/{asset}/risk/ai
func (h *RiskHandler) UpdateAIRisk(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req aiRiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	if err := eng.UpdateAIRisk(r.Context(), req.Address, req.ScoreBps, req.ConfidenceBps); err != nil {
		writeDomainError(w, r, h.logger, "update ai risk", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// maxPositionRequest is the JSON body for per-user position overrides.
type maxPositionRequest struct {
	Amount uint64 `json:"amount"`
}

// SetMaxPosition overrides the per-user maximum position size.
// PUT /api/marketplaces/{asset}/risk/{address}/max-position
func (h *RiskHandler) SetMaxPosition(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req maxPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := eng.SetMaxPosition(pathParam(r, "address"), req.Amount); err != nil {
		writeDomainError(w, r, h.logger, "set max position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetProfile clears a participant's restriction and accumulated scores.
// DELETE /api/marketplaces/{asset}/risk/{address}
func (h *RiskHandler) ResetProfile(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	if err := eng.ResetProfile(r.Context(), pathParam(r, "address")); err != nil {
		writeDomainError(w, r, h.logger, "reset risk profile", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
