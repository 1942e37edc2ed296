package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// fakeRiskService records mutations and serves canned profiles.
type fakeRiskService struct {
	profiles map[string]domain.RiskProfileRecord

	maxPosition map[string]uint64
	resets      []string
	aiUpdates   map[string]uint64
}

func newFakeRiskService() *fakeRiskService {
	return &fakeRiskService{
		profiles:    make(map[string]domain.RiskProfileRecord),
		maxPosition: make(map[string]uint64),
		aiUpdates:   make(map[string]uint64),
	}
}

func (f *fakeRiskService) Snapshot(user string) (domain.RiskProfileRecord, error) {
	if rec, ok := f.profiles[user]; ok {
		return rec, nil
	}
	return domain.RiskProfileRecord{Address: user}, nil
}

func (f *fakeRiskService) ReportFraud(_ context.Context, reporter, subject, tag, evidence string) (domain.FraudReport, error) {
	if reporter == "" || subject == "" {
		return domain.FraudReport{}, domain.ErrInvalidArgument
	}
	return domain.FraudReport{
		ID:        "report-1",
		Reporter:  reporter,
		Subject:   subject,
		Tag:       tag,
		Evidence:  evidence,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeRiskService) UpdateAIRisk(_ context.Context, user string, scoreBps, _ uint64) error {
	f.aiUpdates[user] = scoreBps
	return nil
}

func (f *fakeRiskService) SetMaxPosition(user string, amount uint64) error {
	f.maxPosition[user] = amount
	return nil
}

func (f *fakeRiskService) ResetProfile(_ context.Context, user string) error {
	f.resets = append(f.resets, user)
	return nil
}

// fakeFraudReports is an in-memory FraudReports store.
type fakeFraudReports struct {
	reports map[string][]domain.FraudReport
}

func (f *fakeFraudReports) ListBySubject(_ context.Context, subject string, _ domain.ListOpts) ([]domain.FraudReport, error) {
	return f.reports[subject], nil
}

func riskMux(h *RiskHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/marketplaces/{asset}/risk/{address}", h.GetProfile)
	mux.HandleFunc("DELETE /api/marketplaces/{asset}/risk/{address}", h.ResetProfile)
	mux.HandleFunc("PUT /api/marketplaces/{asset}/risk/{address}/max-position", h.SetMaxPosition)
	mux.HandleFunc("GET /api/marketplaces/{asset}/risk/{address}/fraud", h.ListFraudReports)
	mux.HandleFunc("POST /api/marketplaces/{asset}/risk/fraud", h.ReportFraud)
	mux.HandleFunc("POST /api/marketplaces/{asset}/risk/ai", h.UpdateAIRisk)
	return mux
}

func newRiskFixture(reports FraudReports) (*fakeRiskService, *http.ServeMux) {
	fake := newFakeRiskService()
	h := NewRiskHandler(map[string]RiskService{"APT": fake}, reports, testLogger())
	return fake, riskMux(h)
}

func TestGetRiskProfile(t *testing.T) {
	fake, mux := newRiskFixture(nil)
	fake.profiles["0xuser"] = domain.RiskProfileRecord{
		Address:         "0xuser",
		BlendedScoreBps: 4200,
		Restricted:      true,
	}

	w := doJSON(t, mux, http.MethodGet, "/api/marketplaces/APT/risk/0xuser", "")
	require.Equal(t, http.StatusOK, w.Code)

	var rec domain.RiskProfileRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, uint64(4200), rec.BlendedScoreBps)
	assert.True(t, rec.Restricted)
}

func TestRiskUnknownMarketplace(t *testing.T) {
	_, mux := newRiskFixture(nil)

	w := doJSON(t, mux, http.MethodGet, "/api/marketplaces/DOGE/risk/0xuser", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportFraud(t *testing.T) {
	_, mux := newRiskFixture(nil)

	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/risk/fraud",
		`{"reporter":"0xgood","subject":"0xbad","tag":"wash_trading","evidence":"tx 0xfeed"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var report domain.FraudReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "0xbad", report.Subject)
	assert.Equal(t, "wash_trading", report.Tag)
}

func TestReportFraudMissingFields(t *testing.T) {
	_, mux := newRiskFixture(nil)

	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/risk/fraud", `{"tag":"spam"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListFraudReports(t *testing.T) {
	store := &fakeFraudReports{reports: map[string][]domain.FraudReport{
		"0xbad": {{ID: "r1", Subject: "0xbad"}, {ID: "r2", Subject: "0xbad"}},
	}}
	_, mux := newRiskFixture(store)

	w := doJSON(t, mux, http.MethodGet, "/api/marketplaces/APT/risk/0xbad/fraud", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Reports []domain.FraudReport `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Reports, 2)

	// No reports yields an empty list, not null.
	w = doJSON(t, mux, http.MethodGet, "/api/marketplaces/APT/risk/0xclean/fraud", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reports":[]`)
}

func TestListFraudReportsWithoutPersistence(t *testing.T) {
	_, mux := newRiskFixture(nil)

	w := doJSON(t, mux, http.MethodGet, "/api/marketplaces/APT/risk/0xbad/fraud", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUpdateAIRisk(t *testing.T) {
	fake, mux := newRiskFixture(nil)

	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/risk/ai",
		`{"address":"0xuser","score_bps":6100,"confidence_bps":8000}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(6100), fake.aiUpdates["0xuser"])

	w = doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/risk/ai", `{"score_bps":6100}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetMaxPosition(t *testing.T) {
	fake, mux := newRiskFixture(nil)

	w := doJSON(t, mux, http.MethodPut, "/api/marketplaces/APT/risk/0xwhale/max-position",
		`{"amount":5000000}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(5000000), fake.maxPosition["0xwhale"])
}

func TestResetProfile(t *testing.T) {
	fake, mux := newRiskFixture(nil)

	w := doJSON(t, mux, http.MethodDelete, "/api/marketplaces/APT/risk/0xuser", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"0xuser"}, fake.resets)
}
