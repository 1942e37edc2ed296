package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
	"github.com/kamalbuilds/aptos-markets/internal/engine/market"
	"github.com/kamalbuilds/aptos-markets/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMarketplace is a scriptable Marketplace implementation. Unset
// function fields fall back to benign defaults.
type fakeMarketplace struct {
	asset   string
	records map[string]domain.MarketRecord

	openErr    error
	betErr     error
	betReceipt domain.BetReceipt
	startErr   error
	liquidErr  error
}

func newFakeMarketplace() *fakeMarketplace {
	return &fakeMarketplace{
		asset:   "APT",
		records: make(map[string]domain.MarketRecord),
	}
}

func (f *fakeMarketplace) Asset() string { return f.asset }
func (f *fakeMarketplace) Name() string  { return f.asset + " markets" }

func (f *fakeMarketplace) GetMarket(id string) (domain.MarketRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return domain.MarketRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeMarketplace) ListMarkets(status domain.MarketStatus) []domain.MarketRecord {
	var out []domain.MarketRecord
	for _, rec := range f.records {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

func (f *fakeMarketplace) OpenMarket(_ context.Context, p market.CreateParams) (domain.MarketRecord, error) {
	if f.openErr != nil {
		return domain.MarketRecord{}, f.openErr
	}
	rec := domain.MarketRecord{
		ID:      "mkt-1",
		Asset:   f.asset,
		Title:   p.Title,
		Creator: p.Creator,
		Status:  domain.MarketStatusPending,
		StartAt: p.StartAt,
		EndAt:   p.EndAt,
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeMarketplace) OpenEventMarket(ctx context.Context, p market.CreateParams, ev market.EventParams) (domain.MarketRecord, error) {
	rec, err := f.OpenMarket(ctx, p)
	if err != nil {
		return domain.MarketRecord{}, err
	}
	rec.Kind = domain.MarketKindEvent
	for _, o := range ev.Outcomes {
		rec.Outcomes = append(rec.Outcomes, domain.OutcomeState{Label: o})
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeMarketplace) StartMarket(_ context.Context, id, _ string) error {
	if f.startErr != nil {
		return f.startErr
	}
	rec, ok := f.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = domain.MarketStatusActive
	f.records[id] = rec
	return nil
}

func (f *fakeMarketplace) PlaceBet(_ context.Context, id, bettor string, outcome int, amount uint64) (domain.BetReceipt, error) {
	if f.betErr != nil {
		return domain.BetReceipt{}, f.betErr
	}
	if _, ok := f.records[id]; !ok {
		return domain.BetReceipt{}, domain.ErrNotFound
	}
	r := f.betReceipt
	r.MarketID = id
	r.Bettor = bettor
	r.Outcome = outcome
	r.Amount = amount
	return r, nil
}

func (f *fakeMarketplace) ResolveMarket(_ context.Context, id, _ string, outcome int, _ string) error {
	rec, ok := f.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = domain.MarketStatusResolved
	rec.Resolved = true
	rec.WinningOutcome = &outcome
	f.records[id] = rec
	return nil
}

func (f *fakeMarketplace) PauseMarket(ctx context.Context, id, caller string) error {
	return f.StartMarket(ctx, id, caller)
}

func (f *fakeMarketplace) ResumeMarket(ctx context.Context, id, caller string) error {
	return f.StartMarket(ctx, id, caller)
}

func (f *fakeMarketplace) CancelMarket(ctx context.Context, id, caller string) error {
	return f.StartMarket(ctx, id, caller)
}

func (f *fakeMarketplace) AddMarketLiquidity(_ context.Context, id, _ string, _ uint64) error {
	if f.liquidErr != nil {
		return f.liquidErr
	}
	if _, ok := f.records[id]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (f *fakeMarketplace) RemoveMarketLiquidity(ctx context.Context, id, provider string, amount uint64) error {
	return f.AddMarketLiquidity(ctx, id, provider, amount)
}

func (f *fakeMarketplace) MarketPrices(id string) ([]uint64, error) {
	if _, ok := f.records[id]; !ok {
		return nil, domain.ErrNotFound
	}
	return []uint64{5000, 5000}, nil
}

func (f *fakeMarketplace) MarketHistory(id string) ([]domain.PricePoint, error) {
	if _, ok := f.records[id]; !ok {
		return nil, domain.ErrNotFound
	}
	return nil, nil
}

func (f *fakeMarketplace) MarketPayouts(id string) ([]domain.Payout, error) {
	if _, ok := f.records[id]; !ok {
		return nil, domain.ErrNotFound
	}
	return []domain.Payout{{MarketID: id, Address: "0xwin", Total: 150}}, nil
}

func (f *fakeMarketplace) ClaimPayout(_ context.Context, id, claimant string) (domain.Payout, error) {
	if _, ok := f.records[id]; !ok {
		return domain.Payout{}, domain.ErrNotFound
	}
	return domain.Payout{MarketID: id, Address: claimant, Total: 150}, nil
}

// marketMux registers the market routes the way the server does so
// PathValue resolution works in tests.
func marketMux(h *MarketHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/marketplaces", h.ListMarketplaces)
	mux.HandleFunc("GET /api/marketplaces/{asset}/markets", h.ListMarkets)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets", h.CreateMarket)
	mux.HandleFunc("GET /api/marketplaces/{asset}/markets/{id}", h.GetMarket)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/start", h.StartMarket)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/bets", h.PlaceBet)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/resolve", h.ResolveMarket)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/liquidity", h.ChangeLiquidity)
	mux.HandleFunc("GET /api/marketplaces/{asset}/markets/{id}/prices", h.GetPrices)
	mux.HandleFunc("GET /api/marketplaces/{asset}/markets/{id}/payouts", h.GetPayouts)
	mux.HandleFunc("POST /api/marketplaces/{asset}/markets/{id}/claim", h.ClaimPayout)
	return mux
}

func newMarketFixture(t *testing.T) (*fakeMarketplace, *http.ServeMux) {
	t.Helper()
	fake := newFakeMarketplace()
	reg, cap := registry.New()
	require.NoError(t, reg.Register(cap, registry.Entry{
		Asset:      "APT",
		Name:       "APT markets",
		FeeRateBps: 100,
		View:       fake,
	}))
	h := NewMarketHandler(reg, map[string]Marketplace{"APT": fake}, testLogger())
	return fake, marketMux(h)
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestListMarketplaces(t *testing.T) {
	_, mux := newMarketFixture(t)

	w := doJSON(t, mux, http.MethodGet, "/api/marketplaces", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Marketplaces []marketplaceInfo `json:"marketplaces"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Marketplaces, 1)
	assert.Equal(t, "APT", resp.Marketplaces[0].Asset)
	assert.Equal(t, uint64(100), resp.Marketplaces[0].FeeRateBps)
}

func TestUnknownMarketplaceIs404(t *testing.T) {
	_, mux := newMarketFixture(t)

	w := doJSON(t, mux, http.MethodGet, "/api/marketplaces/DOGE/markets", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown marketplace: DOGE")
}

func TestListMarketsFilterAndPagination(t *testing.T) {
	fake, mux := newMarketFixture(t)
	fake.records["a"] = domain.MarketRecord{ID: "a", Status: domain.MarketStatusActive}
	fake.records["b"] = domain.MarketRecord{ID: "b", Status: domain.MarketStatusActive}
	fake.records["c"] = domain.MarketRecord{ID: "c", Status: domain.MarketStatusResolved}

	w := doJSON(t, mux, http.MethodGet, "/api/marketplaces/APT/markets?status=active", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp listMarketsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Markets, 2)

	// Offset past the end returns an empty page, not an error.
	w = doJSON(t, mux, http.MethodGet, "/api/marketplaces/APT/markets?offset=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Markets)
	assert.Equal(t, 3, resp.Total)
}

func TestGetMarketNotFound(t *testing.T) {
	_, mux := newMarketFixture(t)

	w := doJSON(t, mux, http.MethodGet, "/api/marketplaces/APT/markets/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBinaryMarket(t *testing.T) {
	_, mux := newMarketFixture(t)

	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"title":"APT above $10","creator":"0xabc","start_at":"` + start + `","end_at":"` + end + `","initial_liquidity":1000}`

	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var rec domain.MarketRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "mkt-1", rec.ID)
	assert.Equal(t, "APT above $10", rec.Title)
	assert.Empty(t, rec.Outcomes)
}

func TestCreateEventMarket(t *testing.T) {
	_, mux := newMarketFixture(t)

	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"title":"Election","creator":"0xabc","start_at":"` + start + `","end_at":"` + end + `",` +
		`"outcomes":["A","B","C"],"resolution_hours":24,"governance_hours":48,"consensus_bps":7000}`

	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var rec domain.MarketRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Len(t, rec.Outcomes, 3)
}

func TestCreateMarketRejectsBadTimestamps(t *testing.T) {
	_, mux := newMarketFixture(t)

	body := `{"title":"x","creator":"0xabc","start_at":"yesterday","end_at":"tomorrow"}`
	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid start_at")
}

func TestStartMarketRequiresCaller(t *testing.T) {
	fake, mux := newMarketFixture(t)
	fake.records["m1"] = domain.MarketRecord{ID: "m1", Status: domain.MarketStatusPending}

	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets/m1/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets/m1/start", `{"caller":"0xabc"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var rec domain.MarketRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, domain.MarketStatusActive, rec.Status)
}

func TestPlaceBet(t *testing.T) {
	fake, mux := newMarketFixture(t)
	fake.records["m1"] = domain.MarketRecord{ID: "m1", Status: domain.MarketStatusActive}
	fake.betReceipt = domain.BetReceipt{Fee: 2, NetStake: 98}

	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets/m1/bets",
		`{"bettor":"0xbee","outcome":1,"amount":100}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var receipt domain.BetReceipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, "0xbee", receipt.Bettor)
	assert.Equal(t, uint64(98), receipt.NetStake)
}

func TestPlaceBetDomainErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"restricted bettor", domain.ErrUnauthorized, http.StatusForbidden},
		{"volume limit", domain.ErrResourceExhausted, http.StatusTooManyRequests},
		{"market closed", domain.ErrInvalidState, http.StatusConflict},
		{"below min bet", domain.ErrInvalidArgument, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, mux := newMarketFixture(t)
			fake.records["m1"] = domain.MarketRecord{ID: "m1", Status: domain.MarketStatusActive}
			fake.betErr = tt.err

			w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets/m1/bets",
				`{"bettor":"0xbee","outcome":0,"amount":100}`)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestResolveMarket(t *testing.T) {
	fake, mux := newMarketFixture(t)
	fake.records["m1"] = domain.MarketRecord{ID: "m1", Status: domain.MarketStatusActive}

	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets/m1/resolve",
		`{"caller":"0xadmin","outcome":1,"source":"oracle"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var rec domain.MarketRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.True(t, rec.Resolved)
	require.NotNil(t, rec.WinningOutcome)
	assert.Equal(t, 1, *rec.WinningOutcome)
}

func TestChangeLiquidityValidatesAction(t *testing.T) {
	fake, mux := newMarketFixture(t)
	fake.records["m1"] = domain.MarketRecord{ID: "m1", Status: domain.MarketStatusActive}

	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets/m1/liquidity",
		`{"provider":"0xlp","amount":500,"action":"burn"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets/m1/liquidity",
		`{"provider":"0xlp","amount":500}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetPricesAndPayouts(t *testing.T) {
	fake, mux := newMarketFixture(t)
	fake.records["m1"] = domain.MarketRecord{ID: "m1", Status: domain.MarketStatusActive}

	w := doJSON(t, mux, http.MethodGet, "/api/marketplaces/APT/markets/m1/prices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "prices_bps")

	w = doJSON(t, mux, http.MethodGet, "/api/marketplaces/APT/markets/m1/payouts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "0xwin")
}

func TestClaimPayout(t *testing.T) {
	fake, mux := newMarketFixture(t)
	fake.records["m1"] = domain.MarketRecord{ID: "m1", Status: domain.MarketStatusResolved}

	w := doJSON(t, mux, http.MethodPost, "/api/marketplaces/APT/markets/m1/claim", `{"claimant":"0xwin"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var payout domain.Payout
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payout))
	assert.Equal(t, "0xwin", payout.Address)
	assert.Equal(t, uint64(150), payout.Total)
}
