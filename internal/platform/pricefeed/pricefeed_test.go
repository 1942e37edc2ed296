package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexPriceParsesNumberAndString(t *testing.T) {
	var tick TickMessage
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"APT","price":4.83}`), &tick))
	assert.Equal(t, flexPrice(4_830_000), tick.Price)

	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"APT","price":"12.5"}`), &tick))
	assert.Equal(t, flexPrice(12_500_000), tick.Price)

	assert.Error(t, json.Unmarshal([]byte(`{"price":"abc"}`), &tick))
	assert.Error(t, json.Unmarshal([]byte(`{"price":-1}`), &tick))
}

func TestToReadingDefaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tick := TickMessage{Symbol: " apt ", Price: 4_830_000}
	r := tick.ToReading("binance", now)
	assert.Equal(t, "binance", r.Source)
	assert.Equal(t, "APT", r.Symbol)
	assert.Equal(t, uint64(4_830_000), r.Price)
	assert.Equal(t, uint64(10_000), r.ConfidenceBps)
	assert.Equal(t, now, r.Timestamp)

	tick.Timestamp = "2025-06-01T11:59:00Z"
	tick.ConfidenceBps = 9000
	r = tick.ToReading("binance", now)
	assert.Equal(t, uint64(9000), r.ConfidenceBps)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC), r.Timestamp)
}

func TestRESTClientRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "APT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"type":"tick","symbol":"APT","price":"4.83","confidence_bps":9500}`))
	}))
	defer srv.Close()

	client := NewRESTClient("coingecko", srv.URL)
	reading, err := client.Read(context.Background(), "APT")
	require.NoError(t, err)
	assert.Equal(t, "coingecko", reading.Source)
	assert.Equal(t, "APT", reading.Symbol)
	assert.Equal(t, uint64(4_830_000), reading.Price)
	assert.Equal(t, uint64(9500), reading.ConfidenceBps)
}

func TestRESTClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewRESTClient("coingecko", srv.URL)
	_, err := client.Read(context.Background(), "APT")
	assert.Error(t, err)
}
