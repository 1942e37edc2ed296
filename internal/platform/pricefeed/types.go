// Package pricefeed contains clients for external price providers. Both
// transports normalize provider payloads into domain.SourceReading.
package pricefeed

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// PriceScale converts provider decimal prices into fixed-point integers.
// A price of 4.83 becomes 4_830_000.
const PriceScale = 1_000_000

// flexPrice unmarshals from a JSON number or a decimal string, since
// providers disagree on how they encode prices.
type flexPrice uint64

func (f *flexPrice) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 {
			return fmt.Errorf("pricefeed: negative price %v", n)
		}
		*f = flexPrice(math.Round(n * PriceScale))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("pricefeed: parse price %q: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("pricefeed: negative price %q", s)
	}
	*f = flexPrice(math.Round(v * PriceScale))
	return nil
}

// TickMessage is one price update as received from a provider.
type TickMessage struct {
	Type          string    `json:"type"`
	Symbol        string    `json:"symbol"`
	Price         flexPrice `json:"price"`
	ConfidenceBps uint64    `json:"confidence_bps"`
	Timestamp     string    `json:"timestamp"`
}

// ToReading converts a tick into a domain reading attributed to the named
// source. A missing or unparseable timestamp falls back to now.
func (t *TickMessage) ToReading(source string, now time.Time) domain.SourceReading {
	ts := now
	if t.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, t.Timestamp); err == nil {
			ts = parsed
		}
	}
	confidence := t.ConfidenceBps
	if confidence == 0 || confidence > 10_000 {
		confidence = 10_000
	}
	return domain.SourceReading{
		Source:        source,
		Symbol:        strings.ToUpper(strings.TrimSpace(t.Symbol)),
		Price:         uint64(t.Price),
		ConfidenceBps: confidence,
		Timestamp:     ts,
	}
}

// subscribeCommand is the JSON command sent over the websocket to start or
// stop a symbol subscription.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}
