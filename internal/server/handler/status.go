package handler

import (
	"net/http"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/registry"
)

// StatusHandler serves the backend status for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	registry  *registry.Registry
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, startedAt time.Time, reg *registry.Registry) *StatusHandler {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		registry:  reg,
	}
}

// GetStatus responds with the run mode, uptime, and marketplace totals.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	marketplaces := 0
	markets := 0
	var volume uint64
	if h.registry != nil {
		for _, e := range h.registry.List() {
			marketplaces++
			markets += e.MarketCount
			volume += e.TotalVolume
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": uptime,
		"marketplaces":   marketplaces,
		"markets":        markets,
		"total_volume":   volume,
	})
}
