package monitor

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fxnode/fax-nexus/pkg/journal"
	"github.com/fxnode/fax-nexus/pkg/logger"
)

// StationStatus is one station's live state as reported to the API
type StationStatus struct {
	Name      string `json:"name"`
	Mode      string `json:"mode"`
	Phase     string `json:"phase"`
	State     string `json:"state"`
	BitRate   int    `json:"bit_rate"`
	ECM       bool   `json:"ecm"`
	FarIdent  string `json:"far_ident"`
	InCall    bool   `json:"in_call"`
}

// StatusProvider supplies live station state to the API
type StatusProvider func() []StationStatus

// API handles REST API endpoints
type API struct {
	logger   *logger.Logger
	stations StatusProvider
	calls    *journal.CallRepository
}

// NewAPI creates a new API instance. stations and calls may be nil, in
// which case the corresponding endpoints report empty data.
func NewAPI(log *logger.Logger, stations StatusProvider, calls *journal.CallRepository) *API {
	return &API{
		logger:   log,
		stations: stations,
		calls:    calls,
	}
}

// HandleStatus handles the /api/status endpoint
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]interface{}{
		"status":  "running",
		"service": "fax-nexus",
		"version": "dev",
	}

	json.NewEncoder(w).Encode(response)
}

// HandleStations handles the /api/stations endpoint
func (a *API) HandleStations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	stations := []StationStatus{}
	if a.stations != nil {
		stations = a.stations()
	}
	json.NewEncoder(w).Encode(stations)
}

// HandleCalls handles the /api/calls endpoint
func (a *API) HandleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if a.calls == nil {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]interface{}{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	calls, err := a.calls.GetRecent(limit)
	if err != nil {
		a.logger.Error("Failed to query call journal", logger.Error(err))
		http.Error(w, "journal query failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(calls)
}
