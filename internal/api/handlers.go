package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vatfusion/vatfusion/internal/fusion"
	"github.com/vatfusion/vatfusion/internal/weather"
	"github.com/vatfusion/vatfusion/internal/websocket"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	fusionService  *fusion.Service
	weatherService *weather.Service
	wsServer       *websocket.Server
	logger         *logger.Logger
	startedAt      time.Time
}

// NewHandler creates a new API handler
func NewHandler(fusionService *fusion.Service, weatherService *weather.Service, wsServer *websocket.Server, loggerObj *logger.Logger) *Handler {
	return &Handler{
		fusionService:  fusionService,
		weatherService: weatherService,
		wsServer:       wsServer,
		logger:         loggerObj.Named("api-handler"),
		startedAt:      time.Now().UTC(),
	}
}

// GetPilots returns the fused pilot collection, optionally filtered by
// departure, arrival, or flight phase query parameters
func (h *Handler) GetPilots(w http.ResponseWriter, r *http.Request) {
	pilots := h.fusionService.GetPilots()

	departure := strings.ToUpper(r.URL.Query().Get("departure"))
	arrival := strings.ToUpper(r.URL.Query().Get("arrival"))
	phase := r.URL.Query().Get("phase")

	if departure != "" || arrival != "" || phase != "" {
		filtered := make([]*fusion.PilotRecord, 0, len(pilots))
		for _, p := range pilots {
			if departure != "" && (p.FlightPlan == nil || p.FlightPlan.Departure != departure) {
				continue
			}
			if arrival != "" && (p.FlightPlan == nil || p.FlightPlan.Arrival != arrival) {
				continue
			}
			if phase != "" && (p.Times == nil || p.Times.Phase.String() != phase) {
				continue
			}
			filtered = append(filtered, p)
		}
		pilots = filtered
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"pilots": pilots,
		"count":  len(pilots),
	})
}

// GetPilotByUID returns one pilot record
func (h *Handler) GetPilotByUID(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if uid == "" {
		http.Error(w, "Missing pilot UID", http.StatusBadRequest)
		return
	}

	pilot, found := h.fusionService.GetPilot(uid)
	if !found {
		http.Error(w, "Pilot not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, pilot)
}

// GetControllers returns the merged controller groups
func (h *Handler) GetControllers(w http.ResponseWriter, r *http.Request) {
	controllers := h.fusionService.GetControllers()

	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := make([]*fusion.MergedController, 0, len(controllers))
		for _, c := range controllers {
			if c.Kind == kind {
				filtered = append(filtered, c)
			}
		}
		controllers = filtered
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"controllers": controllers,
		"count":       len(controllers),
	})
}

// GetAirports returns the airport traffic aggregates
func (h *Handler) GetAirports(w http.ResponseWriter, r *http.Request) {
	airports := h.fusionService.GetAirports()

	WriteJSON(w, http.StatusOK, map[string]any{
		"airports": airports,
		"count":    len(airports),
	})
}

// GetAirportByICAO returns one airport aggregate
func (h *Handler) GetAirportByICAO(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToUpper(chi.URLParam(r, "icao"))
	if icao == "" {
		http.Error(w, "Missing airport code", http.StatusBadRequest)
		return
	}

	airport, found := h.fusionService.GetAirport(icao)
	if !found {
		http.Error(w, "Airport not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, airport)
}

// GetDashboard returns the latest dashboard statistics
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.fusionService.GetDashboard())
}

// GetWeather returns the cached weather text for one station
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	station := strings.ToUpper(chi.URLParam(r, "station"))
	if station == "" {
		http.Error(w, "Missing station code", http.StatusBadRequest)
		return
	}

	report := h.weatherService.Lookup(station)
	if report.METAR == nil && report.TAF == nil {
		http.Error(w, "Station not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, report)
}

// GetStatus returns the service health summary
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.fusionService.GetStatus()
	wxStats := h.weatherService.GetStats()

	response := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"fusion":         status,
		"weather":        wxStats,
		"ws_clients":     h.wsServer.ClientCount(),
	}
	if !status.LastCycleOK {
		response["status"] = "degraded"
	}

	WriteJSON(w, http.StatusOK, response)
}

// HandleWebSocket upgrades the connection and hands it to the hub
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
