package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vatfusion/vatfusion/internal/fusion"
	"github.com/vatfusion/vatfusion/internal/weather"
	"github.com/vatfusion/vatfusion/internal/websocket"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

// Router wires the API handlers into a chi mux
type Router struct {
	handler *Handler
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(fusionService *fusion.Service, weatherService *weather.Service, wsServer *websocket.Server, loggerObj *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(fusionService, weatherService, wsServer, loggerObj),
		logger:  loggerObj.Named("api-router"),
	}
}

// Routes returns the HTTP handler for all endpoints
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/pilots", rt.handler.GetPilots)
		r.Get("/pilots/{uid}", rt.handler.GetPilotByUID)
		r.Get("/controllers", rt.handler.GetControllers)
		r.Get("/airports", rt.handler.GetAirports)
		r.Get("/airports/{icao}", rt.handler.GetAirportByICAO)
		r.Get("/dashboard", rt.handler.GetDashboard)
		r.Get("/wx/{station}", rt.handler.GetWeather)
		r.Get("/status", rt.handler.GetStatus)
	})

	r.Get("/ws", rt.handler.HandleWebSocket)

	return r
}
