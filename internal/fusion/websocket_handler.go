package fusion

import (
	"github.com/vatfusion/vatfusion/internal/websocket"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

// WebSocketHandler handles incoming WebSocket messages for fused data
type WebSocketHandler struct {
	service *Service
	logger  *logger.Logger
}

// NewWebSocketHandler creates a new WebSocket message handler
func NewWebSocketHandler(service *Service, loggerObj *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
		logger:  loggerObj.Named("fusion-ws-handler"),
	}
}

// HandleMessage handles incoming WebSocket messages
func (h *WebSocketHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeBulkRequest:
		return h.handleBulkRequest(client)
	default:
		h.logger.Debug("Unhandled message type", logger.String("type", messageType))
		return nil
	}
}

// handleBulkRequest sends the full fused collections to one client so a
// late subscriber can seed its state before applying deltas
func (h *WebSocketHandler) handleBulkRequest(client *websocket.Client) error {
	h.logger.Debug("Handling bulk data request")

	pilots := h.service.GetPilots()
	controllers := h.service.GetControllers()
	airports := h.service.GetAirports()

	message := &websocket.Message{
		Type: websocket.MessageTypeBulkResponse,
		Data: map[string]any{
			"pilots":      pilots,
			"controllers": controllers,
			"airports":    airports,
			"dashboard":   h.service.GetDashboard(),
		},
	}

	if !client.SendMessage(message) {
		h.logger.Warn("Failed to send bulk response, client send buffer full")
	}
	return nil
}
