package ws

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/darkden-lab/argus-tracker/internal/auth"
	"github.com/darkden-lab/argus-tracker/internal/httputil"
	"github.com/darkden-lab/argus-tracker/internal/middleware"
)

// WSHandler upgrades HTTP connections to WebSocket and spawns the read/write
// pumps for the new client.
type WSHandler struct {
	hub        *Hub
	jwtService *auth.JWTService
	upgrader   websocket.Upgrader
}

func NewWSHandler(hub *Hub, jwtService *auth.JWTService, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:        hub,
		jwtService: jwtService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     OriginChecker(allowedOrigins),
		},
	}
}

// RegisterRoutes wires the WebSocket endpoint.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)
}

// ServeWS authenticates with the `token` query parameter or a bearer header,
// then upgrades the connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r)
	}
	if token == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		return
	}

	client := NewClient(h.hub, conn, claims.UserID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
