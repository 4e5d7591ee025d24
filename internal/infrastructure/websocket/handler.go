package websocket

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"marketplace/internal/domain"
	"marketplace/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// NotificationHandler upgrades /ws/notifications/{userID} requests and
// keeps the connection registered until the peer goes away. Incoming
// frames are ignored; the socket is delivery-only.
type NotificationHandler struct {
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewNotificationHandler(connManager domain.ConnectionManager, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		connManager: connManager,
		log:         log,
	}
}

func (h *NotificationHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userID"]
	if userID == "" {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, userID)
	if err := h.connManager.RegisterConnection(userID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "user_id", userID, "error", err)
		conn.Close()
		return
	}

	go h.drainUntilClosed(wsConn, userID)
}

func (h *NotificationHandler) drainUntilClosed(conn *WebSocketConnection, userID string) {
	defer func() {
		h.connManager.UnregisterConnection(userID, conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			return
		}
	}
}
