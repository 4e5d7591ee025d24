package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketConnection wraps a gorilla connection for one user. Writes
// are serialized; gorilla connections do not allow concurrent writers.
type WebSocketConnection struct {
	conn      *websocket.Conn
	userID    string
	writeLock sync.Mutex
}

func NewWebSocketConnection(conn *websocket.Conn, userID string) *WebSocketConnection {
	return &WebSocketConnection{
		conn:   conn,
		userID: userID,
	}
}

func (c *WebSocketConnection) Send(message interface{}) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.conn.WriteJSON(message)
}

func (c *WebSocketConnection) Close() error {
	return c.conn.Close()
}

func (c *WebSocketConnection) UserID() string {
	return c.userID
}
