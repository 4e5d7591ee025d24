package websocket

import (
	"fmt"
	"sync"

	"marketplace/internal/domain"
	"marketplace/pkg/logger"
)

// ConnectionManager tracks live notification connections per user. A
// user may hold several (multiple tabs/devices); delivery goes to all
// of them, and an offline user simply receives nothing.
type ConnectionManager struct {
	userConns map[string][]domain.WebSocketConnection
	mutex     sync.RWMutex
	log       logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		userConns: make(map[string][]domain.WebSocketConnection),
		log:       log,
	}
}

func (cm *ConnectionManager) RegisterConnection(userID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.userConns[userID] = append(cm.userConns[userID], conn)

	cm.log.Info("Connection registered", "user_id", userID)
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(userID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	var remaining []domain.WebSocketConnection
	for _, existing := range cm.userConns[userID] {
		if existing != conn {
			remaining = append(remaining, existing)
		}
	}

	if len(remaining) == 0 {
		delete(cm.userConns, userID)
	} else {
		cm.userConns[userID] = remaining
	}

	cm.log.Info("Connection unregistered", "user_id", userID)
	return nil
}

func (cm *ConnectionManager) GetConnectionsForUser(userID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return append([]domain.WebSocketConnection(nil), cm.userConns[userID]...)
}

// NotifyUser sends to every live connection for the user. Send failures
// are logged per connection; a user with no connections is a quiet
// no-op (they will not get a live notification). Reaching at least one
// connection counts as delivery; reaching none returns an error so the
// worker's retry policy applies.
func (cm *ConnectionManager) NotifyUser(userID string, message interface{}) error {
	connections := cm.GetConnectionsForUser(userID)
	if len(connections) == 0 {
		cm.log.Debug("No live connections for user", "user_id", userID)
		return nil
	}

	var delivered int
	var lastErr error
	for _, conn := range connections {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", userID, "error", err)
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("no connection reached user %s: %w", userID, lastErr)
	}
	return nil
}
