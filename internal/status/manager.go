// Package status broadcasts room turn-state snapshots to diagnostic
// WebSocket subscribers.
package status

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"realtime-speech-relay/internal/turn"
)

// Update is one turn-state snapshot for a room.
type Update struct {
	RoomID string      `json:"room_id"`
	Event  string      `json:"event"` // what triggered the snapshot
	Turn   turn.Status `json:"turn"`
}

// subscriber pairs a connection with a write lock. Publish runs from both
// participants' receive loops, and gorilla allows only one concurrent writer
// per connection.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Manager manages per-room diagnostic subscribers.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
}

func NewManager() *Manager {
	return &Manager{
		subscribers: make(map[string][]*subscriber),
	}
}

// Subscribe adds a WebSocket connection to receive turn updates for a room.
func (m *Manager) Subscribe(roomID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribers[roomID] = append(m.subscribers[roomID], &subscriber{conn: conn})
	log.Printf("[Room %s] Status subscriber added (total: %d)", roomID, len(m.subscribers[roomID]))
}

// Unsubscribe removes a WebSocket connection.
func (m *Manager) Unsubscribe(roomID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subscribers[roomID]
	for i, sub := range subs {
		if sub.conn == conn {
			m.subscribers[roomID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subscribers[roomID]) == 0 {
		delete(m.subscribers, roomID)
	}
}

// Publish sends a snapshot to every subscriber of the room. Failed
// connections are dropped.
func (m *Manager) Publish(update Update) {
	m.mu.RLock()
	subs := make([]*subscriber, len(m.subscribers[update.RoomID]))
	copy(subs, m.subscribers[update.RoomID])
	m.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("Error marshaling status update: %v", err)
		return
	}

	for _, sub := range subs {
		if err := sub.send(data); err != nil {
			m.Unsubscribe(update.RoomID, sub.conn)
		}
	}
}
