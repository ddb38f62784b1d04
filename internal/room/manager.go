package room

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Characters for room codes, excluding ambiguous ones (O/0, I/1/L).
const roomChars = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const roomCodeLen = 6

// Manager tracks active conversation rooms by code.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	rng   *rand.Rand
}

func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateRoom generates a unique human-friendly code and registers a new room
// for the given language pair.
func (m *Manager) CreateRoom(languageA, languageB string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	var code string
	for {
		var b strings.Builder
		for i := 0; i < roomCodeLen; i++ {
			b.WriteByte(roomChars[m.rng.Intn(len(roomChars))])
		}
		code = b.String()
		if _, taken := m.rooms[code]; !taken {
			break
		}
	}

	r := NewRoom(code, languageA, languageB)
	m.rooms[code] = r
	return r
}

// Get returns the room with the given code, or nil.
func (m *Manager) Get(code string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[code]
}

// Remove drops a room from the registry.
func (m *Manager) Remove(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, code)
}

// RoomInfo is the lobby view of a room.
type RoomInfo struct {
	RoomID       string            `json:"room_id"`
	LanguageA    string            `json:"language_a"`
	LanguageB    string            `json:"language_b"`
	Participants []ParticipantInfo `json:"participants"`
	IsFull       bool              `json:"is_full"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ParticipantInfo is the public slice of a participant.
type ParticipantInfo struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

// List snapshots all active rooms for the lobby endpoint.
func (m *Manager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RoomInfo, 0, len(m.rooms))
	for _, r := range m.rooms {
		info := RoomInfo{
			RoomID:    r.ID,
			LanguageA: r.LanguageA,
			LanguageB: r.LanguageB,
			IsFull:    r.IsFull(),
			CreatedAt: r.CreatedAt,
		}
		for _, p := range r.Participants() {
			info.Participants = append(info.Participants, ParticipantInfo{
				Name:     p.Name(),
				Language: p.Language(),
			})
		}
		out = append(out, info)
	}
	return out
}

// Count returns the number of active rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
