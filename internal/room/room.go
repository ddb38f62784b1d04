// Package room hosts two-party conversation rooms: participant bookkeeping,
// human-friendly room codes, and the bidirectional WebSocket handler.
package room

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"realtime-speech-relay/internal/session"
	"realtime-speech-relay/internal/turn"
)

// Participant is one user inside a Room. It wraps the WebSocket together
// with the per-connection audio session and the barge-in flag, and satisfies
// the dispatch peer contract.
type Participant struct {
	conn     *websocket.Conn
	name     string
	language string
	role     string // "a" (creator) or "b" (joiner)

	Session *session.Session

	sendMu sync.Mutex // gorilla allows one concurrent writer
	open   atomic.Bool

	ttsCancelled atomic.Bool
	utteranceID  atomic.Int64
}

// NewParticipant wraps a connection; the role is assigned by Room.Seat.
func NewParticipant(conn *websocket.Conn, name, language string, sess *session.Session) *Participant {
	p := &Participant{
		conn:     conn,
		name:     name,
		language: language,
		Session:  sess,
	}
	p.open.Store(true)
	return p
}

func (p *Participant) Role() string     { return p.role }
func (p *Participant) Name() string     { return p.name }
func (p *Participant) Language() string { return p.language }
func (p *Participant) SocketOpen() bool { return p.open.Load() }

// MarkClosed stops all further sends to this participant.
func (p *Participant) MarkClosed() { p.open.Store(false) }

// SendJSON writes a JSON text frame, swallowing errors if the socket closed.
func (p *Participant) SendJSON(v any) {
	if !p.open.Load() {
		return
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if err := p.conn.WriteJSON(v); err != nil {
		p.open.Store(false)
	}
}

// SendBinary writes a binary frame, swallowing errors if the socket closed.
func (p *Participant) SendBinary(data []byte) {
	if !p.open.Load() {
		return
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		p.open.Store(false)
	}
}

// UtteranceID is the participant's current utterance counter.
func (p *Participant) UtteranceID() int { return int(p.utteranceID.Load()) }

// NextUtterance bumps the counter at speech_start, invalidating in-flight
// partials from the previous utterance.
func (p *Participant) NextUtterance() int { return int(p.utteranceID.Add(1)) }

// CancelTTS flags in-flight synthesized audio headed for this participant as
// stale (barge-in).
func (p *Participant) CancelTTS() { p.ttsCancelled.Store(true) }

func (p *Participant) TTSCancelled() bool { return p.ttsCancelled.Load() }
func (p *Participant) ClearTTSCancelled() { p.ttsCancelled.Store(false) }

// Room is a conversation between two participants. The creator defines both
// languages up front; the joiner's language is auto-assigned.
type Room struct {
	ID        string
	LanguageA string // creator's language
	LanguageB string // joiner's language
	CreatedAt time.Time

	Turn *turn.StateMachine

	mu           sync.Mutex
	participants []*Participant
}

func NewRoom(id, languageA, languageB string) *Room {
	return &Room{
		ID:        id,
		LanguageA: languageA,
		LanguageB: languageB,
		CreatedAt: time.Now(),
		Turn:      turn.NewStateMachine(0, 0, 0),
	}
}

// IsFull reports whether both seats are taken.
func (r *Room) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants) >= 2
}

// IsEmpty reports whether everyone has left.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants) == 0
}

// Seat assigns the next free role to p and adds them to the room: "a" for
// the first seat (creator), "b" for the second (joiner). Returns false when
// both seats are already taken, so racing joiners cannot overfill the room.
func (r *Room) Seat(p *Participant) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.participants) >= 2 {
		return "", false
	}
	if len(r.participants) == 0 {
		p.role = "a"
	} else {
		p.role = "b"
	}
	r.participants = append(r.participants, p)
	return p.role, true
}

// Seats returns the number of occupied seats.
func (r *Room) Seats() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (r *Room) RemoveParticipant(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, q := range r.participants {
		if q == p {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return
		}
	}
}

// Partner returns the other participant, or nil.
func (r *Room) Partner(p *Participant) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.participants {
		if q != p {
			return q
		}
	}
	return nil
}

// Participants returns a snapshot of the seated participants.
func (r *Room) Participants() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Participant, len(r.participants))
	copy(out, r.participants)
	return out
}
