// Package turn arbitrates the conversational floor in a two-party room and
// applies echo-suppression lockouts after synthesized audio playback.
package turn

import (
	"sync"
	"time"
)

// FloorState is the observable state of the conversation turn.
type FloorState string

const (
	StateIdle        FloorState = "idle"
	StateASpeaking   FloorState = "a_speaking"
	StateAProcessing FloorState = "a_processing"
	StateBSpeaking   FloorState = "b_speaking"
	StateBProcessing FloorState = "b_processing"
)

const (
	// DefaultLockoutBufferMS is extra silence appended to the TTS duration
	// before unlocking a mic, so the playback tail cannot trigger VAD.
	DefaultLockoutBufferMS = 200

	// DefaultGraceAMS reserves the floor for the room creator after
	// speech_end. Creators tend to ask long, multi-part questions, so their
	// pause allowance is longer.
	DefaultGraceAMS = 2000

	// DefaultGraceBMS is the joiner's shorter grace period.
	DefaultGraceBMS = 1000
)

// StateMachine tracks who holds the floor in a two-party room. Roles are "a"
// (room creator) and "b" (joiner). After speech_end the floor stays reserved
// for the speaker for a per-role grace period; the floor is released lazily
// the next time any floor-sensitive method runs.
//
// Safe for concurrent use by both participants' receive loops.
type StateMachine struct {
	mu sync.Mutex

	lockoutBufferMS float64
	graceMS         map[string]float64

	state       FloorState
	floorHolder string
	lockout     map[string]time.Time
	graceExpiry time.Time

	now func() time.Time
}

// Status is a snapshot for logging and the diagnostic feed.
type Status struct {
	State            FloorState         `json:"state"`
	FloorHolder      string             `json:"floor_holder"`
	GraceMS          map[string]float64 `json:"grace_ms"`
	ALocked          bool               `json:"a_locked"`
	BLocked          bool               `json:"b_locked"`
	ALockRemainingMS int                `json:"a_lock_remaining_ms"`
	BLockRemainingMS int                `json:"b_lock_remaining_ms"`
}

// NewStateMachine builds a machine with the given timings; pass zeros to use
// the defaults.
func NewStateMachine(lockoutBufferMS, graceAMS, graceBMS float64) *StateMachine {
	if lockoutBufferMS <= 0 {
		lockoutBufferMS = DefaultLockoutBufferMS
	}
	if graceAMS <= 0 {
		graceAMS = DefaultGraceAMS
	}
	if graceBMS <= 0 {
		graceBMS = DefaultGraceBMS
	}
	return &StateMachine{
		lockoutBufferMS: lockoutBufferMS,
		graceMS:         map[string]float64{"a": graceAMS, "b": graceBMS},
		state:           StateIdle,
		lockout:         map[string]time.Time{},
		now:             time.Now,
	}
}

// LockoutBufferMS is the extra lockout applied on top of TTS duration.
func (m *StateMachine) LockoutBufferMS() float64 {
	return m.lockoutBufferMS
}

// checkGrace releases the floor if the grace period has expired.
// Callers must hold mu.
func (m *StateMachine) checkGrace() {
	if m.floorHolder != "" && !m.graceExpiry.IsZero() && !m.now().Before(m.graceExpiry) {
		m.floorHolder = ""
		m.graceExpiry = time.Time{}
		m.state = StateIdle
	}
}

func (m *StateMachine) lockedAt(role string, at time.Time) bool {
	return at.Before(m.lockout[role])
}

func speakingState(role string) FloorState {
	if role == "a" {
		return StateASpeaking
	}
	return StateBSpeaking
}

// IsLocked reports whether the role's mic is echo-locked.
func (m *StateMachine) IsLocked(role string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockedAt(role, m.now())
}

// HoldsFloor reports whether the role currently owns the floor.
func (m *StateMachine) HoldsFloor(role string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkGrace()
	return m.floorHolder == role
}

// TrySpeechStart is called on a VAD speech_start. It grants the floor when it
// is free or already held by the role, and rejects when the role is locked or
// the partner holds the floor.
func (m *StateMachine) TrySpeechStart(role string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkGrace()

	if m.lockedAt(role, m.now()) {
		return false
	}
	if m.floorHolder == "" || m.floorHolder == role {
		m.floorHolder = role
		m.graceExpiry = time.Time{}
		m.state = speakingState(role)
		return true
	}
	return false
}

// OnSpeechEnd is called on a VAD speech_end. It moves the holder into the
// processing state and starts the role's grace timer. Returns false if the
// role did not hold the floor.
func (m *StateMachine) OnSpeechEnd(role string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.floorHolder != role {
		return false
	}
	if role == "a" {
		m.state = StateAProcessing
	} else {
		m.state = StateBProcessing
	}
	m.graceExpiry = m.now().Add(time.Duration(m.graceMS[role] * float64(time.Millisecond)))
	return true
}

// LockUser locks a role's mic for echo suppression after TTS playback. It has
// no effect when the role holds the floor: an active speaker is never locked.
func (m *StateMachine) LockUser(role string, durationMS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.floorHolder == role {
		return
	}
	total := durationMS + m.lockoutBufferMS
	m.lockout[role] = m.now().Add(time.Duration(total * float64(time.Millisecond)))
}

// OnInterrupt handles barge-in: the interrupter's lockout is cleared and the
// floor is handed to them immediately, so the speech_end that follows will be
// accepted and routed through the pipeline.
func (m *StateMachine) OnInterrupt(role string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.lockout, role)
	m.floorHolder = role
	m.graceExpiry = time.Time{}
	m.state = speakingState(role)
}

// GetStatus returns a snapshot of the machine for diagnostics.
func (m *StateMachine) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkGrace()

	now := m.now()
	remaining := func(role string) int {
		d := m.lockout[role].Sub(now)
		if d < 0 {
			d = 0
		}
		return int(d / time.Millisecond)
	}
	return Status{
		State:            m.state,
		FloorHolder:      m.floorHolder,
		GraceMS:          map[string]float64{"a": m.graceMS["a"], "b": m.graceMS["b"]},
		ALocked:          m.lockedAt("a", now),
		BLocked:          m.lockedAt("b", now),
		ALockRemainingMS: remaining("a"),
		BLockRemainingMS: remaining("b"),
	}
}
