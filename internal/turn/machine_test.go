package turn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMachine() (*StateMachine, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	m := NewStateMachine(0, 0, 0)
	m.now = clk.now
	return m, clk
}

func TestFloorClaimAndReject(t *testing.T) {
	m, _ := newTestMachine()

	require.True(t, m.TrySpeechStart("a"))
	assert.Equal(t, StateASpeaking, m.GetStatus().State)
	assert.True(t, m.HoldsFloor("a"))

	// B is rejected while A speaks.
	assert.False(t, m.TrySpeechStart("b"))
	assert.False(t, m.HoldsFloor("b"))

	// A may continue speaking.
	assert.True(t, m.TrySpeechStart("a"))
}

func TestGraceReservesFloorThenReleases(t *testing.T) {
	m, clk := newTestMachine()

	require.True(t, m.TrySpeechStart("a"))
	require.True(t, m.OnSpeechEnd("a"))
	assert.Equal(t, StateAProcessing, m.GetStatus().State)

	// Inside the 2 s grace window B is still rejected, A may resume.
	clk.advance(1500 * time.Millisecond)
	assert.False(t, m.TrySpeechStart("b"))
	assert.True(t, m.TrySpeechStart("a"))
	assert.Equal(t, StateASpeaking, m.GetStatus().State)

	// Resuming cancelled the grace timer; end again and let it lapse.
	require.True(t, m.OnSpeechEnd("a"))
	clk.advance(2001 * time.Millisecond)
	assert.False(t, m.HoldsFloor("a"))
	assert.Equal(t, StateIdle, m.GetStatus().State)
	assert.True(t, m.TrySpeechStart("b"))
}

func TestAsymmetricGracePeriods(t *testing.T) {
	m, clk := newTestMachine()

	require.True(t, m.TrySpeechStart("b"))
	require.True(t, m.OnSpeechEnd("b"))

	// B's grace is only 1 s, so 1.5 s later the floor is free.
	clk.advance(1500 * time.Millisecond)
	assert.True(t, m.TrySpeechStart("a"))
	assert.Equal(t, StateASpeaking, m.GetStatus().State)
}

func TestSpeechEndWithoutFloor(t *testing.T) {
	m, _ := newTestMachine()

	assert.False(t, m.OnSpeechEnd("a"))

	require.True(t, m.TrySpeechStart("a"))
	assert.False(t, m.OnSpeechEnd("b"))
	assert.True(t, m.OnSpeechEnd("a"))
}

func TestEchoLockout(t *testing.T) {
	m, clk := newTestMachine()

	// 3 s of TTS plus the 200 ms buffer.
	m.LockUser("b", 3000)
	assert.True(t, m.IsLocked("b"))
	assert.False(t, m.TrySpeechStart("b"))

	// A is unaffected.
	assert.False(t, m.IsLocked("a"))
	assert.True(t, m.TrySpeechStart("a"))
	require.True(t, m.OnSpeechEnd("a"))

	clk.advance(3100 * time.Millisecond)
	assert.True(t, m.IsLocked("b"))
	clk.advance(200 * time.Millisecond)
	assert.False(t, m.IsLocked("b"))
}

func TestLockUserSkipsFloorHolder(t *testing.T) {
	m, _ := newTestMachine()

	require.True(t, m.TrySpeechStart("a"))
	m.LockUser("a", 5000)
	assert.False(t, m.IsLocked("a"))
}

func TestInterruptGrantsFloorAndClearsLock(t *testing.T) {
	m, clk := newTestMachine()

	require.True(t, m.TrySpeechStart("a"))
	require.True(t, m.OnSpeechEnd("a"))
	m.LockUser("b", 4000)
	require.True(t, m.IsLocked("b"))

	m.OnInterrupt("b")
	assert.False(t, m.IsLocked("b"))
	assert.True(t, m.HoldsFloor("b"))
	assert.Equal(t, StateBSpeaking, m.GetStatus().State)

	// B's speech_end is now accepted and starts B's grace.
	require.True(t, m.OnSpeechEnd("b"))
	assert.Equal(t, StateBProcessing, m.GetStatus().State)
	clk.advance(1001 * time.Millisecond)
	assert.Equal(t, StateIdle, m.GetStatus().State)
}

func TestStatusSnapshot(t *testing.T) {
	m, clk := newTestMachine()

	m.LockUser("b", 1000)
	require.True(t, m.TrySpeechStart("a"))

	s := m.GetStatus()
	assert.Equal(t, StateASpeaking, s.State)
	assert.Equal(t, "a", s.FloorHolder)
	assert.False(t, s.ALocked)
	assert.True(t, s.BLocked)
	assert.Equal(t, 1200, s.BLockRemainingMS)
	assert.Equal(t, float64(2000), s.GraceMS["a"])
	assert.Equal(t, float64(1000), s.GraceMS["b"])

	clk.advance(2 * time.Second)
	s = m.GetStatus()
	assert.False(t, s.BLocked)
	assert.Equal(t, 0, s.BLockRemainingMS)
}
