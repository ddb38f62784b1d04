package vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constWindow(v float32, n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = v
	}
	return w
}

func TestEnergyModelSpeechDecision(t *testing.T) {
	m := NewEnergyModel()

	// Silence.
	prob, isSpeech, err := m.ProcessChunk(constWindow(0, 512), 16000)
	require.NoError(t, err)
	assert.Zero(t, prob)
	assert.False(t, isSpeech)

	// Typical speech level: mean square 0.01, scaled well past the cap.
	prob, isSpeech, err = m.ProcessChunk(constWindow(0.1, 512), 16000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, prob)
	assert.True(t, isSpeech)

	// Room noise stays under the threshold.
	prob, isSpeech, err = m.ProcessChunk(constWindow(0.005, 512), 16000)
	require.NoError(t, err)
	assert.Less(t, prob, Threshold)
	assert.False(t, isSpeech)
}

func TestEnergyModelEmptyWindow(t *testing.T) {
	m := NewEnergyModel()
	prob, isSpeech, err := m.ProcessChunk(nil, 16000)
	require.NoError(t, err)
	assert.Zero(t, prob)
	assert.False(t, isSpeech)
}
