package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-speech-relay/internal/vad"
)

// fakeDecoder hands back queued PCM regardless of input bytes.
type fakeDecoder struct {
	queue [][]float32
}

func (d *fakeDecoder) AddChunk(data []byte) []float32 {
	if len(d.queue) == 0 {
		return nil
	}
	out := d.queue[0]
	d.queue = d.queue[1:]
	return out
}

func (d *fakeDecoder) DecodeAll() []float32 { return nil }

// scriptedModel marks windows as speech according to a script, then silence.
type scriptedModel struct {
	script []bool
	resets int
}

func (m *scriptedModel) ResetStates() { m.resets++ }

func (m *scriptedModel) ProcessChunk(window []float32, sampleRate int) (float64, bool, error) {
	if len(m.script) == 0 {
		return 0, false, nil
	}
	isSpeech := m.script[0]
	m.script = m.script[1:]
	if isSpeech {
		return 1, true, nil
	}
	return 0, false, nil
}

func windows(isSpeech bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = isSpeech
	}
	return out
}

func TestSessionResetsModel(t *testing.T) {
	model := &scriptedModel{}
	New("test", "en", &fakeDecoder{}, model)
	assert.Equal(t, 1, model.resets)
}

func TestSessionUtteranceLifecycle(t *testing.T) {
	// 20 speech windows followed by enough silence to close the utterance.
	script := append(windows(true, 20), windows(false, 16)...)
	model := &scriptedModel{script: script}
	dec := &fakeDecoder{queue: [][]float32{make([]float32, 36*ChunkSize)}}

	sess := New("test", "en", dec, model)

	events := sess.ProcessForVAD([]byte{1})
	require.Len(t, events, 2)

	assert.Equal(t, vad.EventSpeechStart, events[0].Type)
	assert.Nil(t, events[0].UtterancePCM)

	assert.Equal(t, vad.EventSpeechEnd, events[1].Type)
	// The utterance carries the speech windows plus the trailing silence
	// consumed before the detector closed it.
	assert.Len(t, events[1].UtterancePCM, 35*ChunkSize)
	assert.InDelta(t, 0.64, events[1].Duration, 0.001) // 20 windows x 32 ms

	// Utterance buffer cleared after speech_end.
	assert.False(t, sess.IsSpeaking())
	assert.Zero(t, sess.UtteranceSamples())
}

func TestSessionPartialBufferGrowsWhileSpeaking(t *testing.T) {
	model := &scriptedModel{script: windows(true, 40)}
	dec := &fakeDecoder{queue: [][]float32{
		make([]float32, 10*ChunkSize),
		make([]float32, 30*ChunkSize),
	}}

	sess := New("test", "en", dec, model)

	sess.ProcessForVAD([]byte{1})
	assert.True(t, sess.IsSpeaking())
	assert.Equal(t, 10*ChunkSize, sess.UtteranceSamples())
	assert.Less(t, sess.UtteranceSamples(), MinPartialSamples)

	sess.ProcessForVAD([]byte{2})
	assert.Equal(t, 40*ChunkSize, sess.UtteranceSamples())
	assert.GreaterOrEqual(t, sess.UtteranceSamples(), MinPartialSamples)

	snap := sess.CopyUtterance()
	assert.Len(t, snap, 40*ChunkSize)
}

func TestSessionBuffersIncompleteWindows(t *testing.T) {
	model := &scriptedModel{script: windows(true, 4)}
	dec := &fakeDecoder{queue: [][]float32{
		make([]float32, ChunkSize/2),
		make([]float32, ChunkSize), // completes one window, half left over
	}}

	sess := New("test", "en", dec, model)

	assert.Empty(t, sess.ProcessForVAD([]byte{1}))
	assert.False(t, sess.IsSpeaking())

	events := sess.ProcessForVAD([]byte{2})
	require.Len(t, events, 1)
	assert.Equal(t, vad.EventSpeechStart, events[0].Type)
	assert.Equal(t, ChunkSize, sess.UtteranceSamples())
}

func TestSessionNoDecodedAudio(t *testing.T) {
	sess := New("test", "en", &fakeDecoder{}, &scriptedModel{})
	assert.Empty(t, sess.ProcessForVAD([]byte{1, 2, 3}))
}

func TestSessionChunkCapture(t *testing.T) {
	sess := New("test", "en", &fakeDecoder{}, &scriptedModel{})
	assert.False(t, sess.HasAudio())

	sess.AddChunk([]byte{1, 2})
	sess.AddChunk([]byte{3})
	require.True(t, sess.HasAudio())
	assert.Equal(t, []byte{1, 2, 3}, sess.WebMData())
}
