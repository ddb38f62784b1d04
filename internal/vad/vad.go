// Package vad provides voice-activity detection for the streaming pipeline:
// a per-window speech-probability model and the segment detector that turns
// window decisions into utterance boundaries.
package vad

// Threshold is the speech probability above which a window counts as speech.
const Threshold = 0.5

// Model scores fixed-size PCM windows for speech. Implementations hold
// per-stream state and are used from a single session's handler only.
type Model interface {
	// ResetStates clears internal state at the start of a new audio stream.
	ResetStates()
	// ProcessChunk scores one window of normalized [-1, 1] mono PCM and
	// reports (probability, probability >= Threshold).
	ProcessChunk(window []float32, sampleRate int) (float64, bool, error)
}
