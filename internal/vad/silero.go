//go:build silero

package vad

import (
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"
)

// SileroModel adapts the Silero VAD (via silero-vad-go, cgo + onnxruntime)
// to the per-window Model interface.
//
// silero-vad-go is built for batch processing: Detect() walks a buffer in
// 512-sample windows and keeps trigger state across calls. For streaming we
// accumulate windows until a batch is ready, run Detect, and carry the
// speaking flag forward between batches.
type SileroModel struct {
	mu       sync.Mutex
	det      *speech.Detector
	buf      []float32
	speaking bool

	batchSize int
}

// NewSileroModel loads the ONNX model at modelPath. The detector only
// supports 16 kHz input.
func NewSileroModel(modelPath string) (*SileroModel, error) {
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           16000,
		Threshold:            Threshold,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("create silero detector: %w", err)
	}
	return &SileroModel{
		det:       det,
		batchSize: 8000, // ~0.5 s at 16 kHz
	}, nil
}

func (m *SileroModel) ResetStates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = m.buf[:0]
	m.speaking = false
	_ = m.det.Reset()
}

func (m *SileroModel) ProcessChunk(window []float32, sampleRate int) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buf = append(m.buf, window...)
	if len(m.buf) >= m.batchSize {
		batch := make([]float32, m.batchSize)
		copy(batch, m.buf[:m.batchSize])
		// Keep one window of overlap for trigger continuity.
		m.buf = append(m.buf[:0], m.buf[m.batchSize-len(window):]...)

		segments, err := m.det.Detect(batch)
		if err != nil {
			// "unexpected speech end" is routine in streaming use: trigger
			// state persists across Detect calls.
			if err.Error() != "unexpected speech end" {
				return 0, m.speaking, err
			}
			m.speaking = false
		}
		for _, seg := range segments {
			m.speaking = seg.SpeechEndAt <= 0
		}
	}

	if m.speaking {
		return 1, true, nil
	}
	return 0, false, nil
}

// Close releases the underlying onnxruntime session.
func (m *SileroModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.det != nil {
		_ = m.det.Destroy()
		m.det = nil
	}
}
