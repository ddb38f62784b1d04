// Package session manages the per-connection audio pipeline: raw chunk
// capture for archival, incremental WebM/Opus decoding, VAD windowing, and
// utterance accumulation between speech boundaries.
package session

import (
	"fmt"
	"log"
	"time"

	"realtime-speech-relay/internal/vad"
)

const (
	// SampleRate is the PCM rate the VAD pipeline runs at.
	SampleRate = 16000
	// ChunkSize is the VAD window in samples (~32 ms at 16 kHz).
	ChunkSize = 512

	// MinPartialSamples is how much utterance audio must accumulate before a
	// partial transcript job is worth launching (1 second).
	MinPartialSamples = SampleRate
)

// Decoder turns an incremental WebM/Opus byte stream into PCM.
type Decoder interface {
	// AddChunk ingests the next stream fragment and returns newly decoded
	// 16 kHz mono samples.
	AddChunk(data []byte) []float32
	// DecodeAll decodes the full accumulated stream at the source rate.
	DecodeAll() []float32
}

// Event is a speech boundary detected inside the incoming stream. On
// speech_end, UtterancePCM carries the full utterance audio for ASR.
type Event struct {
	vad.Event
	UtterancePCM []float32
}

// Session is the audio state for one WebSocket connection. It is driven
// entirely from the connection's receive loop and needs no locking.
type Session struct {
	ID        string
	Language  string
	StartedAt time.Time

	chunks   [][]byte
	decoder  Decoder
	model    vad.Model
	detector *vad.SegmentDetector

	pcmBuf    []float32
	utterance []float32
}

// NewSessionID builds a timestamped session identifier, unique down to the
// microsecond.
func NewSessionID() string {
	now := time.Now()
	return now.Format("20060102_150405") + fmt.Sprintf("_%06d", now.Nanosecond()/1000)
}

// New builds a session around the given decoder and VAD model. The model's
// state is reset so a reused model does not leak decisions across streams.
func New(id, language string, decoder Decoder, model vad.Model) *Session {
	model.ResetStates()
	return &Session{
		ID:        id,
		Language:  language,
		StartedAt: time.Now(),
		decoder:   decoder,
		model:     model,
		detector:  vad.NewSegmentDetector(500, SampleRate, ChunkSize),
	}
}

// AddChunk records a raw stream fragment for end-of-session archival.
func (s *Session) AddChunk(data []byte) {
	c := make([]byte, len(data))
	copy(c, data)
	s.chunks = append(s.chunks, c)
}

// ProcessForVAD decodes an incoming chunk, runs the VAD model over complete
// windows, and returns any speech boundary events. This path stays fast so
// the receive loop is never blocked; ASR runs elsewhere.
func (s *Session) ProcessForVAD(data []byte) []Event {
	pcm := s.decoder.AddChunk(data)
	if len(pcm) == 0 {
		return nil
	}
	s.pcmBuf = append(s.pcmBuf, pcm...)

	var events []Event
	i := 0
	for ; i+ChunkSize <= len(s.pcmBuf); i += ChunkSize {
		window := s.pcmBuf[i : i+ChunkSize]

		_, isSpeech, err := s.model.ProcessChunk(window, SampleRate)
		if err != nil {
			log.Printf("[Session %s] VAD error: %v", s.ID, err)
			isSpeech = false
		}

		ev := s.detector.Update(isSpeech)

		// Accumulate the current utterance while inside speech; a fresh
		// speech_start restarts the buffer at this window.
		if s.detector.IsSpeaking() {
			s.utterance = append(s.utterance, window...)
		}
		if ev.Type == vad.EventSpeechStart {
			s.utterance = append(s.utterance[:0], window...)
		}

		if ev.Type == vad.EventNone {
			continue
		}
		out := Event{Event: ev}
		if ev.Type == vad.EventSpeechEnd {
			out.UtterancePCM = append([]float32(nil), s.utterance...)
			s.utterance = s.utterance[:0]
		}
		events = append(events, out)
	}
	s.pcmBuf = append(s.pcmBuf[:0], s.pcmBuf[i:]...)

	return events
}

// IsSpeaking reports whether the detector is inside an utterance.
func (s *Session) IsSpeaking() bool {
	return s.detector.IsSpeaking()
}

// UtteranceSamples is the size of the in-progress utterance buffer.
func (s *Session) UtteranceSamples() int {
	return len(s.utterance)
}

// CopyUtterance snapshots the in-progress utterance for a partial ASR job.
func (s *Session) CopyUtterance() []float32 {
	return append([]float32(nil), s.utterance...)
}

// HasAudio reports whether any raw chunks were captured.
func (s *Session) HasAudio() bool {
	return len(s.chunks) > 0
}

// WebMData joins the captured raw chunks into one blob.
func (s *Session) WebMData() []byte {
	var total int
	for _, c := range s.chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}
