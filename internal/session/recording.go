package session

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"realtime-speech-relay/internal/audio"
	"realtime-speech-relay/internal/webm"
)

// SaveRecording decodes the captured stream and writes it as a 48 kHz 16-bit
// mono WAV under dir. When decoding fails, the raw WebM blob is dumped
// instead so the session audio is not lost, and an error is returned.
func (s *Session) SaveRecording(dir string) (string, error) {
	if !s.HasAudio() {
		return "", fmt.Errorf("session %s has no audio", s.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create recordings dir: %w", err)
	}

	pcm := s.decoder.DecodeAll()
	if len(pcm) == 0 {
		debugPath := filepath.Join(dir, s.ID+".webm")
		if err := os.WriteFile(debugPath, s.WebMData(), 0o644); err != nil {
			return "", fmt.Errorf("save raw webm: %w", err)
		}
		log.Printf("[Session %s] Decode failed, saved raw WebM to %s", s.ID, debugPath)
		return "", fmt.Errorf("session %s could not be decoded", s.ID)
	}

	wavBytes := audio.PCM16ToWAV(audio.Float32ToPCM16(pcm), webm.SourceRate)
	outPath := filepath.Join(dir, s.ID+".wav")
	if err := os.WriteFile(outPath, wavBytes, 0o644); err != nil {
		return "", fmt.Errorf("save recording: %w", err)
	}
	return outPath, nil
}

// TTSRecorder accumulates synthesized speech across a session's utterances so
// the whole run can be saved as one WAV file.
type TTSRecorder struct {
	pcm        []byte
	sampleRate int
}

// Add extracts the raw PCM payload from a synthesized WAV buffer and appends
// it. The first buffer fixes the output sample rate.
func (r *TTSRecorder) Add(wavBytes []byte) {
	info, err := audio.ParseWAV(wavBytes)
	if err != nil {
		log.Printf("[TTS] Skipping unparseable WAV: %v", err)
		return
	}
	if r.sampleRate == 0 {
		r.sampleRate = info.SampleRate
	}
	r.pcm = append(r.pcm, info.Data...)
}

// Empty reports whether anything was accumulated.
func (r *TTSRecorder) Empty() bool {
	return len(r.pcm) == 0 || r.sampleRate == 0
}

// Save writes the accumulated audio as dir/tts/<name>.wav.
func (r *TTSRecorder) Save(dir, name string) (string, error) {
	if r.Empty() {
		return "", fmt.Errorf("no TTS audio accumulated")
	}
	ttsDir := filepath.Join(dir, "tts")
	if err := os.MkdirAll(ttsDir, 0o755); err != nil {
		return "", fmt.Errorf("create tts dir: %w", err)
	}
	outPath := filepath.Join(ttsDir, name+".wav")
	if err := os.WriteFile(outPath, audio.PCMBytesToWAV(r.pcm, r.sampleRate), 0o644); err != nil {
		return "", fmt.Errorf("save tts audio: %w", err)
	}
	return outPath, nil
}
