package session

import (
	"log"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"realtime-speech-relay/internal/dispatch"
	"realtime-speech-relay/internal/vad"
	"realtime-speech-relay/internal/webm"
)

// SoloServer handles the single-user transcription endpoint: one browser
// streams audio, gets live transcripts (optionally translated), and the
// synthesized translation is accumulated into a per-session WAV instead of
// being streamed back.
type SoloServer struct {
	Upgrader websocket.Upgrader

	ASR dispatch.Transcriber
	MT  dispatch.Translator
	TTS dispatch.Synthesizer

	// NewModel builds a fresh VAD model per connection.
	NewModel func() vad.Model

	RecordingsDir string
}

func validLang(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "en", "es", "pt":
		return v
	}
	return ""
}

// HandleAudio is the /ws/audio endpoint. Query params:
//
//	lang        - spoken language hint (en | es | pt), empty = auto-detect
//	target_lang - translate transcripts into this language
//	tts         - "false" disables synthesis (on by default when translating)
func (s *SoloServer) HandleAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Audio upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	lang := validLang(r.URL.Query().Get("lang"))
	targetLang := validLang(r.URL.Query().Get("target_lang"))
	ttsEnabled := !strings.EqualFold(r.URL.Query().Get("tts"), "false")

	sessionID := NewSessionID()
	sess := New(sessionID, lang, webm.NewStreamDecoder(), s.NewModel())

	var (
		sendMu      sync.Mutex
		wsOpen      atomic.Bool
		utteranceID atomic.Int64
		partialBusy atomic.Bool

		ttsMu  sync.Mutex
		ttsRec TTSRecorder
	)
	wsOpen.Store(true)

	sendJSON := func(v any) {
		if !wsOpen.Load() {
			return
		}
		sendMu.Lock()
		defer sendMu.Unlock()
		if err := conn.WriteJSON(v); err != nil {
			wsOpen.Store(false)
		}
	}

	// runASR is the per-utterance pipeline, run on a background goroutine so
	// the receive loop keeps draining audio.
	runASR := func(pcm []float32, msgType string, uttID int64, duration float64, hasDuration bool) {
		text, usedLang, err := s.ASR.Transcribe(pcm, lang)
		if err != nil {
			log.Printf("[%s] ASR (%s) error: %v", sessionID, msgType, err)
			return
		}
		// The utterance may have ended while this partial was in flight.
		if msgType == dispatch.TypePartial && uttID != utteranceID.Load() {
			return
		}
		if text == "" {
			return
		}

		sourceLang := usedLang
		if sourceLang == "" {
			sourceLang = lang
		}
		if sourceLang == "" {
			sourceLang = "unknown"
		}

		payload := map[string]any{
			"type":       msgType,
			"session_id": sessionID,
			"text":       text,
			"language":   sourceLang,
		}
		if hasDuration {
			payload["duration"] = math.Round(duration*100) / 100
		}

		var translated string
		if s.MT != nil && targetLang != "" && sourceLang != targetLang && sourceLang != "unknown" {
			translated, err = s.MT.Translate(text, sourceLang, targetLang)
			if err != nil {
				log.Printf("[%s] MT error: %v", sessionID, err)
			}
			if translated != "" {
				payload["translation"] = translated
				payload["target_language"] = targetLang
			}
		}

		// TTS only for final transcripts with a translation. Solo mode does
		// not stream the audio back; it is saved with the recording.
		if msgType == dispatch.TypeTranscript && ttsEnabled && s.TTS != nil && translated != "" {
			wav, err := s.TTS.Synthesize(translated, targetLang)
			if err != nil {
				log.Printf("[%s] TTS error: %v", sessionID, err)
			} else if len(wav) > 0 {
				ttsMu.Lock()
				ttsRec.Add(wav)
				ttsMu.Unlock()
				payload["has_tts"] = true
			}
		}

		if msgType == dispatch.TypeTranscript {
			logMsg := "[" + sessionID + "] Speech ended, lang=" + sourceLang + " text='" + text + "'"
			if translated != "" {
				logMsg += " -> [" + targetLang + "] '" + translated + "'"
			}
			log.Print(logMsg)
		}

		sendJSON(payload)
	}

	log.Printf("[%s] Client connected (language=%s, target=%s, tts=%v)",
		sessionID, orAuto(lang), orNone(targetLang), ttsEnabled)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[%s] Client disconnected", sessionID)
			break
		}
		if mt != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		sess.AddChunk(data)

		for _, ev := range sess.ProcessForVAD(data) {
			switch ev.Type {
			case vad.EventSpeechStart:
				log.Printf("[%s] Speech started", sessionID)
				utteranceID.Add(1)

			case vad.EventSpeechEnd:
				uttID := utteranceID.Load()
				// Invalidate any in-flight partial for this utterance.
				utteranceID.Add(1)
				if len(ev.UtterancePCM) > 0 {
					go runASR(ev.UtterancePCM, dispatch.TypeTranscript, uttID, ev.Duration, true)
				}
			}
		}

		// Periodic partial transcript while speaking, one at a time.
		if sess.IsSpeaking() &&
			sess.UtteranceSamples() >= MinPartialSamples &&
			partialBusy.CompareAndSwap(false, true) {
			pcm := sess.CopyUtterance()
			uttID := utteranceID.Load()
			go func() {
				defer partialBusy.Store(false)
				runASR(pcm, dispatch.TypePartial, uttID, 0, false)
			}()
		}
	}

	wsOpen.Store(false)

	if sess.HasAudio() {
		if path, err := sess.SaveRecording(s.RecordingsDir); err == nil {
			log.Printf("[%s] Saved recording to %s", sessionID, path)
		} else {
			log.Printf("[%s] Failed to save recording: %v", sessionID, err)
		}
	}

	ttsMu.Lock()
	defer ttsMu.Unlock()
	if !ttsRec.Empty() {
		name := sessionID + "_" + orDefault(targetLang, "tts")
		if path, err := ttsRec.Save(s.RecordingsDir, name); err == nil {
			log.Printf("[%s] Saved TTS audio to %s", sessionID, path)
		} else {
			log.Printf("[%s] Failed to save TTS audio: %v", sessionID, err)
		}
	}
}

func orAuto(v string) string { return orDefault(v, "auto") }
func orNone(v string) string { return orDefault(v, "none") }

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
