// Package dispatch runs the ASR -> MT -> TTS pipeline for one utterance and
// routes the results to both sides of a conversation.
package dispatch

import (
	"log"
	"math"

	"realtime-speech-relay/internal/audio"
	"realtime-speech-relay/internal/turn"
)

// Message types sent to clients.
const (
	TypeTranscript = "transcript"
	TypePartial    = "transcript_partial"
)

// Transcriber converts one utterance of 16 kHz mono PCM into text plus the
// detected source language.
type Transcriber interface {
	Transcribe(pcm []float32, langHint string) (text, language string, err error)
}

// Translator translates text between two languages.
type Translator interface {
	Translate(text, sourceLang, targetLang string) (string, error)
}

// Synthesizer turns text into a WAV buffer in the given language.
type Synthesizer interface {
	Synthesize(text, language string) ([]byte, error)
}

// Peer is one side of a conversation as the dispatcher sees it. Send methods
// must be safe to call concurrently and swallow errors on a closed socket.
type Peer interface {
	Role() string
	Name() string
	Language() string
	SocketOpen() bool

	SendJSON(v any)
	SendBinary(data []byte)

	// UtteranceID is the peer's current utterance counter; partial results
	// for an older utterance are stale and must be dropped.
	UtteranceID() int

	// TTSCancelled reports a pending barge-in: synthesized audio headed for
	// this peer must be skipped. ClearTTSCancelled consumes the flag.
	TTSCancelled() bool
	ClearTTSCancelled()
}

// Job is one utterance to push through the pipeline.
type Job struct {
	PCM         []float32
	Type        string // TypeTranscript or TypePartial
	UtteranceID int

	Duration    float64 // seconds, final transcripts only
	HasDuration bool
}

// TranscriptStore persists final transcripts for later review.
type TranscriptStore interface {
	SaveTranscript(roomID, speakerName, sourceLang, targetLang, text, translation string) error
}

// Dispatcher drives the pipeline for one room (or one solo session). All
// engine calls happen on the caller's goroutine; callers run ProcessSpeech
// in a background goroutine so receive loops stay unblocked.
type Dispatcher struct {
	RoomID string

	ASR Transcriber
	MT  Translator
	TTS Synthesizer

	Turn *turn.StateMachine

	History TranscriptStore // optional
}

// ProcessSpeech transcribes the job, translates for the partner, synthesizes
// speech, and routes everything:
//
//   - the speaker gets their own transcript back (speaker: "self"),
//   - the partner gets the translated transcript (speaker: "partner")
//     followed by a binary WAV frame when TTS ran,
//   - after TTS is sent the partner's mic is locked for the TTS duration
//     plus the echo buffer, announced via a mic_locked message.
//
// partner may be nil (solo half of a room); the speaker still gets "self".
func (d *Dispatcher) ProcessSpeech(speaker, partner Peer, job Job) {
	text, usedLang, err := d.ASR.Transcribe(job.PCM, speaker.Language())
	if err != nil {
		log.Printf("[Room %s] [%s] ASR error: %v", d.RoomID, speaker.Name(), err)
		return
	}

	// The utterance may have ended while this partial was in flight.
	if job.Type == TypePartial && job.UtteranceID != speaker.UtteranceID() {
		return
	}
	if text == "" {
		return
	}

	sourceLang := usedLang
	if sourceLang == "" {
		sourceLang = speaker.Language()
	}

	selfPayload := map[string]any{
		"type":     job.Type,
		"speaker":  "self",
		"text":     text,
		"language": sourceLang,
	}
	if job.HasDuration {
		selfPayload["duration"] = round2(job.Duration)
	}

	var (
		partnerPayload map[string]any
		ttsWav         []byte
	)

	if partner != nil && partner.SocketOpen() {
		targetLang := partner.Language()

		if sourceLang != targetLang && sourceLang != "unknown" {
			translated, err := d.MT.Translate(text, sourceLang, targetLang)
			if err != nil {
				log.Printf("[Room %s] [%s] MT error: %v", d.RoomID, speaker.Name(), err)
			}
			if translated != "" {
				selfPayload["translation"] = translated
				selfPayload["target_language"] = targetLang

				partnerPayload = map[string]any{
					"type":            job.Type,
					"speaker":         "partner",
					"speaker_name":    speaker.Name(),
					"text":            text,
					"language":        sourceLang,
					"translation":     translated,
					"target_language": targetLang,
				}
				if job.HasDuration {
					partnerPayload["duration"] = round2(job.Duration)
				}

				// TTS only for final transcripts, and not when the partner
				// has barged in since this utterance ended.
				if job.Type == TypeTranscript && d.TTS != nil && !partner.TTSCancelled() {
					wav, err := d.TTS.Synthesize(translated, targetLang)
					if err != nil {
						log.Printf("[Room %s] [%s] TTS error: %v", d.RoomID, speaker.Name(), err)
					}
					if len(wav) > 0 && !partner.TTSCancelled() {
						ttsWav = wav
						partnerPayload["has_tts"] = true
					}
				}
			}
		} else {
			// Same language, relay untranslated.
			partnerPayload = map[string]any{
				"type":         job.Type,
				"speaker":      "partner",
				"speaker_name": speaker.Name(),
				"text":         text,
				"language":     sourceLang,
			}
			if job.HasDuration {
				partnerPayload["duration"] = round2(job.Duration)
			}
		}
	}

	speaker.SendJSON(selfPayload)

	if partner != nil && partnerPayload != nil {
		// Last barge-in check before anything reaches the partner.
		if partner.TTSCancelled() {
			partner.ClearTTSCancelled()
			ttsWav = nil
			delete(partnerPayload, "has_tts")
		}

		partner.SendJSON(partnerPayload)
		if len(ttsWav) > 0 {
			partner.SendBinary(ttsWav)

			// Echo suppression: lock the partner's mic while the TTS plays.
			ttsDur := audio.WAVDurationMS(ttsWav, 2000)
			lockTotal := ttsDur + d.Turn.LockoutBufferMS()
			d.Turn.LockUser(partner.Role(), ttsDur)

			partner.SendJSON(map[string]any{
				"type":        "mic_locked",
				"duration_ms": math.Round(lockTotal),
				"reason":      "tts_echo",
			})

			log.Printf("[Room %s] Locked %s's mic for %.0f ms (TTS %.0f ms + %.0f ms buffer)",
				d.RoomID, partner.Name(), lockTotal, ttsDur, d.Turn.LockoutBufferMS())
		}
	}

	if job.Type == TypeTranscript {
		var translation, targetLang string
		if partnerPayload != nil {
			translation, _ = partnerPayload["translation"].(string)
			targetLang, _ = partnerPayload["target_language"].(string)
		}

		logMsg := "[Room " + d.RoomID + "] [" + speaker.Name() + "] '" + text + "' (" + sourceLang + ")"
		if translation != "" {
			logMsg += " -> '" + translation + "' (" + targetLang + ")"
		}
		log.Print(logMsg)

		if d.History != nil {
			if err := d.History.SaveTranscript(d.RoomID, speaker.Name(), sourceLang, targetLang, text, translation); err != nil {
				log.Printf("[Room %s] Failed to save transcript: %v", d.RoomID, err)
			}
		}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
