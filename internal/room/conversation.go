package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"realtime-speech-relay/internal/dispatch"
	"realtime-speech-relay/internal/session"
	"realtime-speech-relay/internal/status"
	"realtime-speech-relay/internal/storage"
	"realtime-speech-relay/internal/vad"
	"realtime-speech-relay/internal/webm"
)

// ValidLangs are the languages the engine stack supports.
var ValidLangs = map[string]bool{"en": true, "es": true, "pt": true}

// Uploader pushes saved recordings to object storage.
type Uploader interface {
	UploadFile(ctx context.Context, objectKey, filePath, contentType string) (string, int64, error)
}

// Server handles the bidirectional conversation endpoint. All fields except
// the engine clients are optional.
type Server struct {
	Rooms    *Manager
	Upgrader websocket.Upgrader

	ASR dispatch.Transcriber
	MT  dispatch.Translator
	TTS dispatch.Synthesizer

	// NewModel builds a fresh VAD model per connection.
	NewModel func() vad.Model

	RecordingsDir string

	Status  *status.Manager          // optional diagnostic feed
	History dispatch.TranscriptStore // optional transcript persistence
	Store   Uploader                 // optional recording upload
}

// HandleConversation is the /ws/session endpoint.
//
// Creating a room (no room_id): the creator picks both languages via my_lang
// and partner_lang query params. Joining (room_id given): the joiner's
// language is auto-assigned from the room config, so the join flow needs
// only the code and a name.
func (s *Server) HandleConversation(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Conversation upgrade failed: %v", err)
		return
	}

	roomIDParam := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("room_id")))
	userName := strings.TrimSpace(r.URL.Query().Get("name"))
	if userName == "" {
		userName = "User"
	}

	var (
		rm       *Room
		userLang string
	)
	if roomIDParam != "" {
		rm = s.Rooms.Get(roomIDParam)
		if rm == nil {
			_ = conn.WriteJSON(map[string]any{
				"type":    "error",
				"message": fmt.Sprintf("Room %s not found", roomIDParam),
			})
			conn.Close()
			return
		}
		if rm.IsFull() {
			_ = conn.WriteJSON(map[string]any{
				"type":    "error",
				"message": fmt.Sprintf("Room %s is full", roomIDParam),
			})
			conn.Close()
			return
		}
		userLang = rm.LanguageB
	} else {
		myLang := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("my_lang")))
		partnerLang := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("partner_lang")))
		if !ValidLangs[myLang] {
			myLang = "en"
		}
		if !ValidLangs[partnerLang] {
			partnerLang = "es"
		}
		rm = s.Rooms.CreateRoom(myLang, partnerLang)
		userLang = myLang
		log.Printf("[Room %s] Created by %s (%s <-> %s)", rm.ID, userName, rm.LanguageA, rm.LanguageB)
	}

	sessionID := session.NewSessionID()
	sess := session.New(sessionID, userLang, webm.NewStreamDecoder(), s.NewModel())
	participant := NewParticipant(conn, userName, userLang, sess)
	role, ok := rm.Seat(participant)
	if !ok {
		// Lost the race for the last seat.
		_ = conn.WriteJSON(map[string]any{
			"type":    "error",
			"message": fmt.Sprintf("Room %s is full", rm.ID),
		})
		conn.Close()
		return
	}

	if role == "a" {
		participant.SendJSON(map[string]any{
			"type":             "room_created",
			"room_id":          rm.ID,
			"user_name":        userName,
			"language":         userLang,
			"partner_language": rm.LanguageB,
		})
	} else {
		partner := rm.Partner(participant)
		joined := map[string]any{
			"type":      "room_joined",
			"room_id":   rm.ID,
			"user_name": userName,
			"language":  userLang,
		}
		if partner != nil {
			joined["partner_name"] = partner.Name()
			joined["partner_language"] = partner.Language()
		}
		participant.SendJSON(joined)
		if partner != nil {
			partner.SendJSON(map[string]any{
				"type":     "partner_joined",
				"name":     userName,
				"language": userLang,
			})
		}
		log.Printf("[Room %s] %s joined as %s speaker", rm.ID, userName, userLang)
	}

	d := &dispatch.Dispatcher{
		RoomID:  rm.ID,
		ASR:     s.ASR,
		MT:      s.MT,
		TTS:     s.TTS,
		Turn:    rm.Turn,
		History: s.History,
	}

	log.Printf("[Room %s] [%s] Audio loop started (role=%s)", rm.ID, userName, role)
	s.receiveLoop(rm, participant, d)

	// Teardown.
	participant.MarkClosed()
	if partner := rm.Partner(participant); partner != nil && partner.SocketOpen() {
		partner.SendJSON(map[string]any{
			"type": "partner_left",
			"name": userName,
		})
	}
	rm.RemoveParticipant(participant)
	if rm.IsEmpty() {
		s.Rooms.Remove(rm.ID)
		log.Printf("[Room %s] Room closed (empty)", rm.ID)
	}

	if sess.HasAudio() {
		if path, err := sess.SaveRecording(s.RecordingsDir); err == nil {
			log.Printf("[Room %s] [%s] Saved recording to %s", rm.ID, userName, path)
			s.uploadRecording(path)
		}
	}
}

// receiveLoop pumps frames from one participant until the socket closes.
// Text frames carry control messages (barge-in interrupts); binary frames
// carry WebM/Opus audio.
func (s *Server) receiveLoop(rm *Room, p *Participant, d *dispatch.Dispatcher) {
	defer p.conn.Close()

	var partialBusy atomic.Bool
	role := p.Role()
	sess := p.Session

	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			log.Printf("[Room %s] [%s] Disconnected", rm.ID, p.Name())
			return
		}

		if mt == websocket.TextMessage {
			var control struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &control) == nil && control.Type == "interrupt" {
				s.handleInterrupt(rm, p)
			}
			continue
		}
		if mt != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		sess.AddChunk(data)

		for _, ev := range sess.ProcessForVAD(data) {
			switch ev.Type {
			case vad.EventSpeechStart:
				if !rm.Turn.TrySpeechStart(role) {
					// Floor held by the partner or mic is echo-locked.
					continue
				}
				p.NextUtterance()
				s.publishStatus(rm, "speech_start")

			case vad.EventSpeechEnd:
				if !rm.Turn.OnSpeechEnd(role) {
					// Not the recognised speaker.
					continue
				}
				uttID := p.UtteranceID()
				// Invalidate any in-flight partial for this utterance.
				p.NextUtterance()

				if len(ev.UtterancePCM) > 0 {
					job := dispatch.Job{
						PCM:         ev.UtterancePCM,
						Type:        dispatch.TypeTranscript,
						UtteranceID: uttID,
						Duration:    ev.Duration,
						HasDuration: true,
					}
					go d.ProcessSpeech(p, rm.Partner(p), job)
				}
				s.publishStatus(rm, "speech_end")
			}
		}

		// Periodic partial transcript, only while holding the floor and one
		// at a time.
		if rm.Turn.HoldsFloor(role) &&
			sess.IsSpeaking() &&
			sess.UtteranceSamples() >= session.MinPartialSamples &&
			partialBusy.CompareAndSwap(false, true) {
			job := dispatch.Job{
				PCM:         sess.CopyUtterance(),
				Type:        dispatch.TypePartial,
				UtteranceID: p.UtteranceID(),
			}
			go func() {
				defer partialBusy.Store(false)
				d.ProcessSpeech(p, rm.Partner(p), job)
			}()
		}
	}
}

// handleInterrupt processes a barge-in: the interrupter gets the floor
// immediately and any in-flight TTS headed for them is flagged stale.
func (s *Server) handleInterrupt(rm *Room, p *Participant) {
	rm.Turn.OnInterrupt(p.Role())
	p.CancelTTS()
	log.Printf("[Room %s] [%s] Barge-in interrupt (floor -> %s)", rm.ID, p.Name(), p.Role())
	s.publishStatus(rm, "interrupt")
}

func (s *Server) publishStatus(rm *Room, event string) {
	if s.Status == nil {
		return
	}
	s.Status.Publish(status.Update{
		RoomID: rm.ID,
		Event:  event,
		Turn:   rm.Turn.GetStatus(),
	})
}

func (s *Server) uploadRecording(path string) {
	if s.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	key := storage.SafeObjectKey("recordings", filepath.Base(path))
	if _, _, err := s.Store.UploadFile(ctx, key, path, "audio/wav"); err != nil {
		log.Printf("Upload of %s failed: %v", path, err)
	}
}
