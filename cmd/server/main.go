package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"realtime-speech-relay/internal/asr"
	"realtime-speech-relay/internal/auth"
	"realtime-speech-relay/internal/database"
	"realtime-speech-relay/internal/dispatch"
	"realtime-speech-relay/internal/room"
	"realtime-speech-relay/internal/session"
	"realtime-speech-relay/internal/status"
	"realtime-speech-relay/internal/storage"
	"realtime-speech-relay/internal/translate"
	"realtime-speech-relay/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Get allowed origins from environment variable (comma-separated)
		// Example: ALLOWED_ORIGINS=http://localhost:3000,https://yourdomain.com
		allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")

		// For development, allow all origins if not configured
		// In production, you MUST set ALLOWED_ORIGINS
		if allowedOriginsEnv == "" {
			return true
		}

		origin := r.Header.Get("Origin")
		for _, allowed := range strings.Split(allowedOriginsEnv, ",") {
			if strings.TrimSpace(allowed) == origin {
				return true
			}
		}

		log.Printf("Rejected WebSocket connection from unauthorized origin: %s", origin)
		return false
	},
}

func sendJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// getEnv gets environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func handleRecordings(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := filepath.Glob(filepath.Join(dir, "*.wav"))
		if err != nil {
			sendJSONError(w, http.StatusInternalServerError, "Failed to list recordings")
			return
		}
		sort.Sort(sort.Reverse(sort.StringSlice(files)))

		type recording struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
		}
		recordings := make([]recording, 0, len(files))
		for _, f := range files {
			info, err := os.Stat(f)
			if err != nil {
				continue
			}
			recordings = append(recordings, recording{Name: filepath.Base(f), Size: info.Size()})
		}
		sendJSON(w, map[string]interface{}{"recordings": recordings})
	}
}

func handleHistory(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !enabled {
			sendJSONError(w, http.StatusNotFound, "Transcript history is not enabled")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		transcripts, err := database.ListTranscripts(r.URL.Query().Get("room_id"), limit)
		if err != nil {
			log.Printf("History query failed: %v", err)
			sendJSONError(w, http.StatusInternalServerError, "Failed to load history")
			return
		}
		if transcripts == nil {
			transcripts = []database.Transcript{}
		}
		sendJSON(w, map[string]interface{}{"transcripts": transcripts})
	}
}

// handleStatusWS streams turn-state snapshots for one room to diagnostic
// clients (path: /ws/status/{room}).
func handleStatusWS(mgr *status.Manager, rooms *room.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 4 || parts[3] == "" {
			sendJSONError(w, http.StatusBadRequest, "Missing room code")
			return
		}
		roomID := strings.ToUpper(parts[3])

		rm := rooms.Get(roomID)
		if rm == nil {
			sendJSONError(w, http.StatusNotFound, "Room not found")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Status upgrade error: %v", err)
			return
		}

		// Initial snapshot, then updates as the room publishes them.
		_ = conn.WriteJSON(status.Update{
			RoomID: roomID,
			Event:  "subscribed",
			Turn:   rm.Turn.GetStatus(),
		})
		mgr.Subscribe(roomID, conn)
		defer func() {
			mgr.Unsubscribe(roomID, conn)
			conn.Close()
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func main() {
	port := getEnv("PORT", "8002")
	asrBaseURL := getEnv("ASR_BASE_URL", "http://127.0.0.1:8003")
	translationBaseURL := getEnv("TRANSLATION_BASE_URL", "http://127.0.0.1:8004")
	ttsBaseURL := getEnv("TTS_BASE_URL", "http://127.0.0.1:8005")
	recordingsDir := getEnv("RECORDINGS_DIR", "./recordings")

	if err := os.MkdirAll(recordingsDir, 0o755); err != nil {
		log.Fatalf("Failed to create recordings directory: %v", err)
	}

	asrClient := asr.New(asrBaseURL)
	translator := &translate.HTTPTranslator{BaseURL: translationBaseURL}
	ttsClient := tts.New(ttsBaseURL)

	// Optional transcript history (Postgres)
	var history dispatch.TranscriptStore
	dbEnabled := strings.EqualFold(getEnv("DB_ENABLED", "false"), "true")
	if dbEnabled {
		if err := database.Init(); err != nil {
			log.Printf("Transcript history disabled: %v", err)
			dbEnabled = false
		} else {
			history = database.TranscriptHistory{}
			defer database.Close()
		}
	}

	// Optional recording upload (MinIO)
	minioClient, err := storage.NewMinioFromEnv()
	if err != nil {
		log.Printf("MinIO disabled: %v", err)
	}

	// Optional bearer-token gate
	verifier := auth.NewVerifierFromEnv()
	if verifier == nil {
		log.Println("Auth disabled (AUTH_JWT_SECRET not set)")
	}

	statusMgr := status.NewManager()
	rooms := room.NewManager()

	solo := &session.SoloServer{
		Upgrader:      upgrader,
		ASR:           asrClient,
		MT:            translator,
		TTS:           ttsClient,
		NewModel:      newVADModel,
		RecordingsDir: recordingsDir,
	}

	convo := &room.Server{
		Rooms:         rooms,
		Upgrader:      upgrader,
		ASR:           asrClient,
		MT:            translator,
		TTS:           ttsClient,
		NewModel:      newVADModel,
		RecordingsDir: recordingsDir,
		Status:        statusMgr,
		History:       history,
	}
	if minioClient.Enabled() {
		convo.Store = minioClient
		log.Printf("Recording upload enabled (bucket %s)", minioClient.Bucket())
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			sendJSONError(w, http.StatusNotFound, "Not found")
			return
		}
		sendJSON(w, map[string]interface{}{
			"status":  "ok",
			"message": "Speech relay with VAD and turn-taking",
		})
	})

	http.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, map[string]interface{}{"rooms": rooms.List()})
	})

	http.HandleFunc("/recordings", verifier.Middleware(handleRecordings(recordingsDir)))
	http.HandleFunc("/history", verifier.Middleware(handleHistory(dbEnabled)))

	http.HandleFunc("/ws/audio", verifier.Middleware(solo.HandleAudio))
	http.HandleFunc("/ws/session", verifier.Middleware(convo.HandleConversation))
	http.HandleFunc("/ws/status/", verifier.Middleware(handleStatusWS(statusMgr, rooms)))

	log.Printf("Server listening on :%s (asr=%s, mt=%s, tts=%s)",
		port, asrBaseURL, translationBaseURL, ttsBaseURL)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}
