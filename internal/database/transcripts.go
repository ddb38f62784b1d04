package database

import (
	"fmt"
	"time"
)

// Transcript is one final utterance from a conversation room.
type Transcript struct {
	ID          int       `json:"id"`
	RoomID      string    `json:"room_id"`
	SpeakerName string    `json:"speaker_name"`
	SourceLang  string    `json:"source_lang"`
	TargetLang  string    `json:"target_lang,omitempty"`
	Text        string    `json:"text"`
	Translation string    `json:"translation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func ensureSchema() error {
	_, err := DB.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id           SERIAL PRIMARY KEY,
			room_id      TEXT NOT NULL,
			speaker_name TEXT NOT NULL,
			source_lang  TEXT NOT NULL,
			target_lang  TEXT NOT NULL DEFAULT '',
			text         TEXT NOT NULL,
			translation  TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transcripts_room ON transcripts (room_id, created_at);
	`)
	return err
}

// TranscriptHistory is the transcript store backed by the global DB.
type TranscriptHistory struct{}

// SaveTranscript persists one final transcript.
func (TranscriptHistory) SaveTranscript(roomID, speakerName, sourceLang, targetLang, text, translation string) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	_, err := DB.Exec(`
		INSERT INTO transcripts (room_id, speaker_name, source_lang, target_lang, text, translation)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, roomID, speakerName, sourceLang, targetLang, text, translation)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// ListTranscripts returns recent transcripts, newest first, optionally
// filtered by room.
func ListTranscripts(roomID string, limit int) ([]Transcript, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, room_id, speaker_name, source_lang, target_lang, text, translation, created_at
		FROM transcripts
	`
	args := []any{}
	if roomID != "" {
		query += ` WHERE room_id = $1`
		args = append(args, roomID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.ID, &t.RoomID, &t.SpeakerName, &t.SourceLang,
			&t.TargetLang, &t.Text, &t.Translation, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
