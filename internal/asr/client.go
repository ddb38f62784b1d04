// Package asr is the HTTP client for the speech-recognition engine
// (Faster-Whisper behind a small HTTP front).
package asr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"realtime-speech-relay/internal/audio"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

// Resp is the engine's transcription response. Language is the detected
// source language, or "unknown" when detection failed.
type Resp struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments,omitempty"`
}

// Transcribe sends one utterance of 16 kHz mono PCM to the engine and returns
// the transcript plus the language the engine detected. An empty langHint
// lets the engine auto-detect.
func (c *Client) Transcribe(pcm []float32, langHint string) (string, string, error) {
	wav := audio.PCM16ToWAV(audio.Float32ToPCM16(pcm), 16000)
	return c.TranscribeWAV(wav, langHint)
}

// TranscribeWAV transcribes a complete WAV buffer.
func (c *Client) TranscribeWAV(wavData []byte, langHint string) (string, string, error) {
	req, err := http.NewRequest("POST", c.BaseURL+"/transcribe", bytes.NewReader(wavData))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "audio/wav")
	if langHint != "" {
		req.Header.Set("x-language", langHint)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return "", "", err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return "", "", fmt.Errorf("asr status: %s", res.Status)
	}

	var r Resp
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return "", "", err
	}
	lang := r.Language
	if lang == "" {
		lang = langHint
	}
	return r.Text, lang, nil
}

// DetectLanguage asks the engine for the language of a WAV buffer without
// transcribing it.
func (c *Client) DetectLanguage(wavData []byte) (string, error) {
	req, err := http.NewRequest("POST", c.BaseURL+"/detect-language", bytes.NewReader(wavData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/wav")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return "", fmt.Errorf("language detection status: %s", res.Status)
	}

	var r Resp
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return "", err
	}
	return r.Language, nil
}
