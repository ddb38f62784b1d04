// Package tts is the HTTP client for the speech-synthesis engine (Piper
// behind a small HTTP front). The engine returns 16-bit mono WAV.
package tts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client handles text-to-speech requests
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a new TTS client
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// SynthesizeRequest represents a TTS request
type SynthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Synthesize converts text to speech and returns a complete WAV buffer.
func (c *Client) Synthesize(text, language string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	reqBody := SynthesizeRequest{
		Text:     text,
		Language: language,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", c.BaseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("TTS service returned %d: %s", resp.StatusCode, string(respBody))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio data: %w", err)
	}

	return audioData, nil
}
