package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type Translator interface {
	Translate(text, sourceLang, targetLang string) (string, error)
}

// Stub echoes the input with a language tag, for local runs without the MT
// engine.
type Stub struct{}

func (s Stub) Translate(text, sourceLang, targetLang string) (string, error) {
	return "[" + sourceLang + " -> " + targetLang + "] " + text, nil
}

// HTTPTranslator calls the machine-translation engine (NLLB-200 behind a
// small HTTP front) over HTTP.
type HTTPTranslator struct {
	BaseURL    string
	HTTPClient *http.Client
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	Translation string `json:"translation"`
}

func (h *HTTPTranslator) Translate(text, sourceLang, targetLang string) (string, error) {
	if text == "" {
		return "", nil
	}
	if sourceLang == targetLang {
		// Same language pair, nothing to do
		return text, nil
	}

	req := translateRequest{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequest("POST", h.BaseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("translation service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return result.Translation, nil
}
