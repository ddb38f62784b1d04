//go:build silero

package main

import (
	"log"
	"os"

	"realtime-speech-relay/internal/vad"
)

// newVADModel builds the per-connection speech detector using the Silero
// ONNX model. Falls back to the energy model when the model fails to load.
func newVADModel() vad.Model {
	modelPath := os.Getenv("VAD_MODEL_PATH")
	if modelPath == "" {
		modelPath = "./models/silero_vad.onnx"
	}
	m, err := vad.NewSileroModel(modelPath)
	if err != nil {
		log.Printf("Silero VAD unavailable (%v), using energy model", err)
		return vad.NewEnergyModel()
	}
	return m
}
