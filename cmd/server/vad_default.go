//go:build !silero

package main

import "realtime-speech-relay/internal/vad"

// newVADModel builds the per-connection speech detector. The default build
// uses the RMS-energy model; build with -tags silero for the ONNX model.
func newVADModel() vad.Model {
	return vad.NewEnergyModel()
}
