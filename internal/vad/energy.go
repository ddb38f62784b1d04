package vad

// EnergyModel is an RMS-energy speech detector. It is the default model when
// no Silero runtime is available: cheap, stateless, and good enough to drive
// the segment detector in quiet environments.
type EnergyModel struct {
	// Scale maps mean-square energy of normalized samples onto [0, 1].
	// The default of 1000 puts typical speech well above Threshold while
	// keeping room noise below it.
	Scale float64
}

func NewEnergyModel() *EnergyModel {
	return &EnergyModel{Scale: 1000}
}

func (m *EnergyModel) ResetStates() {}

func (m *EnergyModel) ProcessChunk(window []float32, sampleRate int) (float64, bool, error) {
	if len(window) == 0 {
		return 0, false, nil
	}
	var sum float64
	for _, s := range window {
		sum += float64(s) * float64(s)
	}
	meanSq := sum / float64(len(window))

	prob := meanSq * m.Scale
	if prob > 1 {
		prob = 1
	}
	return prob, prob >= Threshold, nil
}
