package vad

import "math"

// EventType marks an utterance boundary produced by the SegmentDetector.
type EventType int

const (
	EventNone EventType = iota
	EventSpeechStart
	EventSpeechEnd
)

// Event is a single boundary event. Duration is only set on EventSpeechEnd,
// in seconds rounded to two decimals.
type Event struct {
	Type     EventType
	Duration float64
}

// SegmentDetector converts per-window speech decisions into speech_start /
// speech_end events, closing an utterance after a configurable run of silent
// windows.
type SegmentDetector struct {
	SilenceThresholdMS int
	SampleRate         int
	ChunkSize          int

	silenceChunksThreshold int

	isSpeaking        bool
	silentChunks      int
	speechStartTime   int // in total-speech-chunks units
	totalSpeechChunks int
}

// NewSegmentDetector uses 500 ms of silence at 16 kHz with 512-sample
// (~32 ms) windows by default; pass zeros to accept the defaults.
func NewSegmentDetector(silenceThresholdMS, sampleRate, chunkSize int) *SegmentDetector {
	if silenceThresholdMS <= 0 {
		silenceThresholdMS = 500
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if chunkSize <= 0 {
		chunkSize = 512
	}
	chunkDurationMS := float64(chunkSize) / float64(sampleRate) * 1000
	return &SegmentDetector{
		SilenceThresholdMS:     silenceThresholdMS,
		SampleRate:             sampleRate,
		ChunkSize:              chunkSize,
		silenceChunksThreshold: int(math.Ceil(float64(silenceThresholdMS) / chunkDurationMS)),
	}
}

// Update feeds one window decision and returns the boundary event, if any.
func (d *SegmentDetector) Update(isSpeech bool) Event {
	if isSpeech {
		d.silentChunks = 0
		var ev Event
		if !d.isSpeaking {
			d.isSpeaking = true
			d.speechStartTime = d.totalSpeechChunks
			ev = Event{Type: EventSpeechStart}
		}
		d.totalSpeechChunks++
		return ev
	}

	if d.isSpeaking {
		d.silentChunks++
		if d.silentChunks >= d.silenceChunksThreshold {
			duration := float64(d.totalSpeechChunks-d.speechStartTime) *
				float64(d.ChunkSize) / float64(d.SampleRate)
			d.isSpeaking = false
			d.silentChunks = 0
			return Event{
				Type:     EventSpeechEnd,
				Duration: math.Round(duration*100) / 100,
			}
		}
	}
	return Event{}
}

// IsSpeaking reports whether the detector is inside an utterance.
func (d *SegmentDetector) IsSpeaking() bool { return d.isSpeaking }

// Reset clears all state for a new stream.
func (d *SegmentDetector) Reset() {
	d.isSpeaking = false
	d.silentChunks = 0
	d.speechStartTime = 0
	d.totalSpeechChunks = 0
}
