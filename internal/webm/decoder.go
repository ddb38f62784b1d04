// Package webm turns the open-ended WebM/Opus byte stream a browser
// MediaRecorder produces into contiguous mono float PCM.
package webm

import (
	"layeh.com/gopus"
)

const (
	// SourceRate is the Opus output rate inside browser WebM streams.
	SourceRate = 48000
	// TargetRate is what the VAD pipeline consumes.
	TargetRate = 16000

	// maxFrameSamples is the largest legal Opus frame (120 ms at 48 kHz).
	maxFrameSamples = 5760
)

// StreamDecoder incrementally decodes a WebM/Opus byte stream into 16 kHz
// mono float PCM, returning from each call only the samples not yet
// delivered.
//
// The container needs its header to demux, so every call re-parses the full
// accumulated buffer and slices off the already-delivered prefix. That keeps
// delivery exactly-once and in order at the cost of re-decoding; sessions are
// short-lived so the trade is acceptable.
type StreamDecoder struct {
	buf       []byte
	delivered int
}

func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{}
}

// AddChunk appends the next stream fragment and returns the newly decoded
// 16 kHz mono samples, or nil when no complete new frames are available yet.
// Demux and decode failures are treated as "not enough data" and never
// surface as errors.
func (d *StreamDecoder) AddChunk(data []byte) []float32 {
	d.buf = append(d.buf, data...)

	pcm := decodeBuffer(d.buf, true)
	if len(pcm) <= d.delivered {
		return nil
	}
	out := pcm[d.delivered:]
	d.delivered = len(pcm)
	return out
}

// DecodeAll decodes the entire accumulated stream at the source rate
// (48 kHz mono), for end-of-session archival.
func (d *StreamDecoder) DecodeAll() []float32 {
	return decodeBuffer(d.buf, false)
}

// BufferedBytes reports the size of the accumulated raw stream.
func (d *StreamDecoder) BufferedBytes() int {
	return len(d.buf)
}

// decodeBuffer demuxes the whole buffer, decodes every complete Opus packet
// with a fresh decoder, down-mixes to mono, and optionally decimates
// 48 kHz → 16 kHz by stride 3. Failures yield nil.
func decodeBuffer(b []byte, decimate bool) []float32 {
	tr, packets := demux(b)
	if tr.number == 0 || len(packets) == 0 {
		return nil
	}

	dec, err := gopus.NewDecoder(SourceRate, tr.channels)
	if err != nil {
		return nil
	}

	var mono []float32
	for _, p := range packets {
		pcm, err := dec.Decode(p, maxFrameSamples, false)
		if err != nil {
			// A malformed packet fails identically on every re-parse, so
			// skipping it keeps delivery deterministic across calls.
			continue
		}
		frames := len(pcm) / tr.channels
		for i := 0; i < frames; i++ {
			var sum int32
			for c := 0; c < tr.channels; c++ {
				sum += int32(pcm[i*tr.channels+c])
			}
			mono = append(mono, float32(sum/int32(tr.channels))/32768.0)
		}
	}

	if !decimate {
		return mono
	}
	out := make([]float32, 0, (len(mono)+2)/3)
	for i := 0; i < len(mono); i += 3 {
		out = append(out, mono[i])
	}
	return out
}
