package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PCM16ToWAV wraps PCM int16 mono samples in a WAV container.
func PCM16ToWAV(pcm []int16, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	dataSize := len(pcm) * 2
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	// fmt chunk
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           // chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))            // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1))            // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // bits per sample

	// data chunk
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(buf, binary.LittleEndian, pcm)

	return buf.Bytes()
}

// PCMBytesToWAV wraps already little-endian 16-bit mono PCM bytes in a WAV
// container, for payloads that arrive as raw data rather than samples.
func PCMBytesToWAV(data []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return buf.Bytes()
}

// Float32ToPCM16 converts normalized [-1, 1] samples to int16, clamping
// out-of-range values.
func Float32ToPCM16(samples []float32) []int16 {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		pcm[i] = int16(s * 32767)
	}
	return pcm
}

// WAVInfo is the subset of a WAV header the pipeline cares about.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Data          []byte // raw PCM payload of the data chunk
}

// ParseWAV reads a RIFF/WAVE buffer and returns its format plus the raw PCM
// payload. Only uncompressed PCM is supported.
func ParseWAV(b []byte) (*WAVInfo, error) {
	if len(b) < 44 {
		return nil, fmt.Errorf("wav too short: %d bytes", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE buffer")
	}

	info := &WAVInfo{}
	// Walk chunks after the 12-byte RIFF header.
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			size = len(b) - body // tolerate truncated final chunk
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("unsupported wav format %d", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
		case "data":
			info.Data = b[body : body+size]
		}
		// Chunks are word-aligned.
		if size%2 == 1 {
			size++
		}
		off = body + size
	}

	if info.SampleRate == 0 {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	return info, nil
}

// WAVDurationMS estimates the play duration of a WAV buffer in milliseconds,
// returning fallback on malformed input.
func WAVDurationMS(b []byte, fallback float64) float64 {
	info, err := ParseWAV(b)
	if err != nil || info.BitsPerSample == 0 || info.Channels == 0 {
		return fallback
	}
	bytesPerFrame := info.Channels * info.BitsPerSample / 8
	if bytesPerFrame == 0 {
		return fallback
	}
	frames := len(info.Data) / bytesPerFrame
	return float64(frames) / float64(info.SampleRate) * 1000.0
}
