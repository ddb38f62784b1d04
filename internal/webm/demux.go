package webm

import (
	"encoding/binary"
	"math"
)

// Minimal EBML walk over a (possibly truncated) WebM byte stream produced by
// a browser MediaRecorder. Only the elements needed to locate the Opus audio
// track and its blocks are interpreted; everything else is skipped by size.
//
// Element IDs per the WebM/Matroska spec.
const (
	idEBML        = 0x1A45DFA3
	idSegment     = 0x18538067
	idSeekHead    = 0x114D9B74
	idInfo        = 0x1549A966
	idTracks      = 0x1654AE6B
	idTrackEntry  = 0xAE
	idTrackNumber = 0xD7
	idTrackType   = 0x83
	idCodecID     = 0x86
	idAudio       = 0xE1
	idSampFreq    = 0xB5
	idChannels    = 0x9F
	idCluster     = 0x1F43B675
	idSimpleBlock = 0xA3
	idBlockGroup  = 0xA0
	idBlock       = 0xA1
)

const codecOpus = "A_OPUS"

// trackInfo describes the Opus audio track found in the Tracks element.
type trackInfo struct {
	number     uint64
	channels   int
	sampleRate float64
}

// readID reads an EBML element ID at off, marker bits included.
func readID(b []byte, off int) (id uint64, n int, ok bool) {
	if off >= len(b) {
		return 0, 0, false
	}
	first := b[off]
	switch {
	case first&0x80 != 0:
		n = 1
	case first&0x40 != 0:
		n = 2
	case first&0x20 != 0:
		n = 3
	case first&0x10 != 0:
		n = 4
	default:
		return 0, 0, false
	}
	if off+n > len(b) {
		return 0, 0, false
	}
	for i := 0; i < n; i++ {
		id = id<<8 | uint64(b[off+i])
	}
	return id, n, true
}

// readSize reads an EBML element size at off with the marker bit stripped.
// unknown reports the all-ones "unknown size" marker used by live streams
// for Segment and Cluster elements.
func readSize(b []byte, off int) (size uint64, n int, unknown bool, ok bool) {
	if off >= len(b) {
		return 0, 0, false, false
	}
	first := b[off]
	mask := byte(0x80)
	for n = 1; n <= 8; n++ {
		if first&mask != 0 {
			break
		}
		mask >>= 1
	}
	if n > 8 || off+n > len(b) {
		return 0, 0, false, false
	}
	size = uint64(first &^ mask)
	allOnes := size == uint64(mask)-1
	for i := 1; i < n; i++ {
		size = size<<8 | uint64(b[off+i])
		if b[off+i] != 0xFF {
			allOnes = false
		}
	}
	return size, n, allOnes, true
}

// demux walks the accumulated buffer and returns the Opus track description
// plus every complete Opus packet found, in stream order. Truncated trailing
// elements are ignored; the next call (with more bytes) re-parses them.
func demux(b []byte) (tr trackInfo, packets [][]byte) {
	off := 0
	for off < len(b) {
		id, n, ok := readID(b, off)
		if !ok {
			return
		}
		off += n
		size, m, unknown, ok := readSize(b, off)
		if !ok {
			return
		}
		off += m

		// Segment and Cluster are usually written with unknown size in live
		// streams; treat them as transparent and keep walking their children
		// at this level.
		if id == idSegment || id == idCluster {
			continue
		}
		if unknown {
			return // unknown size on anything else: cannot skip safely
		}
		end := off + int(size)
		if end > len(b) || end < off {
			return // incomplete tail
		}

		switch id {
		case idTracks:
			if t, ok := parseTracks(b[off:end]); ok {
				tr = t
			}
		case idSimpleBlock:
			if p := blockPayload(b[off:end], tr.number); p != nil {
				packets = append(packets, p)
			}
		case idBlockGroup:
			if p := parseBlockGroup(b[off:end], tr.number); p != nil {
				packets = append(packets, p)
			}
		}
		off = end
	}
	return
}

// parseTracks scans a complete Tracks element for the first Opus audio track.
func parseTracks(b []byte) (trackInfo, bool) {
	off := 0
	for off < len(b) {
		id, n, ok := readID(b, off)
		if !ok {
			break
		}
		off += n
		size, m, unknown, ok := readSize(b, off)
		if !ok || unknown {
			break
		}
		off += m
		end := off + int(size)
		if end > len(b) {
			break
		}
		if id == idTrackEntry {
			if t, ok := parseTrackEntry(b[off:end]); ok {
				return t, true
			}
		}
		off = end
	}
	return trackInfo{}, false
}

func parseTrackEntry(b []byte) (trackInfo, bool) {
	var t trackInfo
	codec := ""
	off := 0
	for off < len(b) {
		id, n, ok := readID(b, off)
		if !ok {
			break
		}
		off += n
		size, m, unknown, ok := readSize(b, off)
		if !ok || unknown {
			break
		}
		off += m
		end := off + int(size)
		if end > len(b) {
			break
		}
		body := b[off:end]
		switch id {
		case idTrackNumber:
			t.number = ebmlUint(body)
		case idCodecID:
			codec = string(body)
		case idAudio:
			parseAudio(body, &t)
		}
		off = end
	}
	if codec != codecOpus || t.number == 0 {
		return trackInfo{}, false
	}
	if t.channels == 0 {
		t.channels = 1
	}
	if t.sampleRate == 0 {
		t.sampleRate = 48000
	}
	return t, true
}

func parseAudio(b []byte, t *trackInfo) {
	off := 0
	for off < len(b) {
		id, n, ok := readID(b, off)
		if !ok {
			break
		}
		off += n
		size, m, unknown, ok := readSize(b, off)
		if !ok || unknown {
			break
		}
		off += m
		end := off + int(size)
		if end > len(b) {
			break
		}
		body := b[off:end]
		switch id {
		case idChannels:
			t.channels = int(ebmlUint(body))
		case idSampFreq:
			t.sampleRate = ebmlFloat(body)
		}
		off = end
	}
}

// parseBlockGroup extracts the payload of the Block child, if complete.
func parseBlockGroup(b []byte, track uint64) []byte {
	off := 0
	for off < len(b) {
		id, n, ok := readID(b, off)
		if !ok {
			return nil
		}
		off += n
		size, m, unknown, ok := readSize(b, off)
		if !ok || unknown {
			return nil
		}
		off += m
		end := off + int(size)
		if end > len(b) {
			return nil
		}
		if id == idBlock {
			return blockPayload(b[off:end], track)
		}
		off = end
	}
	return nil
}

// blockPayload strips the SimpleBlock/Block framing (track vint, 16-bit
// relative timecode, flags byte) and returns the codec payload. Laced blocks
// are skipped; browsers do not produce them for Opus.
func blockPayload(b []byte, track uint64) []byte {
	tn, n, _, ok := readSize(b, 0) // track number is a vint like a size
	if !ok || tn != track {
		return nil
	}
	if len(b) < n+3 {
		return nil
	}
	flags := b[n+2]
	if flags&0x06 != 0 {
		return nil // lacing
	}
	return b[n+3:]
}

func ebmlUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func ebmlFloat(b []byte) float64 {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	}
	return 0
}
