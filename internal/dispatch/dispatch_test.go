package dispatch

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-speech-relay/internal/audio"
	"realtime-speech-relay/internal/turn"
)

// ---- fakes ----------------------------------------------------------------

type fakeASR struct {
	text string
	lang string
	err  error
}

func (f *fakeASR) Transcribe(pcm []float32, langHint string) (string, string, error) {
	return f.text, f.lang, f.err
}

type fakeMT struct {
	out   string
	err   error
	calls int
}

func (f *fakeMT) Translate(text, sourceLang, targetLang string) (string, error) {
	f.calls++
	return f.out, f.err
}

type fakeTTS struct {
	wav   []byte
	calls int
}

func (f *fakeTTS) Synthesize(text, language string) ([]byte, error) {
	f.calls++
	return f.wav, nil
}

type fakePeer struct {
	mu sync.Mutex

	role string
	name string
	lang string
	open bool

	utteranceID  int
	ttsCancelled bool

	jsonSent   []map[string]any
	binarySent [][]byte
}

func (p *fakePeer) Role() string     { return p.role }
func (p *fakePeer) Name() string     { return p.name }
func (p *fakePeer) Language() string { return p.lang }
func (p *fakePeer) SocketOpen() bool { return p.open }

func (p *fakePeer) SendJSON(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jsonSent = append(p.jsonSent, v.(map[string]any))
}

func (p *fakePeer) SendBinary(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.binarySent = append(p.binarySent, data)
}

func (p *fakePeer) UtteranceID() int   { return p.utteranceID }
func (p *fakePeer) TTSCancelled() bool { return p.ttsCancelled }
func (p *fakePeer) ClearTTSCancelled() { p.ttsCancelled = false }

type memoryStore struct {
	saved [][]string
}

func (s *memoryStore) SaveTranscript(roomID, speakerName, sourceLang, targetLang, text, translation string) error {
	s.saved = append(s.saved, []string{roomID, speakerName, sourceLang, targetLang, text, translation})
	return nil
}

func newPeers() (*fakePeer, *fakePeer) {
	a := &fakePeer{role: "a", name: "Alice", lang: "en", open: true}
	b := &fakePeer{role: "b", name: "Bruno", lang: "es", open: true}
	return a, b
}

func newDispatcher(asr *fakeASR, mt *fakeMT, tts *fakeTTS) *Dispatcher {
	return &Dispatcher{
		RoomID: "TEST42",
		ASR:    asr,
		MT:     mt,
		TTS:    tts,
		Turn:   turn.NewStateMachine(0, 0, 0),
	}
}

// ttsWAV is half a second of silence at 16 kHz, so the lockout math is
// predictable: 500 ms TTS + 200 ms buffer.
func ttsWAV() []byte {
	return audio.PCM16ToWAV(make([]int16, 8000), 16000)
}

// ---- tests ----------------------------------------------------------------

func TestFinalTranscriptRoutesBothWays(t *testing.T) {
	a, b := newPeers()
	tts := &fakeTTS{wav: ttsWAV()}
	d := newDispatcher(&fakeASR{text: "hello", lang: "en"}, &fakeMT{out: "hola"}, tts)

	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypeTranscript, UtteranceID: 1, Duration: 1.234, HasDuration: true})

	require.Len(t, a.jsonSent, 1)
	self := a.jsonSent[0]
	assert.Equal(t, TypeTranscript, self["type"])
	assert.Equal(t, "self", self["speaker"])
	assert.Equal(t, "hello", self["text"])
	assert.Equal(t, "en", self["language"])
	assert.Equal(t, "hola", self["translation"])
	assert.Equal(t, "es", self["target_language"])
	assert.Equal(t, 1.23, self["duration"])

	// Partner gets the payload, the audio, then the mic_locked notice.
	require.Len(t, b.jsonSent, 2)
	partner := b.jsonSent[0]
	assert.Equal(t, "partner", partner["speaker"])
	assert.Equal(t, "Alice", partner["speaker_name"])
	assert.Equal(t, "hola", partner["translation"])
	assert.Equal(t, true, partner["has_tts"])

	require.Len(t, b.binarySent, 1)

	locked := b.jsonSent[1]
	assert.Equal(t, "mic_locked", locked["type"])
	assert.Equal(t, "tts_echo", locked["reason"])
	assert.Equal(t, 700.0, locked["duration_ms"])
	assert.True(t, d.Turn.IsLocked("b"))
	assert.False(t, d.Turn.IsLocked("a"))

	assert.Equal(t, 1, tts.calls)
}

func TestEmptyTranscriptDiscarded(t *testing.T) {
	a, b := newPeers()
	mt := &fakeMT{out: "hola"}
	d := newDispatcher(&fakeASR{text: "", lang: "en"}, mt, &fakeTTS{})

	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypeTranscript, UtteranceID: 1})

	assert.Empty(t, a.jsonSent)
	assert.Empty(t, b.jsonSent)
	assert.Zero(t, mt.calls)
}

func TestASRErrorDiscarded(t *testing.T) {
	a, b := newPeers()
	d := newDispatcher(&fakeASR{err: errors.New("engine down")}, &fakeMT{}, &fakeTTS{})

	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypeTranscript, UtteranceID: 1})

	assert.Empty(t, a.jsonSent)
	assert.Empty(t, b.jsonSent)
}

func TestStalePartialDiscarded(t *testing.T) {
	a, b := newPeers()
	a.utteranceID = 5
	d := newDispatcher(&fakeASR{text: "partial words", lang: "en"}, &fakeMT{out: "x"}, &fakeTTS{})

	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypePartial, UtteranceID: 4})
	assert.Empty(t, a.jsonSent)
	assert.Empty(t, b.jsonSent)

	// A current partial goes through but never triggers TTS.
	tts := &fakeTTS{wav: ttsWAV()}
	d.TTS = tts
	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypePartial, UtteranceID: 5})
	require.Len(t, a.jsonSent, 1)
	require.Len(t, b.jsonSent, 1)
	assert.Empty(t, b.binarySent)
	assert.Zero(t, tts.calls)
}

func TestSameLanguageRelaysUntranslated(t *testing.T) {
	a, b := newPeers()
	b.lang = "en"
	mt := &fakeMT{out: "should not be used"}
	tts := &fakeTTS{wav: ttsWAV()}
	d := newDispatcher(&fakeASR{text: "same words", lang: "en"}, mt, tts)

	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypeTranscript, UtteranceID: 1})

	require.Len(t, b.jsonSent, 1)
	partner := b.jsonSent[0]
	assert.Equal(t, "same words", partner["text"])
	assert.NotContains(t, partner, "translation")
	assert.NotContains(t, partner, "has_tts")
	assert.Empty(t, b.binarySent)
	assert.Zero(t, mt.calls)
	assert.Zero(t, tts.calls)
}

func TestUnknownLanguageSkipsTranslation(t *testing.T) {
	a, b := newPeers()
	mt := &fakeMT{out: "should not be used"}
	d := newDispatcher(&fakeASR{text: "mystery", lang: "unknown"}, mt, &fakeTTS{})

	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypeTranscript, UtteranceID: 1})

	require.Len(t, b.jsonSent, 1)
	assert.NotContains(t, b.jsonSent[0], "translation")
	assert.Zero(t, mt.calls)
}

func TestBargeInCancelsTTS(t *testing.T) {
	a, b := newPeers()
	b.ttsCancelled = true
	tts := &fakeTTS{wav: ttsWAV()}
	d := newDispatcher(&fakeASR{text: "hello", lang: "en"}, &fakeMT{out: "hola"}, tts)

	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypeTranscript, UtteranceID: 1})

	// Transcript still delivered, but no audio and no lockout.
	require.Len(t, b.jsonSent, 1)
	assert.NotContains(t, b.jsonSent[0], "has_tts")
	assert.Empty(t, b.binarySent)
	assert.False(t, d.Turn.IsLocked("b"))
	assert.Zero(t, tts.calls)

	// The flag is consumed so the next utterance synthesizes again.
	assert.False(t, b.ttsCancelled)
	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypeTranscript, UtteranceID: 2})
	assert.Len(t, b.binarySent, 1)
}

func TestClosedPartnerGetsNothing(t *testing.T) {
	a, b := newPeers()
	b.open = false
	d := newDispatcher(&fakeASR{text: "hello", lang: "en"}, &fakeMT{out: "hola"}, &fakeTTS{})

	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypeTranscript, UtteranceID: 1})

	require.Len(t, a.jsonSent, 1)
	assert.NotContains(t, a.jsonSent[0], "translation")
	assert.Empty(t, b.jsonSent)
}

func TestNilPartnerSelfOnly(t *testing.T) {
	a, _ := newPeers()
	d := newDispatcher(&fakeASR{text: "hello", lang: "en"}, &fakeMT{out: "hola"}, &fakeTTS{})

	d.ProcessSpeech(a, nil, Job{PCM: []float32{0}, Type: TypeTranscript, UtteranceID: 1})

	require.Len(t, a.jsonSent, 1)
	assert.Equal(t, "self", a.jsonSent[0]["speaker"])
}

func TestFinalTranscriptPersisted(t *testing.T) {
	a, b := newPeers()
	store := &memoryStore{}
	d := newDispatcher(&fakeASR{text: "hello", lang: "en"}, &fakeMT{out: "hola"}, &fakeTTS{})
	d.History = store

	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypeTranscript, UtteranceID: 1})
	d.ProcessSpeech(a, b, Job{PCM: []float32{0}, Type: TypePartial, UtteranceID: 0})

	// Only the final transcript is stored.
	require.Len(t, store.saved, 1)
	assert.Equal(t, []string{"TEST42", "Alice", "en", "es", "hello", "hola"}, store.saved[0])
}
