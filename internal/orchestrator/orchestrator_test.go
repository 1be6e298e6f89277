package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lingopath/voice-translator/internal/audio"
	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/live"
	"github.com/lingopath/voice-translator/internal/pipeline"
	"github.com/lingopath/voice-translator/internal/stt"
	"github.com/lingopath/voice-translator/internal/translate"
)

// recorder keeps a global order of side effects across all fakes so tests
// can assert teardown sequencing.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeCapture struct {
	rec      *recorder
	frames   chan []byte
	volume   chan float64
	stopOnce sync.Once

	mu       sync.Mutex
	started  bool
	startErr error
}

func newFakeCapture(rec *recorder) *fakeCapture {
	return &fakeCapture{
		rec:    rec,
		frames: make(chan []byte, 16),
		volume: make(chan float64, 16),
	}
}

func (c *fakeCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.started = true
	return nil
}

func (c *fakeCapture) Stop() {
	c.stopOnce.Do(func() {
		c.rec.add("capture.stop")
		close(c.frames)
		close(c.volume)
	})
}

func (c *fakeCapture) Frames() <-chan []byte  { return c.frames }
func (c *fakeCapture) Volume() <-chan float64 { return c.volume }

type fakeSink struct {
	rec       *recorder
	playingCh chan bool

	mu      sync.Mutex
	queued  [][]byte
	playing bool
	stops   int
}

func newFakeSink(rec *recorder) *fakeSink {
	return &fakeSink{rec: rec, playingCh: make(chan bool, 16)}
}

func (s *fakeSink) Enqueue(pcm []byte) {
	s.mu.Lock()
	s.queued = append(s.queued, pcm)
	wasPlaying := s.playing
	s.playing = true
	s.mu.Unlock()

	s.rec.add("sink.enqueue")
	if !wasPlaying {
		s.playingCh <- true
	}
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	s.queued = nil
	s.stops++
	wasPlaying := s.playing
	s.playing = false
	s.mu.Unlock()

	s.rec.add("sink.stop")
	if wasPlaying {
		s.playingCh <- false
	}
}

// finishPlayback simulates the queue draining naturally
func (s *fakeSink) finishPlayback() {
	s.mu.Lock()
	wasPlaying := s.playing
	s.playing = false
	s.mu.Unlock()
	if wasPlaying {
		s.playingCh <- false
	}
}

func (s *fakeSink) PlayingChanges() <-chan bool { return s.playingCh }

func (s *fakeSink) queuedChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.queued...)
}

func (s *fakeSink) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeTranscriber struct {
	rec    *recorder
	events chan stt.TranscriptEvent
	errs   chan error

	mu          sync.Mutex
	connected   bool
	language    string
	frames      [][]byte
	disconnects int
}

func newFakeTranscriber(rec *recorder) *fakeTranscriber {
	return &fakeTranscriber{
		rec:    rec,
		events: make(chan stt.TranscriptEvent, 16),
		errs:   make(chan error, 4),
	}
}

func (f *fakeTranscriber) Connect(ctx context.Context, language string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.language = language
	return nil
}

func (f *fakeTranscriber) SendAudio(frame []byte) {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
}

func (f *fakeTranscriber) Events() <-chan stt.TranscriptEvent { return f.events }
func (f *fakeTranscriber) Errors() <-chan error               { return f.errs }

func (f *fakeTranscriber) Disconnect() {
	f.rec.add("stt.disconnect")
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeTranscriber) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeTranscriber) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type spokenText struct {
	text     string
	language string
}

type fakeSynthesizer struct {
	rec    *recorder
	audio  chan []byte
	doneCh chan struct{}
	errs   chan error

	mu       sync.Mutex
	spoken   []spokenText
	stops    int
	speakErr error
	chunks   [][]byte
}

func newFakeSynthesizer(rec *recorder) *fakeSynthesizer {
	return &fakeSynthesizer{
		rec:    rec,
		audio:  make(chan []byte, 16),
		doneCh: make(chan struct{}, 4),
		errs:   make(chan error, 4),
		chunks: [][]byte{{1, 0, 2, 0}},
	}
}

func (f *fakeSynthesizer) Connect(ctx context.Context) error { return nil }

func (f *fakeSynthesizer) Speak(text, language string) error {
	f.mu.Lock()
	if f.speakErr != nil {
		err := f.speakErr
		f.mu.Unlock()
		return err
	}
	f.spoken = append(f.spoken, spokenText{text: text, language: language})
	chunks := f.chunks
	f.mu.Unlock()

	for _, c := range chunks {
		f.audio <- c
	}
	f.doneCh <- struct{}{}
	return nil
}

func (f *fakeSynthesizer) Stop() {
	f.rec.add("tts.stop")
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeSynthesizer) Audio() <-chan []byte    { return f.audio }
func (f *fakeSynthesizer) Done() <-chan struct{}   { return f.doneCh }
func (f *fakeSynthesizer) Errors() <-chan error    { return f.errs }
func (f *fakeSynthesizer) Disconnect()             { f.rec.add("tts.disconnect") }

func (f *fakeSynthesizer) spokenTexts() []spokenText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spokenText(nil), f.spoken...)
}

func (f *fakeSynthesizer) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type translateCall struct {
	text     string
	fromLang string
	toLang   string
	image    *translate.Image
}

type fakeTranslator struct {
	mu     sync.Mutex
	calls  []translateCall
	result translate.Result
	err    error
}

func newFakeTranslator() *fakeTranslator {
	return &fakeTranslator{
		result: translate.Result{
			Translation:   "こんにちは",
			Pronunciation: "konnichiwa",
			Reply:         "A friendly greeting.",
		},
	}
}

func (f *fakeTranslator) Translate(ctx context.Context, text, fromLang, toLang string, image *translate.Image) (translate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, translateCall{text: text, fromLang: fromLang, toLang: toLang, image: image})
	return f.result, f.err
}

func (f *fakeTranslator) callList() []translateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]translateCall(nil), f.calls...)
}

func (f *fakeTranslator) setError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeConverser struct {
	rec    *recorder
	events chan live.Event
	errs   chan error

	mu          sync.Mutex
	sentText    []string
	sentAudio   [][]byte
	toolResults map[string]map[string]interface{}
	disconnects int
}

func newFakeConverser(rec *recorder) *fakeConverser {
	return &fakeConverser{
		rec:         rec,
		events:      make(chan live.Event, 16),
		errs:        make(chan error, 4),
		toolResults: make(map[string]map[string]interface{}),
	}
}

func (f *fakeConverser) Connect(ctx context.Context) error { return nil }

func (f *fakeConverser) SendAudio(frame []byte) {
	f.mu.Lock()
	f.sentAudio = append(f.sentAudio, frame)
	f.mu.Unlock()
}

func (f *fakeConverser) SendText(text string) error {
	f.mu.Lock()
	f.sentText = append(f.sentText, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeConverser) SendImage(data []byte, mimeType string) error { return nil }

func (f *fakeConverser) SubmitToolResult(callID string, result map[string]interface{}) error {
	f.mu.Lock()
	f.toolResults[callID] = result
	f.mu.Unlock()
	return nil
}

func (f *fakeConverser) Events() <-chan live.Event { return f.events }
func (f *fakeConverser) Errors() <-chan error      { return f.errs }

func (f *fakeConverser) Disconnect() {
	f.rec.add("live.disconnect")
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeConverser) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sentText...)
}

func (f *fakeConverser) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type harness struct {
	t   *testing.T
	o   *Orchestrator
	rec *recorder

	captureStartErr error

	mu       sync.Mutex
	captures []*fakeCapture
	sinks    []*fakeSink
	stts     []*fakeTranscriber
	ttss     []*fakeSynthesizer
	trs      []*fakeTranslator
	lives    []*fakeConverser
	events   []Event
}

func newHarness(t *testing.T, mode string, silenceMs int) *harness {
	t.Helper()

	cfg := &config.Config{
		DeepgramAPIKey:      "dg-test",
		DeepgramModel:       "nova-2",
		CartesiaAPIKey:      "ca-test",
		CartesiaModelID:     "sonic-multilingual",
		GoogleAPIKey:        "goog-test",
		TranslateModel:      "gemini-2.5-flash",
		LiveModel:           "models/gemini-2.0-flash-exp",
		LiveVoiceName:       "Aoede",
		FromLanguage:        "en",
		ToLanguage:          "ja",
		PipelineMode:        mode,
		CaptureSampleRate:   16000,
		PlaybackSampleRate:  24000,
		FrameSamples:        4096,
		VolumeIntervalMs:    50,
		SilenceTimeoutMs:    silenceMs,
		ReconnectCooldownMs: 20,
	}

	h := &harness{t: t, rec: &recorder{}}

	deps := Deps{
		NewCapture: func(config.Session) Capture {
			c := newFakeCapture(h.rec)
			c.startErr = h.captureStartErr
			h.mu.Lock()
			h.captures = append(h.captures, c)
			h.mu.Unlock()
			return c
		},
		NewSink: func(config.Session) Sink {
			s := newFakeSink(h.rec)
			h.mu.Lock()
			h.sinks = append(h.sinks, s)
			h.mu.Unlock()
			return s
		},
		NewTranscriber: func(config.Session) Transcriber {
			f := newFakeTranscriber(h.rec)
			h.mu.Lock()
			h.stts = append(h.stts, f)
			h.mu.Unlock()
			return f
		},
		NewSynthesizer: func(config.Session) Synthesizer {
			f := newFakeSynthesizer(h.rec)
			h.mu.Lock()
			h.ttss = append(h.ttss, f)
			h.mu.Unlock()
			return f
		},
		NewTranslator: func(config.Session) Translator {
			f := newFakeTranslator()
			h.mu.Lock()
			h.trs = append(h.trs, f)
			h.mu.Unlock()
			return f
		},
		NewConverser: func(config.Session) Converser {
			f := newFakeConverser(h.rec)
			h.mu.Lock()
			h.lives = append(h.lives, f)
			h.mu.Unlock()
			return f
		},
	}

	h.o = New("sess-test", cfg, deps, zerolog.Nop())
	go h.collect()
	t.Cleanup(h.o.Close)
	return h
}

func (h *harness) collect() {
	for ev := range h.o.Events() {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	}
}

func (h *harness) connect() {
	h.t.Helper()
	if err := h.o.Connect(context.Background()); err != nil {
		h.t.Fatalf("Connect() error = %v", err)
	}
}

func (h *harness) capture() *fakeCapture {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.captures[len(h.captures)-1]
}

func (h *harness) sink() *fakeSink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinks[len(h.sinks)-1]
}

func (h *harness) transcriber() *fakeTranscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stts[len(h.stts)-1]
}

func (h *harness) synthesizer() *fakeSynthesizer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ttss[len(h.ttss)-1]
}

func (h *harness) translator() *fakeTranslator {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trs[len(h.trs)-1]
}

func (h *harness) converser() *fakeConverser {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lives[len(h.lives)-1]
}

func (h *harness) eventsOf(kind EventKind) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, ev := range h.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (h *harness) statuses() []TurnStatus {
	var out []TurnStatus
	for _, ev := range h.eventsOf(EventStatus) {
		out = append(out, ev.Status)
	}
	return out
}

func (h *harness) waitFor(cond func() bool, msg string) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		if cond() {
			return
		}
	}
	h.t.Fatalf("timed out waiting for %s", msg)
}

// containsInOrder checks that want appears as a subsequence of got
func containsInOrder(got []TurnStatus, want ...TurnStatus) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestConnectStartsListening(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.connect()

	h.waitFor(func() bool { return h.o.Status() == StatusListening }, "listening status")

	if !containsInOrder(h.statuses(), StatusConnecting, StatusListening) {
		t.Errorf("statuses = %v, want connecting then listening", h.statuses())
	}
	if h.transcriber().language != "en" {
		t.Errorf("stt language = %q, want en", h.transcriber().language)
	}

	// Reconnect while connected is a no-op.
	h.connect()
	h.mu.Lock()
	captures := len(h.captures)
	h.mu.Unlock()
	if captures != 1 {
		t.Errorf("captures created = %d, want 1", captures)
	}
}

func TestCaptureFramesReachTranscriber(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.connect()

	h.capture().frames <- []byte{1, 0, 2, 0}
	h.waitFor(func() bool { return h.transcriber().frameCount() == 1 }, "frame forwarded")
}

func TestVolumeForwarded(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.connect()

	h.capture().volume <- 0.42
	h.waitFor(func() bool { return len(h.eventsOf(EventVolume)) > 0 }, "volume event")

	if got := h.eventsOf(EventVolume)[0].Volume; got != 0.42 {
		t.Errorf("volume = %v, want 0.42", got)
	}
}

func TestHappyPathTurn(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.connect()

	h.transcriber().events <- stt.TranscriptEvent{Text: "hel", IsFinal: false}
	h.transcriber().events <- stt.TranscriptEvent{Text: "hello", IsFinal: true, Confidence: 0.95}

	// Silence window expires and finalizes the turn.
	h.waitFor(func() bool { return len(h.translator().callList()) == 1 }, "translate call")

	call := h.translator().callList()[0]
	if call.text != "hello" || call.fromLang != "en" || call.toLang != "ja" {
		t.Errorf("translate call = %+v", call)
	}

	h.waitFor(func() bool { return len(h.eventsOf(EventTranslation)) == 1 }, "translation event")
	tr := h.eventsOf(EventTranslation)[0].Translation
	if tr.Source != "hello" || tr.Result.Translation != "こんにちは" {
		t.Errorf("translation = %+v", tr)
	}

	h.waitFor(func() bool { return len(h.synthesizer().spokenTexts()) == 1 }, "speak call")
	spoken := h.synthesizer().spokenTexts()[0]
	if spoken.text != "こんにちは" || spoken.language != "ja" {
		t.Errorf("spoken = %+v", spoken)
	}

	h.waitFor(func() bool { return h.o.Status() == StatusSpeaking }, "speaking status")
	h.sink().finishPlayback()
	h.waitFor(func() bool { return h.o.Status() == StatusListening }, "back to listening")

	if !containsInOrder(h.statuses(),
		StatusConnecting, StatusListening, StatusProcessing, StatusSpeaking, StatusListening) {
		t.Errorf("statuses = %v", h.statuses())
	}

	transcripts := h.eventsOf(EventTranscript)
	if len(transcripts) != 2 || transcripts[0].Transcript.IsFinal || !transcripts[1].Transcript.IsFinal {
		t.Errorf("transcript events = %+v", transcripts)
	}
}

func TestEndOfUtteranceFinalizesWithoutWaiting(t *testing.T) {
	// Long silence window: only the recognizer's own end-of-utterance signal
	// can finalize within the test deadline.
	h := newHarness(t, "split", 5000)
	h.connect()

	h.transcriber().events <- stt.TranscriptEvent{Text: "good morning", IsFinal: true, IsEndOfUtterance: true}

	h.waitFor(func() bool { return len(h.translator().callList()) == 1 }, "immediate finalize")
	if got := h.translator().callList()[0].text; got != "good morning" {
		t.Errorf("text = %q", got)
	}
}

func TestSilenceWindowRestartsOnActivity(t *testing.T) {
	h := newHarness(t, "split", 150)
	h.connect()

	h.transcriber().events <- stt.TranscriptEvent{Text: "one", IsFinal: true}
	time.Sleep(80 * time.Millisecond)
	h.transcriber().events <- stt.TranscriptEvent{Text: "two", IsFinal: true}

	h.waitFor(func() bool { return len(h.translator().callList()) == 1 }, "finalized turn")

	// Both segments landed in a single utterance: the second event restarted
	// the window before it expired.
	if got := h.translator().callList()[0].text; got != "one two" {
		t.Errorf("utterance = %q, want \"one two\"", got)
	}

	time.Sleep(200 * time.Millisecond)
	if n := len(h.translator().callList()); n != 1 {
		t.Errorf("translate calls = %d, want 1", n)
	}
}

func TestEmptyUtteranceIgnored(t *testing.T) {
	h := newHarness(t, "split", 50)
	h.connect()

	h.transcriber().events <- stt.TranscriptEvent{SpeechStarted: true}
	h.transcriber().events <- stt.TranscriptEvent{IsEndOfUtterance: true}

	time.Sleep(200 * time.Millisecond)
	if n := len(h.translator().callList()); n != 0 {
		t.Errorf("translate calls = %d, want 0 for empty utterance", n)
	}
	if h.o.Status() != StatusListening {
		t.Errorf("status = %v, want listening", h.o.Status())
	}
}

func TestMalformedTranslationSubstitutesApology(t *testing.T) {
	h := newHarness(t, "split", 50)
	h.connect()
	h.translator().setError(&pipeline.MalformedResponse{Component: "translate", Detail: "bad payload"})

	h.transcriber().events <- stt.TranscriptEvent{Text: "hello", IsFinal: true, IsEndOfUtterance: true}

	h.waitFor(func() bool { return len(h.eventsOf(EventTranslation)) == 1 }, "translation event")

	apology := translate.Apology()
	if got := h.eventsOf(EventTranslation)[0].Translation.Result; got != apology {
		t.Errorf("result = %+v, want apology", got)
	}

	// The turn still completes: the apology is spoken.
	h.waitFor(func() bool { return len(h.synthesizer().spokenTexts()) == 1 }, "apology spoken")
	if got := h.synthesizer().spokenTexts()[0].text; got != apology.Translation {
		t.Errorf("spoken = %q", got)
	}
}

func TestTranslateTransportErrorReportedOnceKeepsSession(t *testing.T) {
	h := newHarness(t, "split", 50)
	h.connect()
	h.translator().setError(&pipeline.ChannelError{Component: "translate", Err: errors.New("502")})

	h.transcriber().events <- stt.TranscriptEvent{Text: "hello", IsFinal: true, IsEndOfUtterance: true}

	h.waitFor(func() bool { return len(h.eventsOf(EventTranslation)) == 1 }, "apology translation")
	time.Sleep(100 * time.Millisecond)

	if n := len(h.eventsOf(EventError)); n != 1 {
		t.Errorf("error events = %d, want 1", n)
	}
	// A single failed request does not end the session.
	if h.transcriber().disconnectCount() != 0 {
		t.Error("session torn down after one failed translation")
	}
}

func TestTypedTextRunsTurn(t *testing.T) {
	h := newHarness(t, "split", 5000)
	h.connect()

	if err := h.o.SendText("where is the station?"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	h.waitFor(func() bool { return len(h.translator().callList()) == 1 }, "translate call")
	if got := h.translator().callList()[0].text; got != "where is the station?" {
		t.Errorf("text = %q", got)
	}
	if h.transcriber().frameCount() != 0 {
		t.Error("typed text should not touch the recognizer")
	}
}

func TestImageTurn(t *testing.T) {
	h := newHarness(t, "split", 5000)
	h.connect()

	if err := h.o.SendImage([]byte{0xFF, 0xD8}, "image/png"); err != nil {
		t.Fatalf("SendImage() error = %v", err)
	}

	h.waitFor(func() bool { return len(h.translator().callList()) == 1 }, "translate call")
	call := h.translator().callList()[0]
	if call.image == nil || call.image.MimeType != "image/png" {
		t.Errorf("image = %+v", call.image)
	}
}

func TestStopSpeakingClearsPlayback(t *testing.T) {
	h := newHarness(t, "split", 50)
	h.connect()

	h.transcriber().events <- stt.TranscriptEvent{Text: "hello", IsFinal: true, IsEndOfUtterance: true}
	h.waitFor(func() bool { return h.o.Status() == StatusSpeaking }, "speaking status")

	h.o.StopSpeaking()

	h.waitFor(func() bool { return h.o.Status() == StatusListening }, "listening after stop")
	if h.synthesizer().stopCount() == 0 {
		t.Error("synthesis was not cancelled")
	}
	if len(h.sink().queuedChunks()) != 0 {
		t.Error("playback queue not cleared")
	}
}

func TestMidSpeechFinalizeInterruptsPlayback(t *testing.T) {
	h := newHarness(t, "split", 5000)
	h.connect()

	h.transcriber().events <- stt.TranscriptEvent{Text: "first", IsFinal: true, IsEndOfUtterance: true}
	h.waitFor(func() bool { return h.o.Status() == StatusSpeaking }, "speaking status")

	// The user talks over the answer; the next finalized turn must clear
	// the stale playback before its own audio lands.
	h.transcriber().events <- stt.TranscriptEvent{Text: "second", IsFinal: true, IsEndOfUtterance: true}

	h.waitFor(func() bool {
		return len(h.synthesizer().spokenTexts()) == 2 && len(h.sink().queuedChunks()) == 1
	}, "stale audio cleared before the new turn's chunk")

	if h.synthesizer().stopCount() == 0 {
		t.Error("first synthesis was not cancelled")
	}

	calls := h.rec.list()
	stop := indexOf(calls, "sink.stop")
	if stop == -1 {
		t.Fatal("sink never cleared")
	}
	lastEnqueue := -1
	for i, c := range calls {
		if c == "sink.enqueue" {
			lastEnqueue = i
		}
	}
	if lastEnqueue < stop {
		t.Errorf("new audio enqueued before the clear: %v", calls)
	}
}

func TestConnectFailureEmitsCaptureMessage(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.captureStartErr = &audio.CaptureError{
		Kind: audio.CapturePermissionDenied,
		Err:  audio.ErrPermissionDenied,
	}

	if err := h.o.Connect(context.Background()); err == nil {
		t.Fatal("Connect() = nil, want capture error")
	}

	h.waitFor(func() bool { return len(h.eventsOf(EventError)) == 1 }, "error event")
	info := h.eventsOf(EventError)[0].Err
	if info.Component != "capture" {
		t.Errorf("component = %q, want capture", info.Component)
	}
	want := (&audio.CaptureError{Kind: audio.CapturePermissionDenied}).Message()
	if info.Message != want {
		t.Errorf("message = %q, want %q", info.Message, want)
	}
}

func TestDisconnectOrdering(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.connect()

	h.o.Disconnect()

	calls := h.rec.list()
	captureStop := indexOf(calls, "capture.stop")
	ttsStop := indexOf(calls, "tts.stop")
	sinkStop := indexOf(calls, "sink.stop")
	sttDisc := indexOf(calls, "stt.disconnect")

	if captureStop == -1 || ttsStop == -1 || sinkStop == -1 || sttDisc == -1 {
		t.Fatalf("missing teardown calls: %v", calls)
	}
	if !(captureStop < ttsStop && ttsStop < sinkStop && sinkStop < sttDisc) {
		t.Errorf("teardown order = %v, want capture.stop < tts.stop < sink.stop < stt.disconnect", calls)
	}
	if h.o.Status() != StatusIdle {
		t.Errorf("status = %v, want idle", h.o.Status())
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.connect()

	h.o.Disconnect()
	h.o.Disconnect()

	if got := h.transcriber().disconnectCount(); got != 1 {
		t.Errorf("stt disconnects = %d, want 1", got)
	}
	if h.o.Status() != StatusIdle {
		t.Errorf("status = %v, want idle", h.o.Status())
	}
}

func TestLanguageChangeRebuildsPipeline(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.connect()

	start := time.Now()
	if err := h.o.SetLanguages(context.Background(), "ja", "en"); err != nil {
		t.Fatalf("SetLanguages() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("reconnect took %v, want at least the cooldown", elapsed)
	}

	h.mu.Lock()
	transcribers := len(h.stts)
	h.mu.Unlock()
	if transcribers != 2 {
		t.Fatalf("transcribers created = %d, want 2", transcribers)
	}

	h.mu.Lock()
	first := h.stts[0]
	h.mu.Unlock()
	if first.disconnectCount() != 1 {
		t.Errorf("old pipeline disconnects = %d, want 1", first.disconnectCount())
	}
	if got := h.transcriber().language; got != "ja" {
		t.Errorf("new stt language = %q, want ja", got)
	}
	if h.o.Status() != StatusListening {
		t.Errorf("status = %v, want listening", h.o.Status())
	}
}

func TestLanguageChangeWhileIdleDefersReconnect(t *testing.T) {
	h := newHarness(t, "split", 100)

	if err := h.o.SetLanguages(context.Background(), "es", "fr"); err != nil {
		t.Fatalf("SetLanguages() error = %v", err)
	}
	h.mu.Lock()
	created := len(h.stts)
	h.mu.Unlock()
	if created != 0 {
		t.Errorf("pipeline built while idle, want deferred")
	}

	h.connect()
	if got := h.transcriber().language; got != "es" {
		t.Errorf("language = %q, want es", got)
	}
}

func TestRecognizerFaultTearsSessionDown(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.connect()

	h.transcriber().errs <- &pipeline.ChannelError{Component: "stt", Err: errors.New("circuit open")}

	h.waitFor(func() bool { return h.o.Status() == StatusIdle }, "idle after fault")

	if n := len(h.eventsOf(EventError)); n != 1 {
		t.Errorf("error events = %d, want 1", n)
	}
	if !containsInOrder(h.statuses(), StatusError, StatusIdle) {
		t.Errorf("statuses = %v, want error then idle", h.statuses())
	}
	if h.transcriber().disconnectCount() != 1 {
		t.Error("pipeline not torn down after fault")
	}
}

func TestControlsRejectedWhenIdle(t *testing.T) {
	h := newHarness(t, "split", 100)

	if err := h.o.SendText("hello"); err == nil {
		t.Error("SendText() = nil, want not-connected error")
	}
	if err := h.o.SendImage([]byte{1}, "image/jpeg"); err == nil {
		t.Error("SendImage() = nil, want not-connected error")
	}
	h.o.StopSpeaking() // no panic
}

func TestNativeRoutesEvents(t *testing.T) {
	h := newHarness(t, "native", 100)
	h.connect()

	pcm := []byte{5, 0, 6, 0}
	h.converser().events <- live.Event{Kind: live.EventInputTranscript, Text: "hello"}
	h.converser().events <- live.Event{Kind: live.EventAudio, Audio: pcm}
	h.converser().events <- live.Event{Kind: live.EventOutputTranscript, Text: "konnichiwa"}
	h.converser().events <- live.Event{Kind: live.EventTurnComplete}

	h.waitFor(func() bool { return len(h.sink().queuedChunks()) == 1 }, "audio in sink")
	h.waitFor(func() bool { return len(h.eventsOf(EventTranscript)) == 1 }, "input transcript")
	h.waitFor(func() bool { return len(h.eventsOf(EventStreamingText)) == 1 }, "output transcript")

	tr := h.eventsOf(EventTranscript)[0].Transcript
	if tr.Text != "hello" || !tr.IsFinal {
		t.Errorf("transcript = %+v", tr)
	}

	h.waitFor(func() bool { return h.o.Status() == StatusSpeaking }, "speaking during playback")
	h.sink().finishPlayback()
	h.waitFor(func() bool { return h.o.Status() == StatusListening }, "listening after drain")
}

func TestNativeInterruptClearsQueueFirst(t *testing.T) {
	h := newHarness(t, "native", 100)
	h.connect()

	h.converser().events <- live.Event{Kind: live.EventAudio, Audio: []byte{1, 0}}
	h.waitFor(func() bool { return len(h.sink().queuedChunks()) == 1 }, "first chunk queued")

	// Barge-in arrives with the replacement audio behind it.
	h.converser().events <- live.Event{Kind: live.EventInterrupted}
	h.converser().events <- live.Event{Kind: live.EventAudio, Audio: []byte{9, 0}}

	h.waitFor(func() bool {
		chunks := h.sink().queuedChunks()
		return len(chunks) == 1 && chunks[0][0] == 9
	}, "queue cleared before new audio")

	calls := h.rec.list()
	stop := indexOf(calls, "sink.stop")
	if stop == -1 {
		t.Fatal("sink never cleared")
	}
	lastEnqueue := -1
	for i, c := range calls {
		if c == "sink.enqueue" {
			lastEnqueue = i
		}
	}
	if lastEnqueue < stop {
		t.Errorf("new audio enqueued before the clear: %v", calls)
	}
}

func TestNativeTypedText(t *testing.T) {
	h := newHarness(t, "native", 100)
	h.connect()

	if err := h.o.SendText("how much is this?"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	h.waitFor(func() bool { return len(h.converser().sentTexts()) == 1 }, "text forwarded")
	if h.o.Status() != StatusProcessing {
		t.Errorf("status = %v, want processing", h.o.Status())
	}
}

func TestNativeToolCallRoundTrip(t *testing.T) {
	h := newHarness(t, "native", 100)
	h.connect()

	h.converser().events <- live.Event{
		Kind:     live.EventToolCall,
		ToolCall: &live.ToolCall{ID: "call-1", Name: "lookup_phrase"},
	}

	h.waitFor(func() bool { return len(h.eventsOf(EventToolCall)) == 1 }, "tool call event")
	if got := h.eventsOf(EventToolCall)[0].ToolCall; got.ID != "call-1" {
		t.Errorf("tool call = %+v", got)
	}

	if err := h.o.SubmitToolResult("call-1", map[string]interface{}{"phrase": "arigatou"}); err != nil {
		t.Fatalf("SubmitToolResult() error = %v", err)
	}
	h.converser().mu.Lock()
	_, ok := h.converser().toolResults["call-1"]
	h.converser().mu.Unlock()
	if !ok {
		t.Error("tool result not forwarded")
	}
}

func TestNativeFaultTearsSessionDown(t *testing.T) {
	h := newHarness(t, "native", 100)
	h.connect()

	h.converser().errs <- &pipeline.ChannelError{Component: "live", Err: errors.New("socket closed")}

	h.waitFor(func() bool { return h.o.Status() == StatusIdle }, "idle after fault")
	if h.converser().disconnectCount() != 1 {
		t.Errorf("live disconnects = %d, want 1", h.converser().disconnectCount())
	}
}

func TestCaptureStartFailureRollsBack(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.captureStartErr = errors.New("microphone permission denied")

	if err := h.o.Connect(context.Background()); err == nil {
		t.Fatal("Connect() = nil, want capture error")
	}

	if h.o.Status() != StatusIdle {
		t.Errorf("status = %v, want idle", h.o.Status())
	}
	// The half-built pipeline was torn down.
	if h.transcriber().disconnectCount() != 1 {
		t.Errorf("stt disconnects = %d, want 1", h.transcriber().disconnectCount())
	}
}

func TestSplitRejectsToolResults(t *testing.T) {
	h := newHarness(t, "split", 100)
	h.connect()

	if err := h.o.SubmitToolResult("call-1", nil); err == nil {
		t.Error("SubmitToolResult() = nil, want error on split pipeline")
	}
}
