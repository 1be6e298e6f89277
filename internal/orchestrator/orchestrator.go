package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lingopath/voice-translator/internal/audio"
	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/observability"
	"github.com/lingopath/voice-translator/internal/pipeline"
)

// strategy is one concrete pipeline behind the orchestrator. The split
// strategy composes STT, translation, and TTS; the native strategy wraps a
// single audio-to-audio channel. Both deliver playback through the shared
// sink and report through the orchestrator's event stream.
type strategy interface {
	connect(ctx context.Context) error
	sendAudio(frame []byte)
	sendText(text string) error
	sendImage(data []byte, mimeType string) error
	submitToolResult(callID string, result map[string]interface{}) error
	stopSpeaking()
	disconnect()
}

// Orchestrator sequences one conversation session: it forwards capture
// frames into the active pipeline, moves synthesized audio to the sink, and
// derives the turn status reported to the client.
//
// Methods are the inbound control surface; Events is the only outbound
// surface. Both are safe for concurrent use, but controls are expected to
// arrive one at a time from the session's read loop.
type Orchestrator struct {
	cfg     *config.Config
	deps    Deps
	logger  zerolog.Logger
	metrics *observability.SessionMetrics

	events  chan Event
	emitMu  sync.Mutex
	emitsOn bool

	mu         sync.Mutex
	status     TurnStatus
	fromLang   string
	toLang     string
	connected  bool
	session    config.Session
	capture    Capture
	sink       Sink
	strat      strategy
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// New creates an orchestrator for one session. Nothing connects until
// Connect is called.
func New(sessionID string, cfg *config.Config, deps Deps, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		metrics: observability.NewSessionMetrics(sessionID, cfg.PipelineMode),
		events:  make(chan Event, 256),
		emitsOn: true,
		status:  StatusIdle,
	}
}

// Events returns the outbound event stream. Slow consumers lose events
// rather than stalling the pipeline.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Status returns the current turn status
func (o *Orchestrator) Status() TurnStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Connect builds the configured pipeline, starts capture, and begins
// listening. Calling Connect while connected is a no-op.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.connected {
		o.mu.Unlock()
		return nil
	}
	session := o.cfg.Session(o.fromLang, o.toLang)
	o.mu.Unlock()

	o.setStatus(StatusConnecting)

	sink := o.deps.NewSink(session)
	var strat strategy
	if o.cfg.PipelineMode == "native" {
		strat = newNativeStrategy(o, session, sink, o.deps.NewConverser(session))
	} else {
		strat = newSplitStrategy(o, session, sink,
			o.deps.NewTranscriber(session),
			o.deps.NewTranslator(session),
			o.deps.NewSynthesizer(session))
	}

	if err := strat.connect(ctx); err != nil {
		o.reportConnectError(err)
		o.setStatus(StatusIdle)
		return fmt.Errorf("pipeline connect failed: %w", err)
	}

	capture := o.deps.NewCapture(session)
	if err := capture.Start(ctx); err != nil {
		strat.disconnect()
		o.reportConnectError(err)
		o.setStatus(StatusIdle)
		return fmt.Errorf("capture start failed: %w", err)
	}

	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	pumpDone := make(chan struct{})

	o.mu.Lock()
	o.connected = true
	o.session = session
	o.capture = capture
	o.sink = sink
	o.strat = strat
	o.pumpCancel = pumpCancel
	o.pumpDone = pumpDone
	o.mu.Unlock()

	go o.pump(pumpCtx, pumpDone, capture, sink, strat)

	o.metrics.RecordSessionStart()
	o.logger.Info().
		Str("from", session.FromLanguage).
		Str("to", session.ToLanguage).
		Str("pipeline", o.cfg.PipelineMode).
		Msg("Session connected")

	o.setStatus(StatusListening)
	return nil
}

// Disconnect tears the session down in order: frame intake stops first so
// nothing new enters the pipeline, then the pipeline cancels its pending
// work, then the playback queue is cleared, then the provider channels
// close. Safe to call repeatedly and from any goroutine.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	if !o.connected {
		o.mu.Unlock()
		return
	}
	o.connected = false
	capture := o.capture
	sink := o.sink
	strat := o.strat
	pumpCancel := o.pumpCancel
	pumpDone := o.pumpDone
	o.capture = nil
	o.sink = nil
	o.strat = nil
	o.pumpCancel = nil
	o.pumpDone = nil
	o.mu.Unlock()

	capture.Stop()
	strat.disconnect()
	sink.Stop()
	pumpCancel()
	<-pumpDone

	o.metrics.RecordSessionEnd()
	o.logger.Info().Msg("Session disconnected")
	o.setStatus(StatusIdle)
}

// SetLanguages applies a new language pair. A live session is rebuilt: full
// disconnect, a short cooldown so the provider sockets settle, then a fresh
// connect with the new pair. No capture frames flow during the gap.
func (o *Orchestrator) SetLanguages(ctx context.Context, fromLang, toLang string) error {
	o.mu.Lock()
	o.fromLang = fromLang
	o.toLang = toLang
	connected := o.connected
	o.mu.Unlock()

	if !connected {
		return nil
	}

	cooldown := o.cfg.Session(fromLang, toLang).ReconnectCooldown
	o.logger.Info().
		Str("from", fromLang).
		Str("to", toLang).
		Msg("Language change, rebuilding pipeline")

	o.Disconnect()

	select {
	case <-time.After(cooldown):
	case <-ctx.Done():
		return ctx.Err()
	}

	return o.Connect(ctx)
}

// SendText submits typed text as a complete user turn
func (o *Orchestrator) SendText(text string) error {
	strat, err := o.activeStrategy()
	if err != nil {
		return err
	}
	return strat.sendText(text)
}

// SendImage submits an image for translation or description
func (o *Orchestrator) SendImage(data []byte, mimeType string) error {
	strat, err := o.activeStrategy()
	if err != nil {
		return err
	}
	return strat.sendImage(data, mimeType)
}

// SubmitToolResult answers a tool call surfaced on the event stream
func (o *Orchestrator) SubmitToolResult(callID string, result map[string]interface{}) error {
	strat, err := o.activeStrategy()
	if err != nil {
		return err
	}
	return strat.submitToolResult(callID, result)
}

// StopSpeaking cancels in-flight synthesis and clears queued playback. The
// session keeps listening.
func (o *Orchestrator) StopSpeaking() {
	o.mu.Lock()
	strat := o.strat
	o.mu.Unlock()
	if strat == nil {
		return
	}
	strat.stopSpeaking()
}

// Close disconnects and closes the event stream. The orchestrator is not
// usable afterwards.
func (o *Orchestrator) Close() {
	o.Disconnect()

	o.emitMu.Lock()
	if o.emitsOn {
		o.emitsOn = false
		close(o.events)
	}
	o.emitMu.Unlock()
}

func (o *Orchestrator) activeStrategy() (strategy, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.strat == nil {
		return nil, fmt.Errorf("session not connected")
	}
	return o.strat, nil
}

// pump moves capture output into the pipeline and tracks playback state.
// It owns no pipeline state of its own; it exits when the session ends.
func (o *Orchestrator) pump(ctx context.Context, done chan struct{}, capture Capture, sink Sink, strat strategy) {
	defer close(done)

	frames := capture.Frames()
	volume := capture.Volume()
	playing := sink.PlayingChanges()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			strat.sendAudio(frame)
			o.metrics.RecordAudioBytes("capture", int64(len(frame)))

		case v, ok := <-volume:
			if !ok {
				volume = nil
				continue
			}
			o.emit(Event{Kind: EventVolume, Volume: v})

		case p, ok := <-playing:
			if !ok {
				playing = nil
				continue
			}
			o.handlePlayingChange(p)
		}
	}
}

func (o *Orchestrator) handlePlayingChange(playing bool) {
	o.mu.Lock()
	if !o.connected {
		o.mu.Unlock()
		return
	}
	var next TurnStatus
	if playing {
		next = StatusSpeaking
	} else if o.status == StatusSpeaking {
		next = StatusListening
	} else {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.setStatus(next)
}

// setStatus updates the turn status and emits an event when it changed
func (o *Orchestrator) setStatus(status TurnStatus) {
	o.mu.Lock()
	if o.status == status {
		o.mu.Unlock()
		return
	}
	o.status = status
	o.mu.Unlock()

	o.emit(Event{Kind: EventStatus, Status: status})
}

// reportError surfaces a pipeline fault once, then tears the session down.
// The status passes through error and settles at idle after cleanup.
func (o *Orchestrator) reportError(component string, err error) {
	o.logger.Error().Err(err).Str("component", component).Msg("Pipeline fault")
	o.metrics.RecordError("pipeline_fault", component)

	o.emit(Event{Kind: EventError, Err: &ErrorInfo{
		Component: component,
		Message:   faultMessage(component),
	}})
	o.setStatus(StatusError)

	// Cleanup runs off the caller's goroutine: the reporting strategy loop
	// has to stay live until disconnect cancels it.
	go o.Disconnect()
}

// reportConnectError emits a setup failure on the event stream in addition
// to the error returned from Connect. Capture failures carry their
// per-subtype user message; channel faults use the component's message.
func (o *Orchestrator) reportConnectError(err error) {
	component := "session"
	message := "Could not start the translation session. Please try again."

	var capErr *audio.CaptureError
	var chErr *pipeline.ChannelError
	switch {
	case errors.As(err, &capErr):
		component = "capture"
		message = capErr.Message()
	case errors.As(err, &chErr):
		component = chErr.Component
		message = faultMessage(chErr.Component)
	}

	o.logger.Error().Err(err).Str("component", component).Msg("Connect failed")
	o.metrics.RecordError("connect_error", component)
	o.emit(Event{Kind: EventError, Err: &ErrorInfo{
		Component: component,
		Message:   message,
	}})
}

// reportTurnError surfaces a single-turn failure without ending the session
func (o *Orchestrator) reportTurnError(component string, err error) {
	o.logger.Warn().Err(err).Str("component", component).Msg("Turn failed")
	o.metrics.RecordError("turn_error", component)

	o.emit(Event{Kind: EventError, Err: &ErrorInfo{
		Component: component,
		Message:   faultMessage(component),
	}})
}

func (o *Orchestrator) emit(ev Event) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	if !o.emitsOn {
		return
	}
	select {
	case o.events <- ev:
	default:
		o.logger.Warn().Str("kind", string(ev.Kind)).Msg("Event dropped, consumer too slow")
	}
}

// faultMessage maps a component to the message shown to the user
func faultMessage(component string) string {
	switch component {
	case "stt":
		return "Speech recognition is unavailable right now. Please try again shortly."
	case "translate":
		return "Translation service had a problem with that request."
	case "tts":
		return "Voice playback is unavailable right now."
	case "live":
		return "The live conversation channel was interrupted. Please reconnect."
	default:
		return "Something went wrong with the translation session."
	}
}
