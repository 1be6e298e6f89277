package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lingopath/voice-translator/internal/audio"
	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/live"
	"github.com/lingopath/voice-translator/internal/observability"
	"github.com/lingopath/voice-translator/internal/orchestrator"
	"github.com/lingopath/voice-translator/internal/resilience"
	"github.com/lingopath/voice-translator/internal/stt"
	"github.com/lingopath/voice-translator/internal/translate"
	"github.com/lingopath/voice-translator/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin against the deployed frontend host
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const connectTimeout = 15 * time.Second

// Session binds one browser WebSocket to one orchestrator. The read loop is
// the only goroutine touching inbound messages; outbound writes go through
// a single write lock shared by the event forwarder and the playback path.
type Session struct {
	id     string
	conn   *websocket.Conn
	cfg    *config.Config
	logger zerolog.Logger

	writeMu sync.Mutex
	source  *wsFrameSource
	orch    *orchestrator.Orchestrator

	sinkMu sync.Mutex
	sink   *audio.PlaybackSink
}

// Handler returns the WebSocket entry point for translation sessions
func Handler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		s := newSession(conn, cfg)
		s.logger.Info().Msg("Session opened")
		s.run()
		s.logger.Info().Msg("Session closed")
	}
}

func newSession(conn *websocket.Conn, cfg *config.Config) *Session {
	id := observability.NewSessionID()
	s := &Session{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		logger: observability.SessionLogger(id),
		source: &wsFrameSource{},
	}
	s.orch = orchestrator.New(id, cfg, s.deps(), s.logger)
	return s
}

// deps wires the orchestrator's ports to real providers. Capture is fed by
// the browser's media messages; playback writes audio messages back.
func (s *Session) deps() orchestrator.Deps {
	return orchestrator.Deps{
		NewCapture: func(cs config.Session) orchestrator.Capture {
			return audio.NewCaptureSource(s.source, audio.CaptureConfig{
				SampleRate:     cs.CaptureSampleRate,
				FrameSamples:   cs.FrameSamples,
				VolumeInterval: cs.VolumeInterval,
			}, s.logger)
		},
		NewSink: func(cs config.Session) orchestrator.Sink {
			out := &wsOutput{session: s, sampleRate: cs.PlaybackSampleRate}
			sink := audio.NewPlaybackSink(out, cs.PlaybackSampleRate, s.logger)
			s.sinkMu.Lock()
			s.sink = sink
			s.sinkMu.Unlock()
			return sink
		},
		NewTranscriber: func(cs config.Session) orchestrator.Transcriber {
			return stt.New(cs, s.cfg.CircuitBreakerMaxFailures,
				time.Duration(s.cfg.CircuitBreakerResetTimeout)*time.Second, s.logger)
		},
		NewSynthesizer: func(cs config.Session) orchestrator.Synthesizer {
			return tts.New(cs, s.logger)
		},
		NewTranslator: func(cs config.Session) orchestrator.Translator {
			return translate.New(cs, s.logger)
		},
		NewConverser: func(cs config.Session) orchestrator.Converser {
			return live.New(cs, nil, s.logger)
		},
	}
}

func (s *Session) run() {
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		s.forwardEvents()
	}()

	s.readLoop()

	s.orch.Close()
	<-forwarderDone
}

func (s *Session) readLoop() {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("Unparseable client message")
			continue
		}
		s.handleMessage(&msg)
	}
}

func (s *Session) handleMessage(msg *clientMessage) {
	switch msg.Type {
	case "start":
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := s.orch.Connect(ctx); err != nil {
			// The orchestrator already emitted the specific error event;
			// the forwarder delivers it to the client.
			s.logger.Error().Err(err).Msg("Connect failed")
		}

	case "media":
		pcm, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Bad media payload")
			return
		}
		s.source.feed(pcm)

	case "text":
		s.submitText(msg.Text)

	case "image":
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Bad image payload")
			return
		}
		if err := s.orch.SendImage(data, msg.MimeType); err != nil {
			s.send(serverMessage{
				Type:      "error",
				Component: "session",
				Message:   "Could not process the image. Start a session first.",
			})
		}

	case "stop":
		s.orch.Disconnect()

	case "volume":
		s.sinkMu.Lock()
		sink := s.sink
		s.sinkMu.Unlock()
		if sink != nil {
			sink.SetVolume(msg.Volume)
		}

	case "languages":
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := s.orch.SetLanguages(ctx, msg.From, msg.To); err != nil {
			s.logger.Error().Err(err).Msg("Language change failed")
			s.send(serverMessage{
				Type:      "error",
				Component: "session",
				Message:   "Could not switch languages. Please reconnect.",
			})
		}

	default:
		s.logger.Warn().Str("type", msg.Type).Msg("Unknown client message")
	}
}

// submitText resubmits transient failures; typed text is cheap to retry
// compared to a live audio turn.
func (s *Session) submitText(text string) {
	retryCfg := &resilience.RetryConfig{
		MaxAttempts:       s.cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(s.cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	err := resilience.Retry(ctx, func() error {
		return s.orch.SendText(text)
	}, retryCfg, resilience.IsRetryableNetworkError)
	if err != nil {
		s.logger.Error().Err(err).Msg("Typed text rejected")
		s.send(serverMessage{
			Type:      "error",
			Component: "session",
			Message:   "Could not send your message. Start a session first.",
		})
	}
}

func (s *Session) forwardEvents() {
	for ev := range s.orch.Events() {
		switch ev.Kind {
		case orchestrator.EventStatus:
			s.send(serverMessage{Type: "status", Status: string(ev.Status)})

		case orchestrator.EventVolume:
			s.send(serverMessage{Type: "volume", Volume: ev.Volume})

		case orchestrator.EventTranscript:
			s.send(serverMessage{
				Type:    "transcript",
				Text:    ev.Transcript.Text,
				IsFinal: ev.Transcript.IsFinal,
			})

		case orchestrator.EventTranslation:
			s.send(serverMessage{
				Type:          "translation",
				Text:          ev.Translation.Source,
				Translation:   ev.Translation.Result.Translation,
				Pronunciation: ev.Translation.Result.Pronunciation,
				Reply:         ev.Translation.Result.Reply,
			})

		case orchestrator.EventStreamingText:
			s.send(serverMessage{Type: "text", Text: ev.Text})

		case orchestrator.EventToolCall:
			s.send(serverMessage{
				Type:       "tool_call",
				ToolCallID: ev.ToolCall.ID,
				ToolName:   ev.ToolCall.Name,
			})

		case orchestrator.EventError:
			s.send(serverMessage{
				Type:      "error",
				Component: ev.Err.Component,
				Message:   ev.Err.Message,
			})
		}
	}
}

func (s *Session) send(msg serverMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Msg("Write failed")
	}
}

// wsFrameSource adapts browser media messages to the capture contract. The
// lock is held across the push so Close cannot return while a frame is
// still being delivered.
type wsFrameSource struct {
	mu   sync.Mutex
	push func(pcm []byte)
	open bool
}

func (f *wsFrameSource) Open(ctx context.Context, push func(pcm []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.push = push
	f.open = true
	return nil
}

func (f *wsFrameSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.push = nil
	return nil
}

// feed delivers one decoded media payload. Frames arriving while no capture
// is open are dropped, which covers the gap during a language change.
func (f *wsFrameSource) feed(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open && f.push != nil {
		f.push(pcm)
	}
}

// wsOutput renders playback by shipping base64 PCM to the browser. Play
// paces itself to the chunk's real duration so the sink stays interruptible
// instead of flushing the whole queue at once.
type wsOutput struct {
	session    *Session
	sampleRate int
}

func (o *wsOutput) Play(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.session.send(serverMessage{
		Type:       "audio",
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: o.sampleRate,
	})

	samples := len(pcm) / 2
	duration := time.Duration(samples) * time.Second / time.Duration(o.sampleRate)
	select {
	case <-time.After(duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
