package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/observability"
	"github.com/lingopath/voice-translator/internal/pipeline"
	"github.com/lingopath/voice-translator/internal/resilience"
)

// messageCallbackHandler implements the SDK's LiveMessageCallback interface.
// It embeds the default handler and overrides only Message and Error.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.onMessage(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.onError != nil {
		return m.onError(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// Client is the speech-to-text channel backed by Deepgram's streaming API.
// Transcripts are delivered over Events; failures over Errors. The client
// never reconnects on its own: a connection, once lost, stays down until the
// orchestrator deliberately connects again.
type Client struct {
	session config.Session
	logger  zerolog.Logger
	breaker *resilience.CircuitBreaker

	events chan TranscriptEvent
	errs   chan error

	mu             sync.RWMutex
	state          pipeline.ConnectionState
	client         *listenClient.WSCallback
	breakerTripped bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a disconnected STT client for one session
func New(session config.Session, breakerMaxFailures int, breakerResetTimeout time.Duration, logger zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	breaker := resilience.NewCircuitBreaker(
		"stt",
		breakerMaxFailures,
		breakerResetTimeout,
		func(name string, from, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
		},
	)

	return &Client{
		session: session,
		logger:  logger.With().Str("component", "stt").Logger(),
		breaker: breaker,
		events:  make(chan TranscriptEvent, 100),
		errs:    make(chan error, 10),
		state:   pipeline.StateIdle,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Events returns the normalized transcript stream
func (c *Client) Events() <-chan TranscriptEvent {
	return c.events
}

// Errors returns the channel-error stream
func (c *Client) Errors() <-chan error {
	return c.errs
}

// State returns the current connection state
func (c *Client) State() pipeline.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connect opens a streaming transcription session for the given source
// language. Valid only from idle or disconnected.
func (c *Client) Connect(ctx context.Context, language string) error {
	c.mu.Lock()
	if c.state == pipeline.StateConnected || c.state == pipeline.StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("stt client already %s", c.state)
	}
	c.state = pipeline.StateConnecting
	c.mu.Unlock()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          c.session.DeepgramModel,
		Language:       language,
		Encoding:       "linear16",
		SampleRate:     c.session.CaptureSampleRate,
		Channels:       1,
		InterimResults: true,
		Punctuate:      true,
		SmartFormat:    true,
		Endpointing:    "300",
		UtteranceEndMs: "1000",
		VadEvents:      true,
	}

	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true, // SDK sends KeepAlive on the configured cadence
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              c.handleMessage,
		onError: func(errorResponse *msginterfaces.ErrorResponse) error {
			c.logger.Error().
				Str("type", errorResponse.Type).
				Str("description", errorResponse.Description).
				Msg("Deepgram reported an error")
			c.breaker.RecordResult(false)
			observability.IncrementCircuitBreakerFailures("stt")
			c.setState(pipeline.StateError)
			c.emitError(&pipeline.ChannelError{
				Component: "stt",
				Err:       fmt.Errorf("%s: %s", errorResponse.Type, errorResponse.Description),
			})
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		c.ctx,
		c.session.DeepgramAPIKey,
		cOptions,
		tOptions,
		callback,
	)
	if err != nil {
		c.setState(pipeline.StateError)
		return fmt.Errorf("failed to create transcription stream: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.state = pipeline.StateConnected
	c.breakerTripped = false
	c.mu.Unlock()

	c.breaker.RecordResult(true)

	c.logger.Info().
		Str("model", c.session.DeepgramModel).
		Str("language", language).
		Int("sample_rate", c.session.CaptureSampleRate).
		Msg("Transcription stream connected")
	return nil
}

// SendAudio forwards one PCM frame. Frames sent while not connected are
// silently dropped; consecutive send failures trip the circuit breaker,
// which is reported once as a channel error.
func (c *Client) SendAudio(frame []byte) {
	c.mu.RLock()
	state := c.state
	client := c.client
	c.mu.RUnlock()

	if state != pipeline.StateConnected || client == nil {
		return
	}

	err := c.breaker.Call(func() error {
		if _, werr := client.Write(frame); werr != nil {
			return fmt.Errorf("failed to send audio: %w", werr)
		}
		return nil
	})
	if err != nil {
		c.handleSendFailure(err)
	}
}

// handleSendFailure reports an open breaker exactly once as a channel error
func (c *Client) handleSendFailure(err error) {
	observability.IncrementCircuitBreakerFailures("stt")

	if !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn().Err(err).Msg("Audio frame send failed")
		return
	}

	c.mu.Lock()
	alreadyTripped := c.breakerTripped
	c.breakerTripped = true
	c.state = pipeline.StateError
	c.mu.Unlock()

	if !alreadyTripped {
		c.emitError(&pipeline.ChannelError{
			Component: "stt",
			Err:       fmt.Errorf("transcription stream is no longer live: %w", err),
		})
	}
}

// Disconnect closes the stream politely, flushing any buffered audio into a
// final result. Safe to call in any state, any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	client := c.client
	wasConnected := c.state == pipeline.StateConnected || c.state == pipeline.StateConnecting
	c.client = nil
	if c.state != pipeline.StateIdle {
		c.state = pipeline.StateDisconnected
	}
	c.mu.Unlock()

	if wasConnected && client != nil {
		// Finish sends CloseStream so Deepgram flushes a final result.
		client.Finish()
		c.logger.Info().Msg("Transcription stream disconnected")
	}
}

// Close releases the client permanently
func (c *Client) Close() {
	c.Disconnect()
	c.cancel()

	// Give in-flight callbacks a moment before the channels go away.
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(c.events)
		close(c.errs)
	}()
}

// handleMessage normalizes SDK messages into TranscriptEvents
func (c *Client) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "SpeechStarted":
		c.emit(TranscriptEvent{SpeechStarted: true})

	case "UtteranceEnd":
		c.emit(TranscriptEvent{IsEndOfUtterance: true})

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}
		c.emit(buildTranscript(alt.Transcript, msg.IsFinal, msg.SpeechFinal, alt.Confidence))

	case "Metadata":
		// Connection metadata, nothing to surface.

	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message type")
	}
}

func (c *Client) emit(ev TranscriptEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn().Msg("Transcript channel full, dropping event")
	}
}

func (c *Client) emitError(err error) {
	select {
	case c.errs <- err:
	default:
		c.logger.Warn().Err(err).Msg("Error channel full, dropping error")
	}
}

func (c *Client) setState(state pipeline.ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
