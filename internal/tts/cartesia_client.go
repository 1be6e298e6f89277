package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/pipeline"
)

const (
	cartesiaWSBaseURL = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion   = "2024-06-10"
	// Ping cadence when the session does not configure one
	defaultPingInterval = 30 * time.Second
	handshakeTimeout    = 10 * time.Second
)

// Client is the synthesis channel: one duplex WebSocket that accepts
// generation requests and streams raw PCM back. At most one synthesis
// context is active at a time; the orchestrator waits for Done or calls
// Stop before speaking again.
type Client struct {
	session config.Session
	logger  zerolog.Logger
	baseURL string

	mu            sync.Mutex
	writeMu       sync.Mutex
	conn          *websocket.Conn
	state         pipeline.ConnectionState
	activeContext string
	dropAudio     bool
	closing       bool

	audio chan []byte
	done  chan struct{}
	errs  chan error

	readDone chan struct{}
}

// New creates a disconnected synthesis client for one session
func New(session config.Session, logger zerolog.Logger) *Client {
	return &Client{
		session: session,
		logger:  logger.With().Str("component", "tts").Logger(),
		baseURL: cartesiaWSBaseURL,
		state:   pipeline.StateIdle,
		audio:   make(chan []byte, 64),
		done:    make(chan struct{}, 4),
		errs:    make(chan error, 10),
	}
}

// Audio returns the stream of raw PCM chunks at the playback sample rate
func (c *Client) Audio() <-chan []byte {
	return c.audio
}

// Done signals completion of a synthesis context
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Errors returns the channel-error stream
func (c *Client) Errors() <-chan error {
	return c.errs
}

// State returns the current connection state
func (c *Client) State() pipeline.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the synthesis endpoint
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == pipeline.StateConnected || c.state == pipeline.StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("tts client already %s", c.state)
	}
	c.state = pipeline.StateConnecting
	c.mu.Unlock()

	q := url.Values{}
	q.Set("api_key", c.session.CartesiaAPIKey)
	q.Set("cartesia_version", cartesiaVersion)
	wsURL := c.baseURL + "?" + q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.setState(pipeline.StateError)
		if resp != nil {
			return fmt.Errorf("synthesis dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("synthesis dial failed: %w", err)
	}

	readDone := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.state = pipeline.StateConnected
	c.closing = false
	c.readDone = readDone
	c.mu.Unlock()

	go c.readLoop(conn, readDone)
	go c.pingLoop(conn, readDone)

	c.logger.Info().Str("model", c.session.CartesiaModelID).Msg("Synthesis channel connected")
	return nil
}

// Speak requests synthesis of text in the given language. One context at a
// time: a second Speak before Done or Stop is rejected.
func (c *Client) Speak(text, language string) error {
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.state != pipeline.StateConnected || c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("tts client is not connected")
	}
	if c.activeContext != "" {
		c.mu.Unlock()
		return fmt.Errorf("synthesis already in progress")
	}

	contextID := uuid.New().String()
	c.activeContext = contextID
	c.dropAudio = false
	conn := c.conn
	c.mu.Unlock()

	voiceID := c.session.VoiceID
	if voiceID == "" {
		voiceID = VoiceForLanguage(language).ID
	}

	req := synthesisRequest{
		ModelID:    c.session.CartesiaModelID,
		Transcript: text,
		Voice:      voiceRef{Mode: "id", ID: voiceID},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.session.PlaybackSampleRate,
		},
		ContextID: contextID,
		Language:  language,
	}

	if err := c.writeJSON(conn, req); err != nil {
		c.mu.Lock()
		c.activeContext = ""
		c.mu.Unlock()
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	c.logger.Debug().
		Str("context_id", contextID).
		Str("language", language).
		Int("chars", len(text)).
		Msg("Synthesis requested")
	return nil
}

// Stop cancels the active synthesis context, if any. Audio still in flight
// for the cancelled context is dropped. Safe to call when idle.
func (c *Client) Stop() {
	c.mu.Lock()
	contextID := c.activeContext
	conn := c.conn
	connected := c.state == pipeline.StateConnected
	c.activeContext = ""
	if contextID != "" {
		c.dropAudio = true
	}
	c.mu.Unlock()

	if contextID == "" || !connected || conn == nil {
		return
	}

	if err := c.writeJSON(conn, cancelRequest{ContextID: contextID, Cancel: true}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send synthesis cancel")
		return
	}
	c.logger.Debug().Str("context_id", contextID).Msg("Synthesis cancelled")
}

// Disconnect cancels any active context and closes the connection. Safe to
// call in any state, any number of times.
func (c *Client) Disconnect() {
	c.Stop()

	c.mu.Lock()
	conn := c.conn
	readDone := c.readDone
	wasConnected := c.conn != nil
	c.conn = nil
	c.closing = true
	if c.state != pipeline.StateIdle {
		c.state = pipeline.StateDisconnected
	}
	c.mu.Unlock()

	if !wasConnected {
		return
	}

	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()

	if readDone != nil {
		<-readDone
	}
	c.logger.Info().Msg("Synthesis channel disconnected")
}

// readLoop delivers audio and completion events until the connection drops
func (c *Client) readLoop(conn *websocket.Conn, readDone chan struct{}) {
	defer close(readDone)

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			if !closing {
				c.state = pipeline.StateError
			}
			c.mu.Unlock()

			if !closing {
				c.emitError(&pipeline.ChannelError{
					Component: "tts",
					Err:       fmt.Errorf("synthesis stream closed: %w", err),
				})
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.deliverAudio(message)

		case websocket.TextMessage:
			var msg serverMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				c.logger.Warn().Err(err).Msg("Dropping unparseable synthesis message")
				continue
			}
			c.handleServerMessage(&msg)
		}
	}
}

func (c *Client) handleServerMessage(msg *serverMessage) {
	switch {
	case msg.Error != "":
		c.mu.Lock()
		c.activeContext = ""
		c.mu.Unlock()
		c.emitError(&pipeline.ChannelError{
			Component: "tts",
			Err:       fmt.Errorf("synthesis failed: %s", msg.Error),
		})

	case msg.Type == "chunk":
		if msg.Data == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping undecodable audio chunk")
			return
		}
		c.deliverAudio(pcm)

	case msg.Type == "done":
		c.mu.Lock()
		wasCancelled := c.dropAudio
		c.activeContext = ""
		c.dropAudio = false
		c.mu.Unlock()

		// A cancelled context's done marker is not a completion.
		if !wasCancelled {
			select {
			case c.done <- struct{}{}:
			default:
			}
		}
	}
}

// deliverAudio forwards a PCM chunk unless it belongs to a cancelled context
func (c *Client) deliverAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	c.mu.Lock()
	drop := c.dropAudio || c.activeContext == ""
	c.mu.Unlock()
	if drop {
		return
	}

	select {
	case c.audio <- pcm:
	default:
		c.logger.Warn().Msg("Audio channel full, dropping synthesis chunk")
	}
}

// pingLoop keeps the connection alive between utterances. It exits as soon
// as this connection's reader finishes, so a reconnect never leaves a stale
// pinger behind.
func (c *Client) pingLoop(conn *websocket.Conn, readDone <-chan struct{}) {
	interval := c.session.KeepAliveInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
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
