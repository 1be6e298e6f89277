package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/pipeline"
)

const (
	geminiLiveBaseURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	handshakeTimeout  = 10 * time.Second
	inputMimeType     = "audio/pcm;rate=16000"
)

// Client is the native audio-to-audio conversation channel: one duplex
// stream where the provider handles voice activity, recognition, the
// language model, and speech generation together. Events stream out over
// Events; failures over Errors.
type Client struct {
	session config.Session
	logger  zerolog.Logger
	baseURL string
	tools   []FunctionDeclaration

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	state   pipeline.ConnectionState
	closing bool

	events chan Event
	errs   chan error

	readDone chan struct{}
}

// New creates a disconnected conversation client for one session. tools
// may be nil.
func New(session config.Session, tools []FunctionDeclaration, logger zerolog.Logger) *Client {
	return &Client{
		session: session,
		logger:  logger.With().Str("component", "live").Logger(),
		baseURL: geminiLiveBaseURL,
		tools:   tools,
		state:   pipeline.StateIdle,
		events:  make(chan Event, 100),
		errs:    make(chan error, 10),
	}
}

// Events returns the normalized conversation event stream
func (c *Client) Events() <-chan Event {
	return c.events
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

// Connect dials the conversation endpoint and sends the session setup
// message for the configured language pair.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == pipeline.StateConnected || c.state == pipeline.StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("live client already %s", c.state)
	}
	c.state = pipeline.StateConnecting
	c.mu.Unlock()

	wsURL := fmt.Sprintf("%s?key=%s", c.baseURL, c.session.GoogleAPIKey)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.setState(pipeline.StateError)
		if resp != nil {
			return fmt.Errorf("conversation dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("conversation dial failed: %w", err)
	}

	readDone := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.closing = false
	c.readDone = readDone
	c.mu.Unlock()

	if err := c.writeJSON(conn, c.setupMessage()); err != nil {
		c.Disconnect()
		c.setState(pipeline.StateError)
		return fmt.Errorf("failed to configure conversation session: %w", err)
	}

	c.setState(pipeline.StateConnected)
	go c.readLoop(conn, readDone)

	c.logger.Info().
		Str("model", c.session.LiveModel).
		Str("voice", c.session.LiveVoiceName).
		Str("from", c.session.FromLanguage).
		Str("to", c.session.ToLanguage).
		Msg("Conversation channel connected")
	return nil
}

// setupMessage builds the one-time session configuration
func (c *Client) setupMessage() setupMessage {
	payload := setupPayload{
		Model: c.session.LiveModel,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{
						VoiceName: c.session.LiveVoiceName,
					},
				},
			},
		},
		SystemInstruction: &content{
			Parts: []part{{Text: interpreterInstruction(c.session.FromLanguage, c.session.ToLanguage)}},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if len(c.tools) > 0 {
		payload.Tools = []toolDeclarations{{FunctionDeclarations: c.tools}}
	}
	return setupMessage{Setup: payload}
}

// interpreterInstruction is the system prompt for the translation session
func interpreterInstruction(fromLang, toLang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a live interpreter between %s and %s. ", languageName(fromLang), languageName(toLang))
	fmt.Fprintf(&b, "When the user speaks %s, respond only with the spoken %s translation. ", languageName(fromLang), languageName(toLang))
	fmt.Fprintf(&b, "When the user speaks %s, respond only with the spoken %s translation. ", languageName(toLang), languageName(fromLang))
	b.WriteString("Do not add commentary, explanations, or answers of your own. Preserve tone and politeness level.")
	return b.String()
}

var languageNames = map[string]string{
	"en": "English",
	"ja": "Japanese",
	"es": "Spanish",
	"fr": "French",
	"ko": "Korean",
	"zh": "Mandarin Chinese",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// SendAudio streams one PCM frame of user speech. Frames sent while not
// connected are silently dropped.
func (c *Client) SendAudio(frame []byte) {
	conn := c.connectedConn()
	if conn == nil {
		return
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Media: mediaBlob{
				MimeType: inputMimeType,
				Data:     base64.StdEncoding.EncodeToString(frame),
			},
		},
	}
	if err := c.writeJSON(conn, msg); err != nil {
		c.logger.Warn().Err(err).Msg("Audio frame send failed")
	}
}

// SendText submits a typed user turn
func (c *Client) SendText(text string) error {
	conn := c.connectedConn()
	if conn == nil {
		return fmt.Errorf("live client is not connected")
	}

	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []content{{
				Role:  "user",
				Parts: []part{{Text: text}},
			}},
			TurnComplete: true,
		},
	}
	return c.writeJSON(conn, msg)
}

// SendImage submits an image frame (camera snapshot) as realtime input
func (c *Client) SendImage(imageData []byte, mimeType string) error {
	conn := c.connectedConn()
	if conn == nil {
		return fmt.Errorf("live client is not connected")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Media: mediaBlob{
				MimeType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(imageData),
			},
		},
	}
	return c.writeJSON(conn, msg)
}

// SubmitToolResult returns a function call result to the model
func (c *Client) SubmitToolResult(callID string, result map[string]interface{}) error {
	conn := c.connectedConn()
	if conn == nil {
		return fmt.Errorf("live client is not connected")
	}

	msg := toolResponseMessage{
		ToolResponse: toolResponse{
			FunctionResponses: []functionResponse{{ID: callID, Response: result}},
		},
	}
	return c.writeJSON(conn, msg)
}

// Disconnect closes the conversation. Safe to call in any state, any
// number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	readDone := c.readDone
	c.conn = nil
	c.closing = true
	if c.state != pipeline.StateIdle {
		c.state = pipeline.StateDisconnected
	}
	c.mu.Unlock()

	if conn == nil {
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
	c.logger.Info().Msg("Conversation channel disconnected")
}

// readLoop normalizes server messages into Events until the stream drops
func (c *Client) readLoop(conn *websocket.Conn, readDone chan struct{}) {
	defer close(readDone)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			if !closing {
				c.state = pipeline.StateError
			}
			c.mu.Unlock()

			if !closing {
				c.emitError(&pipeline.ChannelError{
					Component: "live",
					Err:       fmt.Errorf("conversation stream closed: %w", err),
				})
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Dropping unparseable conversation message")
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *serverMessage) {
	if msg.SetupComplete != nil {
		c.logger.Debug().Msg("Conversation session ready")
		return
	}

	if msg.ServerContent != nil {
		c.handleServerContent(msg.ServerContent)
	}

	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			c.emit(Event{
				Kind:     EventToolCall,
				ToolCall: &ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args},
			})
		}
	}
}

func (c *Client) handleServerContent(sc *serverContent) {
	// Interruption first: the consumer must clear queued playback before
	// anything else from this message is applied.
	if sc.Interrupted {
		c.emit(Event{Kind: EventInterrupted})
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "audio/") {
				audio, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					c.logger.Warn().Err(err).Msg("Dropping undecodable audio part")
					continue
				}
				if len(audio) > 0 {
					c.emit(Event{Kind: EventAudio, Audio: audio})
				}
			}
			if p.Text != "" {
				c.emit(Event{Kind: EventText, Text: p.Text})
			}
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		c.emit(Event{Kind: EventInputTranscript, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.emit(Event{Kind: EventOutputTranscript, Text: sc.OutputTranscription.Text})
	}

	if sc.TurnComplete {
		c.emit(Event{Kind: EventTurnComplete})
	}
}

// connectedConn returns the connection when connected, else nil
func (c *Client) connectedConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != pipeline.StateConnected {
		return nil
	}
	return c.conn
}

func (c *Client) writeJSON(conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn().Str("kind", string(ev.Kind)).Msg("Event channel full, dropping event")
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
