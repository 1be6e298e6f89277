package orchestrator

import (
	"context"

	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/live"
	"github.com/lingopath/voice-translator/internal/stt"
	"github.com/lingopath/voice-translator/internal/translate"
)

// TurnStatus is the user-visible session state, derived from connection and
// turn progress. It changes synchronously with the event that causes it.
type TurnStatus string

const (
	StatusIdle       TurnStatus = "idle"
	StatusConnecting TurnStatus = "connecting"
	StatusListening  TurnStatus = "listening"
	StatusProcessing TurnStatus = "processing"
	StatusSpeaking   TurnStatus = "speaking"
	StatusError      TurnStatus = "error"
)

// EventKind identifies an orchestrator event
type EventKind string

const (
	EventStatus        EventKind = "status"
	EventVolume        EventKind = "volume"
	EventTranscript    EventKind = "transcript"
	EventTranslation   EventKind = "translation"
	EventStreamingText EventKind = "streaming_text"
	EventToolCall      EventKind = "tool_call"
	EventError         EventKind = "error"
)

// Event is one entry on the orchestrator's outbound event stream
type Event struct {
	Kind        EventKind
	Status      TurnStatus
	Volume      float64
	Transcript  *TranscriptEntry
	Translation *TranslationEntry
	Text        string
	ToolCall    *live.ToolCall
	Err         *ErrorInfo
}

// TranscriptEntry is one recognized piece of user speech
type TranscriptEntry struct {
	Text    string
	IsFinal bool
}

// TranslationEntry pairs the finalized source text with its completed
// translation
type TranslationEntry struct {
	Source string
	Result translate.Result
}

// ErrorInfo is a user-facing error report
type ErrorInfo struct {
	Component string
	Message   string
}

// Transcriber is the speech-to-text channel consumed by the split pipeline
type Transcriber interface {
	Connect(ctx context.Context, language string) error
	SendAudio(frame []byte)
	Events() <-chan stt.TranscriptEvent
	Errors() <-chan error
	Disconnect()
}

// Synthesizer is the text-to-speech channel consumed by the split pipeline
type Synthesizer interface {
	Connect(ctx context.Context) error
	Speak(text, language string) error
	Stop()
	Audio() <-chan []byte
	Done() <-chan struct{}
	Errors() <-chan error
	Disconnect()
}

// Translator performs one structured translation request
type Translator interface {
	Translate(ctx context.Context, text, fromLang, toLang string, image *translate.Image) (translate.Result, error)
}

// Converser is the native audio-to-audio channel
type Converser interface {
	Connect(ctx context.Context) error
	SendAudio(frame []byte)
	SendText(text string) error
	SendImage(data []byte, mimeType string) error
	SubmitToolResult(callID string, result map[string]interface{}) error
	Events() <-chan live.Event
	Errors() <-chan error
	Disconnect()
}

// Capture is the microphone-side frame source
type Capture interface {
	Start(ctx context.Context) error
	Stop()
	Frames() <-chan []byte
	Volume() <-chan float64
}

// Sink is the playback side
type Sink interface {
	Enqueue(pcm []byte)
	Stop()
	PlayingChanges() <-chan bool
}

// Deps supplies the per-connection collaborators. The factory functions run
// on every Connect, so a language change rebuilds the channels with the new
// session values.
type Deps struct {
	NewCapture     func(s config.Session) Capture
	NewSink        func(s config.Session) Sink
	NewTranscriber func(s config.Session) Transcriber
	NewSynthesizer func(s config.Session) Synthesizer
	NewTranslator  func(s config.Session) Translator
	NewConverser   func(s config.Session) Converser
}
