package live

// EventKind identifies a conversation event
type EventKind string

const (
	EventAudio            EventKind = "audio"             // model speech, PCM at 24 kHz
	EventText             EventKind = "text"              // streaming model text
	EventTurnComplete     EventKind = "turn_complete"     // model finished its turn
	EventInterrupted      EventKind = "interrupted"       // user barged in, drop queued playback
	EventToolCall         EventKind = "tool_call"         // model requested a function call
	EventInputTranscript  EventKind = "input_transcript"  // transcription of user speech
	EventOutputTranscript EventKind = "output_transcript" // transcription of model speech
)

// Event is one normalized conversation event
type Event struct {
	Kind     EventKind
	Audio    []byte
	Text     string
	ToolCall *ToolCall
}

// ToolCall is a model-initiated function call, passed through to the
// embedding application
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// Outbound wire messages.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *content           `json:"systemInstruction,omitempty"`
	Tools                    []toolDeclarations `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type toolDeclarations struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// FunctionDeclaration describes a callable tool offered to the model
type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Media mediaBlob `json:"media"`
}

type mediaBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string     `json:"text,omitempty"`
	InlineData *mediaBlob `json:"inlineData,omitempty"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string                 `json:"id"`
	Response map[string]interface{} `json:"response"`
}

// Inbound wire messages.

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete"`
	ServerContent *serverContent `json:"serverContent"`
	ToolCall      *toolCallMsg   `json:"toolCall"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn"`
	TurnComplete        bool           `json:"turnComplete"`
	Interrupted         bool           `json:"interrupted"`
	InputTranscription  *transcription `json:"inputTranscription"`
	OutputTranscription *transcription `json:"outputTranscription"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}
