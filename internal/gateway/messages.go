package gateway

// clientMessage is one inbound control or media message from the browser
type clientMessage struct {
	Type string `json:"type"` // start, media, text, image, stop, languages, volume

	// Media and image payloads, base64 encoded
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// Typed text
	Text string `json:"text,omitempty"`

	// Language pair for the languages message
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Playback gain for the volume message
	Volume float64 `json:"volume,omitempty"`
}

// serverMessage is one outbound message to the browser
type serverMessage struct {
	Type string `json:"type"` // status, volume, transcript, translation, text, tool_call, audio, error

	Status string  `json:"status,omitempty"`
	Volume float64 `json:"volume,omitempty"`

	// Transcript and streaming text
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`

	// Completed translation
	Translation   string `json:"translation,omitempty"`
	Pronunciation string `json:"pronunciation,omitempty"`
	Reply         string `json:"reply,omitempty"`

	// Playback audio, base64 PCM
	Audio      string `json:"audio,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`

	// Tool call pass-through
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`

	// Error report
	Message   string `json:"message,omitempty"`
	Component string `json:"component,omitempty"`
}
