package tts

// synthesisRequest is the outbound generation request
type synthesisRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceRef     `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	ContextID    string       `json:"context_id"`
	Language     string       `json:"language"`
}

type voiceRef struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// cancelRequest aborts generation for one context
type cancelRequest struct {
	ContextID string `json:"context_id"`
	Cancel    bool   `json:"cancel"`
}

// serverMessage is an inbound JSON frame. Audio may also arrive as raw
// binary frames with no JSON envelope.
type serverMessage struct {
	Type      string `json:"type"` // "chunk", "done", "timestamps", ...
	Data      string `json:"data"` // base64 audio for "chunk"
	ContextID string `json:"context_id"`
	Error     string `json:"error"`
}
