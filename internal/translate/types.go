package translate

// Result is one completed translation. Values are immutable once returned.
type Result struct {
	// Translation is the user's message rendered in the target language.
	Translation string `json:"translation"`

	// Pronunciation is the romanized reading of Translation, for target
	// languages with non-Latin scripts.
	Pronunciation string `json:"pronunciation"`

	// Reply is a short assistant reply in the source language.
	Reply string `json:"response"`
}

// Apology is the substitute result the orchestrator uses when a
// translation attempt fails or returns a malformed payload.
func Apology() Result {
	return Result{
		Translation:   "Translation Unavailable",
		Pronunciation: "Error accessing service",
		Reply:         "I had trouble processing that request. Please try again.",
	}
}

// Request/response wire structures for generateContent.

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type generationConfig struct {
	ResponseMimeType string          `json:"responseMimeType"`
	ResponseSchema   *responseSchema `json:"responseSchema"`
}

type responseSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required"`
}

type schemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
	Error      *apiError   `json:"error"`
}

type candidate struct {
	Content content `json:"content"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
