package tts

// Voice is a synthesis voice preset
type Voice struct {
	ID   string
	Name string
}

// voicePresets maps target-language codes to default voices. A session
// voice ID override takes precedence over these.
var voicePresets = map[string]Voice{
	"en": {ID: "79a125e8-cd45-4c13-8a67-188112f4dd22", Name: "British Lady"},
	"ja": {ID: "e6b3c3c1-79e3-4f56-9c1b-7e5c4d9a2e8f", Name: "Japanese Female"},
	"es": {ID: "a7c43c8a-4f63-4c22-b07c-789c46a8f29b", Name: "Spanish Female"},
	"fr": {ID: "b8c76d9e-5a42-4e13-a18d-892a56b7d38c", Name: "French Female"},
	"ko": {ID: "c9d87e0f-6b53-4f24-b29e-903b67c8e49d", Name: "Korean Female"},
	"zh": {ID: "d0e98f1a-7c64-5a35-c30f-a14c78d9f50e", Name: "Chinese Female"},
}

// VoiceForLanguage returns the preset voice for a language, falling back to
// the English preset for unknown languages
func VoiceForLanguage(language string) Voice {
	if v, ok := voicePresets[language]; ok {
		return v
	}
	return voicePresets["en"]
}
