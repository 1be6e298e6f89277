package stt

// TranscriptEvent is the normalized transcription event stream. Interim
// results may revise earlier interim text; once IsFinal is observed for a
// span, later events never revise it.
type TranscriptEvent struct {
	// Text is the transcribed text. Empty for pure activity events
	// (SpeechStarted, bare UtteranceEnd).
	Text string

	// IsFinal marks text that will not be revised.
	IsFinal bool

	// IsEndOfUtterance marks a provider-detected utterance boundary
	// (speech_final or an UtteranceEnd message).
	IsEndOfUtterance bool

	// SpeechStarted marks the provider's voice-activity onset event.
	SpeechStarted bool

	// Confidence is the provider's confidence for Text, 0 when unknown.
	Confidence float64
}

// buildTranscript normalizes a Results payload into a TranscriptEvent
func buildTranscript(text string, isFinal, speechFinal bool, confidence float64) TranscriptEvent {
	return TranscriptEvent{
		Text:             text,
		IsFinal:          isFinal,
		IsEndOfUtterance: speechFinal,
		Confidence:       confidence,
	}
}
