// Package pipeline holds the small set of types shared by the realtime
// provider channels (stt, tts, live) and the orchestrator that sequences
// them.
package pipeline

import "fmt"

// ConnectionState is the lifecycle state of a provider channel
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
	StateDisconnected ConnectionState = "disconnected"
)

// ChannelError reports a mid-session failure on a provider channel. Each
// underlying fault is reported at most once; channels do not retry on their
// own.
type ChannelError struct {
	Component string // "stt", "tts", "live", "translate"
	Err       error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s channel error: %v", e.Component, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// MalformedResponse reports a provider payload that failed schema or shape
// validation. The payload is logged and dropped; callers substitute
// fallbacks where the contract requires one.
type MalformedResponse struct {
	Component string
	Detail    string
}

func (e *MalformedResponse) Error() string {
	return fmt.Sprintf("%s returned a malformed response: %s", e.Component, e.Detail)
}
