package audio

import (
	"errors"
	"fmt"
)

// Sentinel errors a FrameSource returns from Open. The capture source maps
// them to user-facing CaptureError values.
var (
	ErrPermissionDenied         = errors.New("audio source permission denied")
	ErrDeviceNotFound           = errors.New("audio source device not found")
	ErrDeviceBusy               = errors.New("audio source device busy")
	ErrConstraintsUnsatisfiable = errors.New("audio source constraints unsatisfiable")
)

// CaptureErrorKind classifies capture failures for user-facing messaging
type CaptureErrorKind string

const (
	CapturePermissionDenied         CaptureErrorKind = "permission_denied"
	CaptureDeviceNotFound           CaptureErrorKind = "device_not_found"
	CaptureDeviceBusy               CaptureErrorKind = "device_busy"
	CaptureConstraintsUnsatisfiable CaptureErrorKind = "constraints_unsatisfiable"
	CaptureUnknown                  CaptureErrorKind = "unknown"
)

// CaptureError wraps a FrameSource failure with a stable kind
type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture error (%s): %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Message returns a short user-facing description of the failure
func (e *CaptureError) Message() string {
	switch e.Kind {
	case CapturePermissionDenied:
		return "Microphone access was denied. Please allow microphone access and try again."
	case CaptureDeviceNotFound:
		return "No microphone was found. Please connect a microphone and try again."
	case CaptureDeviceBusy:
		return "The microphone is in use by another application."
	case CaptureConstraintsUnsatisfiable:
		return "The microphone does not support the required audio settings."
	default:
		return "An unexpected microphone error occurred."
	}
}

// errStoppedSource reports reuse of a capture source after Stop
var errStoppedSource = errors.New("capture source already stopped")

// newCaptureError classifies err against the FrameSource sentinels
func newCaptureError(err error) *CaptureError {
	kind := CaptureUnknown
	switch {
	case errors.Is(err, ErrPermissionDenied):
		kind = CapturePermissionDenied
	case errors.Is(err, ErrDeviceNotFound):
		kind = CaptureDeviceNotFound
	case errors.Is(err, ErrDeviceBusy):
		kind = CaptureDeviceBusy
	case errors.Is(err, ErrConstraintsUnsatisfiable):
		kind = CaptureConstraintsUnsatisfiable
	}
	return &CaptureError{Kind: kind, Err: err}
}
