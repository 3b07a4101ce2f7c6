// Package backend hosts the transcription engines and the manager that
// owns exactly one of them per session.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/user/session-transcriber/internal/audio"
)

// Backend names, in failover priority order.
const (
	NameLocal     = "local"
	NameStreaming = "streaming"
	NameManual    = "manual"
)

// Result is one unit of backend output: a whole window's text for batch
// backends, or an incremental interim/final segment for streaming ones.
type Result struct {
	WindowID   uuid.UUID
	Text       string
	Confidence float64
	Final      bool
	Backend    string
	Received   time.Time
	Err        error
}

// Backend is the fixed polymorphic surface every engine variant
// implements. Batch engines return their result from Submit and expose a
// nil Results channel; streaming engines acknowledge Submit and deliver
// on Results independently of window boundaries.
type Backend interface {
	Name() string

	// Start initializes the engine. Starting an already-running engine
	// is treated as already active, not an error.
	Start(ctx context.Context) error

	Submit(ctx context.Context, window *audio.Window) (Result, error)

	Results() <-chan Result

	Stop() error
}

// ErrorKind classifies streaming-recognizer failures.
type ErrorKind string

const (
	ErrNoSpeech          ErrorKind = "no-speech"
	ErrAudioCapture      ErrorKind = "audio-capture"
	ErrNetwork           ErrorKind = "network"
	ErrServiceNotAllowed ErrorKind = "service-not-allowed"
	ErrNotAllowed        ErrorKind = "not-allowed"
)

// RecognitionError carries a classified backend failure.
type RecognitionError struct {
	Backend string
	Kind    ErrorKind
	Err     error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend error (%s): %v", e.Backend, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s backend error (%s)", e.Backend, e.Kind)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Retryable reports whether the error should consume retry budget
// rather than trigger immediate failover.
func (e *RecognitionError) Retryable() bool {
	return e.Kind == ErrNoSpeech || e.Kind == ErrAudioCapture
}

// Fatal reports whether no further backend may be attempted
// automatically. Recording continues audio-only.
func (e *RecognitionError) Fatal() bool {
	return e.Kind == ErrNotAllowed
}

// InitError marks a backend that failed to initialize. Non-fatal:
// selection moves to the next backend in priority order.
type InitError struct {
	Backend string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s backend failed to initialize: %v", e.Backend, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
