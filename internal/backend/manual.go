package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/session-transcriber/internal/audio"
)

// SilenceMarker is the diagnostic token emitted for windows with no
// audible audio. The line assembler always lets it through.
const SilenceMarker = "[silence]"

// Manual is the last-resort simulated backend. It never fails, so a
// session always has a transcription engine available unless permission
// was denied outright.
type Manual struct{}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) Name() string { return NameManual }

func (m *Manual) Start(ctx context.Context) error {
	log.Info().Msg("Manual transcription mode active")
	return nil
}

// Submit emits a placeholder marker describing the window so the
// transcript still shows where audio happened.
func (m *Manual) Submit(ctx context.Context, window *audio.Window) (Result, error) {
	result := Result{
		WindowID: window.ID,
		Backend:  NameManual,
		Final:    true,
		Received: time.Now(),
	}

	audible := false
	for _, s := range window.Samples {
		if s >= audio.PresenceThreshold || s <= -audio.PresenceThreshold {
			audible = true
			break
		}
	}

	if !audible {
		result.Text = SilenceMarker
		return result, nil
	}

	result.Text = fmt.Sprintf("[untranscribed audio, %.1fs]", window.Duration().Seconds())
	return result, nil
}

func (m *Manual) Results() <-chan Result { return nil }

func (m *Manual) Stop() error { return nil }
