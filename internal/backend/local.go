package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog/log"

	"github.com/user/session-transcriber/internal/audio"
)

// Local runs the locally-hosted speech model with batch semantics: one
// window in, one result out. Empty text is a valid result.
type Local struct {
	modelPath string

	mutex      sync.Mutex
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
}

type voskResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewLocal(modelPath string) *Local {
	return &Local{modelPath: modelPath}
}

func (l *Local) Name() string { return NameLocal }

// Start loads the model. Failure is an InitError: selection moves on to
// the streaming recognizer instead of aborting the session.
func (l *Local) Start(ctx context.Context) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.recognizer != nil {
		return nil
	}

	log.Info().Str("model_path", l.modelPath).Msg("Loading local speech model")

	model, err := vosk.NewModel(l.modelPath)
	if err != nil {
		return &InitError{Backend: NameLocal, Err: fmt.Errorf("load model from %s: %w", l.modelPath, err)}
	}

	recognizer, err := vosk.NewRecognizer(model, float64(audio.TargetSampleRate))
	if err != nil {
		model.Free()
		return &InitError{Backend: NameLocal, Err: fmt.Errorf("create recognizer: %w", err)}
	}

	l.model = model
	l.recognizer = recognizer

	log.Info().Msg("Local speech model loaded")
	return nil
}

func (l *Local) Submit(ctx context.Context, window *audio.Window) (Result, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	result := Result{
		WindowID: window.ID,
		Backend:  NameLocal,
		Final:    true,
		Received: time.Now(),
	}

	if l.recognizer == nil {
		return result, &RecognitionError{Backend: NameLocal, Kind: ErrAudioCapture, Err: fmt.Errorf("recognizer not started")}
	}
	if len(window.Samples) == 0 {
		return result, nil
	}

	accepted := l.recognizer.AcceptWaveform(window.PCM16())
	if accepted == -1 {
		return result, &RecognitionError{Backend: NameLocal, Kind: ErrAudioCapture, Err: fmt.Errorf("recognizer rejected waveform")}
	}

	var jsonResult string
	if accepted == 1 {
		jsonResult = l.recognizer.Result()
	} else {
		jsonResult = l.recognizer.FinalResult()
	}

	if jsonResult == "" {
		return result, nil
	}

	var parsed voskResult
	if err := json.Unmarshal([]byte(jsonResult), &parsed); err != nil {
		log.Warn().
			Err(err).
			Str("json", jsonResult).
			Msg("Failed to parse local model result")
		return result, nil
	}

	result.Text = parsed.Text
	result.Confidence = parsed.Confidence

	log.Debug().
		Str("window_id", window.ID.String()).
		Str("text", result.Text).
		Float64("confidence", result.Confidence).
		Msg("Local model transcription completed")

	return result, nil
}

// Results is nil for the batch backend.
func (l *Local) Results() <-chan Result { return nil }

func (l *Local) Stop() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.recognizer != nil {
		l.recognizer.Free()
		l.recognizer = nil
	}
	if l.model != nil {
		l.model.Free()
		l.model = nil
	}
	return nil
}
