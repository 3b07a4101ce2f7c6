package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/user/session-transcriber/internal/audio"
)

const streamingEndpoint = "wss://api.deepgram.com/v1/listen"

// Streaming is the hosted streaming recognizer. Submit writes PCM to the
// live socket; interim and final segments arrive on Results independent
// of window boundaries.
type Streaming struct {
	apiKey    string
	model     string
	punctuate bool

	mutex   sync.Mutex
	conn    *websocket.Conn
	started bool
	closing bool

	// results outlives individual connections so the manager's fan-in
	// survives restarts; it closes only on Stop.
	results chan Result
	readers sync.WaitGroup
}

type streamingMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
}

func NewStreaming(apiKey, model string, punctuate bool) *Streaming {
	return &Streaming{
		apiKey:    apiKey,
		model:     model,
		punctuate: punctuate,
		results:   make(chan Result, 16),
	}
}

func (s *Streaming) Name() string { return NameStreaming }

// Start dials the live endpoint and begins the read pump. Calling Start
// while the socket is up means already active, not an error.
func (s *Streaming) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.started {
		log.Debug().Msg("Streaming recognizer already active")
		return nil
	}
	if s.closing {
		return &InitError{Backend: NameStreaming, Err: fmt.Errorf("recognizer stopped")}
	}
	if s.apiKey == "" {
		return &InitError{Backend: NameStreaming, Err: fmt.Errorf("no API key configured")}
	}

	params := url.Values{}
	if s.model != "" {
		params.Set("model", s.model)
	}
	params.Set("encoding", "linear16")
	params.Set("sample_rate", strconv.Itoa(audio.TargetSampleRate))
	params.Set("channels", "1")
	params.Set("punctuate", strconv.FormatBool(s.punctuate))
	params.Set("interim_results", "true")
	params.Set("language", "en")

	fullURL := streamingEndpoint + "?" + params.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+s.apiKey)

	log.Debug().
		Str("url", fullURL).
		Str("model", s.model).
		Msg("Dialing streaming recognizer")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, fullURL, header)
	if err != nil {
		kind := ErrNetwork
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				kind = ErrNotAllowed
			case http.StatusForbidden:
				kind = ErrServiceNotAllowed
			}
		}
		if kind == ErrNetwork {
			return &InitError{Backend: NameStreaming, Err: err}
		}
		return &RecognitionError{Backend: NameStreaming, Kind: kind, Err: err}
	}

	s.conn = conn
	s.started = true

	s.readers.Add(1)
	go s.readLoop(conn)

	log.Info().Str("model", s.model).Msg("Streaming recognizer connected")
	return nil
}

// Submit writes the window's PCM onto the live socket. Recognition output
// arrives asynchronously on Results.
func (s *Streaming) Submit(ctx context.Context, window *audio.Window) (Result, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result := Result{
		WindowID: window.ID,
		Backend:  NameStreaming,
		Received: time.Now(),
	}

	if !s.started {
		return result, &RecognitionError{Backend: NameStreaming, Kind: ErrNetwork, Err: fmt.Errorf("recognizer not started")}
	}

	if err := s.conn.WriteMessage(websocket.BinaryMessage, window.PCM16()); err != nil {
		return result, &RecognitionError{Backend: NameStreaming, Kind: ErrNetwork, Err: err}
	}

	log.Debug().
		Str("window_id", window.ID.String()).
		Int("samples", len(window.Samples)).
		Msg("Sent window to streaming recognizer")

	return result, nil
}

func (s *Streaming) Results() <-chan Result {
	return s.results
}

func (s *Streaming) readLoop(conn *websocket.Conn) {
	defer s.readers.Done()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.mutex.Lock()
			closing := s.closing
			if !closing && s.conn == conn {
				// Connection is dead; a later Start must re-dial.
				s.started = false
				s.conn = nil
			}
			s.mutex.Unlock()

			if !closing {
				s.deliver(Result{
					Backend:  NameStreaming,
					Received: time.Now(),
					Err:      classifyStreamError(err),
				})
			}
			return
		}

		var msg streamingMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn().
				Err(err).
				Str("payload", string(payload)).
				Msg("Failed to parse streaming recognizer message")
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			s.deliver(Result{
				Text:       alt.Transcript,
				Confidence: alt.Confidence,
				Final:      msg.IsFinal,
				Backend:    NameStreaming,
				Received:   time.Now(),
			})
		case "Error":
			s.deliver(Result{
				Backend:  NameStreaming,
				Received: time.Now(),
				Err: &RecognitionError{
					Backend: NameStreaming,
					Kind:    ErrServiceNotAllowed,
					Err:     fmt.Errorf("recognizer reported: %s", msg.Description),
				},
			})
		}
	}
}

// deliver hands a result to the consumer without ever blocking the read
// pump; a full buffer drops the result.
func (s *Streaming) deliver(result Result) {
	select {
	case s.results <- result:
	default:
		log.Warn().Msg("Streaming result buffer full, dropping result")
	}
}

// classifyStreamError maps socket failures onto the error taxonomy.
func classifyStreamError(err error) error {
	if ce, ok := err.(*websocket.CloseError); ok {
		switch ce.Code {
		case websocket.ClosePolicyViolation:
			return &RecognitionError{Backend: NameStreaming, Kind: ErrNotAllowed, Err: err}
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return &RecognitionError{Backend: NameStreaming, Kind: ErrNoSpeech, Err: err}
		}
	}
	return &RecognitionError{Backend: NameStreaming, Kind: ErrNetwork, Err: err}
}

// Stop closes the connection and the result channel. Idempotent.
func (s *Streaming) Stop() error {
	s.mutex.Lock()
	if s.closing {
		s.mutex.Unlock()
		return nil
	}
	s.closing = true
	s.started = false
	conn := s.conn
	s.conn = nil
	s.mutex.Unlock()

	var err error
	if conn != nil {
		// Ask the service to flush any pending finals before closing.
		if werr := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); werr != nil {
			log.Debug().Err(werr).Msg("Failed to send close message to streaming recognizer")
		}
		err = conn.Close()
	}

	s.readers.Wait()
	close(s.results)

	log.Info().Msg("Streaming recognizer disconnected")
	return err
}
