// Package session coordinates the capture, buffering, and transcription
// components across one recording session's lifecycle.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/session-transcriber/internal/audio"
	"github.com/user/session-transcriber/internal/backend"
	"github.com/user/session-transcriber/internal/capture"
	"github.com/user/session-transcriber/internal/config"
	"github.com/user/session-transcriber/internal/store"
	"github.com/user/session-transcriber/internal/transcript"
)

// directCaptureWindow is how recently the stream path must have produced
// a chunk for block-path submissions to be skipped as duplicates.
const directCaptureWindow = 2 * time.Second

// Summary is returned by StopSession.
type Summary struct {
	SessionID string
	Duration  time.Duration
	LineCount int
}

// Source is the capture surface the session consumes.
type Source interface {
	Start(ctx context.Context) error
	Chunks() <-chan *audio.Chunk
	Strategy() capture.Strategy
	Stop()
}

// Manager owns at most one live session. All session state lives on the
// session value constructed at start and discarded at stop; nothing
// outlives its session.
type Manager struct {
	cfg         *config.Config
	sinkFor     func(sessionID string) transcript.Sink
	newBackends func() []backend.Backend

	// Finalize, when set, persists the complete transcript at stop,
	// replacing any partial file the sink appended along the way.
	Finalize func(sessionID string, lines []transcript.Line) (string, error)

	// acquire is swappable for tests.
	acquire func(ctx context.Context, spec capture.Spec) (Source, error)

	mutex   sync.Mutex
	current *session
}

type session struct {
	id        string
	context   string
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	source    Source
	ring      *audio.Ring
	backends  *backend.Manager
	assembler *transcript.Assembler
	decoder   *audio.OpusDecoder
	probe     *audio.PresenceProbe
	sink      transcript.Sink
	finalize  func(sessionID string, lines []transcript.Line) (string, error)

	flushInterval time.Duration
	backupPoll    time.Duration

	// commitMutex serializes assembly so lines commit in the order their
	// window or result was processed.
	commitMutex sync.Mutex
	lines       []transcript.Line
	lastFlush   time.Time

	lastStreamChunk atomic.Int64

	timersStop chan struct{}
	wg         sync.WaitGroup
	stopped    atomic.Bool
}

// NewManager wires the pipeline. sinkFor builds the transcript sink for
// each new session id.
func NewManager(cfg *config.Config, sinkFor func(sessionID string) transcript.Sink, newBackends func() []backend.Backend) *Manager {
	m := &Manager{
		cfg:         cfg,
		sinkFor:     sinkFor,
		newBackends: newBackends,
	}
	m.acquire = func(ctx context.Context, spec capture.Spec) (Source, error) {
		return capture.Acquire(ctx, spec)
	}
	return m
}

// StartSession acquires capture, initializes the window buffer, selects
// a transcription backend, and starts the flush timers, in that order. A
// device failure aborts with no partial state held.
func (m *Manager) StartSession(ctx context.Context, sessionContext string) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.current != nil {
		return "", fmt.Errorf("session %s already active", m.current.id)
	}
	if !m.cfg.RecordingEnabled {
		return "", fmt.Errorf("recording is disabled")
	}

	sampleRate, channels := m.cfg.QualityProfile()
	spec := capture.Spec{
		Sources:    m.cfg.AudioSources,
		SampleRate: sampleRate,
		Channels:   channels,
		Device:     m.cfg.SelectedDevice,
	}

	source, err := m.acquire(ctx, spec)
	if err != nil {
		return "", err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	id := store.GenerateSessionID()
	s := &session{
		id:            id,
		context:       sessionContext,
		startedAt:     time.Now(),
		ctx:           sessCtx,
		cancel:        cancel,
		source:        source,
		ring:          audio.NewRing(m.cfg.RingCapacity),
		backends:      backend.NewManager(m.newBackends(), m.cfg.MaxBackendErrors),
		assembler:     transcript.NewAssembler(),
		flushInterval: m.cfg.FlushInterval,
		backupPoll:    m.cfg.BackupPoll,
		lastFlush:     time.Now(),
		timersStop:    make(chan struct{}),
	}
	if m.sinkFor != nil {
		s.sink = m.sinkFor(id)
	}
	s.finalize = m.Finalize

	if m.cfg.AutoTranscribe {
		if err := s.backends.Start(sessCtx); err != nil {
			// Permission and exhaustion failures disable transcription
			// only; the session records audio regardless.
			log.Warn().
				Err(err).
				Str("session_id", s.id).
				Msg("Transcription unavailable, recording audio only")
		}
	}

	if err := source.Start(sessCtx); err != nil {
		_ = s.backends.Stop()
		source.Stop()
		cancel()
		return "", err
	}

	// Decode and presence capabilities are best-effort; losing either
	// degrades diagnostics or the ingest path, never the session.
	if decoder, derr := audio.NewOpusDecoder(); derr == nil {
		s.decoder = decoder
	} else {
		log.Warn().Err(derr).Str("session_id", s.id).Msg("Opus decode unavailable, ingest path disabled")
	}
	if probe, perr := audio.NewPresenceProbe(); perr == nil {
		s.probe = probe
	} else {
		log.Warn().Err(perr).Str("session_id", s.id).Msg("Presence probe unavailable")
	}

	s.wg.Add(3)
	go s.captureLoop()
	go s.flushLoop()
	go s.resultLoop()

	m.current = s

	log.Info().
		Str("session_id", s.id).
		Str("context", sessionContext).
		Str("strategy", source.Strategy().String()).
		Str("quality", m.cfg.AudioQuality).
		Str("backend", s.backends.ActiveName()).
		Msg("Session started")

	return s.id, nil
}

// StopSession tears the session down in strict order: timers, final
// flush, backend, capture. Calling it with no active session is a no-op.
func (m *Manager) StopSession() Summary {
	m.mutex.Lock()
	s := m.current
	m.current = nil
	m.mutex.Unlock()

	if s == nil {
		log.Debug().Msg("StopSession with no active session, nothing to do")
		return Summary{}
	}

	return s.stop()
}

// IngestAudioChunk feeds externally captured compressed audio into the
// block-buffered path. Decode failures drop the data and the pipeline
// continues.
func (m *Manager) IngestAudioChunk(raw []byte) error {
	m.mutex.Lock()
	s := m.current
	m.mutex.Unlock()

	if s == nil {
		return fmt.Errorf("no active session")
	}
	if s.decoder == nil {
		return fmt.Errorf("decode capability unavailable")
	}

	samples, err := s.decoder.Decode(raw)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", s.id).
			Msg("Failed to decode ingested audio, dropping")
		return nil
	}

	chunk := audio.NewChunk(samples, audio.DecodeSampleRate, time.Now(), audio.OriginBlock)
	s.ring.Push(chunk)
	return nil
}

// Active reports the live session id, or empty when idle.
func (m *Manager) Active() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.id
}

// captureLoop moves chunks from the source into the ring buffer and
// keeps the direct-capture demotion signal fresh.
func (s *session) captureLoop() {
	defer s.wg.Done()
	defer log.Debug().Str("session_id", s.id).Msg("Capture loop stopped")

	for {
		select {
		case chunk, ok := <-s.source.Chunks():
			if !ok {
				return
			}
			if chunk.Origin == audio.OriginStream {
				s.lastStreamChunk.Store(time.Now().UnixNano())
			}
			if s.probe != nil && !s.probe.HasSpeech(chunk) {
				log.Debug().
					Str("chunk_id", chunk.ID.String()).
					Float32("peak", chunk.Peak).
					Msg("No speech detected in chunk")
			}
			s.ring.Push(chunk)
		case <-s.ctx.Done():
			return
		}
	}
}

// flushLoop drives window flushes from the primary timer, with a
// lower-frequency backup poll to tolerate missed primary triggers.
func (s *session) flushLoop() {
	defer s.wg.Done()
	defer log.Debug().Str("session_id", s.id).Msg("Flush loop stopped")

	primary := time.NewTicker(s.flushInterval)
	defer primary.Stop()
	backup := time.NewTicker(s.backupPoll)
	defer backup.Stop()

	for {
		select {
		case <-primary.C:
			s.tryFlush(time.Now())
		case <-backup.C:
			s.tryFlush(time.Now())
		case <-s.timersStop:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// tryFlush drains the ring into a window and submits it when the flush
// interval has elapsed and the buffer is non-empty.
func (s *session) tryFlush(now time.Time) {
	if s.stopped.Load() {
		return
	}
	if now.Sub(s.lastFlush) < s.flushInterval {
		return
	}
	if s.ring.Len() == 0 {
		return
	}

	s.lastFlush = now
	s.submitBuffered(s.ctx)
}

// submitBuffered drains whatever the ring holds and runs it through the
// active backend once.
func (s *session) submitBuffered(ctx context.Context) {
	chunks := s.ring.Drain()
	window, ok := audio.BuildWindow(chunks)
	if !ok {
		return
	}

	recent := time.Since(time.Unix(0, s.lastStreamChunk.Load())) < directCaptureWindow
	s.backends.SetDirectCapture(window.Origin == audio.OriginBlock && recent)

	result, err := s.backends.Submit(ctx, window)
	if err != nil {
		switch err {
		case backend.ErrSkipped, backend.ErrNoBackend:
		default:
			log.Warn().
				Err(err).
				Str("session_id", s.id).
				Str("window_id", window.ID.String()).
				Msg("Window submission failed")
		}
		return
	}

	s.commit(result)
}

// resultLoop commits asynchronous streaming results. It drains until the
// manager closes the fan-in, so results landing after stop for this
// session are never committed.
func (s *session) resultLoop() {
	defer s.wg.Done()
	defer log.Debug().Str("session_id", s.id).Msg("Result loop stopped")

	for result := range s.backends.Results() {
		s.commit(result)
	}
}

// commit assembles one result into a line and delivers it to the sink.
func (s *session) commit(result backend.Result) {
	if s.stopped.Load() {
		return
	}

	s.commitMutex.Lock()
	defer s.commitMutex.Unlock()

	line, ok := s.assembler.Assemble(result, transcript.DefaultSpeaker)
	if !ok {
		return
	}

	s.lines = append(s.lines, *line)
	if s.sink == nil {
		return
	}
	if err := s.sink.Deliver([]transcript.Line{*line}, s.assembler.Words(), s.assembler.Position()); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", s.id).
			Msg("Sink delivery failed")
	}
}

// stop executes the teardown sequence exactly once, in order, even when
// individual steps fail.
func (s *session) stop() Summary {
	log.Info().
		Str("session_id", s.id).
		Str("context", s.context).
		Msg("Stopping session")

	// 1. Stop the flush timers.
	close(s.timersStop)

	// 2. Drain any buffered audio through the active backend once.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 10*time.Second)
	s.submitBuffered(drainCtx)
	cancelDrain()

	s.stopped.Store(true)

	// 3. Stop and release the backend.
	if err := s.backends.Stop(); err != nil {
		log.Warn().Err(err).Str("session_id", s.id).Msg("Backend stop reported error")
	}

	// 4. Disconnect and release the capture nodes and stream.
	s.source.Stop()
	s.cancel()
	s.wg.Wait()

	if s.probe != nil {
		_ = s.probe.Close()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}

	s.commitMutex.Lock()
	lines := s.lines
	s.commitMutex.Unlock()

	if s.finalize != nil && len(lines) > 0 {
		if path, err := s.finalize(s.id, lines); err != nil {
			log.Warn().Err(err).Str("session_id", s.id).Msg("Failed to save final transcript")
		} else {
			log.Info().Str("session_id", s.id).Str("file", path).Msg("Final transcript saved")
		}
	}

	summary := Summary{
		SessionID: s.id,
		Duration:  time.Since(s.startedAt),
		LineCount: len(lines),
	}

	log.Info().
		Str("session_id", s.id).
		Dur("duration", summary.Duration).
		Int("lines", summary.LineCount).
		Msg("Session stopped")

	return summary
}
