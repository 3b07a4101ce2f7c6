package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/session-transcriber/internal/audio"
)

// Status is one backend's position in its lifecycle.
type Status int

const (
	StatusIdle Status = iota
	StatusStarting
	StatusActive
	StatusDegraded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusActive:
		return "active"
	case StatusDegraded:
		return "degraded"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ErrSkipped marks a submission the manager chose not to process; the
// window is discarded, not an error condition.
var ErrSkipped = errors.New("submission skipped")

// ErrNoBackend means every transcription backend is gone. Recording
// continues without transcription.
var ErrNoBackend = errors.New("no transcription backend available")

type slot struct {
	backend Backend
	status  Status
	errors  int
}

// Manager owns the active backend for one session. Submissions are
// serialized through one mutex so lines always commit in window order,
// and all backend-local errors are absorbed here; only permission
// failures surface to the caller.
type Manager struct {
	maxErrors  int
	retryDelay time.Duration

	mutex  sync.Mutex
	slots  []*slot
	active int

	// localStreak counts consecutive unproductive local-model results,
	// empty and errored alike; one shared budget covers both.
	localStreak  int
	directActive bool
	stopped      bool

	results chan Result
	forward sync.WaitGroup
}

// NewManager arranges backends in failover priority order.
func NewManager(backends []Backend, maxErrors int) *Manager {
	slots := make([]*slot, len(backends))
	for i, b := range backends {
		slots[i] = &slot{backend: b, status: StatusIdle}
	}
	return &Manager{
		maxErrors:  maxErrors,
		retryDelay: 500 * time.Millisecond,
		slots:      slots,
		active:     -1,
		results:    make(chan Result, 16),
	}
}

// Start selects the first backend in priority order whose initialization
// succeeds. Init failures are non-fatal; a permission failure aborts
// selection entirely.
func (m *Manager) Start(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.startFrom(ctx, 0)
}

// startFrom walks the priority list beginning at index from. Caller holds
// the mutex.
func (m *Manager) startFrom(ctx context.Context, from int) error {
	for i := from; i < len(m.slots); i++ {
		s := m.slots[i]
		if s.status == StatusFailed {
			continue
		}
		s.status = StatusStarting

		err := s.backend.Start(ctx)
		if err == nil {
			s.status = StatusActive
			s.errors = 0
			m.active = i
			m.localStreak = 0
			m.forwardResults(s.backend)

			log.Info().
				Str("backend", s.backend.Name()).
				Msg("Transcription backend active")
			return nil
		}

		var initErr *InitError
		if errors.As(err, &initErr) {
			s.status = StatusFailed
			log.Warn().
				Err(err).
				Str("backend", s.backend.Name()).
				Msg("Backend failed to initialize, trying next in priority order")
			continue
		}

		var recErr *RecognitionError
		if errors.As(err, &recErr) && recErr.Fatal() {
			s.status = StatusFailed
			m.active = -1
			log.Error().
				Err(err).
				Str("backend", s.backend.Name()).
				Msg("Backend permission denied, transcription disabled")
			return err
		}

		s.status = StatusFailed
		log.Warn().
			Err(err).
			Str("backend", s.backend.Name()).
			Msg("Backend start failed, trying next in priority order")
	}

	m.active = -1
	return ErrNoBackend
}

// forwardResults pumps a streaming backend's result channel into the
// manager's fan-in, classifying error events along the way. Caller holds
// the mutex.
func (m *Manager) forwardResults(b Backend) {
	ch := b.Results()
	if ch == nil {
		return
	}

	m.forward.Add(1)
	go func() {
		defer m.forward.Done()
		for res := range ch {
			if res.Err != nil {
				m.handleStreamError(res.Err)
				continue
			}
			select {
			case m.results <- res:
			default:
				log.Warn().Msg("Result channel full, dropping streaming result")
			}
		}
	}()
}

// Results is the fan-in of streaming backend output.
func (m *Manager) Results() <-chan Result {
	return m.results
}

// ActiveName reports the current backend's name, or empty when none.
func (m *Manager) ActiveName() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.active < 0 {
		return ""
	}
	return m.slots[m.active].backend.Name()
}

// ActiveStatus reports the current backend's lifecycle status.
func (m *Manager) ActiveStatus() Status {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.active < 0 {
		return StatusIdle
	}
	return m.slots[m.active].status
}

// SetDirectCapture flags that the low-latency capture path is actively
// producing; concurrent block-path submissions are skipped while it is,
// so the same audio is not processed twice.
func (m *Manager) SetDirectCapture(active bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.directActive = active
}

// Submit runs one window through the active backend, absorbing and
// classifying backend errors. Only permission failures propagate.
func (m *Manager) Submit(ctx context.Context, window *audio.Window) (Result, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.stopped {
		return Result{}, ErrSkipped
	}
	if m.active < 0 {
		return Result{}, ErrNoBackend
	}
	if window.Origin == audio.OriginBlock && m.directActive {
		log.Debug().
			Str("window_id", window.ID.String()).
			Msg("Direct capture active, skipping block-path submission")
		return Result{}, ErrSkipped
	}

	s := m.slots[m.active]
	result, err := s.backend.Submit(ctx, window)
	if err == nil {
		m.observeResult(ctx, s, result)
		return result, nil
	}

	return result, m.handleSubmitError(ctx, s, err)
}

// observeResult tracks the local model's consecutive unproductive
// results and proactively fails over once the streak exhausts the
// budget. Errored submissions extend the same streak, so alternating
// empty and errored results still trip it. Caller holds the mutex.
func (m *Manager) observeResult(ctx context.Context, s *slot, result Result) {
	if s.backend.Name() != NameLocal {
		return
	}
	if result.Text != "" {
		m.localStreak = 0
		s.errors = 0
		return
	}

	m.localStreak++
	if m.localStreak <= m.maxErrors {
		return
	}

	log.Warn().
		Int("unproductive_results", m.localStreak).
		Msg("Local model produced nothing usable, failing over")
	m.failover(ctx, s)
}

// handleSubmitError applies the classification table. Caller holds the
// mutex.
func (m *Manager) handleSubmitError(ctx context.Context, s *slot, err error) error {
	var recErr *RecognitionError
	if !errors.As(err, &recErr) {
		// Unclassified failures consume retry budget like transient ones.
		recErr = &RecognitionError{Backend: s.backend.Name(), Kind: ErrAudioCapture, Err: err}
	}

	if recErr.Fatal() {
		s.status = StatusFailed
		m.active = -1
		log.Error().
			Err(err).
			Str("backend", s.backend.Name()).
			Msg("Permission denied, transcription disabled for session")
		return recErr
	}

	if !recErr.Retryable() {
		log.Warn().
			Err(err).
			Str("backend", s.backend.Name()).
			Str("kind", string(recErr.Kind)).
			Msg("Non-retryable backend error, failing over immediately")
		m.failover(ctx, s)
		return nil
	}

	s.errors++
	if s.backend.Name() == NameLocal {
		m.localStreak++
	}
	if s.errors > m.maxErrors || m.localStreak > m.maxErrors {
		log.Warn().
			Err(err).
			Str("backend", s.backend.Name()).
			Int("errors", s.errors).
			Msg("Retry budget exhausted, failing over")
		m.failover(ctx, s)
		return nil
	}

	s.status = StatusDegraded
	log.Warn().
		Err(err).
		Str("backend", s.backend.Name()).
		Int("errors", s.errors).
		Int("budget", m.maxErrors).
		Msg("Retryable backend error, scheduling restart")
	m.scheduleRestart(ctx, s)
	return nil
}

// handleStreamError classifies asynchronous streaming-backend errors the
// same way submission errors are.
func (m *Manager) handleStreamError(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.stopped || m.active < 0 {
		return
	}
	s := m.slots[m.active]
	if s.backend.Name() != NameStreaming {
		return
	}
	_ = m.handleSubmitError(context.Background(), s, err)
}

// scheduleRestart retries a degraded backend after a short delay. The
// retry re-checks that it is still supposed to act before touching
// anything. Caller holds the mutex.
func (m *Manager) scheduleRestart(ctx context.Context, s *slot) {
	go func() {
		select {
		case <-time.After(m.retryDelay):
		case <-ctx.Done():
			return
		}

		m.mutex.Lock()
		defer m.mutex.Unlock()

		if m.stopped || s.status != StatusDegraded {
			return
		}
		if m.active < 0 || m.slots[m.active] != s {
			return
		}

		if err := s.backend.Start(ctx); err != nil {
			log.Warn().
				Err(err).
				Str("backend", s.backend.Name()).
				Msg("Backend restart failed, failing over")
			m.failover(ctx, s)
			return
		}

		s.status = StatusActive
		log.Info().
			Str("backend", s.backend.Name()).
			Msg("Backend restarted after transient error")
	}()
}

// failover marks the current backend failed and starts the next usable
// one in priority order. Caller holds the mutex.
func (m *Manager) failover(ctx context.Context, s *slot) {
	if err := s.backend.Stop(); err != nil {
		log.Debug().
			Err(err).
			Str("backend", s.backend.Name()).
			Msg("Error stopping failed backend")
	}
	s.status = StatusFailed

	from := m.active + 1
	m.active = -1

	if err := m.startFrom(ctx, from); err != nil {
		log.Error().
			Err(err).
			Msg("No transcription backend left, recording continues audio-only")
	}
}

// Stop releases the active backend and closes the result fan-in.
// Idempotent.
func (m *Manager) Stop() error {
	m.mutex.Lock()
	if m.stopped {
		m.mutex.Unlock()
		return nil
	}
	m.stopped = true

	var err error
	if m.active >= 0 {
		s := m.slots[m.active]
		err = s.backend.Stop()
		s.status = StatusIdle
		m.active = -1
	}
	m.mutex.Unlock()

	m.forward.Wait()
	close(m.results)

	log.Info().Msg("Backend manager stopped")
	return err
}

// Summary describes the manager for diagnostics.
func (m *Manager) Summary() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.active < 0 {
		return "no active backend"
	}
	s := m.slots[m.active]
	return fmt.Sprintf("%s (%s, %d/%d errors)", s.backend.Name(), s.status, s.errors, m.maxErrors)
}
