// Package capture acquires audio input streams and turns them into chunk
// events for the transcription pipeline.
package capture

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog/log"

	"github.com/user/session-transcriber/internal/audio"
)

// BlockSize is the fixed emission size of the block-buffered strategy.
const BlockSize = 4096

// Strategy selects how captured PCM is delivered downstream.
type Strategy int

const (
	// StrategyStream emits chunks as the server delivers them (preferred).
	StrategyStream Strategy = iota
	// StrategyBlock accumulates fixed 4096-sample blocks before emitting.
	StrategyBlock
)

func (s Strategy) String() string {
	if s == StrategyBlock {
		return "block"
	}
	return "stream"
}

// DeviceError is fatal for session start: no capture is possible.
type DeviceError struct {
	Reason string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("device error (%s)", e.Reason)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Spec describes the requested inputs and quality for one session.
type Spec struct {
	Sources    []string // "microphone" and/or "system"
	SampleRate int
	Channels   int
	Device     string // empty means server default
}

// Source owns the capture resources for one session: the pulse client,
// the record stream, and the chunk channel. Nothing here is referenced
// after Stop returns.
type Source struct {
	spec     Spec
	strategy Strategy

	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan *audio.Chunk
	stopCh chan struct{}

	mutex   sync.Mutex
	pending []float32
	stopped bool

	inflight sync.WaitGroup
}

// Acquire connects to the audio server and resolves the requested device.
// Any failure returns a DeviceError with no capture state left behind.
func Acquire(ctx context.Context, spec Spec) (*Source, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("session-transcriber"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, &DeviceError{Reason: "connect", Err: err}
	}

	source := &Source{
		spec:   spec,
		client: client,
		chunks: make(chan *audio.Chunk, 64),
		stopCh: make(chan struct{}),
	}

	log.Info().
		Strs("sources", spec.Sources).
		Int("sample_rate", spec.SampleRate).
		Int("channels", spec.Channels).
		Str("device", spec.Device).
		Msg("Acquired audio capture client")

	return source, nil
}

// Start begins capture with the preferred low-latency strategy, falling
// back to the block-buffered strategy if stream setup fails. Only a
// failure of both strategies aborts the session.
func (s *Source) Start(ctx context.Context) error {
	if err := s.startStrategy(StrategyStream); err != nil {
		log.Warn().
			Err(err).
			Msg("Stream capture strategy failed, falling back to block strategy")

		if err := s.startStrategy(StrategyBlock); err != nil {
			s.Stop()
			return &DeviceError{Reason: "capture-start", Err: err}
		}
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	log.Info().
		Str("strategy", s.strategy.String()).
		Msg("Audio capture started")

	return nil
}

func (s *Source) startStrategy(strategy Strategy) error {
	record, err := s.resolveSource()
	if err != nil {
		return err
	}

	opts := []pulse.RecordOption{
		pulse.RecordSource(record),
		pulse.RecordSampleRate(s.spec.SampleRate),
		pulse.RecordMediaName("session transcription"),
	}
	if s.spec.Channels == 2 {
		opts = append(opts, pulse.RecordStereo)
	} else {
		opts = append(opts, pulse.RecordMono)
	}
	if strategy == StrategyStream {
		// Small fragments keep delivery latency low.
		opts = append(opts, pulse.RecordBufferFragmentSize(uint32(s.spec.SampleRate/50*2)))
	}

	writer := pulse.NewWriter(writerFunc(s.onPCM), pulseproto.FormatInt16LE)
	stream, err := s.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("create record stream (%s): %w", strategy, err)
	}

	s.strategy = strategy
	s.stream = stream
	stream.Start()
	return nil
}

func (s *Source) resolveSource() (*pulse.Source, error) {
	wantLoopback := false
	for _, name := range s.spec.Sources {
		if name == "system" {
			wantLoopback = true
		}
	}

	if s.spec.Device != "" {
		src, err := s.client.SourceByID(s.spec.Device)
		if err != nil {
			return nil, fmt.Errorf("resolve device %q: %w", s.spec.Device, err)
		}
		return src, nil
	}

	src, err := s.client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("resolve default source: %w", err)
	}

	// System loopback rides the default sink's monitor source.
	if wantLoopback && !strings.HasSuffix(src.ID(), ".monitor") {
		if monitor, merr := s.client.SourceByID(src.ID() + ".monitor"); merr == nil {
			return monitor, nil
		}
		log.Warn().
			Str("source", src.ID()).
			Msg("No monitor source for system audio, using microphone only")
	}

	return src, nil
}

// Strategy reports which capture strategy is running.
func (s *Source) Strategy() Strategy {
	return s.strategy
}

// Chunks returns the chunk event stream shared by both strategies.
func (s *Source) Chunks() <-chan *audio.Chunk {
	return s.chunks
}

// onPCM receives raw frames from the server and emits chunks according
// to the active strategy.
func (s *Source) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-s.stopCh:
		return 0, io.EOF
	default:
	}

	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as s.stopped to avoid Add/Wait races.
	s.inflight.Add(1)

	samples := bytesToFloat32(buffer)
	if s.spec.Channels == 2 {
		samples = audio.DownmixStereo(samples)
	}

	var emit [][]float32
	if s.strategy == StrategyStream {
		emit = append(emit, samples)
	} else {
		s.pending = append(s.pending, samples...)
		for len(s.pending) >= BlockSize {
			block := make([]float32, BlockSize)
			copy(block, s.pending[:BlockSize])
			s.pending = s.pending[BlockSize:]
			emit = append(emit, block)
		}
	}
	s.mutex.Unlock()
	defer s.inflight.Done()

	origin := audio.OriginStream
	if s.strategy == StrategyBlock {
		origin = audio.OriginBlock
	}

	for _, samples := range emit {
		chunk := audio.NewChunk(samples, s.spec.SampleRate, time.Now(), origin)
		select {
		case <-s.stopCh:
			return 0, io.EOF
		case s.chunks <- chunk:
		default:
			log.Warn().
				Str("chunk_id", chunk.ID.String()).
				Msg("Chunk channel full, dropping chunk")
		}
	}

	return len(buffer), nil
}

// Stop halts the stream, flushes residual PCM, and closes Chunks exactly
// once. Safe to call repeatedly.
func (s *Source) Stop() {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mutex.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}

	s.inflight.Wait()

	s.mutex.Lock()
	pending := s.pending
	s.pending = nil
	s.mutex.Unlock()

	if len(pending) > 0 {
		chunk := audio.NewChunk(pending, s.spec.SampleRate, time.Now(), audio.OriginBlock)
		select {
		case s.chunks <- chunk:
		default:
		}
	}

	close(s.chunks)

	log.Info().Msg("Audio capture stopped")
}

func bytesToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768
	}
	return out
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
