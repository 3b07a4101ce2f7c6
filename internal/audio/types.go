package audio

import (
	"time"

	"github.com/google/uuid"
)

// TargetSampleRate is the fixed output rate every window is resampled to
// before submission to a transcription backend.
const TargetSampleRate = 16000

// PresenceThreshold is the max-amplitude floor above which a chunk is
// considered to carry audible audio. Diagnostic only; never gates delivery.
const PresenceThreshold = 0.001

// Origin identifies which capture path produced a chunk.
type Origin int

const (
	// OriginStream marks chunks from the low-latency in-process path.
	OriginStream Origin = iota
	// OriginBlock marks chunks from the block-buffered ingest path.
	OriginBlock
)

func (o Origin) String() string {
	if o == OriginBlock {
		return "block"
	}
	return "stream"
}

// Chunk is an immutable segment of captured audio at its native rate.
type Chunk struct {
	ID         uuid.UUID
	Samples    []float32
	SampleRate int
	Captured   time.Time
	Peak       float32
	Origin     Origin
}

// NewChunk builds a chunk from raw samples, computing the peak-amplitude
// presence signal on the way in.
func NewChunk(samples []float32, rate int, captured time.Time, origin Origin) *Chunk {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return &Chunk{
		ID:         uuid.New(),
		Samples:    samples,
		SampleRate: rate,
		Captured:   captured,
		Peak:       peak,
		Origin:     origin,
	}
}

// HasAudio reports whether the chunk's peak amplitude clears the
// presence threshold.
func (c *Chunk) HasAudio() bool {
	return c.Peak >= PresenceThreshold
}

// Window is a contiguous run of resampled audio at TargetSampleRate,
// consumed exactly once by the backend manager.
type Window struct {
	ID         uuid.UUID
	Samples    []float32
	SampleRate int
	Start      time.Time
	End        time.Time
	Chunks     int
	Origin     Origin
}

// Duration is the audio length covered by the window's samples.
func (w *Window) Duration() time.Duration {
	if w.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// PCM16 converts the window's samples to little-endian 16-bit PCM bytes,
// the wire format every backend consumes.
func (w *Window) PCM16() []byte {
	out := make([]byte, len(w.Samples)*2)
	for i, s := range w.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
