package audio

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MinWindowSamples is the smallest window worth submitting: 100ms at the
// target rate. Anything shorter is noise, not speech.
const MinWindowSamples = TargetSampleRate / 10

// Resample converts samples from rateIn to rateOut by linear
// interpolation. Output length is round(len(in) / (rateIn/rateOut));
// source positions past the last input sample clamp to it.
func Resample(in []float32, rateIn, rateOut int) []float32 {
	if rateIn == rateOut || len(in) == 0 {
		return in
	}

	ratio := float64(rateIn) / float64(rateOut)
	outLen := int(math.Round(float64(len(in)) / ratio))
	if outLen < 1 {
		return nil
	}

	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		lo := int(math.Floor(pos))
		hi := lo + 1
		if lo >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(lo))
		out[i] = in[lo]*(1-frac) + in[hi]*frac
	}
	return out
}

// DownmixStereo folds interleaved stereo samples to mono by averaging
// each frame's channels.
func DownmixStereo(in []float32) []float32 {
	out := make([]float32, len(in)/2)
	for i := range out {
		out[i] = (in[i*2] + in[i*2+1]) / 2
	}
	return out
}

// BuildWindow concatenates drained chunks into one window at
// TargetSampleRate, resampling each chunk from its native rate. Windows
// below MinWindowSamples are discarded and (nil, false) is returned.
func BuildWindow(chunks []*Chunk) (*Window, bool) {
	if len(chunks) == 0 {
		return nil, false
	}

	var samples []float32
	for _, chunk := range chunks {
		samples = append(samples, Resample(chunk.Samples, chunk.SampleRate, TargetSampleRate)...)
	}

	if len(samples) < MinWindowSamples {
		log.Debug().
			Int("samples", len(samples)).
			Int("min_samples", MinWindowSamples).
			Msg("Window below minimum size, discarding")
		return nil, false
	}

	first := chunks[0]
	last := chunks[len(chunks)-1]
	end := last.Captured.Add(time.Duration(len(last.Samples)) * time.Second / time.Duration(last.SampleRate))

	window := &Window{
		ID:         uuid.New(),
		Samples:    samples,
		SampleRate: TargetSampleRate,
		Start:      first.Captured,
		End:        end,
		Chunks:     len(chunks),
		Origin:     first.Origin,
	}

	log.Debug().
		Str("window_id", window.ID.String()).
		Int("chunks", window.Chunks).
		Int("samples", len(window.Samples)).
		Dur("duration", window.Duration()).
		Msg("Built sample window")

	return window, true
}
