package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func chunkAt(rate int, samples []float32) *Chunk {
	return NewChunk(samples, rate, time.Now(), OriginStream)
}

func TestHasSpeechFallsBackOnShortFrames(t *testing.T) {
	probe := &PresenceProbe{}

	// Under 10ms at the target rate, the probe degrades to the peak
	// amplitude signal.
	loud := make([]float32, 100)
	for i := range loud {
		loud[i] = 0.5
	}
	assert.True(t, probe.HasSpeech(chunkAt(TargetSampleRate, loud)))

	silent := make([]float32, 100)
	assert.False(t, probe.HasSpeech(chunkAt(TargetSampleRate, silent)))
}

func TestHasSpeechFallsBackOnNativeRates(t *testing.T) {
	probe := &PresenceProbe{}

	// Frames that haven't been resampled to the target rate never reach
	// the VAD; the amplitude threshold decides.
	loud := make([]float32, 4410)
	for i := range loud {
		loud[i] = 0.25
	}
	assert.True(t, probe.HasSpeech(chunkAt(44100, loud)))
	assert.False(t, probe.HasSpeech(chunkAt(44100, make([]float32, 4410))))
}

func TestPcm16BytesClipsOutOfRangeSamples(t *testing.T) {
	out := pcm16Bytes([]float32{2.0, -2.0})
	assert.Equal(t, []byte{0xFF, 0x7F, 0x01, 0x80}, out)
}
