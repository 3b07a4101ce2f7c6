package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/session-transcriber/internal/audio"
)

func TestManualAlwaysStarts(t *testing.T) {
	m := NewManual()
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
}

func TestManualMarksSilentWindows(t *testing.T) {
	m := NewManual()
	require.NoError(t, m.Start(context.Background()))

	silent := audio.NewChunk(make([]float32, audio.TargetSampleRate), audio.TargetSampleRate, time.Now(), audio.OriginStream)
	window, ok := audio.BuildWindow([]*audio.Chunk{silent})
	require.True(t, ok)

	result, err := m.Submit(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, SilenceMarker, result.Text)
	assert.True(t, result.Final)
}

func TestManualMarksAudibleWindows(t *testing.T) {
	m := NewManual()

	samples := make([]float32, audio.TargetSampleRate)
	for i := range samples {
		samples[i] = 0.2
	}
	chunk := audio.NewChunk(samples, audio.TargetSampleRate, time.Now(), audio.OriginStream)
	window, ok := audio.BuildWindow([]*audio.Chunk{chunk})
	require.True(t, ok)

	result, err := m.Submit(context.Background(), window)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "untranscribed audio")
	assert.Contains(t, result.Text, "1.0s")
}
