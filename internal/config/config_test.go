package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.RecordingEnabled)
	assert.Equal(t, []string{"microphone"}, cfg.AudioSources)
	assert.Equal(t, "standard", cfg.AudioQuality)
	assert.True(t, cfg.AutoTranscribe)
	assert.Equal(t, 8*time.Second, cfg.FlushInterval)
	assert.Equal(t, 3*time.Second, cfg.BackupPoll)
	assert.Equal(t, 3, cfg.RingCapacity)
	assert.Equal(t, 2, cfg.MaxBackendErrors)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUDIO_QUALITY", "high")
	t.Setenv("AUDIO_SOURCES", "microphone, system")
	t.Setenv("FLUSH_INTERVAL_MS", "5000")
	t.Setenv("RING_CAPACITY", "5")
	t.Setenv("AUTO_TRANSCRIBE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "high", cfg.AudioQuality)
	assert.Equal(t, []string{"microphone", "system"}, cfg.AudioSources)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 5, cfg.RingCapacity)
	assert.False(t, cfg.AutoTranscribe)
}

func TestQualityProfiles(t *testing.T) {
	tests := []struct {
		quality  string
		rate     int
		channels int
	}{
		{"low", 16000, 1},
		{"standard", 44100, 1},
		{"high", 48000, 2},
	}

	for _, tt := range tests {
		t.Run(tt.quality, func(t *testing.T) {
			cfg := &Config{AudioQuality: tt.quality}
			rate, channels := cfg.QualityProfile()
			assert.Equal(t, tt.rate, rate)
			assert.Equal(t, tt.channels, channels)
		})
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown quality", map[string]string{"AUDIO_QUALITY": "ultra"}},
		{"unknown source", map[string]string{"AUDIO_SOURCES": "webcam"}},
		{"empty sources", map[string]string{"AUDIO_SOURCES": " , "}},
		{"zero ring capacity", map[string]string{"RING_CAPACITY": "0"}},
		{"negative flush interval", map[string]string{"FLUSH_INTERVAL_MS": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
