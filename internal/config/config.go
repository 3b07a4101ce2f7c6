package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Recording
	RecordingEnabled bool
	AudioSources     []string // "microphone" and/or "system"
	AudioQuality     string   // "low", "standard", or "high"
	AutoTranscribe   bool
	SelectedDevice   string

	// Window buffering
	FlushInterval time.Duration
	BackupPoll    time.Duration
	RingCapacity  int

	// Backends
	MaxBackendErrors  int
	VoskModelPath     string
	DeepgramAPIKey    string
	DeepgramModel     string
	DeepgramPunctuate bool

	// Storage
	DataDir string

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("No .env file found, using environment variables only")
	}

	cfg := &Config{
		// Recording
		RecordingEnabled: getBoolEnvOrDefault("RECORDING_ENABLED", true),
		AudioSources:     splitList(getEnvOrDefault("AUDIO_SOURCES", "microphone")),
		AudioQuality:     getEnvOrDefault("AUDIO_QUALITY", "standard"),
		AutoTranscribe:   getBoolEnvOrDefault("AUTO_TRANSCRIBE", true),
		SelectedDevice:   os.Getenv("AUDIO_DEVICE"),

		// Window buffering
		FlushInterval: time.Duration(getIntEnvOrDefault("FLUSH_INTERVAL_MS", 8000)) * time.Millisecond,
		BackupPoll:    time.Duration(getIntEnvOrDefault("BACKUP_POLL_MS", 3000)) * time.Millisecond,
		RingCapacity:  getIntEnvOrDefault("RING_CAPACITY", 3),

		// Backends
		MaxBackendErrors:  getIntEnvOrDefault("MAX_BACKEND_ERRORS", 2),
		VoskModelPath:     getEnvOrDefault("VOSK_MODEL_PATH", "./models/vosk/en"),
		DeepgramAPIKey:    os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getEnvOrDefault("DEEPGRAM_MODEL", "nova-2"),
		DeepgramPunctuate: getBoolEnvOrDefault("DEEPGRAM_PUNCTUATE", true),

		// Storage
		DataDir: getEnvOrDefault("DATA_DIR", "./data"),

		// Logging
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.AudioQuality {
	case "low", "standard", "high":
	default:
		return fmt.Errorf("AUDIO_QUALITY must be 'low', 'standard' or 'high'")
	}

	for _, source := range c.AudioSources {
		if source != "microphone" && source != "system" {
			return fmt.Errorf("AUDIO_SOURCES entries must be 'microphone' or 'system', got %q", source)
		}
	}
	if len(c.AudioSources) == 0 {
		return fmt.Errorf("AUDIO_SOURCES must name at least one source")
	}

	if c.RingCapacity < 1 {
		return fmt.Errorf("RING_CAPACITY must be at least 1")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL_MS must be positive")
	}
	if c.BackupPoll <= 0 {
		return fmt.Errorf("BACKUP_POLL_MS must be positive")
	}
	if c.MaxBackendErrors < 0 {
		return fmt.Errorf("MAX_BACKEND_ERRORS must not be negative")
	}

	return nil
}

// QualityProfile maps the configured quality to capture sample rate and
// channel count.
func (c *Config) QualityProfile() (sampleRate, channels int) {
	switch c.AudioQuality {
	case "low":
		return 16000, 1
	case "high":
		return 48000, 2
	default:
		return 44100, 1
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
