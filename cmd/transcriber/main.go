package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/user/session-transcriber/internal/backend"
	"github.com/user/session-transcriber/internal/config"
	"github.com/user/session-transcriber/internal/session"
	"github.com/user/session-transcriber/internal/store"
	"github.com/user/session-transcriber/internal/transcript"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.LogLevel)

	log.Info().Msg("Starting session transcriber")

	fileStore, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create transcript store")
	}

	newBackends := func() []backend.Backend {
		return []backend.Backend{
			backend.NewLocal(cfg.VoskModelPath),
			backend.NewStreaming(cfg.DeepgramAPIKey, cfg.DeepgramModel, cfg.DeepgramPunctuate),
			backend.NewManual(),
		}
	}

	manager := session.NewManager(cfg, func(sessionID string) transcript.Sink {
		return fileStore.Sink(sessionID)
	}, newBackends)
	manager.Finalize = fileStore.SaveTranscript

	sessionID, err := manager.StartSession(context.Background(), "cli")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}

	log.Info().Str("session_id", sessionID).Msg("Session running. Press Ctrl+C to stop.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Info().Msg("Shutting down...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan session.Summary, 1)
	go func() {
		done <- manager.StopSession()
	}()

	select {
	case summary := <-done:
		log.Info().
			Str("session_id", summary.SessionID).
			Dur("duration", summary.Duration).
			Int("lines", summary.LineCount).
			Msg("Session stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing exit")
	}
}

func setupLogging(level string) {
	// Setup zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	// Set log level
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("level", level).Msg("Logging configured")
}
