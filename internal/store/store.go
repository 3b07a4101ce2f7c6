package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/session-transcriber/internal/transcript"
)

// FileStore persists committed transcript lines as JSONL, one file per
// session. It also serves as the pipeline's default transcript sink.
type FileStore struct {
	baseDir string
	mutex   sync.Mutex
}

func NewFileStore(baseDir string) (*FileStore, error) {
	transcriptDir := filepath.Join(baseDir, "transcripts")

	if err := os.MkdirAll(transcriptDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	return &FileStore{baseDir: baseDir}, nil
}

// SaveTranscript writes the full transcript for a session, replacing any
// earlier partial file.
func (s *FileStore) SaveTranscript(sessionID string, lines []transcript.Line) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	path := s.transcriptPath(sessionID)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create transcript file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, line := range lines {
		if err := encoder.Encode(line); err != nil {
			return "", fmt.Errorf("failed to encode line: %w", err)
		}
	}

	log.Info().
		Str("session_id", sessionID).
		Str("file", path).
		Int("lines", len(lines)).
		Msg("Saved transcript")

	return path, nil
}

// AppendLines appends newly committed lines to the session's file so a
// crash loses at most the current window.
func (s *FileStore) AppendLines(sessionID string, lines []transcript.Line) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	file, err := os.OpenFile(s.transcriptPath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, line := range lines {
		if err := encoder.Encode(line); err != nil {
			return fmt.Errorf("failed to encode line: %w", err)
		}
	}
	return nil
}

// LoadTranscript reads a saved session transcript back.
func (s *FileStore) LoadTranscript(sessionID string) ([]transcript.Line, error) {
	file, err := os.Open(s.transcriptPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	var lines []transcript.Line
	decoder := json.NewDecoder(file)

	for decoder.More() {
		var line transcript.Line
		if err := decoder.Decode(&line); err != nil {
			return nil, fmt.Errorf("failed to decode line: %w", err)
		}
		lines = append(lines, line)
	}

	return lines, nil
}

// Sink adapts the store to the transcript.Sink interface for a session.
func (s *FileStore) Sink(sessionID string) transcript.Sink {
	return transcript.SinkFunc(func(lines []transcript.Line, words, position int) error {
		return s.AppendLines(sessionID, lines)
	})
}

func (s *FileStore) transcriptPath(sessionID string) string {
	return filepath.Join(s.baseDir, "transcripts", fmt.Sprintf("%s.jsonl", sessionID))
}

func GenerateSessionID() string {
	return fmt.Sprintf("session_%s", time.Now().Format("20060102_150405"))
}
