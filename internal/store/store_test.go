package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/session-transcriber/internal/transcript"
)

func TestAppendThenLoad(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	sink := fs.Sink("session_test")
	require.NoError(t, sink.Deliver([]transcript.Line{
		{Timestamp: "10:00:01", Speaker: "Live Audio", Text: "first line", WordIndex: 0, WordCount: 2},
	}, 2, 2))
	require.NoError(t, sink.Deliver([]transcript.Line{
		{Timestamp: "10:00:09", Speaker: "Live Audio", Text: "second line", WordIndex: 2, WordCount: 2},
	}, 4, 4))

	lines, err := fs.LoadTranscript("session_test")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "first line", lines[0].Text)
	assert.Equal(t, 2, lines[1].WordIndex)
}

func TestSaveTranscriptReplacesPartialFile(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.AppendLines("session_x", []transcript.Line{{Text: "partial"}}))

	_, err = fs.SaveTranscript("session_x", []transcript.Line{
		{Text: "final one"},
		{Text: "final two"},
	})
	require.NoError(t, err)

	lines, err := fs.LoadTranscript("session_x")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "final one", lines[0].Text)
}

func TestGenerateSessionID(t *testing.T) {
	id := GenerateSessionID()
	assert.True(t, strings.HasPrefix(id, "session_"))
}
