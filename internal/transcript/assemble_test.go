package transcript

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/session-transcriber/internal/backend"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func finalResult(text string) backend.Result {
	return backend.Result{Text: text, Final: true, Backend: backend.NameLocal, Confidence: 0.9}
}

func TestAssembleBuildsLineFromBatchResult(t *testing.T) {
	a := NewAssembler()
	a.now = fixedClock(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC))

	line, ok := a.Assemble(finalResult("  hello transcription world  "), "")
	require.True(t, ok)
	assert.Equal(t, "hello transcription world", line.Text)
	assert.Equal(t, DefaultSpeaker, line.Speaker)
	assert.Equal(t, "10:30:00", line.Timestamp)
	assert.Equal(t, 0, line.WordIndex)
	assert.Equal(t, 3, line.WordCount)
	assert.Equal(t, backend.NameLocal, line.Backend)
}

func TestWordIndexMonotonicAndNonOverlapping(t *testing.T) {
	a := NewAssembler()

	texts := []string{"one two three", "four", "five six", "seven eight nine ten"}
	var lines []*Line
	for i, text := range texts {
		a.now = fixedClock(time.Now().Add(time.Duration(i) * time.Second))
		line, ok := a.Assemble(finalResult(text), "")
		require.True(t, ok)
		lines = append(lines, line)
	}

	for i := 1; i < len(lines); i++ {
		prev, cur := lines[i-1], lines[i]
		assert.GreaterOrEqual(t, cur.WordIndex, prev.WordIndex+prev.WordCount,
			"line %d overlaps line %d", i, i-1)
	}
	assert.Equal(t, 10, a.Words())
	assert.Equal(t, 10, a.Position())
}

func TestAssembleDropsEmptyAndErrorResults(t *testing.T) {
	a := NewAssembler()

	_, ok := a.Assemble(finalResult("   "), "")
	assert.False(t, ok)

	_, ok = a.Assemble(backend.Result{Text: "text", Final: true, Err: fmt.Errorf("boom")}, "")
	assert.False(t, ok)

	assert.Equal(t, 0, a.Words())
}

func TestAssembleFiltersFillerTokens(t *testing.T) {
	a := NewAssembler()

	for _, filler := range []string{"um", "Uh", "hmm", "ah", "um."} {
		_, ok := a.Assemble(finalResult(filler), "")
		assert.False(t, ok, "filler %q should not commit", filler)
	}

	// The silence marker always passes for diagnostics.
	line, ok := a.Assemble(finalResult(backend.SilenceMarker), "")
	require.True(t, ok)
	assert.Equal(t, backend.SilenceMarker, line.Text)
}

func TestInterimResultsNeverCommit(t *testing.T) {
	a := NewAssembler()

	var interims []string
	a.OnInterim = func(text string) { interims = append(interims, text) }

	_, ok := a.Assemble(backend.Result{Text: "partial thought", Final: false, Backend: backend.NameStreaming}, "")
	assert.False(t, ok)
	assert.Equal(t, []string{"partial thought"}, interims)
	assert.Equal(t, 0, a.Words())

	line, ok := a.Assemble(backend.Result{Text: "full thought", Final: true, Backend: backend.NameStreaming}, "")
	require.True(t, ok)
	assert.Equal(t, "full thought", line.Text)
}

func TestDuplicateFingerprintDroppedSilently(t *testing.T) {
	a := NewAssembler()
	a.now = fixedClock(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC))

	first, ok := a.Assemble(finalResult("the same line of text"), "Live Audio")
	require.True(t, ok)
	require.NotNil(t, first)

	_, ok = a.Assemble(finalResult("the same line of text"), "Live Audio")
	assert.False(t, ok, "identical timestamp+speaker+content must dedup")

	// Word accounting does not advance for the duplicate.
	assert.Equal(t, first.WordCount, a.Words())
}

func TestFingerprintUsesLeadingContentOnly(t *testing.T) {
	a := NewAssembler()
	a.now = fixedClock(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC))

	prefix := "this shared prefix is exactly long enough to pass fifty"
	require.Greater(t, len(prefix), 50)

	_, ok := a.Assemble(finalResult(prefix+" alpha"), "")
	require.True(t, ok)

	// Same first 50 chars means same fingerprint, so the second drops.
	_, ok = a.Assemble(finalResult(prefix+" omega"), "")
	assert.False(t, ok)
}

func TestFingerprintTruncatesOnRuneBoundaries(t *testing.T) {
	text := strings.Repeat("é", 60)

	fp := fingerprint("10:30:00", DefaultSpeaker, text)
	assert.True(t, utf8.ValidString(fp), "truncation must not split a rune")
	assert.Equal(t, "10:30:00|"+DefaultSpeaker+"|"+strings.Repeat("é", fingerprintLen), fp)

	// Multi-byte texts sharing their first 50 runes still dedup.
	a := NewAssembler()
	a.now = fixedClock(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC))

	_, ok := a.Assemble(finalResult(text+" alpha"), "")
	require.True(t, ok)
	_, ok = a.Assemble(finalResult(text+" omega"), "")
	assert.False(t, ok)
}

func TestFingerprintSetIsBounded(t *testing.T) {
	a := NewAssembler()

	for i := 0; i < maxFingerprints+10; i++ {
		a.now = fixedClock(time.Now().Add(time.Duration(i) * time.Second))
		_, ok := a.Assemble(finalResult(fmt.Sprintf("line number %d", i)), "")
		require.True(t, ok)
	}

	assert.LessOrEqual(t, len(a.fingerprints), maxFingerprints)
	assert.LessOrEqual(t, len(a.order), maxFingerprints)
}
