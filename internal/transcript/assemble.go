// Package transcript turns backend output into ordered transcript lines
// with monotonic word accounting and duplicate suppression.
package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/user/session-transcriber/internal/backend"
)

// DefaultSpeaker labels lines when no speaker attribution exists.
const DefaultSpeaker = "Live Audio"

// fingerprintLen is how much leading content enters the dedup key.
const fingerprintLen = 50

// maxFingerprints bounds the recent-fingerprint set per session.
const maxFingerprints = 256

// Line is one committed transcript entry. For any two lines in commit
// order the later line's WordIndex is at least the earlier line's
// WordIndex+WordCount.
type Line struct {
	ID         uuid.UUID `json:"id"`
	Timestamp  string    `json:"timestamp"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	WordIndex  int       `json:"word_index"`
	WordCount  int       `json:"word_count"`
	Confidence float64   `json:"confidence,omitempty"`
	Backend    string    `json:"backend"`
}

// fillerTokens are bare acknowledgement sounds that never become lines.
var fillerTokens = map[string]struct{}{
	"um":  {},
	"uh":  {},
	"hmm": {},
	"ah":  {},
	"mm":  {},
	"hm":  {},
}

// Assembler accumulates committed lines' word positions and suppresses
// re-delivered duplicates. One assembler per session; not safe for
// concurrent use, callers serialize through the session loop.
type Assembler struct {
	words        int
	position     int
	fingerprints map[string]struct{}
	order        []string

	// OnInterim surfaces streaming interim text for live display only;
	// interims never enter the committed transcript.
	OnInterim func(text string)

	now func() time.Time
}

func NewAssembler() *Assembler {
	return &Assembler{
		fingerprints: make(map[string]struct{}),
		now:          time.Now,
	}
}

// Assemble turns one backend result into a committed line. The second
// return is false when the result produced nothing: empty or filler
// text, an interim segment, or a duplicate fingerprint.
func (a *Assembler) Assemble(result backend.Result, speaker string) (*Line, bool) {
	if result.Err != nil {
		return nil, false
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, false
	}

	if !result.Final {
		if a.OnInterim != nil {
			a.OnInterim(text)
		}
		return nil, false
	}

	if a.isFiller(text) {
		log.Debug().Str("text", text).Msg("Filtered filler token")
		return nil, false
	}

	if speaker == "" {
		speaker = DefaultSpeaker
	}

	timestamp := a.now().Format("15:04:05")
	if !a.remember(fingerprint(timestamp, speaker, text)) {
		log.Debug().
			Str("text", text).
			Str("speaker", speaker).
			Msg("Dropped duplicate line")
		return nil, false
	}

	words := len(strings.Fields(text))
	line := &Line{
		ID:         uuid.New(),
		Timestamp:  timestamp,
		Speaker:    speaker,
		Text:       text,
		WordIndex:  a.words,
		WordCount:  words,
		Confidence: result.Confidence,
		Backend:    result.Backend,
	}

	a.words += words
	a.position += words

	log.Debug().
		Str("speaker", speaker).
		Int("word_index", line.WordIndex).
		Int("word_count", line.WordCount).
		Str("backend", line.Backend).
		Msg("Committed transcript line")

	return line, true
}

// isFiller reports whether the text is a bare acknowledgement token.
// The silence marker always passes for diagnostics.
func (a *Assembler) isFiller(text string) bool {
	if text == backend.SilenceMarker {
		return false
	}
	normalized := strings.ToLower(strings.Trim(text, ".,!? "))
	_, ok := fillerTokens[normalized]
	return ok
}

// remember records a fingerprint, reporting false when it was already
// present. The set is bounded; the oldest entry falls out first.
func (a *Assembler) remember(fp string) bool {
	if _, seen := a.fingerprints[fp]; seen {
		return false
	}

	a.fingerprints[fp] = struct{}{}
	a.order = append(a.order, fp)
	if len(a.order) > maxFingerprints {
		delete(a.fingerprints, a.order[0])
		a.order = a.order[1:]
	}
	return true
}

// Words reports the cumulative committed word count.
func (a *Assembler) Words() int { return a.words }

// Position reports the current transcript position.
func (a *Assembler) Position() int { return a.position }

func fingerprint(timestamp, speaker, text string) string {
	// Truncate on rune boundaries so multi-byte text keys stay valid.
	if runes := []rune(text); len(runes) > fingerprintLen {
		text = string(runes[:fingerprintLen])
	}
	return timestamp + "|" + speaker + "|" + text
}
