package triggers

import (
	"strings"
	"unicode"
)

// DefaultVoicePhrases are matched when no phrase list is configured.
var DefaultVoicePhrases = []string{"help me", "emergency", "i need help", "call police", "danger", "unsafe"}

// VoiceMatcher recognises emergency phrases in speech transcripts. Matching
// is case-insensitive, ignores punctuation, and respects word boundaries so
// "endangered" does not match "danger".
type VoiceMatcher struct {
	phrases []string
}

func NewVoiceMatcher(phrases []string) *VoiceMatcher {
	if len(phrases) == 0 {
		phrases = DefaultVoicePhrases
	}
	m := &VoiceMatcher{}
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			m.phrases = append(m.phrases, n)
		}
	}
	return m
}

// Match returns the first configured phrase found in the transcript.
func (m *VoiceMatcher) Match(transcript string) (string, bool) {
	text := " " + normalize(transcript) + " "
	for _, p := range m.phrases {
		if strings.Contains(text, " "+p+" ") {
			return p, true
		}
	}
	return "", false
}

func (m *VoiceMatcher) Phrases() []string {
	return append([]string(nil), m.phrases...)
}

// normalize lowercases, turns punctuation into spaces and collapses runs of
// whitespace. Apostrophes are dropped so "don't" stays one word.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
