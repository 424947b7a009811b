// Package normalizer produces the cleaned parallel transcript used by
// event extraction. Raw turn text is never modified; quotes shown in the
// report always come from the raw copy.
package normalizer

import (
	"strings"

	"github.com/MikeSquared-Agency/parley/internal/aar"
)

// fillerTokens are ASR disfluencies stripped during normalization.
var fillerTokens = map[string]bool{
	"um":  true,
	"uh":  true,
	"uhm": true,
	"erm": true,
	"er":  true,
	"hmm": true,
	"mhm": true,
	"ah":  true,
}

// Normalize derives the cleaned transcript from a raw one. Turn count and
// order are preserved exactly; only NormalizedText differs. A malformed
// transcript is rejected so the caller can fall back per the pipeline's
// partial-failure policy.
func Normalize(raw *aar.RawTranscript) (*aar.NormalizedTranscript, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	turns := make([]aar.Turn, len(raw.Turns))
	for i, turn := range raw.Turns {
		turns[i] = turn
		turns[i].NormalizedText = NormalizeText(turn.RawText)
	}

	return &aar.NormalizedTranscript{
		SessionID: raw.SessionID,
		Turns:     turns,
	}, nil
}

// Fallback mirrors the raw transcript with normalized_text = raw_text.
// Used when normalization fails so later stages are not starved of input.
func Fallback(raw *aar.RawTranscript) *aar.NormalizedTranscript {
	turns := make([]aar.Turn, len(raw.Turns))
	for i, turn := range raw.Turns {
		turns[i] = turn
		turns[i].NormalizedText = turn.RawText
	}
	return &aar.NormalizedTranscript{
		SessionID: raw.SessionID,
		Turns:     turns,
	}
}

// NormalizeText applies the deterministic cleanup: case folding,
// punctuation and whitespace normalization, filler-word removal, and
// stutter collapse ("the the rate" -> "the rate").
func NormalizeText(s string) string {
	lowered := strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '\'', r == '%', r == '$':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if fillerTokens[tok] {
			continue
		}
		if n := len(out); n > 0 && out[n-1] == tok {
			continue // stutter repeat
		}
		out = append(out, tok)
	}

	return strings.Join(out, " ")
}
