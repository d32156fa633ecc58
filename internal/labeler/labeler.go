// Package labeler names the most prominent object in a photo with a single
// generic word.
package labeler

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fallback is the label used whenever labeling fails or yields nothing usable.
const Fallback = "object"

// DefaultPrompt asks a vision model for a single generic noun.
const DefaultPrompt = "Look at this image carefully. What is the most prominent element or subject that you can see? " +
	"Use a generic term, never brand names. For example: say 'boardgame' not 'Monopoly', 'car' not 'Tesla', " +
	"'building' or 'church' for architectural structures, 'sculpture' for abstract art objects. " +
	"Answer with exactly ONE generic word only. No explanations, no brand names, just one simple word."

// Labeler asks a vision model about an image and returns its raw answer.
type Labeler interface {
	Label(ctx context.Context, image []byte, mimeType string) (string, error)
}

var lower = cases.Lower(language.Und)

// Normalize reduces a raw model answer to one lower-case word. The second
// return value is false when the fallback had to be used.
func Normalize(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" || strings.EqualFold(text, "nothing") {
		return Fallback, false
	}

	word := strings.Fields(text)[0]
	word = strings.Map(func(r rune) rune {
		if strings.ContainsRune(".,!?;:'\"", r) {
			return -1
		}
		return r
	}, word)
	word = lower.String(word)

	if word == "" {
		return Fallback, false
	}
	return word, true
}

// Detect labels img and never fails: every error degrades to Fallback.
func Detect(ctx context.Context, l Labeler, img []byte, mimeType string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if l == nil {
		return Fallback
	}

	raw, err := l.Label(ctx, img, mimeType)
	if err != nil {
		logger.Warn("labeling failed, using fallback", "error", err)
		return Fallback
	}

	label, ok := Normalize(raw)
	if !ok {
		logger.Warn("labeler returned empty or invalid result, using fallback", "raw", raw)
	}
	return label
}
