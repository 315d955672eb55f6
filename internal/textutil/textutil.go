// Package textutil holds text normalization helpers shared by the pattern
// engine and the phrase cache.
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	punctuationEdges  = regexp.MustCompile(`^[\p{P}\p{S}]+|[\p{P}\p{S}]+$`)

	folder = cases.Fold()
)

// NormalizePhrase produces the canonical cache key form of an utterance:
// case-folded, whitespace-collapsed, with leading/trailing punctuation
// stripped. Two utterances that differ only in case or spacing normalize to
// the same phrase.
func NormalizePhrase(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	folded := folder.String(trimmed)
	collapsed := whitespacePattern.ReplaceAllString(folded, " ")
	return strings.TrimSpace(punctuationEdges.ReplaceAllString(collapsed, ""))
}

// PhraseKey hashes a normalized phrase into a stable content address.
func PhraseKey(text string) string {
	normalized := NormalizePhrase(text)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Title renders a display label from a snake_case identifier.
func Title(value string) string {
	if value == "" {
		return ""
	}
	spaced := strings.ReplaceAll(value, "_", " ")
	return cases.Title(language.Und).String(spaced)
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
