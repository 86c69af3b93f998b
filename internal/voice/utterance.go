package voice

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// escapePhrases signal that the caller wants a person rather than the assistant.
var escapePhrases = []string{
	"human",
	"representative",
	"operator",
	"real person",
	"live person",
	"agent",
	"someone else",
	"a person",
	"manager",
	"receptionist",
	"speak to someone",
	"talk to someone",
}

var escapePattern = compileEscapePattern(escapePhrases)

func compileEscapePattern(phrases []string) *regexp.Regexp {
	alts := make([]string, len(phrases))
	for i, p := range phrases {
		words := strings.Fields(regexp.QuoteMeta(p))
		alts[i] = strings.Join(words, `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// WantsHuman reports whether the utterance asks for a person.
func WantsHuman(utterance string) bool {
	return escapePattern.MatchString(utterance)
}

// normalizeUtterance trims, lower-cases, and collapses whitespace so that
// re-posted transcripts differing only in spacing or case match.
func normalizeUtterance(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint identifies an utterance for duplicate detection.
func Fingerprint(utterance string) string {
	sum := sha256.Sum256([]byte(normalizeUtterance(utterance)))
	return hex.EncodeToString(sum[:])
}
