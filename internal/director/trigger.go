// Package director talks to the external production-assistant text services:
// coaching suggestions from recent transcript context and claim extraction
// for fact-checking. It also owns trigger-phrase matching for the host's
// spoken commands.
package director

import "strings"

// NormalizePhrase lowercases, strips punctuation and collapses whitespace so
// STT output can be compared against configured trigger phrases.
func NormalizePhrase(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t' || r == '\n':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// punctuation dropped
		}
	}
	return strings.TrimSpace(b.String())
}

// MatchesTrigger reports whether text, normalized, exactly equals one of the
// trigger phrases. "okay then" does not match a configured "okay".
func MatchesTrigger(text string, phrases []string) bool {
	normalized := NormalizePhrase(text)
	if normalized == "" {
		return false
	}
	for _, phrase := range phrases {
		if normalized == NormalizePhrase(phrase) {
			return true
		}
	}
	return false
}
