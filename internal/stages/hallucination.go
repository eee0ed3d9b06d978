package stages

import "strings"

// UntranscribableMarker replaces a chunk whose transcript was rejected.
const UntranscribableMarker = "[untranscribable]"

// ContainsHallucination reports whether text contains any of the configured
// confabulation tokens. Matching is case-insensitive.
func ContainsHallucination(text string, tokens []string) bool {
	lower := strings.ToLower(text)
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

// FilterChunk substitutes the untranscribable marker for a hallucinated
// chunk transcript and reports whether it did so.
func FilterChunk(text string, tokens []string) (string, bool) {
	if ContainsHallucination(text, tokens) {
		return UntranscribableMarker, true
	}
	return text, false
}

// WhollyUntranscribable reports whether a joined transcript consists of
// nothing but rejected chunks.
func WhollyUntranscribable(chunks []string) bool {
	if len(chunks) == 0 {
		return true
	}
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) != UntranscribableMarker && strings.TrimSpace(chunk) != "" {
			return false
		}
	}
	return true
}
