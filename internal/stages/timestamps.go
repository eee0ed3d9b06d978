package stages

import (
	"encoding/json"
	"regexp"
	"strings"
)

// TimestampEntry is one section marker in the timestamps artifact.
type TimestampEntry struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

var (
	fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	entryRe = regexp.MustCompile(`\{[^{}]*"timestamp"[^{}]*\}`)
	pairRe  = regexp.MustCompile(`"timestamp"\s*:\s*"([^"]*)"\s*,\s*"text"\s*:\s*"([^"]*)"`)
)

// ParseTimestamps recovers a timestamp array from a model response using a
// cascade of increasingly forgiving strategies: raw JSON, fenced JSON, the
// outermost array substring, per-entry objects, and finally bare
// timestamp/text pairs. The first strategy yielding a non-empty array wins;
// nil means nothing could be recovered.
func ParseTimestamps(raw string) []TimestampEntry {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if entries := parseArray(raw); len(entries) > 0 {
		return entries
	}

	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		if entries := parseArray(strings.TrimSpace(m[1])); len(entries) > 0 {
			return entries
		}
	}

	if start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]"); start >= 0 && end > start {
		if entries := parseArray(raw[start : end+1]); len(entries) > 0 {
			return entries
		}
	}

	var entries []TimestampEntry
	for _, obj := range entryRe.FindAllString(raw, -1) {
		var entry TimestampEntry
		if json.Unmarshal([]byte(obj), &entry) == nil && entry.Timestamp != "" {
			entries = append(entries, entry)
		}
	}
	if len(entries) > 0 {
		return entries
	}

	for _, m := range pairRe.FindAllStringSubmatch(raw, -1) {
		entries = append(entries, TimestampEntry{Timestamp: m[1], Text: m[2]})
	}
	if len(entries) > 0 {
		return entries
	}
	return nil
}

// MarshalTimestamps renders entries as the stored timestamps artifact, or
// nil when there is nothing to store.
func MarshalTimestamps(entries []TimestampEntry) *string {
	if len(entries) == 0 {
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

func parseArray(raw string) []TimestampEntry {
	var entries []TimestampEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}
	var valid []TimestampEntry
	for _, entry := range entries {
		if entry.Timestamp != "" || entry.Text != "" {
			valid = append(valid, entry)
		}
	}
	return valid
}
