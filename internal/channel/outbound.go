package channel

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxMessageLength is the rune limit applied when none is configured.
const DefaultMaxMessageLength = 4096

// SplitMessage breaks text into parts of at most limit runes. A part ends at
// the last paragraph break in the second half of the window, else the last
// line break there, else the last space; a run with none is cut at limit.
func SplitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}
	var parts []string
	for text != "" {
		if utf8.RuneCountInString(text) <= limit {
			parts = append(parts, text)
			break
		}
		cut := cutPoint(text, limit)
		parts = append(parts, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	return parts
}

// cutPoint returns the byte offset to split at. text must be longer than
// limit runes and start with a non-space.
func cutPoint(text string, limit int) int {
	end := runeOffset(text, limit)
	for _, sep := range []string{"\n\n", "\n"} {
		if i := lastSeparator(text, end, sep); i >= end/2 && i > 0 {
			return i
		}
	}
	if i := lastSeparator(text, end, " "); i > 0 {
		return i
	}
	return end
}

// lastSeparator finds the last sep that starts at or before end.
func lastSeparator(text string, end int, sep string) int {
	window := text[:min(end+len(sep), len(text))]
	return strings.LastIndex(window, sep)
}

func runeOffset(text string, n int) int {
	count := 0
	for i := range text {
		if count == n {
			return i
		}
		count++
	}
	return len(text)
}
