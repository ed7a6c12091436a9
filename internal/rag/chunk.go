package rag

import (
	"strings"
	"unicode/utf8"
)

// Chunk defaults.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 20
)

// separators are tried in order: paragraphs, lines, words.
var separators = []string{"\n\n", "\n", " "}

// Split cuts text into chunks of at most size runes, preferring paragraph,
// then line, then word boundaries. Consecutive chunks share up to overlap
// runes of trailing pieces.
func Split(text string, size, overlap int) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return splitText(text, size, overlap, separators)
}

func splitText(text string, size, overlap int, seps []string) []string {
	if runeLen(text) <= size {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardSplit(text, size, overlap)
	}
	sep := seps[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return splitText(text, size, overlap, seps[1:])
	}

	var (
		out    []string
		window []string
	)
	emit := func() {
		if len(window) > 0 {
			out = append(out, strings.Join(window, sep))
		}
	}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if runeLen(part) > size {
			emit()
			window = nil
			out = append(out, splitText(part, size, overlap, seps[1:])...)
			continue
		}
		if len(window) > 0 && joinedLen(window, sep)+runeLen(sep)+runeLen(part) > size {
			emit()
			// keep a tail no longer than overlap that still leaves room for part
			for len(window) > 0 &&
				(joinedLen(window, sep) > overlap || joinedLen(window, sep)+runeLen(sep)+runeLen(part) > size) {
				window = window[1:]
			}
		}
		window = append(window, part)
	}
	emit()
	return out
}

func hardSplit(text string, size, overlap int) []string {
	runes := []rune(text)
	step := size - overlap
	var out []string
	for i := 0; i < len(runes); i += step {
		end := min(i+size, len(runes))
		if s := strings.TrimSpace(string(runes[i:end])); s != "" {
			out = append(out, s)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

func joinedLen(parts []string, sep string) int {
	if len(parts) == 0 {
		return 0
	}
	n := runeLen(sep) * (len(parts) - 1)
	for _, p := range parts {
		n += runeLen(p)
	}
	return n
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
