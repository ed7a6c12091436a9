package outline

import (
	"strings"
	"unicode"
)

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func indented(raw string) bool {
	return strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t")
}

// indentWidth counts leading whitespace, a tab as four columns.
func indentWidth(raw string) int {
	n := 0
	for _, r := range raw {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// stripEmphasis removes markdown bold/underline markers and heading hashes.
func stripEmphasis(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.TrimLeft(strings.TrimSpace(s), "#")
	return strings.TrimSpace(s)
}

// cutNumbering strips a leading "12." or "12)" followed by space.
func cutNumbering(s string) (string, bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) || (s[i] != '.' && s[i] != ')') {
		return s, false
	}
	rest := s[i+1:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return s, false
	}
	return strings.TrimSpace(rest), true
}

// cutBullet strips one leading bullet marker followed by space.
func cutBullet(s string) (string, bool) {
	for _, b := range []string{"-", "*", "•", "+"} {
		if strings.HasPrefix(s, b) {
			rest := s[len(b):]
			if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
				return strings.TrimSpace(rest), true
			}
		}
	}
	return s, false
}

func isBullet(raw string) bool {
	t := strings.TrimSpace(raw)
	if _, ok := cutBullet(t); ok {
		return true
	}
	_, ok := cutNumbering(t)
	return ok
}

func isEmphasized(raw string) bool {
	t := strings.TrimSpace(raw)
	return (strings.HasPrefix(t, "**") && strings.HasSuffix(t, "**") && len(t) > 4) ||
		(strings.HasPrefix(t, "__") && strings.HasSuffix(t, "__") && len(t) > 4)
}

// clean strips emphasis, bullets and numbering from a line.
func clean(raw string) string {
	s := strings.TrimSpace(raw)
	// Bullets come before bold markers ("- **Objective:**"), so strip them
	// first, then again after emphasis is gone.
	for {
		changed := false
		if rest, ok := cutBullet(s); ok {
			s, changed = rest, true
		}
		if rest, ok := cutNumbering(s); ok {
			s, changed = rest, true
		}
		if !changed {
			break
		}
	}
	s = stripEmphasis(s)
	for {
		changed := false
		if rest, ok := cutBullet(s); ok {
			s, changed = rest, true
		}
		if rest, ok := cutNumbering(s); ok {
			s, changed = rest, true
		}
		if !changed {
			break
		}
	}
	return strings.TrimSpace(strings.Trim(s, "*_"))
}

// parseMarker recognises "Label: value" lines with a known label.
func parseMarker(raw string) (field, string, bool) {
	c := clean(raw)
	label, value, ok := strings.Cut(c, ":")
	if !ok {
		return fieldNone, "", false
	}
	key := strings.ToLower(strings.TrimSpace(strings.Trim(label, "*_ ")))
	f, ok := markers[key]
	if !ok {
		return fieldNone, "", false
	}
	return f, strings.TrimSpace(strings.Trim(value, "*_ ")), true
}

// normalizeName lowercases s, drops punctuation and collapses whitespace.
func normalizeName(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(clean(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}
