package adapter

import (
	"strings"
	"unicode/utf8"
)

// textLimit stays under Telegram's 4096 character cap with room for entities.
const textLimit = 4000

// chunkText splits s into pieces of at most limit runes. Breaks fall on
// newlines where a line fits; longer lines are cut hard, and in HTML mode a
// hard cut backs off so it never lands inside a tag or an entity.
func chunkText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var (
		out []string
		cur []rune
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, line := range strings.Split(s, "\n") {
		rs := []rune(line)
		if len(cur) > 0 && len(cur)+1+len(rs) <= limit {
			cur = append(append(cur, '\n'), rs...)
			continue
		}
		flush()
		for len(rs) > limit {
			n := safeCut(rs[:limit], html)
			out = append(out, string(rs[:n]))
			rs = rs[n:]
		}
		cur = append(cur, rs...)
	}
	flush()
	return out
}

// safeCut returns how much of window may be emitted as one piece.
func safeCut(window []rune, html bool) int {
	if !html {
		return len(window)
	}
	for i := len(window) - 1; i > 0; i-- {
		switch window[i] {
		case '>', ';':
			return len(window)
		case '<', '&':
			return i
		}
	}
	return len(window)
}
