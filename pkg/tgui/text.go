package tgui

// TruncRunes cuts s to at most n runes, the last one being "…" when s was
// longer.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
