package tgui

// TruncRunes returns s truncated to at most n runes, with "…" appended
// when something was cut. Button labels use it to stay readable.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i] + "…"
		}
		seen++
	}
	return s
}
