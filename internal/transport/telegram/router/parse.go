package router

import (
	"strings"

	"github.com/google/uuid"
)

// newReqID is the first uuid group, enough to correlate one request's logs.
func newReqID() string {
	id, _, _ := strings.Cut(uuid.NewString(), "-")
	return id
}

// tokenizeCommandLine splits on whitespace. Single or double quotes group
// words and a backslash escapes the next byte, so `"" ` yields an empty
// argument:
//
//	/event "2025-06-01 18:00" Raid night --cap=20
func tokenizeCommandLine(s string) []string {
	var (
		out     []string
		cur     []byte
		started bool
		quote   byte
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			cur, started = append(cur, s[i]), true
			continue
		}
		if quote != 0 {
			if c == quote {
				quote = 0
			} else {
				cur = append(cur, c)
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote, started = c, true
		case ' ', '\t', '\n', '\r':
			if started {
				out = append(out, string(cur))
				cur, started = cur[:0], false
			}
		default:
			cur, started = append(cur, c), true
		}
	}
	if started {
		out = append(out, string(cur))
	}
	return out
}

// parseFlags separates positionals from flags. It accepts --k=v, --k v,
// -k v, bare --flag, and bundled -abc switches. Negative numbers such as
// chat ids stay positional.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags, bools = map[string]string{}, map[string]bool{}
	takesValue := func(i int) bool { return i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") }

	for i := 0; i < len(args); i++ {
		a := args[i]
		key := strings.TrimLeft(a, "-")
		if key == a || key == "" || isNegativeNumber(a) {
			pos = append(pos, a)
			continue
		}
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}
		switch {
		case strings.HasPrefix(a, "--") || len(key) == 1:
			if takesValue(i) {
				i++
				flags[key] = args[i]
			} else {
				bools[key] = true
			}
		default:
			for _, r := range key {
				bools[string(r)] = true
			}
		}
	}
	return pos, flags, bools
}

func isNegativeNumber(s string) bool {
	digits, ok := strings.CutPrefix(s, "-")
	return ok && digits != "" && strings.Trim(digits, "0123456789") == ""
}
