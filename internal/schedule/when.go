package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PastTolerance is how far in the past a requested time may lie and still be accepted.
const PastTolerance = time.Minute

var (
	reDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	reHHMM = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
)

var absLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseWhen parses a user-supplied point in time.
//
// Accepted forms:
//   - absolute: "2025-09-01 18:30" (interpreted in loc), RFC 3339
//   - relative: "+90m", "in 2h", "45m"
//
// The result is UTC. Times more than PastTolerance before now are rejected.
func ParseWhen(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: time required", ErrMalformedSchedule)
	}
	if loc == nil {
		loc = time.UTC
	}

	var at time.Time
	if d, ok := parseRelative(s); ok {
		if d < 0 {
			return time.Time{}, fmt.Errorf("%w: negative offset %q", ErrMalformedSchedule, raw)
		}
		at = now.Add(d)
	} else if t, err := time.Parse(time.RFC3339, s); err == nil {
		at = t
	} else {
		for _, layout := range absLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				at = t
				break
			}
		}
	}
	if at.IsZero() {
		return time.Time{}, fmt.Errorf("%w: cannot parse %q (use YYYY-MM-DD HH:MM or +90m)", ErrMalformedSchedule, raw)
	}
	if at.Before(now.Add(-PastTolerance)) {
		return time.Time{}, fmt.Errorf("%w: %s is in the past", ErrMalformedSchedule, at.UTC().Format("2006-01-02 15:04 MST"))
	}
	return at.UTC(), nil
}

func parseRelative(s string) (time.Duration, bool) {
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "in "):
		low = strings.TrimSpace(low[3:])
	case strings.HasPrefix(low, "+"):
		low = low[1:]
	}
	d, err := time.ParseDuration(low)
	if err != nil {
		return 0, false
	}
	return d, true
}

// SplitWhen takes the time argument off the front of args. A date followed
// by HH:MM spans two tokens, "in 2h" spans two tokens, anything else one.
func SplitWhen(args []string) (when string, rest []string) {
	if len(args) == 0 {
		return "", nil
	}
	if len(args) >= 2 && reDate.MatchString(args[0]) && reHHMM.MatchString(args[1]) {
		return args[0] + " " + args[1], args[2:]
	}
	if len(args) >= 2 && strings.EqualFold(args[0], "in") {
		return args[0] + " " + args[1], args[2:]
	}
	return args[0], args[1:]
}
