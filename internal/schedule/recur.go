package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// MinRecurrenceGap is the shortest allowed distance between two occurrences.
const MinRecurrenceGap = time.Hour

// ParseRecurrence parses an RFC 5545 RRULE ("FREQ=WEEKLY;BYDAY=SA", an optional
// "RRULE:" prefix is accepted) anchored at dtstart.
func ParseRecurrence(rule string, dtstart time.Time) (*rrule.RRule, error) {
	s := strings.TrimSpace(rule)
	if len(s) >= 6 && strings.EqualFold(s[:6], "RRULE:") {
		s = s[6:]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty recurrence", ErrMalformedSchedule)
	}
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return nil, fmt.Errorf("%w: recurrence %q: %v", ErrMalformedSchedule, rule, err)
	}
	// Each occurrence is re-anchored at the previous one, so COUNT would never run out.
	if opt.Count > 0 {
		return nil, fmt.Errorf("%w: recurrence COUNT is not supported, use UNTIL", ErrMalformedSchedule)
	}
	opt.Dtstart = dtstart.UTC()
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: recurrence %q: %v", ErrMalformedSchedule, rule, err)
	}
	first := r.After(dtstart, true)
	if !first.IsZero() {
		if second := r.After(first, false); !second.IsZero() && second.Sub(first) < MinRecurrenceGap {
			return nil, fmt.Errorf("%w: recurrence %q repeats more often than every %s", ErrMalformedSchedule, rule, MinRecurrenceGap)
		}
	}
	return r, nil
}

// NextOccurrence returns the first occurrence of rule, anchored at anchor,
// that lies strictly after both anchor and after. Passing the current time
// as after skips occurrences missed while the bot was down. ok is false
// when the rule is past its UNTIL.
func NextOccurrence(rule string, anchor, after time.Time) (next time.Time, ok bool, err error) {
	r, err := ParseRecurrence(rule, anchor)
	if err != nil {
		return time.Time{}, false, err
	}
	if after.Before(anchor) {
		after = anchor
	}
	next = r.After(after, false)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next.UTC(), true, nil
}
