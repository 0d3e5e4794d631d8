package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestNextOccurrenceWeekly(t *testing.T) {
	t.Parallel()
	// Monday 2025-09-01 18:00 UTC.
	at := time.Date(2025, 9, 1, 18, 0, 0, 0, time.UTC)
	next, ok, err := NextOccurrence("RRULE:FREQ=WEEKLY", at, at)
	if err != nil || !ok {
		t.Fatalf("NextOccurrence: ok=%v err=%v", ok, err)
	}
	if want := at.AddDate(0, 0, 7); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextOccurrenceSkipsMissedDates(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 9, 1, 18, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{"before anchor", at.Add(-time.Hour), at.AddDate(0, 0, 7)},
		{"30 days late", at.AddDate(0, 0, 30), at.AddDate(0, 0, 35)},
		{"on an occurrence", at.AddDate(0, 0, 14), at.AddDate(0, 0, 21)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next, ok, err := NextOccurrence("FREQ=WEEKLY", at, tt.after)
			if err != nil || !ok {
				t.Fatalf("NextOccurrence: ok=%v err=%v", ok, err)
			}
			if !next.Equal(tt.want) {
				t.Fatalf("next = %v, want %v", next, tt.want)
			}
		})
	}
}

func TestNextOccurrenceUntil(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 9, 1, 18, 0, 0, 0, time.UTC)
	_, ok, err := NextOccurrence("FREQ=DAILY;UNTIL=20250901T235959Z", at, at)
	if err != nil {
		t.Fatalf("NextOccurrence: %v", err)
	}
	if ok {
		t.Fatal("expected exhausted rule")
	}
}

func TestParseRecurrenceRejects(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 9, 1, 18, 0, 0, 0, time.UTC)
	for _, rule := range []string{"", "FREQ=SOMETIMES", "FREQ=MINUTELY", "FREQ=DAILY;COUNT=3"} {
		if _, err := ParseRecurrence(rule, at); !errors.Is(err, ErrMalformedSchedule) {
			t.Fatalf("ParseRecurrence(%q) err = %v, want ErrMalformedSchedule", rule, err)
		}
	}
}
