package schedule

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParseWhen(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	berlin := time.FixedZone("CEST", 2*3600)

	tests := []struct {
		name string
		raw  string
		loc  *time.Location
		want time.Time
	}{
		{name: "absolute utc", raw: "2025-09-01 18:30", want: time.Date(2025, 9, 1, 18, 30, 0, 0, time.UTC)},
		{name: "absolute zoned", raw: "2025-09-01 18:30", loc: berlin, want: time.Date(2025, 9, 1, 16, 30, 0, 0, time.UTC)},
		{name: "rfc3339", raw: "2025-09-02T08:00:00+02:00", want: time.Date(2025, 9, 2, 6, 0, 0, 0, time.UTC)},
		{name: "plus", raw: "+90m", want: now.Add(90 * time.Minute)},
		{name: "in", raw: "in 2h", want: now.Add(2 * time.Hour)},
		{name: "bare duration", raw: "45m", want: now.Add(45 * time.Minute)},
		{name: "within tolerance", raw: "2025-09-01 11:59:30", want: time.Date(2025, 9, 1, 11, 59, 30, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWhen(tt.raw, now, tt.loc)
			if err != nil {
				t.Fatalf("ParseWhen(%q): %v", tt.raw, err)
			}
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Fatalf("ParseWhen(%q) = %v, want %v UTC", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseWhenRejects(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	for _, raw := range []string{"", "tomorrow", "2025-08-31 12:00", "-5m", "2025-13-01 10:00"} {
		if _, err := ParseWhen(raw, now, nil); !errors.Is(err, ErrMalformedSchedule) {
			t.Fatalf("ParseWhen(%q) err = %v, want ErrMalformedSchedule", raw, err)
		}
	}
}

func TestSplitWhen(t *testing.T) {
	t.Parallel()
	tests := []struct {
		args     []string
		wantWhen string
		wantRest []string
	}{
		{[]string{"2025-09-01", "18:30", "Boss", "fight"}, "2025-09-01 18:30", []string{"Boss", "fight"}},
		{[]string{"in", "2h", "raid"}, "in 2h", []string{"raid"}},
		{[]string{"+30m", "raid"}, "+30m", []string{"raid"}},
		{nil, "", nil},
	}
	for _, tt := range tests {
		when, rest := SplitWhen(tt.args)
		if when != tt.wantWhen {
			t.Fatalf("SplitWhen(%v) when = %q, want %q", tt.args, when, tt.wantWhen)
		}
		if len(rest) != 0 || len(tt.wantRest) != 0 {
			if !reflect.DeepEqual(rest, tt.wantRest) {
				t.Fatalf("SplitWhen(%v) rest = %v, want %v", tt.args, rest, tt.wantRest)
			}
		}
	}
}
