package logx

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"tick aborted","item":7,"comp":"reminder"}` + "\n")
	got := formatChatLine(line)
	want := "[WARN] tick aborted\n- comp=reminder\n- item=7"
	if got != want {
		t.Fatalf("formatChatLine = %q, want %q", got, want)
	}
}

func TestFormatChatLineRaw(t *testing.T) {
	t.Parallel()
	if got := formatChatLine([]byte("  not json  ")); got != "not json" {
		t.Fatalf("raw line = %q", got)
	}
	long := strings.Repeat("a", chatMaxLen+50)
	if got := formatChatLine([]byte(long)); len(got) != chatMaxLen || !strings.HasSuffix(got, "...") {
		t.Fatalf("long line not truncated: len=%d", len(got))
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestReqIDRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := WithReqID(context.Background(), "abc")
	if ReqID(ctx) != "abc" {
		t.Fatalf("ReqID = %q", ReqID(ctx))
	}
	if ReqID(context.Background()) != "" {
		t.Fatal("expected empty id")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens", String("k", "v"))
	l.With(Int("n", 1)).Ctx(context.Background()).Error("still nothing")
}
