package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"allybot/internal/eventbus"
	logx "allybot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		cron  string
		bad   bool
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "02:30", kind: SpecInterval, every: 150 * time.Minute},
		{in: "every: 00:05", kind: SpecInterval, every: 5 * time.Minute},
		{in: "cron: 0 9 * * 1", kind: SpecCron, cron: "0 9 * * 1"},
		{in: "00:00", bad: true},
		{in: "01:75", bad: true},
		{in: "soon", bad: true},
		{in: "", bad: true},
	}
	for _, tt := range tests {
		tt := tt
		got, err := ParseSchedule(tt.in)
		if tt.bad {
			if err == nil {
				t.Fatalf("%q: expected error, got %+v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if got.Kind != tt.kind || got.Every != tt.every || got.Cron != tt.cron {
			t.Fatalf("%q: got %+v", tt.in, got)
		}
	}
}

func TestAddValidatesAndUpserts(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	if _, err := s.AddCron("bad", "not a cron", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected invalid spec error")
	}
	if _, err := s.AddInterval("", time.Second, 0, func(context.Context) error { return nil }); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if _, err := s.AddDaily("daily", "25:00", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected invalid HH:MM error")
	}
	for i := 0; i < 3; i++ {
		if _, err := s.AddInterval("tick", time.Minute, 0, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("AddInterval: %v", err)
		}
	}
	if n := len(s.Snapshot().Schedules); n != 1 {
		t.Fatalf("schedules = %d, want 1 after upsert", n)
	}
	if !s.Remove("tick") || s.Remove("tick") {
		t.Fatal("Remove should report true once")
	}
}

func TestRunRetriesAndRecordsHistory(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{Enabled: true, RetryMax: 2}, logx.Nop(), bus)
	var calls int32
	d := &entry{name: "flaky", opt: TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond},
		fn: func(context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("boom")
			}
			return nil
		}}
	s.run(d)

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	h := s.Snapshot().History
	if len(h) != 1 || h[0].Attempts != 3 || h[0].Error != "" {
		t.Fatalf("history = %+v", h)
	}
	e := <-events
	if e.Type != eventbus.TypeTaskFinished || e.Data.(TaskEvent).Attempts != 3 {
		t.Fatalf("event = %+v", e)
	}
}

func TestRunNoRetryAndPanic(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, RetryMax: 5}, logx.Nop(), nil)
	var calls int32
	s.run(&entry{name: "perm", fn: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return NoRetry(errors.New("bad input"))
	}})
	if calls != 1 {
		t.Fatalf("NoRetry job ran %d times", calls)
	}

	s.run(&entry{name: "panics", opt: TaskOptions{RetryMax: -1}, fn: func(context.Context) error {
		panic("oops")
	}})
	h := s.Snapshot().History
	if len(h) != 2 || h[0].Error != "bad input" || h[1].Error != "panic: oops" {
		t.Fatalf("history = %+v", h)
	}
}

func TestRunSkipsOverlap(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	release := make(chan struct{})
	started := make(chan struct{})
	d := &entry{name: "slow", fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); s.run(d) }()
	<-started
	s.run(d)
	close(release)
	wg.Wait()

	h := s.Snapshot().History
	if len(h) != 2 || !h[0].Skipped || h[1].Skipped {
		t.Fatalf("history = %+v", h)
	}
}

func TestRunAppliesTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, DefaultTimeout: 20 * time.Millisecond}, logx.Nop(), nil)
	s.run(&entry{name: "hang", opt: TaskOptions{RetryMax: -1}, fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	h := s.Snapshot().History
	if len(h) != 1 || h[0].Error != context.DeadlineExceeded.Error() {
		t.Fatalf("history = %+v", h)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, HistorySize: 3}, logx.Nop(), nil)
	d := &entry{name: "n", fn: func(context.Context) error { return nil }}
	for i := 0; i < 10; i++ {
		s.run(d)
	}
	if n := len(s.Snapshot().History); n != 3 {
		t.Fatalf("history len = %d", n)
	}
}

func TestStopWaitsForRunningJob(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{}, 1)
	var finished atomic.Bool
	if _, err := s.AddInterval("tick", time.Second, 0, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(200 * time.Millisecond)
		finished.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	if next := s.Snapshot().Schedules[0].Next; next.IsZero() {
		t.Fatal("next run should be known once started")
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if !finished.Load() {
		t.Fatal("Stop returned before the running job finished")
	}
	if s.Snapshot().Started {
		t.Fatal("scheduler should report stopped")
	}
}

func TestStartDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop(), nil)
	s.Start(context.Background())
	if s.Snapshot().Started {
		t.Fatal("disabled scheduler must not start")
	}
	s.Stop(context.Background())
}

func TestRetryDelayCapped(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}
	tests := []struct {
		failed   int
		min, max time.Duration
	}{
		{1, 80 * time.Millisecond, 120 * time.Millisecond},
		{3, 320 * time.Millisecond, 480 * time.Millisecond},
		{10, 800 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		for range 20 {
			if d := retryDelay(opt, tt.failed); d < tt.min || d > tt.max {
				t.Fatalf("retryDelay(%d) = %s, want [%s, %s]", tt.failed, d, tt.min, tt.max)
			}
		}
	}
}

func TestClockTime(t *testing.T) {
	t.Parallel()
	if h, m, err := clockTime(" 9:05 "); err != nil || h != 9 || m != 5 {
		t.Fatalf("clockTime = %d:%d, %v", h, m, err)
	}
	for _, bad := range []string{"24:00", "12:60", "noon", ""} {
		if _, _, err := clockTime(bad); err == nil {
			t.Fatalf("clockTime(%q) accepted", bad)
		}
	}
}

func TestDefaultTaskOptions(t *testing.T) {
	t.Parallel()
	opt := DefaultTaskOptions(Config{RetryMax: 2})
	if opt.RetryMax != 2 || opt.RetryBase != defaultRetryBase || opt.Overlap != OverlapSkipIfRunning {
		t.Fatalf("defaults = %+v", opt)
	}
	if got := (TaskOptions{RetryMax: -1}).resolve(Config{RetryMax: 4}); got.RetryMax != 0 {
		t.Fatalf("negative RetryMax resolved to %d", got.RetryMax)
	}
	if !IsNoRetry(fmt.Errorf("wrap: %w", NoRetry(errors.New("x")))) {
		t.Fatal("IsNoRetry lost through wrapping")
	}
}
