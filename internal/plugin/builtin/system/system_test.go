package system

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	core "allybot/internal/plugin"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error                         { return nil }
func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}
func (a *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (a *fakeAdapter) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func (a *fakeAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1]
}

type fakeScheduler struct {
	snap core.Snapshot
}

func (s *fakeScheduler) Enabled() bool           { return s.snap.Enabled }
func (s *fakeScheduler) Snapshot() core.Snapshot { return s.snap }
func (s *fakeScheduler) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return name, nil
}
func (s *fakeScheduler) AddCronOpt(name, spec string, timeout time.Duration, opt core.TaskOptions, job func(ctx context.Context) error) (string, error) {
	return name, nil
}
func (s *fakeScheduler) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return name, nil
}
func (s *fakeScheduler) AddIntervalOpt(name string, every, timeout time.Duration, opt core.TaskOptions, job func(ctx context.Context) error) (string, error) {
	return name, nil
}
func (s *fakeScheduler) AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return name, nil
}
func (s *fakeScheduler) AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return name, nil
}
func (s *fakeScheduler) Remove(name string) bool { return false }

type fakePlugins struct {
	snap    core.PluginsSnapshot
	checked int
}

func (f *fakePlugins) Snapshot() core.PluginsSnapshot { return f.snap }
func (f *fakePlugins) CheckHealth(ctx context.Context, names []string) []core.PluginHealthResult {
	f.checked++
	return nil
}

type fakeReminders struct{ stats core.ReminderStats }

func (f fakeReminders) Snapshot() core.ReminderStats { return f.stats }

var t0 = time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)

func newPlugin(t *testing.T) *Plugin {
	t.Helper()
	p := New()
	p.now = func() time.Time { return t0 }
	if err := p.Init(context.Background(), core.PluginDeps{Logger: logx.Nop()}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return p
}

func request(ad *fakeAdapter, svc *core.Services, args ...string) *core.Request {
	return &core.Request{
		Chat:     kit.ChatTarget{ChatID: 42},
		FromID:   1,
		Args:     args,
		Adapter:  ad,
		Logger:   logx.Nop(),
		Services: svc,
	}
}

func TestFormatHelpers(t *testing.T) {
	durs := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-42 * time.Second, "42s"},
		{3*time.Minute + 7*time.Second, "3m7s"},
		{5*time.Hour + 12*time.Minute + 30*time.Second, "5h12m"},
		{52 * time.Hour, "2d4h"},
	}
	for _, tt := range durs {
		tt := tt
		if got := durRel(tt.in); got != tt.want {
			t.Fatalf("durRel(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}

	bytes := []struct {
		in   uint64
		want string
	}{
		{512, "512B"},
		{1536, "1.5KB"},
		{5 * 1024 * 1024, "5.0MB"},
		{3 * 1024 * 1024 * 1024, "3.0GB"},
	}
	for _, tt := range bytes {
		tt := tt
		if got := fmtBytes(tt.in); got != tt.want {
			t.Fatalf("fmtBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPingAndUptime(t *testing.T) {
	p := newPlugin(t)
	ad := &fakeAdapter{}
	ctx := context.Background()

	if err := p.cmdPing(ctx, request(ad, nil)); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if ad.last() != "pong" {
		t.Fatalf("ping reply = %q", ad.last())
	}

	p.now = func() time.Time { return t0.Add(90 * time.Minute) }
	if err := p.cmdUptime(ctx, request(ad, nil)); err != nil {
		t.Fatalf("uptime: %v", err)
	}
	if ad.last() != "uptime: 1h30m" {
		t.Fatalf("uptime reply = %q", ad.last())
	}
}

func TestPollerLines(t *testing.T) {
	lines := pollerLines(core.ReminderStats{
		Ticks:        10,
		LeadFired:    2,
		StartFired:   3,
		MarkLost:     1,
		Unconfirmed:  2,
		Interval:     30 * time.Second,
		LastTick:     t0.Add(-45 * time.Second),
		LastDuration: 120 * time.Millisecond,
		LastErr:      "database is locked",
	}, t0)
	out := strings.Join(lines, "\n")
	for _, want := range []string{
		"interval: 30s, last tick: 45s ago (120ms)",
		"ticks: 10, skipped: 0, aborted: 0",
		"fired: lead=2 start=3",
		"lost marks: 1",
		"buffs awaiting confirmation: 2",
		"last error: database is locked",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("poller lines missing %q:\n%s", want, out)
		}
	}

	if idle := strings.Join(pollerLines(core.ReminderStats{}, t0), "\n"); !strings.Contains(idle, "last tick: never") {
		t.Fatalf("idle poller = %q", idle)
	}
}

func TestSchedListAndStatus(t *testing.T) {
	p := newPlugin(t)
	ad := &fakeAdapter{}
	ctx := context.Background()

	if err := p.cmdSchedList(ctx, request(ad, &core.Services{Scheduler: &fakeScheduler{}})); err != nil {
		t.Fatalf("sched list: %v", err)
	}
	if ad.last() != "scheduler is disabled" {
		t.Fatalf("reply = %q", ad.last())
	}

	sch := &fakeScheduler{snap: core.Snapshot{
		Enabled:        true,
		Started:        true,
		Timezone:       "UTC",
		DefaultTimeout: time.Minute,
		Schedules: []core.ScheduleInfo{
			{Name: "reminder_poll", Spec: "@every 30s", Next: t0.Add(30 * time.Second)},
			{Name: "activity:prune", Spec: "@daily", Timeout: 2 * time.Minute, Next: t0.Add(12 * time.Hour), Running: true},
		},
		History: []core.HistoryItem{
			{Name: "reminder_poll", Started: t0.Add(-time.Minute), Duration: 80 * time.Millisecond, Attempts: 1},
		},
	}}
	svc := &core.Services{Scheduler: sch}

	if err := p.cmdSchedList(ctx, request(ad, svc)); err != nil {
		t.Fatalf("sched list: %v", err)
	}
	list := ad.last()
	if strings.Index(list, "activity:prune") > strings.Index(list, "reminder_poll") {
		t.Fatalf("jobs should be sorted by name:\n%s", list)
	}
	for _, want := range []string{"timeout=2m0s (running)", "timeout=default", "default timeout: 1m0s"} {
		if !strings.Contains(list, want) {
			t.Fatalf("list missing %q:\n%s", want, list)
		}
	}

	if err := p.cmdSchedStatus(ctx, request(ad, svc)); err != nil {
		t.Fatalf("sched status: %v", err)
	}
	status := ad.last()
	for _, want := range []string{"enabled: true, started: true", "1) reminder_poll", "2) activity:prune", "last run: reminder_poll (ok) 1m0s ago"} {
		if !strings.Contains(status, want) {
			t.Fatalf("status missing %q:\n%s", want, status)
		}
	}
}

func TestHealthReport(t *testing.T) {
	p := newPlugin(t)
	ad := &fakeAdapter{}
	plugins := &fakePlugins{snap: core.PluginsSnapshot{Plugins: []core.PluginStatus{
		{Name: "activity", Enabled: true, Running: true},
		{Name: "bridge", Enabled: true, Quarantined: true, QuarantineErr: "config apply: bad tag", QuarantineSince: t0.Add(-2 * time.Minute)},
		{Name: "schedule", Enabled: true, Running: true, HasHealthChecker: true, LastHealth: core.PluginHealthResult{At: t0, Status: "ok"}},
	}}}
	svc := &core.Services{
		Plugins:   plugins,
		Reminders: fakeReminders{stats: core.ReminderStats{Ticks: 3, Interval: 30 * time.Second}},
		Scheduler: &fakeScheduler{snap: core.Snapshot{Enabled: true, Timezone: "UTC", Schedules: []core.ScheduleInfo{
			{Name: "activity:prune"}, {Name: "activity:weekly_report"}, {Name: "reminder_poll"},
		}}},
	}

	if err := p.cmdHealth(context.Background(), request(ad, svc, "check")); err != nil {
		t.Fatalf("health: %v", err)
	}
	if plugins.checked != 1 {
		t.Fatalf("check arg should refresh plugin health, got %d calls", plugins.checked)
	}
	out := ad.last()
	for _, want := range []string{
		"jobs: 3, running: 0",
		"ticks: 3",
		"- activity en=true run=true jobs=2 health=na",
		"- bridge en=true run=false jobs=0 health=na | quarantined 2m0s ago: config apply: bad tag",
		"- schedule en=true run=true jobs=0 health=ok",
		"- <core> jobs=1",
		"refreshed: yes",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("health missing %q:\n%s", want, out)
		}
	}
}
