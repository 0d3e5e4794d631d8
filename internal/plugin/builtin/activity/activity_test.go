package activity

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"allybot/internal/i18n"
	core "allybot/internal/plugin"
	"allybot/internal/schedule"
	"allybot/internal/storage"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

const (
	group   int64 = -100500
	ownerID int64 = 1
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) SendToChannel(ctx context.Context, chatID int64, text string) error {
	return f.Notify(ctx, kit.Notification{Target: kit.ChatTarget{ChatID: chatID}, Text: text})
}

type fakeScheduler struct {
	mu    sync.Mutex
	specs map[string]string
}

func (f *fakeScheduler) Enabled() bool           { return true }
func (f *fakeScheduler) Snapshot() core.Snapshot { return core.Snapshot{} }

func (f *fakeScheduler) add(name, spec string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.specs == nil {
		f.specs = map[string]string{}
	}
	f.specs[name] = spec
	return name, nil
}

func (f *fakeScheduler) AddCron(name, spec string, _ time.Duration, _ func(context.Context) error) (string, error) {
	return f.add(name, spec)
}

func (f *fakeScheduler) AddCronOpt(name, spec string, _ time.Duration, _ core.TaskOptions, _ func(context.Context) error) (string, error) {
	return f.add(name, spec)
}

func (f *fakeScheduler) AddInterval(name string, every, _ time.Duration, _ func(context.Context) error) (string, error) {
	return f.add(name, every.String())
}

func (f *fakeScheduler) AddIntervalOpt(name string, every, _ time.Duration, _ core.TaskOptions, _ func(context.Context) error) (string, error) {
	return f.add(name, every.String())
}

func (f *fakeScheduler) AddDaily(name, at string, _ time.Duration, _ func(context.Context) error) (string, error) {
	return f.add(name, at)
}

func (f *fakeScheduler) AddWeekly(name string, _ time.Weekday, at string, _ time.Duration, _ func(context.Context) error) (string, error) {
	return f.add(name, at)
}

func (f *fakeScheduler) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.specs[name]
	delete(f.specs, name)
	return ok
}

func (f *fakeScheduler) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.specs))
	for k := range f.specs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type replyAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *replyAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *replyAdapter) Stop(ctx context.Context) error                         { return nil }
func (a *replyAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}
func (a *replyAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (a *replyAdapter) AnswerCallback(ctx context.Context, id, text string) error { return nil }

type fixture struct {
	p     *Plugin
	st    *storage.Store
	notes *fakeNotifier
	sched *fakeScheduler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "ally.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	notes := &fakeNotifier{}
	sc := &fakeScheduler{}
	p := New(i18n.MustNew("en"))
	p.now = func() time.Time { return time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC) }
	deps := core.PluginDeps{
		Logger:   logx.Nop(),
		Store:    st,
		Services: &core.Services{Notifier: notes, Scheduler: sc},
	}
	if err := p.Init(ctx, deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return fixture{p: p, st: st, notes: notes, sched: sc}
}

func msg(from int64, user, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: group, FromID: from, FromUsername: user, Text: text, IsGroup: true,
	}}
}

func TestCommandName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/task@AllyBot add x", "task", true},
		{"/Stats", "stats", true},
		{"hello /stats", "", false},
		{"/@bot", "", false},
	}
	for _, tt := range tests {
		tt := tt
		got, ok := commandName(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("commandName(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestObserveCountsAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, up := range []kit.Update{
		msg(7, "ann", "hi all"),
		msg(7, "ann", "anyone online?"),
		msg(8, "bob", "here"),
		msg(8, "bob", "/stats@AllyBot"),
		msg(8, "bob", "   "),
		{Kind: kit.UpdateMember, Message: &kit.Message{ChatID: group, FromID: 9, IsGroup: true, Joined: true}},
		{Kind: kit.UpdateMember, Message: &kit.Message{ChatID: group, FromID: 10, IsGroup: true, Left: true}},
		// private chats are not counted
		{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 7, FromID: 7, Text: "dm"}},
	} {
		if err := f.p.observe(ctx, up); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}

	users, err := f.st.TopUsers(ctx, group, since(f.p.now(), 7), 5)
	if err != nil {
		t.Fatalf("TopUsers: %v", err)
	}
	if len(users) != 2 || users[0].Name != "ann" || users[0].Count != 2 || users[1].Count != 1 {
		t.Fatalf("users = %+v", users)
	}

	ad := &replyAdapter{}
	req := &core.Request{Chat: kit.ChatTarget{ChatID: group}, Adapter: ad, Logger: logx.Nop()}
	if err := f.p.cmdStats(ctx, req); err != nil {
		t.Fatalf("cmdStats: %v", err)
	}
	out := ad.sent[len(ad.sent)-1]
	for _, want := range []string{"last 7 days", "1. @ann · 2", "1. /stats · 1", "Joined: 1, left: 1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stats missing %q:\n%s", want, out)
		}
	}

	req.Args = []string{"0"}
	if err := f.p.cmdStats(ctx, req); err != nil {
		t.Fatalf("cmdStats: %v", err)
	}
	if !strings.Contains(ad.sent[len(ad.sent)-1], "usage: /stats") {
		t.Fatalf("reply = %q", ad.sent[len(ad.sent)-1])
	}
}

func TestWeeklyReportFallsBackToScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.p.observe(ctx, msg(7, "ann", "gg")); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := f.p.runReport(ctx); err != nil {
		t.Fatalf("runReport: %v", err)
	}
	if len(f.notes.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notes.sent))
	}
	n := f.notes.sent[0]
	if n.Target.ChatID != group || !strings.Contains(n.Text, "@ann") {
		t.Fatalf("notification = %+v", n)
	}
}

func TestPruneDropsOldCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.p.now().AddDate(0, 0, -200)
	if err := f.st.IncMessage(ctx, group, 7, "ann", old); err != nil {
		t.Fatalf("IncMessage: %v", err)
	}
	if err := f.st.IncMessage(ctx, group, 7, "ann", f.p.now()); err != nil {
		t.Fatalf("IncMessage: %v", err)
	}
	n, err := f.p.prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
}

func TestConfigReconcilesJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.p.OnConfigChange(ctx, nil); err != nil {
		t.Fatalf("OnConfigChange: %v", err)
	}
	if got := strings.Join(f.sched.names(), ","); got != "activity:prune,activity:weekly_report" {
		t.Fatalf("jobs = %s", got)
	}

	raw := json.RawMessage(`{"report": {"enabled": false}, "prune": {"enabled": true, "task_name": "gc", "schedule": "6h"}}`)
	if err := f.p.OnConfigChange(ctx, raw); err != nil {
		t.Fatalf("OnConfigChange: %v", err)
	}
	if got := strings.Join(f.sched.names(), ","); got != "activity:gc" {
		t.Fatalf("jobs = %s", got)
	}

	for _, bad := range []string{
		`{"retention_days": -1}`,
		`{"report_days": 400}`,
		`{"report": {"enabled": true, "schedule": "whenever"}}`,
		`{"unknown": 1}`,
	} {
		if err := f.p.ValidateConfig(ctx, json.RawMessage(bad)); err == nil {
			t.Fatalf("ValidateConfig(%s) = nil", bad)
		}
	}
}

func TestBuffReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.p.now()
	create := func(kind schedule.Kind, title string, at time.Time) schedule.Item {
		t.Helper()
		it, err := f.st.CreateItem(ctx, schedule.NewItem{ScopeID: group, Kind: kind, ScheduledAt: at, CreatorID: 7, Title: title})
		if err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
		return it
	}
	start := func(it schedule.Item) {
		t.Helper()
		if _, err := f.st.TryMarkNotified(ctx, it.ID, schedule.TriggerStart); err != nil {
			t.Fatalf("TryMarkNotified: %v", err)
		}
	}

	ev := create(schedule.KindEvent, "KvK day", now.Add(-48*time.Hour))
	inside := create(schedule.KindBuff, "Training Buff", now.Add(-48*time.Hour+30*time.Minute))
	if _, err := f.st.SetStatus(ctx, inside.ID, 8, "bob", "yes"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	start(inside)
	start(create(schedule.KindBuff, "Research Buff", now.Add(-24*time.Hour)))
	create(schedule.KindBuff, "Build Buff", now.Add(-time.Hour))

	ad := &replyAdapter{}
	req := func(from int64, user string, args ...string) *core.Request {
		return &core.Request{
			Chat:         kit.ChatTarget{ChatID: group},
			FromID:       from,
			FromUsername: user,
			Args:         args,
			Adapter:      ad,
			Logger:       logx.Nop(),
		}
	}
	last := func() string { return ad.sent[len(ad.sent)-1] }
	evID := strconv.FormatInt(ev.ID, 10)

	if err := f.p.cmdReportBuffs(ctx, req(7, "ann")); err != nil {
		t.Fatalf("cmdReportBuffs: %v", err)
	}
	for _, want := range []string{"last 30 days", "Started: 2, inside events: 1, outside: 1", "#" + evID + " KvK day (kvk) · 1", "1. user:7 · 1"} {
		if !strings.Contains(last(), want) {
			t.Fatalf("report missing %q:\n%s", want, last())
		}
	}

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"x", "mge"}, "usage: /event_meta"},
		{[]string{evID, "raid"}, "usage: /event_meta"},
		{[]string{strconv.FormatInt(inside.ID, 10), "mge"}, "Not found."},
		{[]string{evID, "mge", "5"}, "usage: /event_meta"},
		{[]string{evID, "mge", "60"}, "Event #" + evID + ": mge, 60 min."},
	}
	for _, tt := range tests {
		tt := tt
		if err := f.p.cmdEventMeta(ctx, req(ownerID, "boss", tt.args...)); err != nil {
			t.Fatalf("cmdEventMeta(%v): %v", tt.args, err)
		}
		if !strings.Contains(last(), tt.want) {
			t.Fatalf("cmdEventMeta(%v) = %q, want %q", tt.args, last(), tt.want)
		}
	}
	if err := f.p.cmdReportBuffs(ctx, req(7, "ann", "7")); err != nil {
		t.Fatalf("cmdReportBuffs: %v", err)
	}
	if !strings.Contains(last(), "KvK day (mge) · 1") {
		t.Fatalf("report = %s", last())
	}

	users := []struct {
		from int64
		user string
		args []string
		want string
	}{
		{8, "bob", nil, "@bob: 1 inside events, 0 outside, last 30 days"},
		{8, "bob", []string{"7", "3"}, "user:7: 1 inside events, 1 outside, last 3 days"},
		{8, "bob", []string{"me"}, "usage: /report_user_buffs"},
	}
	for _, tt := range users {
		tt := tt
		if err := f.p.cmdReportUserBuffs(ctx, req(tt.from, tt.user, tt.args...)); err != nil {
			t.Fatalf("cmdReportUserBuffs: %v", err)
		}
		if last() != tt.want && !strings.Contains(last(), tt.want) {
			t.Fatalf("cmdReportUserBuffs(%v) = %q, want %q", tt.args, last(), tt.want)
		}
	}
}
