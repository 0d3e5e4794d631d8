// Package system holds the operator commands: liveness, uptime, runtime
// info, scheduler listings and the reminder poller status.
package system

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	core "allybot/internal/plugin"
	pluginkit "allybot/internal/plugin/kit"
	kit "allybot/internal/transport"
	"allybot/pkg/tgui"
)

const storagePingTimeout = 2 * time.Second

type Plugin struct {
	pluginkit.Base
	startedAt time.Time
	now       func() time.Time
}

func New() *Plugin             { return &Plugin{now: time.Now} }
func (p *Plugin) Name() string { return "system" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitKit(deps, p.Name())
	if p.startedAt.IsZero() {
		p.startedAt = p.now()
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartKit(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopKit(ctx) }

func (p *Plugin) Commands() []core.Command {
	type row struct {
		route, desc string
		owner       bool
		h           core.HandlerFunc
		aliases     []string
		args        string
	}
	rows := []row{
		{"ping", "liveness check", false, p.cmdPing, nil, ""},
		{"uptime", "time since start", false, p.cmdUptime, []string{"up"}, ""},
		{"health", "plugins, scheduler, poller and supervisors", true, p.cmdHealth, []string{"status"}, "[check|detail]"},
		{"sysinfo", "go runtime and storage info", true, p.cmdSysinfo, nil, ""},
		{"poller", "reminder poller counters", true, p.cmdPoller, []string{"poller_status"}, ""},
		{"sched", "list scheduled jobs", true, p.cmdSchedList, []string{"sched_list"}, ""},
		{"sched list", "list scheduled jobs", true, p.cmdSchedList, nil, ""},
		{"sched status", "scheduler summary and last run", true, p.cmdSchedStatus, []string{"sched_status"}, ""},
	}
	out := make([]core.Command, 0, len(rows))
	for _, r := range rows {
		c := core.Command{Route: r.route, Aliases: r.aliases, Description: r.desc, Usage: strings.TrimSpace("/" + r.route + " " + r.args), Handle: r.h}
		if r.owner {
			c.Access = core.AccessOwnerOnly
		}
		out = append(out, c)
	}
	return out
}

// say sends plain lines without link previews.
func say(ctx context.Context, req *core.Request, lines ...string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, strings.Join(lines, "\n"), &kit.SendOptions{DisablePreview: true})
	return err
}

func (p *Plugin) cmdPing(ctx context.Context, req *core.Request) error {
	return say(ctx, req, "pong")
}

func (p *Plugin) cmdUptime(ctx context.Context, req *core.Request) error {
	return say(ctx, req, "uptime: "+durRel(p.now().Sub(p.startedAt)))
}

func (p *Plugin) storageState(ctx context.Context) string {
	st, err := p.Store()
	if err != nil {
		return "disabled"
	}
	ctx, cancel := context.WithTimeout(ctx, storagePingTimeout)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return "error: " + tgui.TruncRunes(err.Error(), 80)
	}
	return "ok"
}

func (p *Plugin) cmdSysinfo(ctx context.Context, req *core.Request) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	module := "-"
	if bi, ok := debug.ReadBuildInfo(); ok {
		module = bi.Main.Path + " " + bi.Main.Version
	}

	_, err := tgui.New().
		Title("🧠", "sysinfo").
		KV("go", runtime.Version()).
		KV("module", module).
		KV("goroutines", strconv.Itoa(runtime.NumGoroutine())).
		KV("mem_alloc", fmtBytes(mem.Alloc)).
		KV("mem_sys", fmtBytes(mem.Sys)).
		KV("storage", p.storageState(ctx)).
		Build().
		Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) cmdPoller(ctx context.Context, req *core.Request) error {
	if req.Services == nil || req.Services.Reminders == nil {
		return say(ctx, req, "reminder poller not running")
	}
	return say(ctx, req, pollerLines(req.Services.Reminders.Snapshot(), p.now())...)
}

func pollerLines(s core.ReminderStats, now time.Time) []string {
	last := "never"
	if !s.LastTick.IsZero() {
		last = fmt.Sprintf("%s ago (%s)", durRel(now.Sub(s.LastTick)), s.LastDuration)
	}
	lines := []string{
		"⏰ reminder poller",
		fmt.Sprintf("- interval: %s, last tick: %s", s.Interval, last),
		fmt.Sprintf("- ticks: %d, skipped: %d, aborted: %d", s.Ticks, s.Skipped, s.Aborted),
		fmt.Sprintf("- fired: lead=%d start=%d, recurred: %d, deleted: %d", s.LeadFired, s.StartFired, s.Recurred, s.Deleted),
	}
	if s.MarkLost > 0 {
		lines = append(lines, fmt.Sprintf("- lost marks: %d", s.MarkLost))
	}
	if s.Unconfirmed > 0 {
		lines = append(lines, fmt.Sprintf("- buffs awaiting confirmation: %d", s.Unconfirmed))
	}
	if s.LastErr != "" {
		lines = append(lines, "- last error: "+tgui.TruncRunes(s.LastErr, 120))
	}
	return lines
}
