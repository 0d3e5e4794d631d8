package system

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	core "allybot/internal/plugin"
	rtsup "allybot/internal/runtime/supervisor"
	"allybot/pkg/tgui"
)

// healthOpts are the /health arguments: "check" refreshes plugin health
// first, "detail" lists goroutines per supervisor.
type healthOpts struct {
	check  bool
	detail bool
}

func parseHealthOpts(req *core.Request) healthOpts {
	var o healthOpts
	for _, a := range req.Args {
		switch strings.ToLower(a) {
		case "check", "refresh":
			o.check = true
		case "detail", "sup", "supervisor":
			o.detail = true
		}
	}
	if req.BoolFlags["check"] {
		o.check = true
	}
	if req.BoolFlags["detail"] {
		o.detail = true
	}
	return o
}

func (p *Plugin) cmdHealth(ctx context.Context, req *core.Request) error {
	svc := req.Services
	if svc == nil || svc.Plugins == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "plugins service is unavailable", nil)
		return err
	}
	opts := parseHealthOpts(req)
	if opts.check {
		cctx, cancel := context.WithTimeout(ctx, 12*time.Second)
		_ = svc.Plugins.CheckHealth(cctx, nil)
		cancel()
	}

	var b strings.Builder
	p.writeRuntime(&b)
	writeScheduler(&b, svc.Scheduler)
	if svc.Reminders != nil {
		for _, l := range pollerLines(svc.Reminders.Snapshot(), p.now()) {
			b.WriteString(l + "\n")
		}
		b.WriteString("\n")
	}
	writePlugins(&b, svc.Plugins.Snapshot(), schedulesByPlugin(svc.Scheduler), p.now())
	writeSupervisors(&b, p.supervisors(svc), opts.detail, p.now())
	if opts.check {
		b.WriteString("\nrefreshed: yes\n")
	}

	// Plain text: snapshot strings may contain characters HTML would reject.
	msg := tgui.New().
		ParseMode("").
		DisablePreview(true).
		Title("🩺", "health").
		Blank().
		RawLine(strings.TrimRight(b.String(), "\n")).
		Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) writeRuntime(b *strings.Builder) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Fprintf(b, "uptime: %s\n", durRel(p.now().Sub(p.startedAt)))
	fmt.Fprintf(b, "goroutines: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(b, "mem: alloc=%s heap_inuse=%s sys=%s gc=%d\n\n", fmtBytes(m.Alloc), fmtBytes(m.HeapInuse), fmtBytes(m.Sys), m.NumGC)
}

func writeScheduler(b *strings.Builder, s core.SchedulerPort) {
	b.WriteString("⏱ scheduler\n")
	if s == nil {
		b.WriteString("  not available\n\n")
		return
	}
	snap := s.Snapshot()
	state := "disabled"
	if s.Enabled() {
		state = "enabled"
	}
	running := 0
	for _, t := range snap.Schedules {
		if t.Running {
			running++
		}
	}
	fmt.Fprintf(b, "  state: %s, tz: %s\n", state, snap.Timezone)
	fmt.Fprintf(b, "  jobs: %d, running: %d\n", len(snap.Schedules), running)
	failed := 0
	for _, h := range snap.History {
		if h.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(b, "  failed runs in history: %d/%d\n", failed, len(snap.History))
	}
	b.WriteString("\n")
}

// schedulesByPlugin counts jobs per "<plugin>:" prefix; unprefixed jobs
// (the reminder poller) are counted under "".
func schedulesByPlugin(s core.SchedulerPort) map[string]int {
	out := map[string]int{}
	if s == nil {
		return out
	}
	for _, t := range s.Snapshot().Schedules {
		name, _, ok := strings.Cut(t.Name, ":")
		if !ok {
			name = ""
		}
		out[name]++
	}
	return out
}

func writePlugins(b *strings.Builder, snap core.PluginsSnapshot, jobs map[string]int, now time.Time) {
	b.WriteString("🔌 plugins\n")
	if len(snap.Plugins) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, st := range snap.Plugins {
		line := fmt.Sprintf("  - %s en=%v run=%v jobs=%d health=%s", st.Name, st.Enabled, st.Running, jobs[st.Name], st.Health())
		if st.Quarantined {
			reason := strings.TrimSpace(st.QuarantineErr)
			if reason == "" {
				reason = "(no reason)"
			}
			if !st.QuarantineSince.IsZero() {
				line += fmt.Sprintf(" | quarantined %s ago: %s", durRel(now.Sub(st.QuarantineSince)), reason)
			} else {
				line += " | quarantined: " + reason
			}
		}
		b.WriteString(line + "\n")
	}
	if n := jobs[""]; n > 0 {
		fmt.Fprintf(b, "  - <core> jobs=%d\n", n)
	}
	b.WriteString("\n")
}

type namedSupervisor struct {
	name string
	sup  *rtsup.Supervisor
}

func (p *Plugin) supervisors(svc *core.Services) []namedSupervisor {
	var out []namedSupervisor
	if svc.AppSupervisor != nil {
		out = append(out, namedSupervisor{"app", svc.AppSupervisor})
	}
	if sup := p.Supervisor(); sup != nil {
		out = append(out, namedSupervisor{"plugin:" + p.Name(), sup})
	}
	if svc.RuntimeSupervisors != nil {
		svc.RuntimeSupervisors.Each(func(name string, sup *rtsup.Supervisor) {
			out = append(out, namedSupervisor{name, sup})
		})
	}
	return out
}

func writeSupervisors(b *strings.Builder, sups []namedSupervisor, detail bool, now time.Time) {
	b.WriteString("🧵 supervisors\n")
	if len(sups) == 0 {
		b.WriteString("  (none)\n")
		return
	}
	for _, ns := range sups {
		snap := ns.sup.Snapshot()
		line := fmt.Sprintf("  %s: active=%d started=%d", ns.name, snap.Active, snap.Started)
		if snap.FirstError != "" {
			line += " first_err=" + tgui.TruncRunes(snap.FirstError, 80)
		}
		b.WriteString(line + "\n")
		if detail {
			writeGoroutines(b, snap, 12, now)
		}
	}
}

func writeGoroutines(b *strings.Builder, snap rtsup.Snapshot, limit int, now time.Time) {
	n := 0
	for _, g := range snap.Goroutines {
		if strings.HasSuffix(g.Name, ".restart") || (g.Active == 0 && g.Started == 0) {
			continue
		}
		line := fmt.Sprintf("    - %s active=%d started=%d restarts=%d panics=%d", g.Name, g.Active, g.Started, g.Restarts, g.Panics)
		if g.LastErr != "" {
			line += " last_err=" + tgui.TruncRunes(g.LastErr, 96)
		}
		if !g.LastStopAt.IsZero() {
			line += fmt.Sprintf(" stopped %s ago", durRel(now.Sub(g.LastStopAt)))
		}
		b.WriteString(line + "\n")
		if n++; n >= limit {
			break
		}
	}
	if n == 0 {
		b.WriteString("    (no data)\n")
	}
}
