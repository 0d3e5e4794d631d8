package system

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	core "allybot/internal/plugin"
	"allybot/pkg/tgui"
)

const nextShown = 5

// scheduler prefers the request's services and falls back to the ones the
// plugin was initialized with.
func (p *Plugin) scheduler(req *core.Request) core.SchedulerPort {
	for _, svc := range []*core.Services{req.Services, p.Deps.Services} {
		if svc != nil && svc.Scheduler != nil {
			return svc.Scheduler
		}
	}
	return nil
}

func (p *Plugin) cmdSchedList(ctx context.Context, req *core.Request) error {
	s := p.scheduler(req)
	if s == nil || !s.Enabled() {
		return say(ctx, req, "scheduler is disabled")
	}
	snap := s.Snapshot()
	if len(snap.Schedules) == 0 {
		return say(ctx, req, "no scheduled jobs")
	}
	jobs := slices.SortedFunc(slices.Values(snap.Schedules), func(a, b core.ScheduleInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})

	now := p.now()
	lines := []string{"⏱ scheduled jobs (" + snap.Timezone + "):"}
	if snap.DefaultTimeout > 0 {
		lines = append(lines, "- default timeout: "+snap.DefaultTimeout.String())
	}
	if snap.RetryMax > 0 {
		lines = append(lines, fmt.Sprintf("- retry: max=%d base=%s max_delay=%s", snap.RetryMax, snap.RetryBase, snap.RetryMaxDelay))
	}
	for _, j := range jobs {
		line := fmt.Sprintf("- %s: spec=%s next=%s timeout=%s", j.Name, j.Spec, nextLabel(j.Next, now), timeoutLabel(j.Timeout, snap.DefaultTimeout))
		if j.Running {
			line += " (running)"
		}
		lines = append(lines, line)
	}
	return say(ctx, req, lines...)
}

func timeoutLabel(own, def time.Duration) string {
	switch {
	case own > 0:
		return own.String()
	case def > 0:
		return "default"
	}
	return "none"
}

// byNext puts unscheduled jobs last and breaks ties by name.
func byNext(a, b core.ScheduleInfo) int {
	if a.Next.IsZero() != b.Next.IsZero() {
		if a.Next.IsZero() {
			return 1
		}
		return -1
	}
	if c := a.Next.Compare(b.Next); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

func (p *Plugin) cmdSchedStatus(ctx context.Context, req *core.Request) error {
	s := p.scheduler(req)
	if s == nil {
		return say(ctx, req, "scheduler service not available")
	}
	snap, now := s.Snapshot(), p.now()
	lines := []string{
		"🧭 sched status",
		fmt.Sprintf("- enabled: %t, started: %t", snap.Enabled, snap.Started),
		"- tz: " + snap.Timezone,
		fmt.Sprintf("- jobs: %d", len(snap.Schedules)),
	}

	upcoming := slices.SortedFunc(slices.Values(snap.Schedules), byNext)
	if n := min(nextShown, len(upcoming)); n > 0 {
		lines = append(lines, fmt.Sprintf("- next (top %d):", n))
		for i, j := range upcoming[:n] {
			lines = append(lines, fmt.Sprintf("  %d) %s at %s", i+1, j.Name, nextLabel(j.Next, now)))
		}
	}
	return say(ctx, req, append(lines, lastRunLine(snap.History, now))...)
}

func lastRunLine(hist []core.HistoryItem, now time.Time) string {
	if len(hist) == 0 {
		return "- last run: -"
	}
	h := hist[len(hist)-1]
	status := "ok"
	if h.Skipped {
		status = "skipped"
	} else if h.Error != "" {
		status = "fail: " + tgui.TruncRunes(h.Error, 120)
	}
	return fmt.Sprintf("- last run: %s (%s) %s ago, took %s, attempts=%d",
		h.Name, status, durRel(now.Sub(h.Started)), h.Duration, h.Attempts)
}

func nextLabel(next, now time.Time) string {
	if next.IsZero() {
		return "-"
	}
	s := next.Local().Format(time.DateTime)
	if next.After(now) {
		s += " (in " + durRel(next.Sub(now)) + ")"
	}
	return s
}
