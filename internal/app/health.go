package app

import (
	"context"
	"runtime"
	"time"

	"allybot/internal/observability/httpserver"
)

// healthStatus backs GET /health. Storage and a poller stuck for more than
// three intervals mark the report as failing.
func (a *App) healthStatus(ctx context.Context) httpserver.Status {
	now := time.Now()
	st := httpserver.Status{Checks: map[string]any{}}
	if !a.started.IsZero() {
		st.Uptime = now.Sub(a.started).Truncate(time.Second).String()
	}
	st.Checks["version"] = Version
	st.Checks["goroutines"] = runtime.NumGoroutine()

	switch {
	case a.store == nil:
		st.Checks["storage"] = "disabled"
	default:
		if err := a.store.Ping(ctx); err != nil {
			st.Checks["storage"] = err.Error()
			st.Failing = append(st.Failing, "storage")
		} else {
			st.Checks["storage"] = "ok"
		}
	}

	snap := a.sched.Snapshot()
	st.Checks["scheduler"] = map[string]any{
		"enabled": snap.Enabled,
		"started": snap.Started,
		"jobs":    len(snap.Schedules),
	}

	if a.poller != nil {
		ps := a.poller.Snapshot()
		st.Checks["poller"] = ps
		if pollerStale(ps.LastTick, ps.Interval, snap.Started, now) {
			st.Failing = append(st.Failing, "poller")
		}
	}

	if a.pm != nil {
		ps := a.pm.Snapshot()
		running, quarantined := 0, 0
		for _, p := range ps.Plugins {
			if p.Running {
				running++
			}
			if p.Quarantined {
				quarantined++
			}
		}
		st.Checks["plugins"] = map[string]int{"total": len(ps.Plugins), "running": running, "quarantined": quarantined}
	}

	if a.sup != nil {
		if fe := a.sup.Snapshot().FirstError; fe != "" {
			st.Checks["first_error"] = fe
			st.Failing = append(st.Failing, "app")
		}
	}
	return st
}

// pollerStale reports a poller that has not ticked within three intervals
// while the scheduler runs. A poller that never ticked is not stale.
func pollerStale(last time.Time, interval time.Duration, schedStarted bool, now time.Time) bool {
	if !schedStarted || interval <= 0 || last.IsZero() {
		return false
	}
	return now.Sub(last) > 3*interval
}
