package plugin

import (
	"context"
	"slices"
	"strings"
	"time"

	logx "allybot/pkg/logx"
)

func (pm *PluginManager) startHealthLoop(name string, p Plugin, hc HealthChecker) {
	if oi, ok := p.(HealthLoopOptIn); !ok || !oi.HealthLoopEnabled() {
		return
	}
	sp, ok := p.(SupervisorProvider)
	if !ok || sp.Supervisor() == nil {
		pm.log.Warn("health loop needs a plugin supervisor", logx.String("plugin", name))
		return
	}

	pm.mu.Lock()
	s := pm.slots[name]
	if s.healthLoop {
		pm.mu.Unlock()
		return
	}
	s.healthLoop = true
	pm.mu.Unlock()

	sp.Supervisor().Go0("health.loop", func(ctx context.Context) {
		t := time.NewTicker(healthInterval)
		defer t.Stop()
		for {
			if r := pm.probe(ctx, name, hc); r.Fails == healthFailThresh {
				pm.log.Warn("plugin health failing repeatedly", logx.String("plugin", name), logx.Int("fails", r.Fails), logx.String("err", r.Err))
				pm.emit("plugin.unhealthy", pluginEvent{Plugin: name, Err: r.Err, Count: r.Fails})
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	})
}

// probe runs one health check and records it with a running fail count.
func (pm *PluginManager) probe(ctx context.Context, name string, hc HealthChecker) PluginHealthResult {
	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	status, err := hc.Health(hctx)
	cancel()

	r := PluginHealthResult{Plugin: name, At: time.Now(), Status: status}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	s := pm.slots[name]
	if err != nil {
		r.Err = err.Error()
		r.Fails = s.health.Fails + 1
	}
	s.health = r
	return r
}

// Snapshot implements PluginsPort.
func (pm *PluginManager) Snapshot() PluginsSnapshot {
	cfg := pm.cfgm.Get()
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := PluginsSnapshot{Time: time.Now(), Plugins: make([]PluginStatus, 0, len(pm.slots))}
	for name, s := range pm.slots {
		st := PluginStatus{
			Name:             name,
			Running:          s.running,
			HealthLoopActive: s.healthLoop,
			LastHealth:       s.health,
		}
		_, st.HasHealthChecker = s.p.(HealthChecker)
		if cfg != nil {
			var raw PluginConfigRaw
			raw, st.HasConfig = cfg.Plugins[name]
			st.Enabled = raw.Enabled
		}
		if q := s.parked; q != nil {
			st.Quarantined, st.QuarantineErr, st.QuarantineSince = true, q.err, q.since
		}
		out.Plugins = append(out.Plugins, st)
	}
	slices.SortFunc(out.Plugins, func(a, b PluginStatus) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// CheckHealth implements PluginsPort. With no names it probes every running
// plugin. Plugins that are stopped or lack a checker report "stopped" or
// "running" without a probe.
func (pm *PluginManager) CheckHealth(ctx context.Context, names []string) []PluginHealthResult {
	if len(names) == 0 {
		for _, name := range pm.names() {
			if pm.isRunning(name) {
				names = append(names, name)
			}
		}
	} else {
		names = slices.Sorted(slices.Values(names))
	}

	results := make([]PluginHealthResult, 0, len(names))
	for _, name := range names {
		pm.mu.Lock()
		s := pm.slots[name]
		if s == nil {
			pm.mu.Unlock()
			continue
		}
		running, base := s.running, s.ctx
		hc, _ := s.p.(HealthChecker)
		if !running || hc == nil {
			r := PluginHealthResult{Plugin: name, At: time.Now(), Status: "stopped"}
			if running {
				r.Status = "running"
			}
			s.health = r
			pm.mu.Unlock()
			results = append(results, r)
			continue
		}
		pm.mu.Unlock()

		if base == nil {
			base = pm.root
		}
		// the probe lives on the plugin context and also ends with the caller's
		hctx, cancel := context.WithCancel(base)
		unhook := context.AfterFunc(ctx, cancel)
		results = append(results, pm.probe(hctx, name, hc))
		unhook()
		cancel()
	}
	return results
}
