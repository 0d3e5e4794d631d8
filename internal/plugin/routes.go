package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	logx "allybot/pkg/logx"
)

// publishRoutes hands the commands, callbacks and observers of every
// running, enabled plugin to the router.
func (pm *PluginManager) publishRoutes(cfg *Config) {
	if pm.cmdm == nil {
		return
	}
	type live struct {
		name string
		p    Plugin
	}
	var active []live
	pm.mu.Lock()
	for name, s := range pm.slots {
		if s.running && cfg != nil && cfg.Plugins[name].Enabled {
			active = append(active, live{name, s.p})
		}
	}
	pm.mu.Unlock()
	slices.SortFunc(active, func(a, b live) int { return strings.Compare(a.name, b.name) })

	var (
		cmds []Command
		cbs  []CallbackRoute
		obs  []MessageObserver
	)
	for _, a := range active {
		cmdTimeout := pluginCommandTimeout(cfg, a.name)
		for _, c := range recoverList(pm, a.name, "Commands", a.p.Commands) {
			c.PluginName = a.name
			if c.Timeout <= 0 {
				c.Timeout = cmdTimeout
			}
			cmds = append(cmds, c)
		}
		if cp, ok := a.p.(CallbackProvider); ok {
			for _, r := range recoverList(pm, a.name, "Callbacks", cp.Callbacks) {
				r.Plugin = a.name
				if r.Timeout <= 0 {
					r.Timeout = cmdTimeout
				}
				cbs = append(cbs, r)
			}
		}
		if op, ok := a.p.(ObserverProvider); ok {
			for _, o := range recoverList(pm, a.name, "Observers", op.Observers) {
				if o.Name == "" {
					o.Name = a.name
				}
				obs = append(obs, o)
			}
		}
	}
	pm.cmdm.SetRegistry(cmds, cbs, obs)
}

// recoverList calls a plugin's list method; a panic yields an empty list.
func recoverList[T any](pm *PluginManager, plugin, method string, fn func() []T) (out []T) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin "+method+"()", logx.String("plugin", plugin), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			out = nil
		}
	}()
	return fn()
}

// pluginTimeouts is the optional "timeouts" object any plugin config may
// carry: {"command": "20s", "task": "1m", "operation": "5s"}.
type pluginTimeouts struct {
	Command   string `json:"command,omitempty"`
	Task      string `json:"task,omitempty"`
	Operation string `json:"operation,omitempty"`
}

func readTimeouts(raw json.RawMessage) (pluginTimeouts, error) {
	var t pluginTimeouts
	var top struct {
		Timeouts json.RawMessage `json:"timeouts"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &top) != nil {
		return t, nil
	}
	if len(top.Timeouts) == 0 || string(top.Timeouts) == "null" {
		return t, nil
	}
	dec := json.NewDecoder(bytes.NewReader(top.Timeouts))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return t, fmt.Errorf("timeouts: %w (supported: command, task, operation)", err)
	}
	for _, f := range [...]struct{ key, val string }{
		{"command", t.Command},
		{"task", t.Task},
		{"operation", t.Operation},
	} {
		if f.val == "" {
			continue
		}
		if _, err := time.ParseDuration(f.val); err != nil {
			return t, fmt.Errorf("invalid timeouts.%s: %w", f.key, err)
		}
	}
	return t, nil
}

func validateStandardTimeouts(plugin string, raw json.RawMessage) error {
	if _, err := readTimeouts(raw); err != nil {
		return fmt.Errorf("plugin %s: %w", plugin, err)
	}
	return nil
}

// pluginCommandTimeout is plugins.<name>.config.timeouts.command, or 0.
func pluginCommandTimeout(cfg *Config, plugin string) time.Duration {
	t, err := readTimeouts(cfg.Plugins[plugin].Config)
	if err != nil || t.Command == "" {
		return 0
	}
	d, _ := time.ParseDuration(t.Command)
	return max(d, 0)
}
