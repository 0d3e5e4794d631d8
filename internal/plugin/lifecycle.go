package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"allybot/internal/config"
	logx "allybot/pkg/logx"
)

// reconcile brings every registered plugin in line with cfg, in name order.
func (pm *PluginManager) reconcile(cfg *Config) error {
	if cfg == nil {
		return errors.New("plugins: nil config")
	}
	owners := config.Fingerprint(cfg.Telegram.OwnerUserIDs)
	pm.mu.Lock()
	ownersChanged := owners != pm.owners
	pm.owners = owners
	pm.mu.Unlock()

	for _, name := range pm.names() {
		raw, listed := cfg.Plugins[name]
		want := listed && raw.Enabled
		running := pm.isRunning(name)
		switch {
		case want && !running:
			pm.enable(name, raw)
		case !want && running:
			pm.stopWithin(name, StopPluginDisable)
		case want && running:
			pm.reconfigure(name, raw, ownersChanged)
		}
	}
	pm.publishRoutes(cfg)
	return nil
}

func (pm *PluginManager) isRunning(name string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	s := pm.slots[name]
	return s != nil && s.running
}

// enable runs Init (first time only), the config hooks and Start. Any
// config-stage failure parks the plugin until its settings change.
func (pm *PluginManager) enable(name string, raw PluginConfigRaw) {
	s := pm.lookup(name)
	fp := raw.Fingerprint()
	if pm.parked(name, fp) {
		pm.log.Warn("plugin still quarantined; not starting", logx.String("plugin", name))
		return
	}
	if err := validateStandardTimeouts(name, raw.Config); err != nil {
		pm.park(name, fp, "timeouts", err)
		return
	}

	ctx, cancel := context.WithCancel(pm.root)
	deps := pm.depsFor(name, raw.Allow)

	pm.mu.Lock()
	needInit := !s.inited
	pm.mu.Unlock()
	if needInit {
		if err := pm.call(ctx, "plugin.init."+name, callTimeout, func(c context.Context) error { return s.p.Init(c, deps) }); err != nil {
			cancel()
			pm.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
			pm.emit("plugin.init_failed", pluginEvent{Plugin: name, Err: err.Error()})
			return
		}
		pm.mu.Lock()
		s.inited = true
		pm.mu.Unlock()
	}

	if stage, err := pm.configure(ctx, name, s.p, raw.Config); err != nil {
		cancel()
		pm.park(name, fp, stage, err)
		return
	}

	if err := pm.startWithin(ctx, cancel, name, s.p); err != nil {
		cancel()
		pm.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		pm.emit("plugin.start_failed", pluginEvent{Plugin: name, Err: err.Error()})
		return
	}

	pm.mu.Lock()
	s.running, s.ctx, s.cancel = true, ctx, cancel
	s.applied, s.parked = fp, nil
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit("plugin.started", pluginEvent{Plugin: name})
	if hc, ok := s.p.(HealthChecker); ok {
		pm.startHealthLoop(name, s.p, hc)
	}
}

// reconfigure re-applies config to a running plugin when its settings or
// the owner list changed. A rejected config stops the plugin.
func (pm *PluginManager) reconfigure(name string, raw PluginConfigRaw, ownersChanged bool) {
	fp := raw.Fingerprint()
	pm.mu.Lock()
	s := pm.slots[name]
	if s.caps != nil {
		s.caps.Update(raw.Allow)
	}
	applied, ctx := s.applied, s.ctx
	pm.mu.Unlock()

	if _, ok := s.p.(ConfigurablePlugin); !ok {
		return
	}
	if fp == applied && !ownersChanged {
		return
	}
	if fp != applied {
		if err := validateStandardTimeouts(name, raw.Config); err != nil {
			pm.park(name, fp, "timeouts", err)
			pm.stopWithin(name, StopPluginQuarantine)
			return
		}
	}
	if ctx == nil {
		ctx = pm.root
	}
	if stage, err := pm.configure(ctx, name, s.p, raw.Config); err != nil {
		pm.park(name, fp, stage, err)
		pm.stopWithin(name, StopPluginQuarantine)
		return
	}

	pm.mu.Lock()
	s.applied, s.parked = fp, nil
	pm.mu.Unlock()
	pm.emit("plugin.config_applied", pluginEvent{Plugin: name})
}

// configure runs ValidateConfig then OnConfigChange, whichever p implements.
// The returned stage names the hook that failed.
func (pm *PluginManager) configure(ctx context.Context, name string, p Plugin, raw json.RawMessage) (string, error) {
	if v, ok := p.(ConfigValidator); ok {
		err := pm.call(ctx, "plugin.validate."+name, callTimeout, func(c context.Context) error { return v.ValidateConfig(c, raw) })
		if err != nil {
			return "validate", fmt.Errorf("config validate: %w", err)
		}
	}
	if cp, ok := p.(ConfigurablePlugin); ok {
		err := pm.call(ctx, "plugin.config."+name, callTimeout, func(c context.Context) error { return cp.OnConfigChange(c, raw) })
		if err != nil {
			return "config", fmt.Errorf("config apply: %w", err)
		}
	}
	return "", nil
}

// startWithin runs Start and cancels its context if it overruns callTimeout.
// Start then gets startCancelGrace to return.
func (pm *PluginManager) startWithin(ctx context.Context, cancel context.CancelFunc, name string, p Plugin) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(ctx) })
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(callTimeout):
	}
	cancel()
	select {
	case err := <-done:
		return errors.Join(fmt.Errorf("start timed out after %s", callTimeout), err)
	case <-time.After(startCancelGrace):
		return fmt.Errorf("start timed out after %s and ignored cancellation", callTimeout)
	}
}

func (pm *PluginManager) stopWithin(name string, reason StopReason) {
	ctx, cancel := context.WithTimeout(pm.root, callTimeout)
	defer cancel()
	pm.stop(ctx, name, reason)
}

// stop cancels the plugin context and waits for Stop until ctx ends. A Stop
// that hangs is abandoned and the plugin is marked stopped anyway.
func (pm *PluginManager) stop(ctx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	s := pm.slots[name]
	if s == nil || !s.running {
		pm.mu.Unlock()
		return
	}
	cancelPlugin := s.cancel
	pm.mu.Unlock()

	start := time.Now()
	if cancelPlugin != nil {
		cancelPlugin()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pm.safeCall("plugin.stop."+name, func() error { return s.p.Stop(ctx) })
	}()
	select {
	case <-done:
	case <-ctx.Done():
		pm.log.Warn("plugin stop timed out; continuing", logx.String("plugin", name), logx.Err(ctx.Err()))
		pm.emit("plugin.stop_timeout", pluginEvent{Plugin: name, Reason: string(reason), Err: ctx.Err().Error()})
	}

	pm.mu.Lock()
	s.running, s.ctx, s.cancel = false, nil, nil
	s.applied, s.healthLoop = 0, false
	s.health = PluginHealthResult{Plugin: name, At: time.Now(), Status: "stopped"}
	pm.mu.Unlock()

	took := time.Since(start)
	pm.emit("plugin.stopped", pluginEvent{Plugin: name, Reason: string(reason), TookMS: took.Milliseconds()})
	log := pm.log.Debug
	if took >= slowStopThreshold {
		log = pm.log.Info
	}
	log("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took))
}

// call runs fn under a timeout derived from ctx and turns panics into errors.
func (pm *PluginManager) call(ctx context.Context, label string, d time.Duration, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return pm.safeCall(label, func() error { return fn(c) })
}

func (pm *PluginManager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call", logx.String("call", label), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

type quarantineState struct {
	fp    uint64
	err   string
	since time.Time
	count int
}

// parked reports whether name is quarantined for exactly these settings.
// A quarantine for different settings is lifted.
func (pm *PluginManager) parked(name string, fp uint64) bool {
	pm.mu.Lock()
	s := pm.slots[name]
	q := s.parked
	if q == nil || q.fp == fp {
		pm.mu.Unlock()
		return q != nil
	}
	s.parked = nil
	pm.mu.Unlock()

	pm.log.Info("plugin quarantine lifted; config changed", logx.String("plugin", name))
	pm.emit("plugin.quarantine_cleared", pluginEvent{Plugin: name})
	return false
}

// park quarantines name. Repeats of the same failure only bump the count.
func (pm *PluginManager) park(name string, fp uint64, stage string, err error) {
	msg := err.Error()
	pm.mu.Lock()
	s := pm.slots[name]
	q := s.parked
	if q != nil && q.fp == fp && q.err == msg {
		q.count++
		pm.mu.Unlock()
		return
	}
	count := 1
	if q != nil {
		count = q.count + 1
	}
	s.parked = &quarantineState{fp: fp, err: msg, since: time.Now(), count: count}
	pm.mu.Unlock()

	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("stage", stage), logx.String("err", msg))
	pm.emit("plugin.quarantined", pluginEvent{Plugin: name, Stage: stage, Err: msg, Count: count})
}
