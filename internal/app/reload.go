package app

import (
	"context"
	"strings"
	"time"

	"allybot/internal/config"
	logx "allybot/pkg/logx"
)

const toggleStopTimeout = 3 * time.Second

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			next = coalesce(sub, next)
			a.applyConfig(ctx, applied, next)
			applied = next
		}
	}
}

// coalesce skips to the newest config queued on sub.
func coalesce(sub <-chan *Config, cur *Config) *Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// toggle starts or stops a component whose enabled flag flipped.
type toggle struct {
	name  string
	was   bool
	now   bool
	start func(context.Context)
	stop  func(context.Context)
}

func (a *App) flip(ctx context.Context, t toggle) {
	switch {
	case t.was && !t.now:
		a.log.Info(t.name + " disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, toggleStopTimeout)
		t.stop(stopCtx)
		cancel()
	case !t.was && t.now:
		a.log.Info(t.name + " enabled via config")
		t.start(ctx)
	}
}

// applyConfig pushes a committed config into every live component. A
// section that fails to map keeps its previous settings.
func (a *App) applyConfig(ctx context.Context, prev, next *Config) {
	sections, attrs, plugins := config.SummarizeConfigChange(prev, next)
	if len(plugins) > 0 {
		a.log.Debug("plugin config changes detected", logx.Any("plugins", plugins))
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.SetChatTarget(logChatID(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))
	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	a.pm.SetOwnerUserIDs(next.Telegram.OwnerUserIDs)

	if scfg, err := mapSchedulerConfig(next); a.keep("scheduler", err) {
		was := a.sched.Enabled()
		a.sched.Apply(scfg)
		a.flip(ctx, toggle{name: "scheduler", was: was, now: scfg.Enabled, start: a.sched.Start, stop: a.sched.Stop})
	}

	if ncfg, err := mapNotifierConfig(next); a.keep("notifier", err) {
		was := a.notif.Enabled()
		a.notif.Apply(ncfg)
		a.flip(ctx, toggle{
			name: "notifier", was: was, now: ncfg.Enabled,
			start: func(c context.Context) {
				a.notif.Start(c)
				a.register("notifier", a.notif.Supervisor())
			},
			stop: func(c context.Context) {
				a.notif.Stop(c)
				a.serv.RuntimeSupervisors.Delete("notifier")
			},
		})
	}

	if rcfg, err := mapReminderConfig(next); a.keep("reminder", err) && a.poller != nil {
		interval := a.poller.Snapshot().Interval
		a.poller.Apply(rcfg.Poller)
		a.disp.Apply(rcfg.Dispatcher)
		if rcfg.Poller.Interval != interval {
			if err := a.poller.Register(a.sched); err != nil {
				a.log.Warn("poller re-register failed", logx.Err(err))
			}
		}
	}

	if tcfg, err := mapTranslateConfig(next); a.keep("translate", err) {
		a.tr.Apply(tcfg)
	}

	a.pm.OnConfigUpdate(ctx, next)

	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

// keep logs a mapping error and reports whether the section may be applied.
func (a *App) keep(section string, err error) bool {
	if err != nil {
		a.log.Warn("invalid "+section+" config; keeping previous", logx.Err(err))
		return false
	}
	return true
}
