package app

import (
	"context"
	"strings"
	"time"

	"allybot/internal/config"
	"allybot/internal/eventbus"
	"allybot/internal/runtime/supervisor"
	"allybot/internal/telemetry"
	logx "allybot/pkg/logx"
)

const defaultServiceName = "allybot"

// Start brings components up in dependency order. The adapter comes first
// so plugins can send while starting; the dispatch loop comes last.
func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.serv.AppSupervisor = a.sup
	run := a.sup.Context()

	a.cfgm.SetLogger(a.child("config"))
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		if err := validate(cfg); err != nil {
			return err
		}
		return a.pm.ValidateConfig(c, cfg)
	})
	a.startTelemetry()

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.register("telegram.adapter", a.adapter.Supervisor())

	if a.notif.Enabled() {
		a.notif.Start(run)
		a.register("notifier", a.notif.Supervisor())
	}
	if err := a.startScheduler(run); err != nil {
		return err
	}
	if a.http.Enabled() {
		a.http.Start(run)
		a.register("http", a.http.Supervisor())
	}
	if err := a.pm.StartAll(run); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("version", Version), logx.Bool("storage", a.store != nil))
	return nil
}

func (a *App) startTelemetry() {
	tel := a.cfgm.Get().Telemetry
	if tel.Metrics {
		telemetry.Init()
		a.cfgm.SetReloadHook(func(r config.ReloadResult) { telemetry.ObserveConfigReload(string(r)) })
		a.sup.Go0("telemetry.consume", func(c context.Context) { telemetry.Consume(c, a.bus) })
	}
	name := strings.TrimSpace(tel.ServiceName)
	if name == "" {
		name = defaultServiceName
	}
	stop, err := telemetry.InitTracing(name, Version, a.child("tracing"))
	if err != nil {
		a.log.Warn("tracing unavailable", logx.Err(err))
		return
	}
	a.stopTracing = stop
}

// startScheduler registers the reminder poller before the scheduler starts
// so its first tick is on time.
func (a *App) startScheduler(ctx context.Context) error {
	if a.poller != nil {
		if err := a.poller.Register(a.sched); err != nil {
			return err
		}
	}
	switch {
	case a.sched.Enabled():
		a.sched.Start(ctx)
	case a.poller != nil:
		a.log.Warn("scheduler disabled; reminders will not fire")
	}
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	eventbus.Drain(ctx.Done(), events, func(e eventbus.Event) {
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	})
}
