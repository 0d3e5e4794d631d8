// Package app wires the bot's subsystems together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"allybot/internal/config"
	"allybot/internal/eventbus"
	"allybot/internal/i18n"
	"allybot/internal/notifier"
	"allybot/internal/observability/httpserver"
	"allybot/internal/plugin"
	"allybot/internal/reminder"
	"allybot/internal/runtime/supervisor"
	"allybot/internal/storage"
	"allybot/internal/task/scheduler"
	"allybot/internal/telemetry"
	"allybot/internal/translate"
	kit "allybot/internal/transport"
	telegram "allybot/internal/transport/telegram/adapter"
	"allybot/internal/transport/telegram/router"
	logx "allybot/pkg/logx"
)

// Version is set with -ldflags "-X allybot/internal/app.Version=...".
var Version = "dev"

const (
	updateBuffer       = 256
	storageOpenTimeout = 15 * time.Second
	defaultPollTimeout = 10 * time.Second
)

type Config = config.Config

type App struct {
	cfgPath string
	started time.Time

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter *telegram.Adapter
	store   *storage.Store
	sched   *scheduler.Service
	notif   *notifier.Service
	cat     *i18n.Catalog
	tr      *translate.Client
	disp    *reminder.Dispatcher // nil without storage
	poller  *reminder.Poller     // nil without storage
	http    *httpserver.Server

	serv *router.Services
	cmdm *router.CommandManager
	pm   *plugin.PluginManager

	stopTracing func(context.Context)
	updates     chan kit.Update
}

// NewApp loads and validates the config and builds every component. Nothing
// is started.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{cfgPath: cfgPath, cfgm: cfgm, bus: eventbus.New(), updates: make(chan kit.Update, updateBuffer)}
	steps := []func(*Config) error{
		a.buildTelegram,
		a.buildLogging,
		a.buildStorage,
		a.buildServices,
		a.buildReminders,
		a.buildRouting,
	}
	for _, step := range steps {
		if err := step(cfg); err != nil {
			return nil, err
		}
	}
	a.http = httpserver.New(mapHTTPConfig(cfg), a.healthStatus, telemetry.Handler(), a.child("http"))
	return a, nil
}

func (a *App) child(comp string) logx.Logger { return a.log.With(logx.String("comp", comp)) }

func (a *App) buildTelegram(cfg *Config) error {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return err
	}
	// The log service needs the adapter, so the adapter logs to the console.
	boot := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	a.adapter, err = telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, boot)
	return err
}

// buildLogging brings chat logging up only after its target is known.
func (a *App) buildLogging(cfg *Config) error {
	want := mapLogConfig(cfg)
	boot := want
	boot.Chat.Enabled = false
	svc, log := logx.New(boot, a.adapter)
	svc.SetChatTarget(logChatID(cfg), cfg.Logging.Telegram.ThreadID)
	svc.Apply(want)
	a.logs, a.log = svc, log.With(logx.String("comp", "app"))
	return nil
}

func (a *App) buildStorage(cfg *Config) error {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if !enabled {
		a.log.Warn("storage disabled; schedule commands will fail")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageOpenTimeout)
	defer cancel()
	if a.store, err = storage.Open(ctx, sc, a.child("storage")); err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	return nil
}

func (a *App) buildServices(cfg *Config) error {
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	tcfg, err := mapTranslateConfig(cfg)
	if err != nil {
		return err
	}
	if a.cat, err = i18n.New(cfg.Reminder.DefaultLang); err != nil {
		return fmt.Errorf("load translations: %w", err)
	}
	a.sched = scheduler.New(scfg, a.child("scheduler"), a.bus)
	a.notif = notifier.New(ncfg, a.adapter, a.child("notifier"), a.bus)
	a.tr = translate.New(tcfg, a.child("translate"))
	return nil
}

// buildReminders is a no-op without storage; the poller reads from it.
func (a *App) buildReminders(cfg *Config) error {
	rcfg, err := mapReminderConfig(cfg)
	if err != nil || a.store == nil {
		return err
	}
	a.disp = reminder.NewDispatcher(rcfg.Dispatcher, a.store, a.notif, a.cat, a.child("dispatcher"))
	a.poller = reminder.NewPoller(rcfg.Poller, a.store, a.disp, a.child("poller"), a.bus)
	return nil
}

func (a *App) buildRouting(cfg *Config) error {
	owners := cfg.Telegram.OwnerUserIDs
	a.serv = &router.Services{
		Scheduler:          a.sched,
		Notifier:           a.notif,
		RuntimeSupervisors: router.NewSupervisorRegistry(),
	}
	if a.poller != nil {
		a.serv.Reminders = a.poller
	}
	a.cmdm = router.NewCommandManager(a.child("commands"), a.adapter, a.cfgm, a.serv, owners)
	a.pm = plugin.NewPluginManager(a.child("plugins"), a.cfgm, plugin.PluginDeps{
		Logger:      a.log,
		Adapter:     a.adapter,
		Config:      a.cfgm,
		Services:    a.serv,
		Bus:         a.bus,
		Store:       a.store,
		OwnerUserID: owners,
	}, a.cmdm)
	a.serv.Plugins = a.pm
	return nil
}

func (a *App) Plugins() *plugin.PluginManager { return a.pm }

// Catalog is shared by the reminder dispatcher and the plugins.
func (a *App) Catalog() *i18n.Catalog { return a.cat }

func (a *App) Translator() *translate.Client { return a.tr }

func (a *App) Logger() logx.Logger { return a.log }

// Done closes when the app context ends, on a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) register(name string, sup *supervisor.Supervisor) {
	if sup != nil {
		a.serv.RuntimeSupervisors.Set(name, sup)
	}
}
