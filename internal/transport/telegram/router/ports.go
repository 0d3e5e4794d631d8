package router

import (
	"context"
	"time"

	"allybot/internal/config"
	"allybot/internal/plugin/ops"
	"allybot/internal/reminder"
	"allybot/internal/runtime/supervisor"
	"allybot/internal/task/scheduler"
	kit "allybot/internal/transport"
)

type (
	Config        = config.Config
	ConfigManager = config.ConfigManager
	Supervisor    = supervisor.Supervisor
	TaskOptions   = scheduler.TaskOptions
	Snapshot      = scheduler.Snapshot
	ReminderStats = reminder.Stats

	PluginsSnapshot    = ops.PluginsSnapshot
	PluginHealthResult = ops.PluginHealthResult
)

// Services are the runtime handles passed to every handler. Any of them
// may be nil when the subsystem is disabled.
type Services struct {
	Scheduler SchedulerPort
	Notifier  NotifierPort
	Plugins   PluginsPort
	Reminders RemindersPort

	AppSupervisor      *Supervisor
	RuntimeSupervisors *SupervisorRegistry
}

type JobFunc = func(ctx context.Context) error

type SchedulerPort interface {
	Enabled() bool
	Snapshot() Snapshot

	AddCron(name, spec string, timeout time.Duration, job JobFunc) (string, error)
	AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job JobFunc) (string, error)
	AddInterval(name string, every, timeout time.Duration, job JobFunc) (string, error)
	AddIntervalOpt(name string, every, timeout time.Duration, opt TaskOptions, job JobFunc) (string, error)
	AddDaily(name, atHHMM string, timeout time.Duration, job JobFunc) (string, error)
	AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job JobFunc) (string, error)
	Remove(name string) bool
}

type NotifierPort interface {
	Notify(ctx context.Context, n kit.Notification) error
	SendToChannel(ctx context.Context, chatID int64, text string) error
}

type PluginsPort interface {
	Snapshot() PluginsSnapshot
	// CheckHealth with no names probes every running checker.
	CheckHealth(ctx context.Context, names []string) []PluginHealthResult
}

type RemindersPort interface {
	Snapshot() ReminderStats
}
