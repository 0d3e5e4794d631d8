package plugin

import (
	"allybot/internal/config"
	ops "allybot/internal/plugin/ops"
	"allybot/internal/runtime/supervisor"
	"allybot/internal/task/scheduler"
	"allybot/internal/transport/telegram/router"
)

// Plugins compile against these names so they only import this package.
type (
	Config          = config.Config
	ConfigManager   = config.ConfigManager
	PluginConfigRaw = config.PluginConfigRaw

	Supervisor = supervisor.Supervisor

	Access          = router.Access
	Command         = router.Command
	Request         = router.Request
	HandlerFunc     = router.HandlerFunc
	CallbackAccess  = router.CallbackAccess
	CallbackRoute   = router.CallbackRoute
	MessageObserver = router.MessageObserver
	Services        = router.Services
	CommandManager  = router.CommandManager
	SchedulerPort   = router.SchedulerPort
	NotifierPort    = router.NotifierPort
	ReminderStats   = router.ReminderStats

	TaskOptions  = scheduler.TaskOptions
	Snapshot     = scheduler.Snapshot
	ScheduleInfo = scheduler.ScheduleInfo
	HistoryItem  = scheduler.HistoryItem

	PluginsSnapshot    = ops.PluginsSnapshot
	PluginStatus       = ops.PluginStatus
	PluginHealthResult = ops.PluginHealthResult
)

const (
	AccessEveryone  = router.AccessEveryone
	AccessOwnerOnly = router.AccessOwnerOnly

	CallbackAccessOwnerOnly = router.CallbackAccessOwnerOnly
	CallbackAccessEveryone  = router.CallbackAccessEveryone

	OverlapAllow         = scheduler.OverlapAllow
	OverlapSkipIfRunning = scheduler.OverlapSkipIfRunning

	SpecInterval = scheduler.SpecInterval
)

var ParseSchedule = scheduler.ParseSchedule
