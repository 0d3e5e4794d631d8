package pluginkit

import (
	"context"

	core "allybot/internal/plugin"
)

// Base extends core.PluginBase with plugin-scoped job and notification
// helpers. Jobs added through Jobs() are removed by StopKit.
//
//	type Plugin struct{ pluginkit.Base }
//	func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error { p.InitKit(deps, p.Name()); return nil }
type Base struct {
	core.PluginBase

	jobs   *ScheduleHelper
	notify *NotifyHelper
}

func (b *Base) InitKit(deps core.PluginDeps, pluginName string) {
	b.InitBase(deps, pluginName)
	b.jobs = NewScheduleHelper(pluginName, deps)
	b.notify = NewNotifyHelper(pluginName, deps)
}

// StartKit binds the helpers to the plugin's run context.
func (b *Base) StartKit(ctx context.Context) {
	b.StartBase(ctx)
	b.jobs.bindContext(ctx)
	b.notify.bindContext(ctx)
}

func (b *Base) StopKit(ctx context.Context) error {
	b.jobs.cleanup()
	return b.StopBase(ctx)
}

func (b *Base) Jobs() *ScheduleHelper { return b.jobs }

func (b *Base) Notifier() *NotifyHelper { return b.notify }
