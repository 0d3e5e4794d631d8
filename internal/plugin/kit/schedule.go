package pluginkit

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"allybot/internal/eventbus"
	core "allybot/internal/plugin"
	logx "allybot/pkg/logx"
)

const defaultJobTimeout = 30 * time.Second

// TypeTaskCancelledByPlugin is published when a plugin stop interrupts one
// of its running jobs.
const TypeTaskCancelledByPlugin = "task.cancelled_by_plugin"

type TaskCancelledByPluginEvent struct {
	Plugin   string        `json:"plugin"`
	Task     string        `json:"task"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

type JobFunc = func(ctx context.Context) error

// ScheduleHelper registers jobs as "<plugin>:<name>" and tracks them so
// StopKit can unregister all of them.
type ScheduleHelper struct {
	plugin string
	svc    core.SchedulerPort
	bus    eventbus.Bus
	log    logx.Logger
	ctx    context.Context

	mu    sync.Mutex
	names map[string]bool
}

func NewScheduleHelper(plugin string, deps core.PluginDeps) *ScheduleHelper {
	h := &ScheduleHelper{plugin: plugin, bus: deps.Bus, log: deps.Logger, names: map[string]bool{}}
	if deps.Services != nil {
		h.svc = deps.Services.Scheduler
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	h.log = h.log.With(logx.String("component", "schedule"))
	return h
}

func (h *ScheduleHelper) bindContext(ctx context.Context) { h.ctx = ctx }

// adder performs the scheduler call for one kind of schedule.
type adder func(svc core.SchedulerPort, full string, timeout time.Duration, opt core.TaskOptions, job JobFunc) error

func (h *ScheduleHelper) job(name string, add adder) *ScheduleBuilder {
	return &ScheduleBuilder{
		h:       h,
		name:    name,
		add:     add,
		timeout: defaultJobTimeout,
		opt:     core.TaskOptions{Overlap: core.OverlapSkipIfRunning},
	}
}

// Spec accepts any schedule string the scheduler parses. A parse error is
// returned by Do.
func (h *ScheduleHelper) Spec(name, schedule string) *ScheduleBuilder {
	ps, err := core.ParseSchedule(schedule)
	switch {
	case err != nil:
		b := h.job(name, nil)
		b.err = err
		return b
	case ps.Kind == core.SpecInterval:
		return h.Every(name, ps.Every)
	default:
		return h.Cron(name, ps.Cron)
	}
}

func (h *ScheduleHelper) Cron(name, spec string) *ScheduleBuilder {
	return h.job(name, func(svc core.SchedulerPort, full string, t time.Duration, opt core.TaskOptions, job JobFunc) error {
		_, err := svc.AddCronOpt(full, spec, t, opt, job)
		return err
	})
}

func (h *ScheduleHelper) Every(name string, every time.Duration) *ScheduleBuilder {
	return h.job(name, func(svc core.SchedulerPort, full string, t time.Duration, opt core.TaskOptions, job JobFunc) error {
		_, err := svc.AddIntervalOpt(full, every, t, opt, job)
		return err
	})
}

// Daily and Weekly use the scheduler's default task options.
func (h *ScheduleHelper) Daily(name, atHHMM string) *ScheduleBuilder {
	return h.job(name, func(svc core.SchedulerPort, full string, t time.Duration, _ core.TaskOptions, job JobFunc) error {
		_, err := svc.AddDaily(full, atHHMM, t, job)
		return err
	})
}

func (h *ScheduleHelper) Weekly(name string, day time.Weekday, atHHMM string) *ScheduleBuilder {
	return h.job(name, func(svc core.SchedulerPort, full string, t time.Duration, _ core.TaskOptions, job JobFunc) error {
		_, err := svc.AddWeekly(full, day, atHHMM, t, job)
		return err
	})
}

// Remove unregisters the job with the short name.
func (h *ScheduleHelper) Remove(name string) {
	if h == nil || h.svc == nil {
		return
	}
	full := h.qualify(name)
	h.svc.Remove(full)
	h.mu.Lock()
	delete(h.names, full)
	h.mu.Unlock()
}

// Names lists the qualified names of the plugin's jobs.
func (h *ScheduleHelper) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Collect(maps.Keys(h.names))
}

func (h *ScheduleHelper) cleanup() {
	if h == nil || h.svc == nil {
		return
	}
	h.mu.Lock()
	names := h.names
	h.names = map[string]bool{}
	h.mu.Unlock()
	for full := range names {
		h.svc.Remove(full)
	}
}

func (h *ScheduleHelper) qualify(name string) string {
	if h.plugin == "" {
		return name
	}
	if name == "" {
		return h.plugin
	}
	return h.plugin + ":" + name
}

type ScheduleBuilder struct {
	h       *ScheduleHelper
	name    string
	add     adder
	timeout time.Duration
	opt     core.TaskOptions
	err     error
}

func (b *ScheduleBuilder) Timeout(d time.Duration) *ScheduleBuilder {
	b.timeout = d
	return b
}

func (b *ScheduleBuilder) AllowOverlap() *ScheduleBuilder {
	b.opt.Overlap = core.OverlapAllow
	return b
}

func (b *ScheduleBuilder) NoRetry() *ScheduleBuilder {
	b.opt.RetryMax = -1
	return b
}

// Do registers job. Runs also end when the plugin stops.
func (b *ScheduleBuilder) Do(job JobFunc) error {
	h := b.h
	switch {
	case h == nil || h.svc == nil:
		return core.ErrSchedulerUnavailable
	case b.err != nil:
		return b.err
	case job == nil:
		return errors.New("job is nil")
	}
	full := h.qualify(b.name)
	if err := b.add(h.svc, full, b.timeout, b.opt, h.scoped(full, job)); err != nil {
		return err
	}
	h.mu.Lock()
	h.names[full] = true
	h.mu.Unlock()
	return nil
}

// scoped cancels a run when the plugin context ends and reports that as a
// plugin cancellation rather than a scheduler stop.
func (h *ScheduleHelper) scoped(full string, job JobFunc) JobFunc {
	pctx := h.ctx
	if pctx == nil {
		return job
	}
	return func(runCtx context.Context) error {
		start := time.Now()
		ctx, cancel := context.WithCancel(runCtx)
		defer cancel()
		var interrupted atomic.Bool
		stop := context.AfterFunc(pctx, func() {
			if runCtx.Err() == nil {
				interrupted.Store(true)
				cancel()
			}
		})
		defer stop()

		err := job(ctx)
		if interrupted.Load() && runCtx.Err() == nil {
			h.cancelled(full, start)
		}
		return err
	}
}

func (h *ScheduleHelper) cancelled(full string, start time.Time) {
	took := time.Since(start)
	if h.bus != nil {
		h.bus.Publish(eventbus.Event{Type: TypeTaskCancelledByPlugin, Time: time.Now(), Data: TaskCancelledByPluginEvent{
			Plugin:   h.plugin,
			Task:     full,
			Started:  start,
			Duration: took,
		}})
	}
	h.log.Info("scheduled task cancelled by plugin", logx.String("task", full), logx.Duration("duration", took))
}
