// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing
// setup. Metrics are package-level and registered once by Init.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"allybot/internal/eventbus"
	"allybot/internal/notifier"
	"allybot/internal/task/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// Reminder poller
	PollerTicks        *prometheus.CounterVec // result=ok|skipped|aborted
	PollerTickDuration prometheus.Observer
	RemindersFired     *prometheus.CounterVec // kind, trigger
	MarkLost           prometheus.Counter

	// Delivery sinks, sink=direct|channel, result=ok|failed
	Deliveries *prometheus.CounterVec

	// Scheduler jobs, result=ok|failed|skipped
	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Translation, provider and result=ok|fallback
	Translations   *prometheus.CounterVec
	BridgeMirrored prometheus.Counter

	Commands *prometheus.CounterVec

	// Hot reloads, result=ok|parse_error|rejected
	ConfigReloads *prometheus.CounterVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollerTicks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "allybot_poller_ticks_total", Help: "Reminder poller ticks by result"}, []string{"result"})
		PollerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "allybot_poller_tick_duration_seconds", Help: "Reminder poller tick duration seconds", Buckets: prometheus.DefBuckets})
		RemindersFired = promauto.NewCounterVec(prometheus.CounterOpts{Name: "allybot_reminders_fired_total", Help: "Notifications fired per item kind and trigger"}, []string{"kind", "trigger"})
		MarkLost = promauto.NewCounter(prometheus.CounterOpts{Name: "allybot_reminder_mark_lost_total", Help: "Transitions already applied by a concurrent actor"})
		Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "allybot_deliveries_total", Help: "Outbound sends by sink and result"}, []string{"sink", "result"})
		TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "allybot_task_runs_total", Help: "Scheduled job runs by name and result"}, []string{"name", "result"})
		TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "allybot_task_duration_seconds", Help: "Scheduled job duration seconds", Buckets: prometheus.DefBuckets}, []string{"name"})
		Translations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "allybot_translations_total", Help: "Translation calls by provider and result"}, []string{"provider", "result"})
		BridgeMirrored = promauto.NewCounter(prometheus.CounterOpts{Name: "allybot_bridge_mirrored_total", Help: "Messages mirrored across bridged chats"})
		Commands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "allybot_commands_total", Help: "Handled commands by route"}, []string{"command"})
		ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{Name: "allybot_config_reloads_total", Help: "Config hot reload attempts by result"}, []string{"result"})
	})
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveTick records one poller tick; result is ok, skipped or aborted.
func ObserveTick(result string, d time.Duration) {
	if PollerTicks == nil {
		return
	}
	PollerTicks.WithLabelValues(result).Inc()
	if result == "ok" {
		PollerTickDuration.Observe(d.Seconds())
	}
}

func ObserveFired(kind, trigger string) {
	if RemindersFired != nil {
		RemindersFired.WithLabelValues(kind, trigger).Inc()
	}
}

func ObserveMarkLost() {
	if MarkLost != nil {
		MarkLost.Inc()
	}
}

func ObserveDelivery(sink string, err error) {
	if Deliveries == nil {
		return
	}
	Deliveries.WithLabelValues(sink, result(err)).Inc()
}

func ObserveTranslation(provider string, translated bool) {
	if Translations == nil {
		return
	}
	r := "ok"
	if !translated {
		r = "fallback"
	}
	Translations.WithLabelValues(provider, r).Inc()
}

func ObserveCommand(route string) {
	if Commands != nil {
		Commands.WithLabelValues(route).Inc()
	}
}

func ObserveConfigReload(result string) {
	if ConfigReloads != nil {
		ConfigReloads.WithLabelValues(result).Inc()
	}
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// Consume turns scheduler and notifier bus events into metrics until ctx ends.
func Consume(ctx context.Context, bus eventbus.Bus) {
	if bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	eventbus.Drain(ctx.Done(), ch, observeEvent)
}

func observeEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeTaskFinished, eventbus.TypeTaskSkipped:
		ev, ok := e.Data.(scheduler.TaskEvent)
		if !ok || TaskRuns == nil {
			return
		}
		r := "ok"
		switch {
		case e.Type == eventbus.TypeTaskSkipped:
			r = "skipped"
		case ev.Error != "":
			r = "failed"
		}
		TaskRuns.WithLabelValues(ev.Name, r).Inc()
		if r != "skipped" {
			TaskDuration.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
		}
	case eventbus.TypeNotifySent, eventbus.TypeNotifyFailed:
		ev, ok := e.Data.(notifier.NotificationEvent)
		if !ok {
			return
		}
		sink := "channel"
		if ev.Direct {
			sink = "direct"
		}
		var err error
		if ev.Error != "" {
			err = errors.New(ev.Error)
		}
		ObserveDelivery(sink, err)
	case eventbus.TypeBridgeMirrored:
		if BridgeMirrored != nil {
			BridgeMirrored.Inc()
		}
	}
}
