package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"allybot/internal/eventbus"
	"allybot/internal/notifier"
	"allybot/internal/task/scheduler"
	logx "allybot/pkg/logx"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	if PollerTicks == nil || Deliveries == nil || TaskRuns == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestObserveEvents(t *testing.T) {
	Init()
	before := testutil.ToFloat64(TaskRuns.WithLabelValues("reminder.poll", "skipped"))
	observeEvent(eventbus.Event{Type: eventbus.TypeTaskSkipped, Data: scheduler.TaskEvent{Name: "reminder.poll"}})
	if got := testutil.ToFloat64(TaskRuns.WithLabelValues("reminder.poll", "skipped")); got != before+1 {
		t.Fatalf("skipped runs = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(Deliveries.WithLabelValues("direct", "failed"))
	observeEvent(eventbus.Event{Type: eventbus.TypeNotifyFailed, Data: notifier.NotificationEvent{Direct: true, Error: "blocked"}})
	if got := testutil.ToFloat64(Deliveries.WithLabelValues("direct", "failed")); got != before+1 {
		t.Fatalf("direct failures = %v", got)
	}
}

func TestConsumeStopsOnCancel(t *testing.T) {
	Init()
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { Consume(ctx, bus); close(done) }()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return")
	}
}

func TestObserveHelpersTolerateErrors(t *testing.T) {
	Init()
	ObserveTick("ok", 10*time.Millisecond)
	ObserveDelivery("channel", errors.New("x"))
	ObserveTranslation("deepl", false)
	ObserveFired("buff", "lead")
	if got := testutil.ToFloat64(Translations.WithLabelValues("deepl", "fallback")); got < 1 {
		t.Fatalf("fallback translations = %v", got)
	}
}

func TestInitTracingNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("allybot", "test", logx.Nop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown(context.Background())
	_, span := StartSpan(context.Background(), "noop")
	EndSpan(span, nil)
}
