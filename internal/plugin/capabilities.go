package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	kit "allybot/internal/transport"
)

// Capability names accepted in plugins.<name>.allow. The manager wraps the
// ports it hands a plugin and refuses calls the allowlist does not name.
// An empty allowlist allows everything.
const (
	CapNotifySend     = "notify.send"
	CapSchedulerRead  = "scheduler.read"
	CapSchedulerWrite = "scheduler.write"
	CapAuditWrite     = "audit.write"
)

var ErrCapabilityDenied = errors.New("capability denied")

// capRef holds one plugin's allowlist. Every wrapper of that plugin shares
// it, so Update applies to running plugins. A nil set allows everything.
type capRef struct {
	set atomic.Pointer[map[string]bool]
}

func newCapRef(allow []string) *capRef {
	r := new(capRef)
	r.Update(allow)
	return r
}

func (r *capRef) Update(allow []string) {
	if len(allow) == 0 {
		r.set.Store(nil)
		return
	}
	m := make(map[string]bool, len(allow))
	for _, s := range allow {
		m[s] = s != ""
	}
	r.set.Store(&m)
}

func (r *capRef) Allows(name string) bool {
	if r == nil {
		return true
	}
	m := r.set.Load()
	return m == nil || (*m)[name]
}

func (r *capRef) check(name string) error {
	if !r.Allows(name) {
		return fmt.Errorf("%w: %s", ErrCapabilityDenied, name)
	}
	return nil
}

func gated[T any](r *capRef, name string, call func() (T, error)) (T, error) {
	if err := r.check(name); err != nil {
		var zero T
		return zero, err
	}
	return call()
}

type capNotifier struct {
	NotifierPort
	caps *capRef
}

func (n capNotifier) Notify(ctx context.Context, msg kit.Notification) error {
	_, err := gated(n.caps, CapNotifySend, func() (struct{}, error) {
		return struct{}{}, n.NotifierPort.Notify(ctx, msg)
	})
	return err
}

func (n capNotifier) SendToChannel(ctx context.Context, chatID int64, text string) error {
	_, err := gated(n.caps, CapNotifySend, func() (struct{}, error) {
		return struct{}{}, n.NotifierPort.SendToChannel(ctx, chatID, text)
	})
	return err
}

// capScheduler lets scheduler.write imply scheduler.read.
type capScheduler struct {
	SchedulerPort
	caps *capRef
}

type jobFn = func(ctx context.Context) error

func (s capScheduler) canRead() bool {
	return s.caps.Allows(CapSchedulerRead) || s.caps.Allows(CapSchedulerWrite)
}

func (s capScheduler) Enabled() bool { return s.canRead() && s.SchedulerPort.Enabled() }

func (s capScheduler) Snapshot() Snapshot {
	if !s.canRead() {
		return Snapshot{}
	}
	return s.SchedulerPort.Snapshot()
}

func (s capScheduler) AddCron(name, spec string, timeout time.Duration, job jobFn) (string, error) {
	return gated(s.caps, CapSchedulerWrite, func() (string, error) {
		return s.SchedulerPort.AddCron(name, spec, timeout, job)
	})
}

func (s capScheduler) AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job jobFn) (string, error) {
	return gated(s.caps, CapSchedulerWrite, func() (string, error) {
		return s.SchedulerPort.AddCronOpt(name, spec, timeout, opt, job)
	})
}

func (s capScheduler) AddInterval(name string, every, timeout time.Duration, job jobFn) (string, error) {
	return gated(s.caps, CapSchedulerWrite, func() (string, error) {
		return s.SchedulerPort.AddInterval(name, every, timeout, job)
	})
}

func (s capScheduler) AddIntervalOpt(name string, every, timeout time.Duration, opt TaskOptions, job jobFn) (string, error) {
	return gated(s.caps, CapSchedulerWrite, func() (string, error) {
		return s.SchedulerPort.AddIntervalOpt(name, every, timeout, opt, job)
	})
}

func (s capScheduler) AddDaily(name, at string, timeout time.Duration, job jobFn) (string, error) {
	return gated(s.caps, CapSchedulerWrite, func() (string, error) {
		return s.SchedulerPort.AddDaily(name, at, timeout, job)
	})
}

func (s capScheduler) AddWeekly(name string, day time.Weekday, at string, timeout time.Duration, job jobFn) (string, error) {
	return gated(s.caps, CapSchedulerWrite, func() (string, error) {
		return s.SchedulerPort.AddWeekly(name, day, at, timeout, job)
	})
}

func (s capScheduler) Remove(name string) bool {
	return s.caps.Allows(CapSchedulerWrite) && s.SchedulerPort.Remove(name)
}

// wrapServicesForPlugin copies s with the gated ports swapped in. The
// read-only operational ports pass through.
func wrapServicesForPlugin(s *Services, caps *capRef) *Services {
	if s == nil {
		return nil
	}
	out := *s
	if s.Scheduler != nil {
		out.Scheduler = capScheduler{SchedulerPort: s.Scheduler, caps: caps}
	}
	if s.Notifier != nil {
		out.Notifier = capNotifier{NotifierPort: s.Notifier, caps: caps}
	}
	return &out
}
