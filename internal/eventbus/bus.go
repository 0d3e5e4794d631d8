// Package eventbus is the in-process fanout used for metrics, audit and
// cross-plugin signals. Nothing on it is durable.
package eventbus

import (
	"slices"
	"sync"
	"time"
)

// Event types published by the bot.
const (
	TypeTaskFinished    = "task.finished"
	TypeTaskSkipped     = "task.skipped"
	TypeReminderFired   = "reminder.fired"
	TypeReminderSkipped = "reminder.tick_skipped"
	TypeNotifySent      = "notifier.sent"
	TypeNotifyFailed    = "notifier.failed"
	TypeItemCreated     = "schedule.item_created"
	TypeItemClosed      = "schedule.item_closed"
	TypeBuffConfirmed   = "schedule.buff_confirmed"
	TypeBridgeMirrored  = "bridge.mirrored"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks a publisher. A subscriber whose buffer is full misses
// the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

const defaultBuffer = 8

type subscriber struct {
	ch chan Event
}

type memBus struct {
	// mu is held for reading while sending, so unsubscribe can close a
	// channel only once no Publish is using it.
	mu   sync.RWMutex
	subs []*subscriber
}

// New returns a bus that owns no goroutines.
func New() Bus { return &memBus{} }

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs = slices.DeleteFunc(b.subs, func(x *subscriber) bool { return x == s })
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Drain calls fn for each event until ch is closed or done fires.
func Drain(done <-chan struct{}, ch <-chan Event, fn func(Event)) {
	for {
		select {
		case <-done:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			fn(e)
		}
	}
}
