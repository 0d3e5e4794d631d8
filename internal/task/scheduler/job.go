package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// entry is one registered job. A re-registration under the same name
// creates a fresh entry, so in-flight runs of the old one keep their own
// counter.
type entry struct {
	name    string
	spec    string // "@every <d>" for intervals
	every   time.Duration
	timeout time.Duration
	opt     TaskOptions
	fn      func(ctx context.Context) error

	id       cron.EntryID
	inflight atomic.Int32
}

func (e *entry) acquire() bool { return e.inflight.CompareAndSwap(0, 1) }

func (e *entry) enter() { e.inflight.Add(1) }

func (e *entry) leave() { e.inflight.Add(-1) }

func (e *entry) busy() bool { return e.inflight.Load() > 0 }

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Attempts int
	Skipped  bool
	Error    string
}

// TaskEvent is published as task.finished or task.skipped.
type TaskEvent struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

// history keeps the newest items up to a limit that may change between
// pushes.
type history struct {
	mu    sync.Mutex
	items []HistoryItem
}

func (h *history) push(it HistoryItem, limit int) {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, it)
	if over := len(h.items) - limit; over > 0 {
		h.items = append(h.items[:0:0], h.items[over:]...)
	}
}

func (h *history) list() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem(nil), h.items...)
}
