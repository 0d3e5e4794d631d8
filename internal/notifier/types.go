package notifier

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	defaultWorkers     = 2
	defaultQueueSize   = 512
	defaultRatePerSec  = 3
	defaultSendTimeout = 10 * time.Second
	defaultRetryBase   = 500 * time.Millisecond
	defaultRetryDelay  = 10 * time.Second
	defaultHistorySize = 300
)

type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	Burst         int // defaults to RatePerSec
	SendTimeout   time.Duration
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	HistorySize   int
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func (c Config) normalized() Config {
	c.Workers = orDefault(c.Workers, defaultWorkers)
	c.QueueSize = orDefault(c.QueueSize, defaultQueueSize)
	c.RatePerSec = orDefault(c.RatePerSec, defaultRatePerSec)
	c.Burst = orDefault(c.Burst, c.RatePerSec)
	c.SendTimeout = orDefault(c.SendTimeout, defaultSendTimeout)
	c.RetryMax = max(c.RetryMax, 0)
	c.RetryBase = orDefault(c.RetryBase, defaultRetryBase)
	c.RetryMaxDelay = orDefault(c.RetryMaxDelay, defaultRetryDelay)
	c.HistorySize = orDefault(c.HistorySize, defaultHistorySize)
	return c
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
	Direct bool
	Error  string
}

// NotificationEvent is published as notify.sent or notify.failed.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Direct   bool      `json:"direct,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

type history struct {
	mu    sync.Mutex
	items []HistoryItem
}

func (h *history) add(it HistoryItem, limit int) {
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
