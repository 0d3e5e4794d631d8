package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNameRequired = errors.New("schedule name required")
	ErrOverlapSkip  = errors.New("task skipped due to overlap policy")
	ErrStopped      = errors.New("scheduler stopped")
)

const (
	defaultRetryBase  = 500 * time.Millisecond
	defaultRetryDelay = 15 * time.Second
	defaultJitter     = 0.2
)

// Config is the runtime-adjustable part of the service. Timezone takes an
// IANA name; empty means the host zone.
type Config struct {
	Enabled        bool
	DefaultTimeout time.Duration // used when a job registers with timeout 0
	HistorySize    int
	Timezone       string
	RetryMax       int
}

type OverlapPolicy int

const (
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

// TaskOptions tunes one job. Zero values inherit from Config, a negative
// RetryMax turns retries off.
type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64
}

func (o TaskOptions) resolve(cfg Config) TaskOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	o.RetryMax = max(o.RetryMax, 0)
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = defaultRetryDelay
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = defaultJitter
	}
	if o.Overlap != OverlapAllow {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

func DefaultTaskOptions(cfg Config) TaskOptions { return TaskOptions{}.resolve(cfg) }

// NoRetry wraps err so the run ends after the current attempt.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err}
}

func IsNoRetry(err error) bool {
	var p *permanent
	return errors.As(err, &p)
}

type permanent struct{ err error }

func (p *permanent) Error() string { return fmt.Sprintf("no-retry: %v", p.err) }
func (p *permanent) Unwrap() error { return p.err }
