package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"allybot/internal/eventbus"
	logx "allybot/pkg/logx"
)

const slowRun = 750 * time.Millisecond

// run handles one trigger of e on the cron goroutine.
func (s *Service) run(e *entry) {
	s.mu.Lock()
	cfg, parent := s.cfg, s.base
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	opt := e.opt.resolve(cfg)
	start := time.Now()
	if opt.Overlap == OverlapAllow {
		e.enter()
	} else if !e.acquire() {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", e.name), logx.Err(ErrOverlapSkip))
		s.finish(cfg, HistoryItem{Name: e.name, Started: start, Skipped: true, Error: ErrOverlapSkip.Error()})
		return
	}
	defer e.leave()

	timeout := e.timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}

	var err error
	attempts := 0
	for attempts < 1+opt.RetryMax {
		attempts++
		if err = s.attempt(parent, e, timeout); err == nil {
			break
		}
		var p *permanent
		if errors.As(err, &p) {
			err = p.err
			break
		}
		if attempts > opt.RetryMax {
			break
		}
		delay := retryDelay(opt, attempts)
		s.log.Debug("task retry scheduled", logx.String("task", e.name), logx.Int("attempt", attempts+1), logx.Duration("delay", delay), logx.Err(err))
		if !sleepCtx(parent, delay) {
			err = ErrStopped
			break
		}
	}

	item := HistoryItem{Name: e.name, Started: start, Duration: time.Since(start), Attempts: attempts}
	fields := []logx.Field{logx.String("task", e.name), logx.Duration("dur", item.Duration), logx.Int("attempts", attempts)}
	switch {
	case err != nil:
		item.Error = err.Error()
		s.log.Warn("task.failed", append(fields, logx.Err(err))...)
	case item.Duration >= slowRun:
		s.log.Info("task.completed", fields...)
	default:
		s.log.Debug("task.completed", fields...)
	}
	s.finish(cfg, item)
}

func (s *Service) attempt(parent context.Context, e *entry, timeout time.Duration) (err error) {
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", e.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return e.fn(ctx)
}

// finish records it and announces it on the bus.
func (s *Service) finish(cfg Config, it HistoryItem) {
	s.hist.push(it, cfg.HistorySize)
	if s.bus == nil {
		return
	}
	typ := eventbus.TypeTaskFinished
	if it.Skipped {
		typ = eventbus.TypeTaskSkipped
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: TaskEvent{
		Name:     it.Name,
		Started:  it.Started,
		Duration: it.Duration,
		Attempts: it.Attempts,
		Error:    it.Error,
	}})
}

// retryDelay doubles RetryBase per failed attempt, capped at RetryMaxDelay,
// then spreads it by ±RetryJitter.
func retryDelay(opt TaskOptions, failed int) time.Duration {
	d := opt.RetryBase
	for i := 1; i < failed && d < opt.RetryMaxDelay; i++ {
		d *= 2
	}
	if opt.RetryJitter > 0 {
		d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*opt.RetryJitter))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
