package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "allybot/pkg/logx"
)

const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
	// A run that lasted this long resets the backoff.
	healthyRun = 30 * time.Second
)

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max time.Duration
	publish  bool
}

// WithRestartBackoff bounds the exponential wait between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithPublishFirstError surfaces a restarted failure through Err.
func WithPublishFirstError(on bool) RestartOption {
	return func(p *restartPolicy) { p.publish = on }
}

// next returns the wait after a failure with prev as the last backoff,
// plus up to 20% jitter.
func (p restartPolicy) next(prev time.Duration) (time.Duration, time.Duration) {
	base := min(max(prev, p.min), p.max)
	wait := base
	if j := int64(base) / 5; j > 0 {
		wait += time.Duration(rand.Int64N(j + 1))
	}
	return wait, min(base*2, p.max)
}

// GoRestart keeps fn running until the context ends or fn returns nil.
// Errors and panics trigger a restart after a jittered backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: defaultMinBackoff, max: defaultMaxBackoff}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.spawn(func() {
		backoff := p.min
		for restart := false; s.ctx.Err() == nil; restart = true {
			r := s.stats.begin(name, restart)
			err := s.call(name, fn)
			if s.ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				r.end(nil)
				return
			}
			err = fmt.Errorf("%s: %w", name, err)
			r.end(err)
			if p.publish {
				s.record(err)
			}

			if time.Since(r.at) >= healthyRun {
				backoff = p.min
			}
			var wait time.Duration
			wait, backoff = p.next(backoff)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	})
}
