// Package supervisor owns the long-running goroutines of one subsystem.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "allybot/pkg/logx"
)

// Supervisor runs named goroutines under a shared context. Panics are
// recovered and counted, the first failure is kept for health output and
// Wait bounds a graceful stop.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool
	onPanic     func(name string)

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	first atomic.Pointer[error]
	stats registry
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels every goroutine once any Go'd function fails.
func WithCancelOnError(on bool) Option { return func(s *Supervisor) { s.cancelOnErr = on } }

// WithPanicHook runs fn after each recovered panic.
func WithPanicHook(fn func(name string)) Option { return func(s *Supervisor) { s.onPanic = fn } }

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop(), done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals every goroutine without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first recorded failure.
func (s *Supervisor) Err() error {
	if p := s.first.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) record(err error) {
	if err != nil {
		s.first.CompareAndSwap(nil, &err)
	}
}

// Go runs fn once. context.Canceled counts as a clean return.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(func() {
		r := s.stats.begin(name, false)
		err := s.call(name, fn)
		if err == nil || errors.Is(err, context.Canceled) {
			r.end(nil)
			return
		}
		err = fmt.Errorf("%s: %w", name, err)
		r.end(err)
		s.record(err)
		if s.cancelOnErr {
			s.cancel()
		}
	})
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) spawn(body func()) {
	s.stats.launched.Add(1)
	s.stats.live.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.stats.live.Add(-1)
		body()
	}()
}

// call invokes fn with the supervisor context, converting a panic into an
// error.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.stats.panicked(name, r)
		s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		if s.onPanic != nil {
			s.onPanic(name)
		}
		err = fmt.Errorf("panic: %v", r)
	}()
	return fn(s.ctx)
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait returns Err once every goroutine has exited, or ctx.Err if ctx
// ends first.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
