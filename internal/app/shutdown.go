package app

import (
	"context"
	"fmt"
	"time"

	"allybot/internal/plugin"
	logx "allybot/pkg/logx"
)

// StopReason is logged on shutdown and passed to every plugin's Stop.
type StopReason = plugin.StopReason

const (
	StopAppStop StopReason = plugin.StopAppStop
	StopSIGINT  StopReason = "sigint"
	StopSIGTERM StopReason = "sigterm"
	StopFatal   StopReason = "fatal_error"
)

const slowStep = 500 * time.Millisecond

type stopStep struct {
	name  string
	limit time.Duration
	fn    func(context.Context) error
}

// Stop shuts components down in reverse dependency order. Each step has its
// own budget inside ctx; a step that overruns is left behind and logged.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	steps := []stopStep{
		{"plugins", 4 * time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil }},
		{"scheduler", 3 * time.Second, func(c context.Context) error { a.sched.Stop(c); return nil }},
		{"http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil }},
		{"notifier", 2 * time.Second, func(c context.Context) error { a.notif.Stop(c); return nil }},
		{"adapter", 2 * time.Second, a.adapter.Stop},
		{"tracing", 2 * time.Second, func(c context.Context) error {
			if a.stopTracing != nil {
				a.stopTracing(c)
			}
			return nil
		}},
		{"storage", time.Second, func(context.Context) error {
			if a.store == nil {
				return nil
			}
			return a.store.Close()
		}},
		{"supervisor", 2 * time.Second, a.sup.Wait},
	}
	for _, s := range steps {
		a.runStep(ctx, s)
	}

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

func (a *App) runStep(parent context.Context, s stopStep) {
	start := time.Now()
	limit := s.limit
	if dl, ok := parent.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	a.log.Debug("stop step begin", logx.String("name", s.name), logx.Duration("max", limit))
	ctx, cancel := parent, context.CancelFunc(func() {})
	if limit > 0 {
		ctx, cancel = context.WithTimeout(parent, limit)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", s.name, r)
			}
		}()
		done <- s.fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", s.name), logx.Err(err))
		}
		if took := time.Since(start); took >= slowStep {
			a.log.Info("stop step end", logx.String("name", s.name), logx.Duration("took", took))
		}
	case <-ctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", s.name), logx.Err(ctx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Warn("stop step finished after deadline", logx.String("name", s.name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
