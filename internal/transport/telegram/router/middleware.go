package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	logx "allybot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Successful requests slower than this log at info.
const slowRequest = 750 * time.Millisecond

// Chain applies m so that m[0] is outermost.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for _, mw := range slices.Backward(m) {
		h = mw(h)
	}
	return h
}

// wrap is the stack every command and callback handler runs under.
func (m *CommandManager) wrap(h HandlerFunc, timeout time.Duration) HandlerFunc {
	return Chain(h, withReqID, recoverPanic(m.log), logRequest(m.log), withTimeout(timeout))
}

func loggerFor(req *Request, fallback logx.Logger) logx.Logger {
	if req == nil || req.Logger.IsZero() {
		return fallback
	}
	return req.Logger
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

func withReqID(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if req != nil && req.ReqID != "" {
			ctx = logx.WithReqID(ctx, req.ReqID)
		}
		return next(ctx, req)
	}
}

func recoverPanic(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					loggerFor(req, log).Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func logRequest(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := loggerFor(req, log).With(logx.String("kind", string(req.Update.Kind)), logx.Duration("dur", took))
			if err != nil {
				l.Warn("request failed", logx.Err(err))
			} else if took >= slowRequest {
				l.Info("slow request")
			} else {
				l.Debug("request ok")
			}
			return err
		}
	}
}
