package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"allybot/internal/runtime/supervisor"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"
)

// workPool is the queue between the update loop and the handler workers.
// offer never blocks; a full queue is reported back to the user as busy.
type workPool struct {
	jobs chan func()

	mu  sync.Mutex
	sup *Supervisor
}

func newWorkPool(size int) *workPool { return &workPool{jobs: make(chan func(), size)} }

func (p *workPool) supervisor() *Supervisor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sup
}

func (p *workPool) setSupervisor(s *Supervisor) {
	p.mu.Lock()
	p.sup = s
	p.mu.Unlock()
}

// offer reports false on a full queue and after the pool has been closed.
func (p *workPool) offer(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case p.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx ends or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log), supervisor.WithCancelOnError(false))
	m.pool.setSupervisor(sup)
	if m.serv != nil && m.serv.RuntimeSupervisors != nil {
		m.serv.RuntimeSupervisors.Set(compName, sup)
	}
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.pool.jobs)))

	for i := range workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			return m.work(c, i)
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
		)
	}
	defer m.drain(sup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) work(ctx context.Context, worker int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-m.pool.jobs:
			if !ok {
				return nil
			}
			m.runJob(worker, job)
		}
	}
}

func (m *CommandManager) drain(sup *Supervisor) {
	m.pool.setSupervisor(nil)
	close(m.pool.jobs)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	_ = sup.Wait(ctx)
	cancel()
	if m.serv != nil && m.serv.RuntimeSupervisors != nil {
		m.serv.RuntimeSupervisors.Delete(compName)
	}
	m.log.Info("command dispatcher stopped")
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}
