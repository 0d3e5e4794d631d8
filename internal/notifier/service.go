package notifier

import (
	"context"
	"strconv"
	"sync"

	"allybot/internal/eventbus"
	rtsup "allybot/internal/runtime/supervisor"
	kit "allybot/internal/transport"
	logx "allybot/pkg/logx"

	"golang.org/x/time/rate"
)

// Service is safe for concurrent use.
type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	pool    *pool // nil while stopped

	hist history
}

// pool is one Start..Stop generation of the worker queue. gate orders
// Notify's enqueue against Stop closing the queue.
type pool struct {
	gate   sync.RWMutex
	closed bool
	queue  chan kit.Notification
	sup    *rtsup.Supervisor
	done   chan struct{}
}

func (p *pool) draining() bool {
	p.gate.RLock()
	defer p.gate.RUnlock()
	return p.closed
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log, bus: bus}
	s.Apply(cfg)
	return s
}

func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil
	}
	return s.pool.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply retunes the shared limiter in place so waiters pick up the new rate.
// Worker count and queue size take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.Burst)
}

// Start launches the workers. A Start during Stop waits for the drain.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	prev := s.pool
	s.mu.Unlock()
	if prev != nil {
		if !prev.draining() {
			return
		}
		select {
		case <-prev.done:
		case <-ctx.Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil || !s.cfg.Enabled {
		return
	}
	p := &pool{
		queue: make(chan kit.Notification, s.cfg.QueueSize),
		// Delivery is best effort; a failing worker never cancels its peers.
		sup:  rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
		done: make(chan struct{}),
	}
	s.pool = p
	for i := range s.cfg.Workers {
		p.sup.GoRestart("worker."+strconv.Itoa(i), func(c context.Context) error {
			s.work(c, p.queue)
			return nil
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("service started", logx.Int("workers", s.cfg.Workers))
}

// Stop closes intake and lets the workers drain the queue until ctx is
// done, after which they are cancelled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()
	if p == nil {
		return
	}

	p.gate.Lock()
	first := !p.closed
	if first {
		p.closed = true
		close(p.queue)
	}
	p.gate.Unlock()

	if first {
		go func() {
			_ = p.sup.Wait(context.Background())
			s.mu.Lock()
			if s.pool == p {
				s.pool = nil
			}
			s.mu.Unlock()
			close(p.done)
		}()
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

// Notify queues n without blocking.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	enabled, p := s.cfg.Enabled, s.pool
	s.mu.Unlock()
	switch {
	case !enabled:
		return ErrDisabled
	case p == nil:
		return ErrStopped
	}

	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.closed {
		return ErrStopped
	}
	select {
	case p.queue <- n:
		return nil
	default:
		s.publish(eventOf(n, ErrQueueFull))
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() []HistoryItem { return s.hist.list() }

func (s *Service) settings() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

func (s *Service) publish(ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	typ := eventbus.TypeNotifySent
	if ev.Error != "" {
		typ = eventbus.TypeNotifyFailed
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
