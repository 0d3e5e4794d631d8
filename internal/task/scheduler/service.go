package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"allybot/internal/eventbus"
	logx "allybot/pkg/logx"

	"github.com/robfig/cron/v3"
)

const defaultHistorySize = 200

// Seconds are optional so both 5- and 6-field expressions parse.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	c       *cron.Cron
	entries map[string]*entry
	order   []string

	// base parents every run; Stop cancels it once cron has drained.
	base   context.Context
	cancel context.CancelFunc

	hist history
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Running bool
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled        bool
	Started        bool
	Timezone       string
	DefaultTimeout time.Duration
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	Schedules      []ScheduleInfo
	History        []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, bus: bus, cfg: cfg, entries: map[string]*entry{}}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change rebuilds the running cron so
// next-run times follow the new zone.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		<-s.c.Stop().Done()
		s.bootLocked("service restarted")
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.c != nil:
		return
	case !s.cfg.Enabled:
		s.log.Info("scheduler disabled")
		return
	}
	s.base, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.bootLocked("service started")
}

// Stop halts triggers and waits for running jobs until ctx is done, then
// cancels whatever is still going.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	for _, e := range s.entries {
		e.id = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn("stop deadline reached with runs in flight", logx.Err(ctx.Err()))
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) bootLocked(msg string) {
	s.loc = s.zoneLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(specParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	for _, name := range s.order {
		s.scheduleLocked(s.entries[name])
	}
	s.c.Start()
	s.log.Info(msg, logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.order)))
}

func (s *Service) zoneLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, c, loc := s.cfg, s.c, s.loc
	infos := make([]ScheduleInfo, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		info := ScheduleInfo{Name: e.name, Spec: e.spec, Timeout: e.timeout, Running: e.busy()}
		if c != nil && e.id != 0 {
			ce := c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		infos = append(infos, info)
	}
	s.mu.Unlock()

	tz := cfg.Timezone
	if tz == "" {
		if loc == nil {
			loc = time.Local
		}
		tz = loc.String()
	}
	opt := DefaultTaskOptions(cfg)
	return Snapshot{
		Enabled:        cfg.Enabled,
		Started:        c != nil,
		Timezone:       tz,
		DefaultTimeout: cfg.DefaultTimeout,
		RetryMax:       opt.RetryMax,
		RetryBase:      opt.RetryBase,
		RetryMaxDelay:  opt.RetryMaxDelay,
		Schedules:      infos,
		History:        s.hist.list(),
	}
}
