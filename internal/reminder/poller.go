package reminder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"allybot/internal/eventbus"
	"allybot/internal/schedule"
	"allybot/internal/task/scheduler"
	"allybot/internal/telemetry"
	logx "allybot/pkg/logx"

	"go.opentelemetry.io/otel/attribute"
)

const (
	JobName = "reminder.poll"

	DefaultInterval = 30 * time.Second
	MinInterval     = 5 * time.Second
	MaxInterval     = 5 * time.Minute
	DefaultHorizon  = 24 * time.Hour
)

var ErrTickSkipped = errors.New("reminder: previous tick still running")

// Store is the slice of storage the poller needs.
type Store interface {
	Pending(ctx context.Context, now time.Time, horizon time.Duration) ([]schedule.Item, error)
	TryMarkNotified(ctx context.Context, id int64, t schedule.Trigger) (bool, error)
	DeleteItem(ctx context.Context, id int64) error
	CreateNext(ctx context.Context, it schedule.Item, at time.Time) (schedule.Item, error)
}

// Notifier is satisfied by *Dispatcher. An error means nothing was sent.
type Notifier interface {
	Dispatch(ctx context.Context, it schedule.Item, trig schedule.Trigger, now time.Time) (Report, error)
}

// Scheduler registers the poll job. Satisfied by *scheduler.Service.
type Scheduler interface {
	AddIntervalOpt(name string, every, timeout time.Duration, opt scheduler.TaskOptions, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

type Config struct {
	Interval time.Duration
	// Horizon bounds how far ahead Pending looks; it must exceed the largest lead time.
	Horizon time.Duration
	Leads   schedule.LeadTimes
	// ConfirmBuffs holds buff reminders back until a giver confirmed the buff.
	ConfirmBuffs bool
}

// ClampInterval maps 0 to the default and bounds v to [5s, 5m].
func ClampInterval(v time.Duration) time.Duration {
	switch {
	case v <= 0:
		return DefaultInterval
	case v < MinInterval:
		return MinInterval
	case v > MaxInterval:
		return MaxInterval
	}
	return v
}

// FiredEvent is published on the bus for every dispatched transition.
type FiredEvent struct {
	ItemID  int64            `json:"item_id"`
	ScopeID int64            `json:"scope_id"`
	Kind    schedule.Kind    `json:"kind"`
	Trigger schedule.Trigger `json:"trigger"`
	Marked  bool             `json:"marked"`
	Report  Report           `json:"report"`
}

type Stats struct {
	Ticks      uint64 `json:"ticks"`
	Skipped    uint64 `json:"skipped"`
	Aborted    uint64 `json:"aborted"`
	LeadFired  uint64 `json:"lead_fired"`
	StartFired uint64 `json:"start_fired"`
	MarkLost   uint64 `json:"mark_lost"`
	Deleted    uint64 `json:"deleted"`
	Recurred   uint64 `json:"recurred"`
	// Unconfirmed counts buffs held back at the last tick.
	Unconfirmed  uint64        `json:"unconfirmed"`
	Interval     time.Duration `json:"interval"`
	LastTick     time.Time     `json:"last_tick"`
	LastDuration time.Duration `json:"last_duration"`
	LastErr      string        `json:"last_err,omitempty"`
}

type Poller struct {
	store Store
	disp  Notifier
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	running atomic.Bool

	mu    sync.Mutex
	cfg   Config
	stats Stats
}

func NewPoller(cfg Config, store Store, disp Notifier, log logx.Logger, bus eventbus.Bus) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{store: store, disp: disp, bus: bus, log: log, now: time.Now}
	p.Apply(cfg)
	return p
}

func (p *Poller) Apply(cfg Config) {
	cfg.Interval = ClampInterval(cfg.Interval)
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}
	if cfg.Leads == nil {
		cfg.Leads = schedule.DefaultLeadTimes()
	}
	p.mu.Lock()
	p.cfg = cfg
	p.stats.Interval = cfg.Interval
	p.mu.Unlock()
}

func (p *Poller) config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Register (re)installs the poll job on s with the current interval.
// Overlapping triggers are skipped by the scheduler as well as by Tick.
func (p *Poller) Register(s Scheduler) error {
	cfg := p.config()
	_, err := s.AddIntervalOpt(JobName, cfg.Interval, 0, scheduler.TaskOptions{
		Overlap:  scheduler.OverlapSkipIfRunning,
		RetryMax: -1,
	}, p.Run)
	if err != nil {
		return fmt.Errorf("register %s: %w", JobName, err)
	}
	p.log.Info("poller registered", logx.Duration("interval", cfg.Interval), logx.Duration("horizon", cfg.Horizon))
	return nil
}

// Run is the scheduler job body. A skipped tick is not a failure.
func (p *Poller) Run(ctx context.Context) error {
	err := p.Tick(ctx, p.now())
	if errors.Is(err, ErrTickSkipped) {
		return nil
	}
	return err
}

// Tick performs one reconciliation pass at now.
//
// For every match the dispatcher runs before the flag is marked. A false
// mark means another actor already made the transition (or the item was
// closed meanwhile); it is logged only. ErrStoreUnavailable aborts the rest
// of the tick; the next tick retries from the persisted flags.
func (p *Poller) Tick(ctx context.Context, now time.Time) (err error) {
	if !p.running.CompareAndSwap(false, true) {
		p.bump(func(s *Stats) { s.Skipped++ })
		telemetry.ObserveTick("skipped", 0)
		p.publish(eventbus.TypeReminderSkipped, nil)
		p.log.Debug("tick skipped; previous tick still running")
		return ErrTickSkipped
	}
	defer p.running.Store(false)

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "reminder.tick", attribute.String("now", now.UTC().Format(time.RFC3339)))
	defer func() {
		dur := time.Since(start)
		result := "ok"
		if err != nil {
			result = "aborted"
		}
		p.bump(func(s *Stats) {
			s.Ticks++
			s.LastTick = now
			s.LastDuration = dur
			s.LastErr = ""
			if err != nil {
				s.Aborted++
				s.LastErr = err.Error()
			}
		})
		telemetry.ObserveTick(result, dur)
		telemetry.EndSpan(span, err)
	}()

	cfg := p.config()
	items, err := p.store.Pending(ctx, now, cfg.Horizon)
	if err != nil {
		p.log.Error("tick aborted: load pending", logx.Err(err))
		return fmt.Errorf("load pending: %w", err)
	}
	if cfg.ConfirmBuffs {
		before := len(items)
		items = slices.DeleteFunc(items, schedule.Item.NeedsConfirmation)
		held := uint64(before - len(items))
		p.bump(func(s *Stats) { s.Unconfirmed = held })
	}
	lead, startDue := schedule.Match(items, now, cfg.Leads)
	if len(lead)+len(startDue) > 0 {
		p.log.Debug("tick matched", logx.Int("pending", len(items)), logx.Int("lead", len(lead)), logx.Int("start", len(startDue)))
	}

	for _, it := range lead {
		if err := p.fire(ctx, it, schedule.TriggerLead, now); err != nil {
			return err
		}
	}
	for _, it := range startDue {
		if err := p.fire(ctx, it, schedule.TriggerStart, now); err != nil {
			return err
		}
	}
	return nil
}

// fire dispatches then marks one transition. Only store outages are
// returned; a dispatch that could not load its recipients leaves the flag
// unset for the next tick.
func (p *Poller) fire(ctx context.Context, it schedule.Item, trig schedule.Trigger, now time.Time) error {
	log := p.log.With(logx.Item(it.ID, string(it.Kind)), logx.String("trigger", string(trig)))

	rep, err := p.disp.Dispatch(ctx, it, trig, now)
	if err != nil {
		log.Error("tick aborted: dispatch", logx.Err(err))
		return fmt.Errorf("dispatch item %d %s: %w", it.ID, trig, err)
	}
	marked, err := p.store.TryMarkNotified(ctx, it.ID, trig)
	if err != nil {
		if errors.Is(err, schedule.ErrStoreUnavailable) {
			log.Error("tick aborted: mark notified", logx.Err(err))
			return fmt.Errorf("mark item %d %s: %w", it.ID, trig, err)
		}
		log.Warn("mark notified failed", logx.Err(err))
		return nil
	}

	telemetry.ObserveFired(string(it.Kind), string(trig))
	p.publish(eventbus.TypeReminderFired, FiredEvent{ItemID: it.ID, ScopeID: it.ScopeID, Kind: it.Kind, Trigger: trig, Marked: marked, Report: rep})
	if !marked {
		telemetry.ObserveMarkLost()
		p.bump(func(s *Stats) { s.MarkLost++ })
		log.Info("transition already applied elsewhere")
		return nil
	}
	p.bump(func(s *Stats) {
		if trig == schedule.TriggerLead {
			s.LeadFired++
		} else {
			s.StartFired++
		}
	})
	if !rep.Delivered() && rep.DirectFailed+rep.ChannelFailed > 0 {
		log.Warn("notified flag set but every sink failed", logx.Int("failed", rep.DirectFailed+rep.ChannelFailed))
	}

	if trig != schedule.TriggerStart {
		return nil
	}
	return p.afterStart(ctx, it, now, log)
}

// afterStart deletes fired reminders and books the next occurrence of
// recurring items. Occurrences that passed while the bot was down are
// skipped.
func (p *Poller) afterStart(ctx context.Context, it schedule.Item, now time.Time, log logx.Logger) error {
	if it.Kind == schedule.KindReminder {
		err := p.store.DeleteItem(ctx, it.ID)
		switch {
		case err == nil:
			p.bump(func(s *Stats) { s.Deleted++ })
			log.Debug("reminder deleted after firing")
		case errors.Is(err, schedule.ErrStoreUnavailable):
			return fmt.Errorf("delete reminder %d: %w", it.ID, err)
		case errors.Is(err, schedule.ErrNotFound):
		default:
			log.Warn("delete fired reminder failed", logx.Err(err))
		}
		return nil
	}
	if it.Recurrence == "" {
		return nil
	}
	next, ok, err := schedule.NextOccurrence(it.Recurrence, it.ScheduledAt, now)
	if err != nil {
		log.Warn("recurrence rule rejected", logx.String("rule", it.Recurrence), logx.Err(err))
		return nil
	}
	if !ok {
		log.Info("recurrence finished", logx.String("rule", it.Recurrence))
		return nil
	}
	created, err := p.store.CreateNext(ctx, it, next)
	if err != nil {
		if errors.Is(err, schedule.ErrStoreUnavailable) {
			return fmt.Errorf("create next occurrence of %d: %w", it.ID, err)
		}
		log.Warn("create next occurrence failed", logx.Err(err))
		return nil
	}
	p.bump(func(s *Stats) { s.Recurred++ })
	log.Info("next occurrence created", logx.Int64("next_id", created.ID), logx.Time("at", created.ScheduledAt))
	return nil
}

func (p *Poller) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Poller) bump(fn func(s *Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

func (p *Poller) publish(typ string, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
