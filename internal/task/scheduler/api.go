package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	logx "allybot/pkg/logx"

	"github.com/robfig/cron/v3"
)

type JobFunc = func(ctx context.Context) error

// AddSchedule accepts anything ParseSchedule does.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job JobFunc) (string, error) {
	return s.AddScheduleOpt(name, schedule, timeout, TaskOptions{}, job)
}

func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt TaskOptions, job JobFunc) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	if ps.Kind == SpecInterval {
		return s.AddIntervalOpt(name, ps.Every, timeout, opt, job)
	}
	return s.AddCronOpt(name, ps.Cron, timeout, opt, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job JobFunc) (string, error) {
	return s.AddCronOpt(name, spec, timeout, TaskOptions{}, job)
}

// AddCronOpt validates spec up front, whether or not the service runs.
func (s *Service) AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job JobFunc) (string, error) {
	spec = strings.TrimSpace(spec)
	if _, err := specParser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s.upsert(&entry{name: name, spec: spec, timeout: timeout, opt: opt, fn: job})
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job JobFunc) (string, error) {
	return s.AddIntervalOpt(name, every, timeout, TaskOptions{}, job)
}

func (s *Service) AddIntervalOpt(name string, every, timeout time.Duration, opt TaskOptions, job JobFunc) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.upsert(&entry{name: name, spec: "@every " + every.String(), every: every, timeout: timeout, opt: opt, fn: job})
}

// AddDaily fires at HH:MM in the service timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job JobFunc) (string, error) {
	return s.addClock(name, atHHMM, "*", timeout, job)
}

func (s *Service) AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job JobFunc) (string, error) {
	return s.addClock(name, atHHMM, fmt.Sprint(int(weekday)), timeout, job)
}

func (s *Service) addClock(name, atHHMM, dow string, timeout time.Duration, job JobFunc) (string, error) {
	h, m, err := clockTime(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * %s", m, h, dow), timeout, job)
}

// Remove reports whether name was registered.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	ok := name != "" && s.dropLocked(name)
	s.mu.Unlock()
	if ok {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return ok
}

func (s *Service) upsert(e *entry) (string, error) {
	e.name = strings.TrimSpace(e.name)
	if e.name == "" {
		return "", ErrNameRequired
	}
	if e.fn == nil {
		return "", fmt.Errorf("schedule %q: job required", e.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(e.name)
	s.entries[e.name] = e
	s.order = append(s.order, e.name)
	if s.c == nil {
		return e.name, nil
	}
	s.scheduleLocked(e)
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered",
			logx.String("name", e.name),
			logx.String("spec", e.spec),
			logx.Duration("timeout", e.timeout),
			logx.String("next", s.upcomingLocked(e, 3)))
	}
	return e.name, nil
}

func (s *Service) dropLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil && e.id != 0 {
		s.c.Remove(e.id)
	}
	e.id = 0
	delete(s.entries, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true
}

func (s *Service) scheduleLocked(e *entry) {
	sched, err := e.schedule()
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", e.name), logx.String("spec", e.spec), logx.Err(err))
		return
	}
	e.id = s.c.Schedule(sched, cron.FuncJob(func() { s.run(e) }))
}

func (e *entry) schedule() (cron.Schedule, error) {
	if e.every > 0 {
		return cron.Every(e.every), nil
	}
	return specParser.Parse(e.spec)
}

func (s *Service) upcomingLocked(e *entry, n int) string {
	sched, err := e.schedule()
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	out := make([]string, 0, n)
	for range n {
		if t = sched.Next(t); t.IsZero() {
			break
		}
		out = append(out, t.Format(time.DateTime))
	}
	return strings.Join(out, ", ")
}
