package supervisor

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// GoroutineStats aggregates every run under one name.
type GoroutineStats struct {
	Name         string        `json:"name"`
	Active       int64         `json:"active"`
	Started      uint64        `json:"started"`
	Panics       uint64        `json:"panics"`
	Restarts     uint64        `json:"restarts"`
	LastStartAt  time.Time     `json:"last_start_at"`
	LastStopAt   time.Time     `json:"last_stop_at"`
	LastErr      string        `json:"last_err,omitempty"`
	LastPanic    string        `json:"last_panic,omitempty"`
	TotalRuntime time.Duration `json:"total_runtime"`
}

type Snapshot struct {
	Active     int64            `json:"active"`
	Started    uint64           `json:"started"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

type registry struct {
	launched atomic.Uint64
	live     atomic.Int64

	mu     sync.Mutex
	byName map[string]*GoroutineStats
}

func (g *registry) with(name string, fn func(*GoroutineStats)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.byName == nil {
		g.byName = map[string]*GoroutineStats{}
	}
	st, ok := g.byName[name]
	if !ok {
		st = &GoroutineStats{Name: name}
		g.byName[name] = st
	}
	fn(st)
}

type run struct {
	g    *registry
	name string
	at   time.Time
}

func (g *registry) begin(name string, restart bool) run {
	now := time.Now()
	g.with(name, func(st *GoroutineStats) {
		st.Started++
		st.Active++
		st.LastStartAt = now
		if restart {
			st.Restarts++
		}
	})
	return run{g: g, name: name, at: now}
}

func (r run) end(err error) {
	now := time.Now()
	r.g.with(r.name, func(st *GoroutineStats) {
		st.Active = max(st.Active-1, 0)
		st.LastStopAt = now
		st.TotalRuntime += now.Sub(r.at)
		if err != nil {
			st.LastErr = err.Error()
		}
	})
}

func (g *registry) panicked(name string, p any) {
	g.with(name, func(st *GoroutineStats) {
		st.Panics++
		st.LastPanic = fmt.Sprint(p)
	})
}

// Snapshot lists busy names first.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Active: s.stats.live.Load(), Started: s.stats.launched.Load()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.stats.mu.Lock()
	for _, st := range s.stats.byName {
		snap.Goroutines = append(snap.Goroutines, *st)
	}
	s.stats.mu.Unlock()
	slices.SortFunc(snap.Goroutines, func(a, b GoroutineStats) int {
		if c := cmp.Compare(b.Active, a.Active); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return snap
}
