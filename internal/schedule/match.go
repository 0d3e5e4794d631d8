package schedule

import (
	"sort"
	"time"
)

// LeadTimes maps a kind to how long before ScheduledAt its lead reminder is due.
// A missing or non-positive entry disables lead reminders for that kind.
type LeadTimes map[Kind]time.Duration

// DefaultLeadTimes returns the built-in lead times per kind.
func DefaultLeadTimes() LeadTimes {
	return LeadTimes{
		KindBuff:    5 * time.Minute,
		KindEvent:   15 * time.Minute,
		KindWarplan: 30 * time.Minute,
	}
}

func (l LeadTimes) For(k Kind) time.Duration {
	if l == nil {
		return 0
	}
	d := l[k]
	if d < 0 {
		return 0
	}
	return d
}

// LeadDue reports whether the lead reminder of it is due at now.
// The window is [ScheduledAt-lead, ScheduledAt); once the item has started
// the lead reminder is never due again.
func LeadDue(it Item, now time.Time, lead time.Duration) bool {
	if !it.Open() || it.LeadSent || lead <= 0 {
		return false
	}
	at := it.ScheduledAt
	return !at.Add(-lead).After(now) && at.After(now)
}

// StartDue reports whether the start notification of it is due at now.
func StartDue(it Item, now time.Time) bool {
	if !it.Open() || it.StartSent {
		return false
	}
	return !it.ScheduledAt.After(now)
}

// Match splits items into the lead-due and start-due sets at now.
// The sets are disjoint and each is ordered by ScheduledAt, then ID.
func Match(items []Item, now time.Time, leads LeadTimes) (lead, start []Item) {
	for _, it := range items {
		switch {
		case StartDue(it, now):
			start = append(start, it)
		case LeadDue(it, now, leads.For(it.Kind)):
			lead = append(lead, it)
		}
	}
	sortItems(lead)
	sortItems(start)
	return lead, start
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].ScheduledAt.Equal(items[j].ScheduledAt) {
			return items[i].ScheduledAt.Before(items[j].ScheduledAt)
		}
		return items[i].ID < items[j].ID
	})
}
