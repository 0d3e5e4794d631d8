package schedule

import (
	"fmt"
	"strings"
)

// Status is a participant status. The valid set depends on the item kind.
type Status string

const (
	StatusYes   Status = "yes"
	StatusMaybe Status = "maybe"
	StatusNo    Status = "no"

	StatusClaimed   Status = "claimed"
	StatusDone      Status = "done"
	StatusUnclaimed Status = "unclaimed"
)

var (
	rsvpStatuses = []Status{StatusYes, StatusMaybe, StatusNo}
	taskStatuses = []Status{StatusClaimed, StatusDone, StatusUnclaimed}
)

// StatusesFor returns the statuses accepted for kind, in display order.
// Reminders have no participants.
func StatusesFor(k Kind) []Status {
	switch k {
	case KindBuff, KindEvent, KindWarplan:
		return rsvpStatuses
	case KindTask:
		return taskStatuses
	default:
		return nil
	}
}

// NotifyStatus is the status whose holders receive direct notifications
// and occupy capacity slots.
func NotifyStatus(k Kind) Status {
	if k == KindTask {
		return StatusClaimed
	}
	return StatusYes
}

// ValidateStatus parses raw against the kind's enum.
func ValidateStatus(k Kind, raw string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, ok := range StatusesFor(k) {
		if st == ok {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q for %s", ErrInvalidStatus, raw, k)
}

// Grouped is a per-status view of an item's participants.
type Grouped map[Status][]Participant

// Group buckets participants by status, keeping the order they were given in.
// Callers pass participants sorted by Seq.
func Group(ps []Participant) Grouped {
	g := Grouped{}
	for _, p := range ps {
		g[p.Status] = append(g[p.Status], p)
	}
	return g
}

// UserIDs returns the user ids of one status group.
func (g Grouped) UserIDs(st Status) []int64 {
	out := make([]int64, 0, len(g[st]))
	for _, p := range g[st] {
		out = append(out, p.UserID)
	}
	return out
}
