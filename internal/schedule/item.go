package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the type of a scheduled item.
type Kind string

const (
	KindBuff     Kind = "buff"
	KindEvent    Kind = "event"
	KindTask     Kind = "task"
	KindWarplan  Kind = "warplan"
	KindReminder Kind = "reminder"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindBuff, KindEvent, KindTask, KindWarplan, KindReminder}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// ItemStatus is the lifecycle state of an item. Closed is terminal.
type ItemStatus string

const (
	ItemOpen   ItemStatus = "open"
	ItemClosed ItemStatus = "closed"
)

// Trigger names one of the two notification thresholds of an item.
type Trigger string

const (
	TriggerLead  Trigger = "lead"
	TriggerStart Trigger = "start"
)

// Item is a time-anchored unit of work tracked for reminders.
type Item struct {
	ID          int64
	ScopeID     int64
	Kind        Kind
	ScheduledAt time.Time // UTC
	LeadSent    bool
	StartSent   bool
	Status      ItemStatus
	CreatorID   int64
	Title       string
	Description string

	// Capacity bounds the number of participants in a notify status. 0 is unlimited.
	Capacity   int
	Lang       string
	Recurrence string
	CreatedAt  time.Time
	ClosedAt   time.Time

	// ConfirmedBy is the buff giver who accepted a buff request. 0 while unconfirmed.
	ConfirmedBy int64
	ConfirmedAt time.Time
}

func (it Item) Open() bool { return it.Status == ItemOpen }

// NeedsConfirmation is true for buff requests no giver has accepted yet.
func (it Item) NeedsConfirmation() bool { return it.Kind == KindBuff && it.ConfirmedBy == 0 }

// NoDue is the scheduled time of a task without a due date. It sorts after
// every real time and never enters the reminder horizon.
var NoDue = time.Unix(9999999999, 0).UTC()

// HasDue is false for undated tasks.
func (it Item) HasDue() bool { return !it.ScheduledAt.Equal(NoDue) }

// Sent reports the flag that corresponds to trigger.
func (it Item) Sent(t Trigger) bool {
	if t == TriggerLead {
		return it.LeadSent
	}
	return it.StartSent
}

// Participant is a user's recorded stance on an item. (ItemID, UserID) is unique.
type Participant struct {
	ItemID    int64
	UserID    int64
	Username  string
	Status    Status
	Seq       int64
	UpdatedAt time.Time
}

// Label returns a display name for the participant.
func (p Participant) Label() string {
	if u := strings.TrimSpace(p.Username); u != "" {
		return "@" + strings.TrimPrefix(u, "@")
	}
	return fmt.Sprintf("user:%d", p.UserID)
}

// NewItem holds the user-supplied fields of an item about to be created.
type NewItem struct {
	ScopeID     int64
	Kind        Kind
	ScheduledAt time.Time
	CreatorID   int64
	Title       string
	Description string
	Capacity    int
	Lang        string
	Recurrence  string
}

// Validate checks fields that do not depend on wall-clock time.
func (n NewItem) Validate() error {
	if _, err := ParseKind(string(n.Kind)); err != nil {
		return err
	}
	if n.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled time required", ErrMalformedSchedule)
	}
	if n.Capacity < 0 {
		return fmt.Errorf("%w: capacity must be >= 0", ErrMalformedSchedule)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("title required")
	}
	if n.Recurrence != "" {
		if _, err := ParseRecurrence(n.Recurrence, n.ScheduledAt); err != nil {
			return err
		}
	}
	return nil
}
