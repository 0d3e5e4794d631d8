package storage

import (
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Storage is mandatory; an empty Driver means "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	Plugin        string
	Action        string
	Target        string
	OK            bool
	Error         string
	MetaJSON      string
}

// ItemFilter narrows ListItems. Zero values match everything.
type ItemFilter struct {
	ScopeID   int64
	Kind      string
	Status    string
	CreatorID int64
	From, To  time.Time
	Limit     int
}

// Counter is a name/value pair of an activity ranking.
type Counter struct {
	ID    int64
	Name  string
	Count int64
}

// JoinLeave sums member joins and leaves over a period.
type JoinLeave struct {
	Joins  int64
	Leaves int64
}

// Bridge binds a chat to a language inside a named bridge group.
type Bridge struct {
	Group  string
	Lang   string
	ChatID int64
}
