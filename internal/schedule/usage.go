package schedule

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Category classifies an event for buff usage reports.
type Category string

const (
	CategoryKvK   Category = "kvk"
	CategoryMGE   Category = "mge"
	CategoryOther Category = "other"
)

var Categories = []Category{CategoryKvK, CategoryMGE, CategoryOther}

const (
	DefaultEventWindow = 120 * time.Minute
	MinEventWindow     = 10 * time.Minute
	MaxEventWindow     = 24 * time.Hour
)

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Categories, c) {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// ValidateWindow bounds an event duration to [10m, 24h].
func ValidateWindow(d time.Duration) error {
	if d < MinEventWindow || d > MaxEventWindow {
		return fmt.Errorf("%w: event window must be between %s and %s", ErrMalformedSchedule, MinEventWindow, MaxEventWindow)
	}
	return nil
}

// EventMeta is the operator-assigned category and duration of an event.
type EventMeta struct {
	ItemID   int64
	Category Category
	Window   time.Duration
}

// EventWindow is the time span during which an event counts as running.
type EventWindow struct {
	ItemID   int64
	Title    string
	Category Category
	Start    time.Time
	End      time.Time
}

func (w EventWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

var categoryHints = []struct {
	cat Category
	re  *regexp.Regexp
}{
	{CategoryKvK, regexp.MustCompile(`kvk|kingdom.*war|kriegs?`)},
	{CategoryMGE, regexp.MustCompile(`\bmge\b|might.*event|macht.?event`)},
}

// GuessCategory derives a category from an event title when none was set.
func GuessCategory(title string) Category {
	t := strings.ToLower(title)
	for _, h := range categoryHints {
		if h.re.MatchString(t) {
			return h.cat
		}
	}
	return CategoryOther
}

// WindowOf builds the window of an event. A zero meta falls back to the
// default duration and a category guessed from the title.
func WindowOf(it Item, meta EventMeta) EventWindow {
	w := EventWindow{ItemID: it.ID, Title: it.Title, Category: meta.Category, Start: it.ScheduledAt}
	d := meta.Window
	if d <= 0 {
		d = DefaultEventWindow
	}
	w.End = it.ScheduledAt.Add(d)
	if w.Category == "" {
		w.Category = GuessCategory(it.Title)
	}
	return w
}

// BuffUse is a started buff and the participants who joined it.
type BuffUse struct {
	Item   Item
	Joined []Participant
}

// users is everyone accountable for the buff: the joined participants, or
// the creator when nobody joined.
func (b BuffUse) users() []Participant {
	if len(b.Joined) > 0 {
		return b.Joined
	}
	if b.Item.CreatorID == 0 {
		return nil
	}
	return []Participant{{ItemID: b.Item.ID, UserID: b.Item.CreatorID}}
}

func (b BuffUse) involves(userID int64) bool {
	if b.Item.CreatorID == userID {
		return true
	}
	return slices.ContainsFunc(b.Joined, func(p Participant) bool { return p.UserID == userID })
}

// UserCount is one row of the outside-usage ranking.
type UserCount struct {
	UserID int64
	Label  string
	Count  int
}

type UsageReport struct {
	Inside  map[Category]int
	Outside int
	ByEvent map[int64]int
	// TopOutside ranks users by buffs used outside every event window.
	TopOutside []UserCount
}

func (r UsageReport) Total() int {
	n := r.Outside
	for _, c := range r.Inside {
		n += c
	}
	return n
}

// windowAt returns the first window (by start) containing t.
func windowAt(windows []EventWindow, t time.Time) (EventWindow, bool) {
	for _, w := range windows {
		if w.Contains(t) {
			return w, true
		}
	}
	return EventWindow{}, false
}

func sortWindows(windows []EventWindow) []EventWindow {
	out := slices.Clone(windows)
	slices.SortStableFunc(out, func(a, b EventWindow) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return int(a.ItemID - b.ItemID)
	})
	return out
}

// BuffUsage assigns every buff to the earliest event window containing its
// start time. Buffs outside all windows are charged to their users; top
// limits the ranking (0 keeps all).
func BuffUsage(buffs []BuffUse, windows []EventWindow, top int) UsageReport {
	windows = sortWindows(windows)
	rep := UsageReport{Inside: map[Category]int{}, ByEvent: map[int64]int{}}
	outside := map[int64]*UserCount{}
	for _, b := range buffs {
		if w, ok := windowAt(windows, b.Item.ScheduledAt); ok {
			rep.Inside[w.Category]++
			rep.ByEvent[w.ItemID]++
			continue
		}
		rep.Outside++
		for _, u := range b.users() {
			uc, ok := outside[u.UserID]
			if !ok {
				uc = &UserCount{UserID: u.UserID, Label: u.Label()}
				outside[u.UserID] = uc
			}
			if u.Username != "" {
				uc.Label = u.Label()
			}
			uc.Count++
		}
	}
	for _, uc := range outside {
		rep.TopOutside = append(rep.TopOutside, *uc)
	}
	slices.SortFunc(rep.TopOutside, func(a, b UserCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return int(a.UserID - b.UserID)
	})
	if top > 0 && len(rep.TopOutside) > top {
		rep.TopOutside = rep.TopOutside[:top]
	}
	return rep
}

// UserBuffUsage counts the buffs userID created or joined, split by
// whether they started inside an event window.
func UserBuffUsage(buffs []BuffUse, windows []EventWindow, userID int64) (inside, outside int) {
	for _, b := range buffs {
		if !b.involves(userID) {
			continue
		}
		if _, ok := windowAt(windows, b.Item.ScheduledAt); ok {
			inside++
		} else {
			outside++
		}
	}
	return inside, outside
}
