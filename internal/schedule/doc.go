// Package schedule holds the domain model of time-anchored items (buffs,
// events, tasks, war plans, reminders) and their participants.
//
// Everything here is pure: the time-window matcher, status validation and
// grouping, recurrence expansion and user time parsing take state and a clock
// value and return results without touching storage or the network.
package schedule
