// Package storage persists scheduled items, participants, activity counters,
// translation bridges and the operator audit log in SQLite.
//
// The schema is managed with goose migrations embedded from migrations/.
package storage
