// Package reminder turns persisted item timestamps into notifications.
//
// A Poller tick loads the pending items, asks schedule.Match which lead and
// start thresholds have been crossed, hands every match to the Dispatcher
// and then flips the item's flag with a conditional update. Dispatch comes
// first so a crash can at worst repeat a notification, never lose one.
//
// Only one tick runs at a time. A tick that finds another one running
// returns ErrTickSkipped; it is not queued.
package reminder
