// Package scheduler runs named jobs on cron expressions or fixed intervals.
//
// Jobs run on the cron goroutine with a per-run timeout, bounded retries and
// panic recovery. Finished and skipped runs are kept in a short history and
// published on the event bus.
package scheduler
