// Package notifier is the outbound messaging gateway.
//
// Notify queues operator messages for a small worker pool with rate limiting
// and retry. SendDirect and SendToChannel deliver synchronously with a
// single attempt; the reminder dispatcher uses them so it can count each
// outcome. Both paths share one token bucket so reminders and alerts never
// exceed the platform's send rate together.
package notifier
