// Package trigger fires named jobs at a single instant (AddOnce) or on a
// recurring cron/interval schedule (AddSchedule). Jobs run on their own
// goroutine with a timeout and panic recovery.
package trigger
