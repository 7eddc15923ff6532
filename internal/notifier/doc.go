// Package notifier delivers notifications asynchronously.
//
// Notify enqueues; a small worker pool drains the queue through a shared
// token bucket and hands each notification to a transport.Sender, retrying
// failures with exponential backoff and jitter. Notifications with the same
// key inside the dedup window are suppressed.
//
// Lifecycle events are published on the bus as notifier.queued, .sent,
// .failed, .dropped and .deduped.
package notifier
