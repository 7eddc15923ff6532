package notifier

import "time"

type Config struct {
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

type HistoryItem struct {
	At   time.Time
	Key  string
	Text string
}

// Event is the payload of notifier.* bus events.
type Event struct {
	Channel string    `json:"channel"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Attempt int       `json:"attempt,omitempty"`
	Error   string    `json:"error,omitempty"`
}
