package config

import "strings"

// Config is the daemon configuration file. Durations are Go duration strings
// ("500ms", "10s", "1h").
type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	Telegram      TelegramConfig      `json:"telegram"`
	Storage       StorageConfig       `json:"storage"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Notifier      *NotifierConfig     `json:"notifier,omitempty"`
	Notifications NotificationsConfig `json:"notifications"`
	Reminders     RemindersConfig     `json:"reminders"`
	Auth          AuthConfig          `json:"auth"`
	Maintenance   MaintenanceConfig   `json:"maintenance"`
	Debug         DebugConfig         `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards WARN+ records to the notification transport.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig enables the Telegram transport when Token and ChatID are
// both set; otherwise deliveries go to the log.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

func (t TelegramConfig) Enabled() bool {
	return strings.TrimSpace(t.Token) != "" && t.ChatID != 0
}

// StorageConfig selects the document store. Changes need a restart.
//
//	"storage": { "driver": "sqlite", "path": "./taskd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; never logged
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

type SchedulerConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// NotifierConfig controls the delivery pipeline. Omitting the section keeps
// the defaults.
type NotifierConfig struct {
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// NotificationsConfig drives the local notification facility.
type NotificationsConfig struct {
	Permission  string `json:"permission"` // granted | denied
	ShowAlert   *bool  `json:"show_alert,omitempty"`
	PlaySound   bool   `json:"play_sound"`
	FireTimeout string `json:"fire_timeout,omitempty"`
}

type RemindersConfig struct {
	Timezone string                     `json:"timezone,omitempty"`
	Hour     *int                       `json:"hour,omitempty"`
	Locale   string                     `json:"locale,omitempty"` // en | fr
	Messages map[string]MessageTemplate `json:"messages,omitempty"`
}

// MessageTemplate overrides the text of one reminder kind; %s is the task
// title.
type MessageTemplate struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type AuthConfig struct {
	AllowRegistration  bool   `json:"allow_registration"`
	MinPasswordLength  int    `json:"min_password_length,omitempty"`
	TokenTTL           string `json:"token_ttl,omitempty"`
	SessionTTL         string `json:"session_ttl,omitempty"`
	LoginRatePerMinute int    `json:"login_rate_per_minute,omitempty"`
	LoginBurst         int    `json:"login_burst,omitempty"`
	BaseURL            string `json:"base_url,omitempty"`
}

type MaintenanceConfig struct {
	Schedule string `json:"schedule,omitempty"` // cron, "@every 1h" or HH:MM
	Timeout  string `json:"timeout,omitempty"`
}

// DebugConfig controls the local health and pprof listener.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
