package app

import (
	"strings"
	"time"

	"taskmanager/internal/auth"
	"taskmanager/internal/config"
	"taskmanager/internal/notifier"
	"taskmanager/internal/observability/debug"
	"taskmanager/internal/platform"
	"taskmanager/internal/reminder"
	"taskmanager/internal/storage"
	"taskmanager/internal/transport/telegram"
	"taskmanager/internal/trigger"
	logx "taskmanager/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			// alerts need a chat; the log fallback would feed itself
			Enabled:    cfg.Logging.Alerts.Enabled && cfg.Telegram.Enabled(),
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         strings.TrimSpace(cfg.Storage.DSN),
		BusyTimeout: busy,
		MaxConns:    cfg.Storage.MaxConns,
	}, nil
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.Duration("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:    strings.TrimSpace(cfg.Telegram.Token),
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
		Timeout:  timeout,
	}, nil
}

func mapTrigger(cfg *config.Config) (trigger.Config, error) {
	timeout, err := config.Duration("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 0)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{Timezone: cfg.Scheduler.Timezone, DefaultTimeout: timeout}, nil
}

// mapNotifier returns the defaults when the section is omitted.
func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		n = &config.NotifierConfig{}
	}
	out := notifier.Config{
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
	var err error
	if out.RetryBase, err = config.Duration("notifier.retry_base", n.RetryBase, 0); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.Duration("notifier.retry_max_delay", n.RetryMaxDelay, 0); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.Duration("notifier.send_timeout", n.SendTimeout, 0); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.Duration("notifier.dedup_window", n.DedupWindow, 0); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapPlatform(cfg *config.Config, channel string) (platform.Config, error) {
	fire, err := config.Duration("notifications.fire_timeout", cfg.Notifications.FireTimeout, 30*time.Second)
	if err != nil {
		return platform.Config{}, err
	}
	pres := platform.DefaultPresentation()
	if cfg.Notifications.ShowAlert != nil {
		pres.ShowAlert = *cfg.Notifications.ShowAlert
	}
	pres.PlaySound = cfg.Notifications.PlaySound
	policy := platform.ParsePermission(cfg.Notifications.Permission)
	if policy == platform.PermissionUndetermined {
		policy = platform.PermissionGranted
	}
	return platform.Config{
		Policy:       policy,
		Presentation: pres,
		Channel:      channel,
		FireTimeout:  fire,
	}, nil
}

func mapReminders(cfg *config.Config) (reminder.Planner, reminder.Templates, error) {
	loc, err := config.Location("reminders.timezone", cfg.Reminders.Timezone)
	if err != nil {
		return reminder.Planner{}, nil, err
	}
	hour := reminder.DefaultHour
	if cfg.Reminders.Hour != nil {
		hour = *cfg.Reminders.Hour
	}
	p, err := reminder.NewPlanner(loc, hour)
	if err != nil {
		return reminder.Planner{}, nil, err
	}
	overrides := make(map[string]reminder.Template, len(cfg.Reminders.Messages))
	for k, m := range cfg.Reminders.Messages {
		overrides[k] = reminder.Template{Title: m.Title, Body: m.Body}
	}
	t, err := reminder.TemplatesFor(cfg.Reminders.Locale, overrides)
	if err != nil {
		return reminder.Planner{}, nil, err
	}
	return p, t, nil
}

func mapAuth(cfg *config.Config) (auth.Config, error) {
	tokenTTL, err := config.Duration("auth.token_ttl", cfg.Auth.TokenTTL, 0)
	if err != nil {
		return auth.Config{}, err
	}
	sessionTTL, err := config.Duration("auth.session_ttl", cfg.Auth.SessionTTL, 0)
	if err != nil {
		return auth.Config{}, err
	}
	return auth.Config{
		AllowRegistration:  cfg.Auth.AllowRegistration,
		MinPasswordLength:  cfg.Auth.MinPasswordLength,
		TokenTTL:           tokenTTL,
		SessionTTL:         sessionTTL,
		LoginRatePerMinute: cfg.Auth.LoginRatePerMinute,
		LoginBurst:         cfg.Auth.LoginBurst,
		BaseURL:            cfg.Auth.BaseURL,
	}, nil
}

func mapMaintenance(cfg *config.Config) (string, time.Duration, error) {
	spec := strings.TrimSpace(cfg.Maintenance.Schedule)
	if spec == "" {
		spec = "@hourly"
	}
	if _, err := trigger.ParseSchedule(spec); err != nil {
		return "", 0, err
	}
	timeout, err := config.Duration("maintenance.timeout", cfg.Maintenance.Timeout, time.Minute)
	return spec, timeout, err
}

func mapDebug(cfg *config.Config) debug.Config {
	return debug.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          cfg.Debug.Addr,
		Token:         cfg.Debug.Token,
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}

// Validate runs the structural checks and maps every section, the same
// checks a hot reload goes through.
func Validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return validate(cfg)
}

// validate maps every section so a bad reload is rejected before commit.
func validate(cfg *config.Config) error {
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapTelegram(cfg); err != nil {
		return err
	}
	if _, err := mapTrigger(cfg); err != nil {
		return err
	}
	if _, err := mapNotifier(cfg); err != nil {
		return err
	}
	if _, err := mapPlatform(cfg, ""); err != nil {
		return err
	}
	if _, _, err := mapReminders(cfg); err != nil {
		return err
	}
	if _, err := mapAuth(cfg); err != nil {
		return err
	}
	_, _, err := mapMaintenance(cfg)
	return err
}
