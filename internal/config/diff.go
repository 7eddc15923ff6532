package config

import (
	"reflect"
	"strings"

	logx "taskmanager/pkg/logx"
)

// RestartSections are applied only at startup.
var RestartSections = map[string]bool{"storage": true, "telegram": true, "notifications": true, "auth": true}

// SummarizeChange lists the changed top-level sections and safe log fields
// describing them. Secrets (tokens, DSN) are reported only as "set".
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)
	section := func(name string, differs bool, f ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, name)
		fields = append(fields, f...)
	}
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	section("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.alerts", newCfg.Logging.Alerts.Enabled),
	)
	section("telegram", !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram),
		logx.Bool("telegram.token_set", set(newCfg.Telegram.Token)),
		logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0),
	)
	section("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage),
		logx.String("storage.driver", newCfg.Storage.Driver),
		logx.String("storage.path", newCfg.Storage.Path),
		logx.Bool("storage.dsn_set", set(newCfg.Storage.DSN)),
	)
	section("scheduler", !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler),
		logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
	)
	section("notifier", !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier))
	section("notifications", !reflect.DeepEqual(oldCfg.Notifications, newCfg.Notifications),
		logx.String("notifications.permission", newCfg.Notifications.Permission),
	)
	section("reminders", !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders),
		logx.String("reminders.timezone", newCfg.Reminders.Timezone),
		logx.String("reminders.locale", newCfg.Reminders.Locale),
		logx.Int("reminders.message_overrides", len(newCfg.Reminders.Messages)),
	)
	section("auth", !reflect.DeepEqual(oldCfg.Auth, newCfg.Auth),
		logx.Bool("auth.allow_registration", newCfg.Auth.AllowRegistration),
	)
	section("maintenance", !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance),
		logx.String("maintenance.schedule", newCfg.Maintenance.Schedule),
	)
	section("debug", !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug),
		logx.Bool("debug.enabled", newCfg.Debug.Enabled),
		logx.String("debug.addr", newCfg.Debug.Addr),
		logx.Bool("debug.token_set", set(newCfg.Debug.Token)),
	)
	return changed, fields
}
