package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Duration parses a Go duration field. Empty or zero yields def; negative
// values are rejected.
func Duration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// Location resolves an IANA zone name; empty means the local zone.
func Location(field, name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return loc, nil
}

// Validate checks the structural rules of cfg. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(field, raw string) {
		_, err := Duration(field, raw, 0)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "file", "sqlite", "postgres":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if strings.EqualFold(c.Storage.Driver, "postgres") && strings.TrimSpace(c.Storage.DSN) == "" {
		add(errors.New("storage.dsn: required for postgres"))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	_, err := Location("scheduler.timezone", c.Scheduler.Timezone)
	add(err)
	dur("scheduler.default_timeout", c.Scheduler.DefaultTimeout)
	dur("telegram.timeout", c.Telegram.Timeout)

	if n := c.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			add(errors.New("notifier: counts must be >= 0"))
		}
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.send_timeout", n.SendTimeout)
		dur("notifier.dedup_window", n.DedupWindow)
	}

	switch strings.ToLower(strings.TrimSpace(c.Notifications.Permission)) {
	case "", "granted", "denied":
	default:
		add(fmt.Errorf("notifications.permission: want granted or denied, got %q", c.Notifications.Permission))
	}
	dur("notifications.fire_timeout", c.Notifications.FireTimeout)

	_, err = Location("reminders.timezone", c.Reminders.Timezone)
	add(err)
	if h := c.Reminders.Hour; h != nil && (*h < 0 || *h > 23) {
		add(fmt.Errorf("reminders.hour: %d out of range 0-23", *h))
	}

	if c.Auth.MinPasswordLength < 0 || c.Auth.LoginRatePerMinute < 0 || c.Auth.LoginBurst < 0 {
		add(errors.New("auth: counts must be >= 0"))
	}
	dur("auth.token_ttl", c.Auth.TokenTTL)
	dur("auth.session_ttl", c.Auth.SessionTTL)
	dur("maintenance.timeout", c.Maintenance.Timeout)

	return errors.Join(errs...)
}
