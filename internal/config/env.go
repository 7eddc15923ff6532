package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TASKD_"

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// ignored.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

var envVars = []envVar{
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"TELEGRAM_TOKEN", func(c *Config, v string) error { c.Telegram.Token = v; return nil }},
	{"TELEGRAM_CHAT_ID", func(c *Config, v string) error {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Telegram.ChatID = id
		return nil
	}},
	{"STORAGE_DRIVER", func(c *Config, v string) error { c.Storage.Driver = v; return nil }},
	{"STORAGE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{"STORAGE_DSN", func(c *Config, v string) error { c.Storage.DSN = v; return nil }},
	{"TIMEZONE", func(c *Config, v string) error {
		c.Scheduler.Timezone = v
		c.Reminders.Timezone = v
		return nil
	}},
	{"DEBUG_TOKEN", func(c *Config, v string) error { c.Debug.Token = v; return nil }},
}

// ApplyEnv overrides cfg from TASKD_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		if err := ev.apply(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, ev.name, err)
		}
	}
	return nil
}
