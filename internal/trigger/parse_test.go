package trigger

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   SpecKind
		source string
		every  time.Duration
		spec   string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron", spec: "*/5 * * * *"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron", spec: "@hourly"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", spec: "0 0 * * *"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", every: 10 * time.Minute, spec: "@every 10m0s"},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", every: 45 * time.Second, spec: "@every 45s"},
		{name: "every prefix hhmm", raw: "every:00:30", kind: SpecInterval, source: "hhmm", every: 30 * time.Minute, spec: "@every 30m0s"},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", every: 90 * time.Minute, spec: "@every 1h30m0s"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if got.Spec() != tt.spec {
				t.Fatalf("Spec() = %q, want %q", got.Spec(), tt.spec)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:75", "interval:", "0s", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}
