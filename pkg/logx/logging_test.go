package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatAlertSortsFields(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"cancel failed","handle":"h1","comp":"reminder"}`)
	got := formatAlert(line)
	want := "[WARN] cancel failed\n- comp=reminder\n- handle=h1"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.With(String("k", "v")).Error("nothing happens", Err(errors.New("boom")))
}

func TestWriterLoggerCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Info("hello", Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	if m["comp"] != "test" || m["message"] != "hello" || m["n"] != float64(3) {
		t.Fatalf("unexpected record: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

type recordingAlerter struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingAlerter) Alert(_ context.Context, text string) error {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func TestAlertSinkForwardsWarnOnly(t *testing.T) {
	a := &recordingAlerter{}
	svc, log := New(Config{
		Level:  "debug",
		File:   FileConfig{Enabled: true, Path: t.TempDir() + "/taskd.log"},
		Alerts: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, a)
	defer svc.Close()

	log.Info("quiet")
	log.Warn("loud")

	deadline := time.Now().Add(2 * time.Second)
	for a.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.texts) != 1 || !strings.HasPrefix(a.texts[0], "[WARN] loud") {
		t.Fatalf("alerts = %q", a.texts)
	}
}
