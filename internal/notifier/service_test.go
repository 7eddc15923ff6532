package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskmanager/internal/eventbus"
	"taskmanager/internal/transport"
	logx "taskmanager/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []transport.Notification
	fails int // fail this many calls first
	calls int
}

func (r *recordingSender) Send(_ context.Context, n transport.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.fails {
		return errors.New("temporary")
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingSender) snapshot() ([]transport.Notification, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Notification(nil), r.sent...), r.calls
}

func fastConfig() Config {
	return Config{Workers: 1, QueueSize: 8, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond, DedupWindow: time.Minute}
}

func waitFor(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestNotifyDeliversWithRetry(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	snd := &recordingSender{fails: 2}
	s := New(fastConfig(), snd, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), transport.Notification{Key: "k1", Title: "Due", Text: "today"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	ev := waitFor(t, ch, "notifier.sent").Data.(Event)
	if ev.Attempt != 3 {
		t.Fatalf("attempt = %d, want 3", ev.Attempt)
	}
	sent, calls := snd.snapshot()
	if len(sent) != 1 || calls != 3 {
		t.Fatalf("sent=%d calls=%d", len(sent), calls)
	}
	if h := s.History(); len(h) != 1 || h[0].Text != "Due\ntoday" {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	snd := &recordingSender{fails: 100}
	s := New(fastConfig(), snd, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Notify(context.Background(), transport.Notification{Key: "k"})
	ev := waitFor(t, ch, "notifier.failed").Data.(Event)
	if ev.Error == "" || ev.Attempt != 3 {
		t.Fatalf("unexpected failure event %+v", ev)
	}
}

func TestNotifyDedupsByKey(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	snd := &recordingSender{}
	s := New(fastConfig(), snd, logx.Nop(), bus)
	s.Start(context.Background())

	n := transport.Notification{Key: "same", Text: "x"}
	_ = s.Notify(context.Background(), n)
	_ = s.Notify(context.Background(), n)
	waitFor(t, ch, "notifier.deduped")

	s.Stop(context.Background())
	if sent, _ := snd.snapshot(); len(sent) != 1 {
		t.Fatalf("sent %d, want 1", len(sent))
	}
}

func TestNotifyAfterStop(t *testing.T) {
	s := New(fastConfig(), &recordingSender{}, logx.Nop(), nil)
	if err := s.Notify(context.Background(), transport.Notification{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("before Start: err = %v", err)
	}
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), transport.Notification{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after Stop: err = %v", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	snd := &recordingSender{}
	cfg := fastConfig()
	cfg.DedupWindow = 0
	s := New(cfg, snd, logx.Nop(), nil)
	s.Start(context.Background())
	for i := 0; i < 5; i++ {
		if err := s.Notify(context.Background(), transport.Notification{Text: "n"}); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if sent, _ := snd.snapshot(); len(sent) != 5 {
		t.Fatalf("sent %d, want 5", len(sent))
	}
}

func TestRetryDelayIsCapped(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}

type mapDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (d *mapDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = until
	return nil
}

func (d *mapDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.m[key]
	return u, ok, nil
}

func TestPersistentDedupSurvivesNewService(t *testing.T) {
	store := &mapDedup{m: map[string]time.Time{}}
	cfg := fastConfig()
	cfg.PersistDedup = true

	first := New(cfg, &recordingSender{}, logx.Nop(), nil)
	first.SetDedupStore(store)
	first.Start(context.Background())
	_ = first.Notify(context.Background(), transport.Notification{Key: "reminder:h1"})
	first.Stop(context.Background())

	snd := &recordingSender{}
	second := New(cfg, snd, logx.Nop(), nil)
	second.SetDedupStore(store)
	second.Start(context.Background())
	_ = second.Notify(context.Background(), transport.Notification{Key: "reminder:h1"})
	second.Stop(context.Background())

	if sent, _ := snd.snapshot(); len(sent) != 0 {
		t.Fatalf("restarted notifier resent a deduped key: %+v", sent)
	}
}
