package platform

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmanager/internal/eventbus"
	"taskmanager/internal/model"
	"taskmanager/internal/storage"
	"taskmanager/internal/transport"
	"taskmanager/internal/trigger"
	logx "taskmanager/pkg/logx"
)

type inbox struct {
	mu  sync.Mutex
	got []transport.Notification
	ch  chan struct{}
}

func newInbox() *inbox { return &inbox{ch: make(chan struct{}, 8)} }

func (b *inbox) Notify(_ context.Context, n transport.Notification) error {
	b.mu.Lock()
	b.got = append(b.got, n)
	b.mu.Unlock()
	b.ch <- struct{}{}
	return nil
}

func (b *inbox) wait(t *testing.T) transport.Notification {
	t.Helper()
	select {
	case <-b.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.got[len(b.got)-1]
}

func newTimers(t *testing.T) *trigger.Service {
	t.Helper()
	tr := trigger.New(trigger.Config{}, logx.Nop(), nil)
	tr.Start(context.Background())
	t.Cleanup(func() { tr.Stop(context.Background()) })
	return tr
}

func TestPermissionIsRememberedAndEnforced(t *testing.T) {
	l := NewLocal(Config{Policy: PermissionDenied}, newTimers(t), storage.NewMemory(), newInbox(), logx.Nop(), nil)
	assert.Equal(t, PermissionUndetermined, l.Status())

	p, err := l.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionDenied, p)
	assert.Equal(t, PermissionDenied, l.Status())

	_, err = l.ScheduleAt(context.Background(), time.Now().Add(time.Hour), Content{Title: "x"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestScheduleAtRejectsPastInstant(t *testing.T) {
	l := NewLocal(Config{}, newTimers(t), storage.NewMemory(), newInbox(), logx.Nop(), nil)
	_, _ = l.RequestPermission(context.Background())
	_, err := l.ScheduleAt(context.Background(), time.Now().Add(-time.Second), Content{})
	assert.ErrorIs(t, err, ErrPastTrigger)
}

func TestScheduledNotificationFires(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	store := storage.NewMemory()
	box := newInbox()
	l := NewLocal(Config{Presentation: DefaultPresentation(), Channel: "log"}, newTimers(t), store, box, logx.Nop(), bus)
	_, _ = l.RequestPermission(ctx)

	h, err := l.ScheduleAt(ctx, time.Now().Add(30*time.Millisecond), Content{
		Title: "Due today",
		Body:  "report",
		Data:  map[string]string{"taskId": "t1", "kind": string(model.ReminderSameDay)},
	})
	require.NoError(t, err)
	require.NotEmpty(t, h)

	n := box.wait(t)
	assert.Equal(t, "Due today", n.Title)
	assert.Equal(t, "reminder:"+h, n.Key)
	assert.True(t, n.Silent)
	assert.Equal(t, "t1", n.Data["taskId"])

	select {
	case e := <-events:
		assert.Equal(t, "reminder.fired", e.Type)
		assert.Equal(t, h, e.Data.(map[string]string)["handle"])
	case <-time.After(2 * time.Second):
		t.Fatal("reminder.fired not published")
	}
	assert.Eventually(t, func() bool {
		p, _ := store.ListPending(ctx)
		return len(p) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCancelDisarms(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	box := newInbox()
	l := NewLocal(Config{Presentation: DefaultPresentation()}, newTimers(t), store, box, logx.Nop(), nil)
	_, _ = l.RequestPermission(ctx)

	h, err := l.ScheduleAt(ctx, time.Now().Add(50*time.Millisecond), Content{Title: "x"})
	require.NoError(t, err)
	require.NoError(t, l.Cancel(ctx, h))
	require.NoError(t, l.Cancel(ctx, h))
	require.NoError(t, l.Cancel(ctx, "never-issued"))

	select {
	case <-box.ch:
		t.Fatal("cancelled notification fired")
	case <-time.After(150 * time.Millisecond):
	}
	p, _ := store.ListPending(ctx)
	assert.Empty(t, p)
	assert.Empty(t, l.Pending())
}

func TestRestoreRearmsPersisted(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.PutPending(ctx, model.PendingNotification{Handle: "overdue", At: time.Now().Add(-time.Minute), Title: "late"}))
	require.NoError(t, store.PutPending(ctx, model.PendingNotification{Handle: "future", At: time.Now().Add(time.Hour), Title: "later"}))

	box := newInbox()
	l := NewLocal(Config{Presentation: DefaultPresentation()}, newTimers(t), store, box, logx.Nop(), nil)
	n, err := l.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := box.wait(t)
	assert.Equal(t, "late", got.Title)
	assert.Len(t, l.Pending(), 1)

	n, err = l.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHiddenAlertsAreNotDelivered(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	box := newInbox()
	l := NewLocal(Config{Presentation: Presentation{ShowAlert: false}}, newTimers(t), store, box, logx.Nop(), nil)
	_, _ = l.RequestPermission(ctx)
	_, err := l.ScheduleAt(ctx, time.Now().Add(10*time.Millisecond), Content{Title: "quiet"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		p, _ := store.ListPending(ctx)
		return len(p) == 0
	}, time.Second, 10*time.Millisecond)
	select {
	case <-box.ch:
		t.Fatal("hidden alert was delivered")
	default:
	}
}

func TestParsePermission(t *testing.T) {
	assert.Equal(t, PermissionGranted, ParsePermission(" Granted "))
	assert.Equal(t, PermissionDenied, ParsePermission("denied"))
	assert.Equal(t, PermissionUndetermined, ParsePermission("ask"))
}
