package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskmanager/internal/eventbus"
	"taskmanager/internal/model"
	"taskmanager/internal/transport"
	"taskmanager/internal/trigger"
	logx "taskmanager/pkg/logx"
)

// Timers arms and disarms named one-shot jobs. *trigger.Service satisfies it.
type Timers interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job trigger.Job) error
	Remove(name string) bool
}

// PendingStore persists armed notifications. storage.Store satisfies it.
type PendingStore interface {
	PutPending(ctx context.Context, n model.PendingNotification) error
	DeletePending(ctx context.Context, handle string) (bool, error)
	ListPending(ctx context.Context) ([]model.PendingNotification, error)
}

// Deliverer receives fired notifications. *notifier.Service satisfies it.
type Deliverer interface {
	Notify(ctx context.Context, n transport.Notification) error
}

type Config struct {
	Policy       Permission // answer given on the first RequestPermission
	Presentation Presentation
	Channel      string
	FireTimeout  time.Duration
}

type Local struct {
	cfg     Config
	timers  Timers
	store   PendingStore
	deliver Deliverer
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time

	mu      sync.Mutex
	status  Permission
	pending map[string]model.PendingNotification
}

func NewLocal(cfg Config, timers Timers, store PendingStore, deliver Deliverer, log logx.Logger, bus eventbus.Bus) *Local {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.Policy == "" {
		cfg.Policy = PermissionGranted
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = 30 * time.Second
	}
	return &Local{
		cfg:     cfg,
		timers:  timers,
		store:   store,
		deliver: deliver,
		log:     log,
		bus:     bus,
		now:     time.Now,
		status:  PermissionUndetermined,
		pending: map[string]model.PendingNotification{},
	}
}

// Status reports the remembered permission without asking.
func (l *Local) Status() Permission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// RequestPermission answers from the configured policy the first time and
// from memory afterwards.
func (l *Local) RequestPermission(context.Context) (Permission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == PermissionUndetermined {
		l.status = l.cfg.Policy
		l.log.Info("notification permission decided", logx.String("status", string(l.status)))
	}
	return l.status, nil
}

// ScheduleAt arms a one-shot notification and returns its handle.
func (l *Local) ScheduleAt(ctx context.Context, at time.Time, c Content) (string, error) {
	if l.Status() != PermissionGranted {
		return "", ErrPermissionDenied
	}
	now := l.now()
	if !at.After(now) {
		return "", fmt.Errorf("%w: %s", ErrPastTrigger, at.Format(time.RFC3339))
	}

	n := model.PendingNotification{
		Handle:    uuid.NewString(),
		At:        at,
		Title:     c.Title,
		Body:      c.Body,
		Data:      c.Data,
		CreatedAt: now,
	}
	n = n.Clone()
	if err := l.store.PutPending(ctx, n); err != nil {
		return "", fmt.Errorf("persist notification: %w", err)
	}
	if err := l.arm(n); err != nil {
		_, _ = l.store.DeletePending(ctx, n.Handle)
		return "", err
	}
	l.log.Debug("notification scheduled", logx.String("handle", n.Handle), logx.Time("at", at))
	return n.Handle, nil
}

func (l *Local) arm(n model.PendingNotification) error {
	l.mu.Lock()
	l.pending[n.Handle] = n
	l.mu.Unlock()

	handle := n.Handle
	err := l.timers.AddOnce(timerName(handle), n.At, l.cfg.FireTimeout, func(ctx context.Context) error {
		return l.fire(ctx, handle)
	})
	if err != nil {
		l.mu.Lock()
		delete(l.pending, handle)
		l.mu.Unlock()
		return fmt.Errorf("arm notification: %w", err)
	}
	return nil
}

// Cancel disarms and forgets handle. Unknown handles are not an error.
func (l *Local) Cancel(ctx context.Context, handle string) error {
	l.mu.Lock()
	_, known := l.pending[handle]
	delete(l.pending, handle)
	l.mu.Unlock()

	l.timers.Remove(timerName(handle))
	if _, err := l.store.DeletePending(ctx, handle); err != nil {
		return fmt.Errorf("forget notification %s: %w", handle, err)
	}
	if known {
		l.log.Debug("notification cancelled", logx.String("handle", handle))
	}
	return nil
}

// Pending lists the armed notifications known to this process.
func (l *Local) Pending() []model.PendingNotification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.PendingNotification, 0, len(l.pending))
	for _, n := range l.pending {
		out = append(out, n.Clone())
	}
	return out
}

// Restore re-arms persisted notifications after a restart. Overdue ones
// fire right away.
func (l *Local) Restore(ctx context.Context) (int, error) {
	list, err := l.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}
	n := 0
	for _, p := range list {
		l.mu.Lock()
		_, armed := l.pending[p.Handle]
		l.mu.Unlock()
		if armed {
			continue
		}
		if err := l.arm(p); err != nil {
			l.log.Warn("restore failed", logx.String("handle", p.Handle), logx.Err(err))
			continue
		}
		n++
	}
	if n > 0 {
		l.log.Info("pending notifications restored", logx.Int("count", n))
	}
	return n, nil
}

func (l *Local) fire(ctx context.Context, handle string) error {
	l.mu.Lock()
	n, ok := l.pending[handle]
	delete(l.pending, handle)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	// at most once: the record goes before delivery
	if _, err := l.store.DeletePending(ctx, handle); err != nil {
		l.log.Warn("pending record not removed", logx.String("handle", handle), logx.Err(err))
	}

	if l.cfg.Presentation.ShowAlert && l.deliver != nil {
		err := l.deliver.Notify(ctx, transport.Notification{
			Channel:  l.cfg.Channel,
			Key:      "reminder:" + handle,
			Priority: 5,
			Title:    n.Title,
			Text:     n.Body,
			Silent:   !l.cfg.Presentation.PlaySound,
			Data:     n.Data,
		})
		if err != nil {
			l.log.Warn("notification delivery rejected", logx.String("handle", handle), logx.Err(err))
		}
	}
	l.bus.Publish(eventbus.Event{Type: "reminder.fired", Data: map[string]string{
		"handle": handle,
		"taskId": n.Data["taskId"],
		"kind":   n.Data["kind"],
	}})
	return nil
}

func timerName(handle string) string { return "notif:" + handle }
