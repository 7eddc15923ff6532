package reminder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"taskmanager/internal/eventbus"
	"taskmanager/internal/model"
	"taskmanager/internal/platform"
	logx "taskmanager/pkg/logx"
)

// Facility is the notification service reminders are scheduled against.
// *platform.Local satisfies it.
type Facility interface {
	RequestPermission(ctx context.Context) (platform.Permission, error)
	ScheduleAt(ctx context.Context, at time.Time, c platform.Content) (string, error)
	Cancel(ctx context.Context, handle string) error
}

type Scheduler struct {
	facility Facility
	clock    Clock
	log      logx.Logger
	bus      eventbus.Bus

	mu        sync.RWMutex
	planner   Planner
	templates Templates

	granted atomic.Bool
}

type Option func(*Scheduler)

func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithLogger(l logx.Logger) Option { return func(s *Scheduler) { s.log = l } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithTemplates(t Templates) Option { return func(s *Scheduler) { s.templates = t } }

func NewScheduler(f Facility, p Planner, opts ...Option) *Scheduler {
	s := &Scheduler{facility: f, planner: p}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	if s.templates == nil {
		s.templates = EnglishTemplates()
	}
	return s
}

// Apply swaps planner and templates; reminders already scheduled keep
// their instants and text.
func (s *Scheduler) Apply(p Planner, t Templates) {
	s.mu.Lock()
	s.planner = p
	if t != nil {
		s.templates = t
	}
	s.mu.Unlock()
}

// Schedule plans the task's reminders for the current time and asks the
// facility for each one. Kinds that fail are logged and left out of the
// result; a denied permission yields an empty set. Only planner validation
// errors are returned.
func (s *Scheduler) Schedule(ctx context.Context, taskID, title string, end time.Time, start *time.Time) (model.ReminderSet, error) {
	s.mu.RLock()
	planner, templates := s.planner, s.templates
	s.mu.RUnlock()

	plan, err := planner.Plan(title, end, start, s.clock.Now())
	if err != nil {
		return nil, err
	}
	set := model.ReminderSet{}
	if len(plan) == 0 {
		return set, nil
	}
	if !s.permitted(ctx) {
		s.log.Info("notifications not permitted; nothing scheduled", logx.String("task", taskID))
		return set, nil
	}

	for _, p := range plan {
		ntitle, body := templates.Render(p.Kind, title)
		h, err := s.facility.ScheduleAt(ctx, p.At, platform.Content{
			Title: ntitle,
			Body:  body,
			Data:  map[string]string{"taskId": taskID, "kind": string(p.Kind)},
		})
		if err != nil || h == "" {
			s.log.Warn("reminder not scheduled", logx.String("task", taskID), logx.String("kind", string(p.Kind)), logx.Time("at", p.At), logx.Err(err))
			s.publish("reminder.schedule_failed", taskID, p.Kind, "", p.At)
			continue
		}
		set[p.Kind] = h
		s.publish("reminder.scheduled", taskID, p.Kind, h, p.At)
	}
	return set, nil
}

// permitted asks the facility until permission is granted once.
func (s *Scheduler) permitted(ctx context.Context) bool {
	if s.granted.Load() {
		return true
	}
	p, err := s.facility.RequestPermission(ctx)
	if err != nil {
		s.log.Warn("permission request failed", logx.Err(err))
		return false
	}
	if p != platform.PermissionGranted {
		return false
	}
	s.granted.Store(true)
	return true
}

// Cancel is best effort: failures are logged, never returned.
func (s *Scheduler) Cancel(ctx context.Context, handle string) {
	if handle == "" {
		return
	}
	if err := s.facility.Cancel(ctx, handle); err != nil {
		s.log.Warn("reminder cancel failed", logx.String("handle", handle), logx.Err(err))
		return
	}
	s.bus.Publish(eventbus.Event{Type: "reminder.cancelled", Data: map[string]string{"handle": handle}})
}

// CancelAll cancels every handle of set independently.
func (s *Scheduler) CancelAll(ctx context.Context, set model.ReminderSet) {
	for _, h := range set.Handles() {
		s.Cancel(ctx, h)
	}
}

func (s *Scheduler) publish(typ, taskID string, kind model.ReminderKind, handle string, at time.Time) {
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]string{
		"taskId": taskID,
		"kind":   string(kind),
		"handle": handle,
		"at":     at.Format(time.RFC3339),
	}})
}
