// Package task owns the task lifecycle: it validates and persists tasks and
// keeps each task's reminder handles in step with its title and dates.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskmanager/internal/eventbus"
	"taskmanager/internal/model"
	"taskmanager/internal/reminder"
	"taskmanager/internal/storage"
	logx "taskmanager/pkg/logx"
)

// Store is the task part of storage.Store.
type Store interface {
	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]model.Task, error)
	UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Reminders is implemented by *reminder.Scheduler.
type Reminders interface {
	Schedule(ctx context.Context, taskID, title string, end time.Time, start *time.Time) (model.ReminderSet, error)
	CancelAll(ctx context.Context, set model.ReminderSet)
}

// NewTask holds the caller-supplied fields of a task to create.
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     time.Time  `json:"endDate"`
}

// Service does not serialize mutations of the same task: two concurrent
// edits can both reschedule and one set of handles is then lost.
type Service struct {
	store     Store
	reminders Reminders
	clock     reminder.Clock
	log       logx.Logger
	bus       eventbus.Bus
}

func NewService(store Store, reminders Reminders, clock reminder.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if clock == nil {
		clock = reminder.SystemClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{store: store, reminders: reminders, clock: clock, log: log, bus: bus}
}

// Create validates, stores the task, schedules its reminders and stores the
// resulting handles.
func (s *Service) Create(ctx context.Context, ownerID string, in NewTask) (model.Task, error) {
	if err := validate(in.Title, in.EndDate, in.StartDate); err != nil {
		return model.Task{}, err
	}
	t, err := s.store.CreateTask(ctx, model.Task{
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		CreatedAt:   s.clock.Now(),
	})
	if err != nil {
		return model.Task{}, fmt.Errorf("create task: %w", err)
	}

	set := s.schedule(ctx, t)
	if len(set) > 0 {
		id := t.ID
		t, err = s.store.UpdateTask(ctx, id, model.TaskPatch{Reminders: &set})
		if err != nil {
			// Undo the create as well; the caller sees no task.
			s.reminders.CancelAll(ctx, set)
			if derr := s.store.DeleteTask(ctx, id); derr != nil {
				s.log.Warn("created task not rolled back", logx.String("id", id), logx.Err(derr))
			}
			return model.Task{}, fmt.Errorf("store reminders of task %s: %w", id, s.storeErr(err))
		}
	}
	s.log.Info("task created", logx.String("id", t.ID), logx.String("owner", ownerID), logx.Strings("reminders", kindNames(t.Reminders)))
	s.publish("task.created", t)
	return t, nil
}

// Update merges patch into the stored task. Reminders are rescheduled only
// when title, start or end actually change; otherwise the handles stay
// untouched. Callers cannot set Reminders through the patch.
func (s *Service) Update(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	patch.Reminders = nil
	cur, err := s.store.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, s.storeErr(err)
	}
	if patch.IsEmpty() {
		return cur, nil
	}
	merged := cur.Clone()
	patch.Apply(&merged)
	if err := validate(merged.Title, merged.EndDate, merged.StartDate); err != nil {
		return model.Task{}, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		patch.Title = &title
		merged.Title = title
	}

	if timelineChanged(cur, merged) {
		s.reminders.CancelAll(ctx, cur.Reminders)
		set := s.schedule(ctx, merged)
		patch.Reminders = &set
	}

	out, err := s.store.UpdateTask(ctx, id, patch)
	if err != nil {
		if patch.Reminders != nil {
			s.reminders.CancelAll(ctx, *patch.Reminders)
		}
		return model.Task{}, fmt.Errorf("update task %s: %w", id, s.storeErr(err))
	}
	s.log.Info("task updated", logx.String("id", id), logx.Bool("rescheduled", patch.Reminders != nil))
	s.publish("task.updated", out)
	return out, nil
}

// SetCompleted flips the completion flag without touching reminders.
func (s *Service) SetCompleted(ctx context.Context, id string, done bool) (model.Task, error) {
	out, err := s.store.UpdateTask(ctx, id, model.TaskPatch{Completed: &done})
	if err != nil {
		return model.Task{}, fmt.Errorf("update task %s: %w", id, s.storeErr(err))
	}
	s.publish("task.updated", out)
	return out, nil
}

func (s *Service) ToggleCompleted(ctx context.Context, id string) (model.Task, error) {
	cur, err := s.store.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, s.storeErr(err)
	}
	return s.SetCompleted(ctx, id, !cur.Completed)
}

// Delete cancels every reminder, then removes the record. Retrying after a
// failure between the two steps is safe.
func (s *Service) Delete(ctx context.Context, id string) error {
	cur, err := s.store.GetTask(ctx, id)
	if err != nil {
		return s.storeErr(err)
	}
	s.reminders.CancelAll(ctx, cur.Reminders)
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, s.storeErr(err))
	}
	s.log.Info("task deleted", logx.String("id", id), logx.Int("cancelled", len(cur.Reminders)))
	s.publish("task.deleted", cur)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, s.storeErr(err)
	}
	return t, nil
}

// List returns the owner's tasks matching f, ordered by end date.
func (s *Service) List(ctx context.Context, ownerID string, f Filter) ([]model.Task, error) {
	all, err := s.store.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return f.Apply(all), nil
}

func (s *Service) schedule(ctx context.Context, t model.Task) model.ReminderSet {
	set, err := s.reminders.Schedule(ctx, t.ID, t.Title, t.EndDate, t.StartDate)
	if err != nil {
		s.log.Warn("reminders not scheduled", logx.String("id", t.ID), logx.Err(err))
		return model.ReminderSet{}
	}
	return set
}

func (s *Service) storeErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func (s *Service) publish(typ string, t model.Task) {
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]string{"id": t.ID, "owner": t.OwnerID}})
}

func validate(title string, end time.Time, start *time.Time) error {
	fields := map[string]string{}
	if strings.TrimSpace(title) == "" {
		fields["title"] = "required"
	}
	if end.IsZero() {
		fields["endDate"] = "required"
	} else if start != nil && !start.IsZero() && end.Before(*start) {
		fields["endDate"] = "before startDate"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func timelineChanged(a, b model.Task) bool {
	if a.Title != b.Title || !a.EndDate.Equal(b.EndDate) {
		return true
	}
	switch {
	case a.StartDate == nil && b.StartDate == nil:
		return false
	case a.StartDate == nil || b.StartDate == nil:
		return true
	default:
		return !a.StartDate.Equal(*b.StartDate)
	}
}

func kindNames(set model.ReminderSet) []string {
	out := make([]string, 0, len(set))
	for _, k := range set.Kinds() {
		out = append(out, string(k))
	}
	return out
}
