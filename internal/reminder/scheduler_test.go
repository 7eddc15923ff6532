package reminder_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmanager/internal/eventbus"
	"taskmanager/internal/model"
	"taskmanager/internal/platform"
	"taskmanager/internal/reminder"
	"taskmanager/internal/reminder/remindertest"
)

var now = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, f *remindertest.Facility, opts ...reminder.Option) *reminder.Scheduler {
	t.Helper()
	p, err := reminder.NewPlanner(time.UTC, reminder.DefaultHour)
	require.NoError(t, err)
	opts = append([]reminder.Option{reminder.WithClock(reminder.NewFakeClock(now))}, opts...)
	return reminder.NewScheduler(f, p, opts...)
}

func TestScheduleCollectsHandlesWithPayload(t *testing.T) {
	f := remindertest.NewFacility()
	s := newScheduler(t, f)
	start := now.AddDate(0, 0, 1)

	set, err := s.Schedule(context.Background(), "task-1", "Launch", now.AddDate(0, 0, 10), &start)
	require.NoError(t, err)
	assert.Equal(t, []model.ReminderKind{
		model.ReminderDayBefore, model.ReminderSameDay, model.ReminderStartDay, model.ReminderSevenDaysAfter,
	}, set.Kinds())

	got, ok := f.Get(set[model.ReminderSameDay])
	require.True(t, ok)
	assert.Equal(t, "task-1", got.Content.Data["taskId"])
	assert.Equal(t, "same_day", got.Content.Data["kind"])
	assert.Equal(t, `The task "Launch" ends today.`, got.Content.Body)
	assert.Equal(t, time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC), got.At)
}

func TestScheduleSkipsFailingKind(t *testing.T) {
	f := remindertest.NewFacility()
	f.FailKinds[model.ReminderDayBefore] = true
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s := newScheduler(t, f, reminder.WithBus(bus))

	set, err := s.Schedule(context.Background(), "t", "x", now.AddDate(0, 0, 3), nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ReminderKind{model.ReminderSameDay}, set.Kinds())

	types := map[string]int{}
	for len(ch) > 0 {
		types[(<-ch).Type]++
	}
	assert.Equal(t, 1, types["reminder.schedule_failed"])
	assert.Equal(t, 1, types["reminder.scheduled"])
}

func TestScheduleWithDeniedPermissionYieldsEmptySet(t *testing.T) {
	f := remindertest.NewFacility()
	f.Permission = platform.PermissionDenied
	s := newScheduler(t, f)

	set, err := s.Schedule(context.Background(), "t", "x", now.AddDate(0, 0, 3), nil)
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Zero(t, f.ScheduleCalls())
}

func TestPermissionCachedOnceGranted(t *testing.T) {
	f := remindertest.NewFacility()
	f.Permission = platform.PermissionDenied
	s := newScheduler(t, f)
	ctx := context.Background()

	_, _ = s.Schedule(ctx, "t", "x", now.AddDate(0, 0, 3), nil)
	f.Permission = platform.PermissionGranted
	_, _ = s.Schedule(ctx, "t", "x", now.AddDate(0, 0, 3), nil)
	_, _ = s.Schedule(ctx, "t", "x", now.AddDate(0, 0, 3), nil)
	assert.Equal(t, 2, f.PermissionCalls)
}

func TestScheduleReturnsValidationErrors(t *testing.T) {
	f := remindertest.NewFacility()
	s := newScheduler(t, f)
	_, err := s.Schedule(context.Background(), "t", "", now.AddDate(0, 0, 3), nil)
	assert.ErrorIs(t, err, reminder.ErrTitleRequired)
	_, err = s.Schedule(context.Background(), "t", "x", time.Time{}, nil)
	assert.ErrorIs(t, err, reminder.ErrEndRequired)
	assert.Zero(t, f.PermissionCalls)
}

func TestCancelSwallowsFacilityErrors(t *testing.T) {
	f := remindertest.NewFacility()
	f.FailCancel = true
	s := newScheduler(t, f)
	s.Cancel(context.Background(), "n42")
	s.CancelAll(context.Background(), model.ReminderSet{model.ReminderDayBefore: "a", model.ReminderSameDay: "b"})
	assert.Equal(t, 1, f.CancelCount("n42"))
	assert.Equal(t, 1, f.CancelCount("a"))
	assert.Equal(t, 1, f.CancelCount("b"))
}

func TestTemplatesAreLocalised(t *testing.T) {
	tpl, err := reminder.TemplatesFor("fr", map[string]reminder.Template{
		"start_day": {Body: `C'est parti pour "%s".`},
	})
	require.NoError(t, err)
	f := remindertest.NewFacility()
	s := newScheduler(t, f, reminder.WithTemplates(tpl))
	start := now.AddDate(0, 0, 1)

	set, err := s.Schedule(context.Background(), "t", "Rapport", now.AddDate(0, 0, 3), &start)
	require.NoError(t, err)

	dayBefore, _ := f.Get(set[model.ReminderDayBefore])
	assert.Equal(t, "⏰ Tâche à venir demain", dayBefore.Content.Title)
	assert.Equal(t, `La tâche "Rapport" se termine demain.`, dayBefore.Content.Body)
	startDay, _ := f.Get(set[model.ReminderStartDay])
	assert.Equal(t, `C'est parti pour "Rapport".`, startDay.Content.Body)

	_, err = reminder.TemplatesFor("de", nil)
	assert.Error(t, err)
	_, err = reminder.TemplatesFor("en", map[string]reminder.Template{"weekly": {}})
	assert.Error(t, err)
}
