package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmanager/internal/model"
)

func utcPlanner(t *testing.T) Planner {
	t.Helper()
	p, err := NewPlanner(time.UTC, DefaultHour)
	require.NoError(t, err)
	return p
}

func kinds(plan []Planned) []model.ReminderKind {
	out := make([]model.ReminderKind, 0, len(plan))
	for _, p := range plan {
		out = append(out, p.Kind)
	}
	return out
}

func at(plan []Planned, k model.ReminderKind) (time.Time, bool) {
	for _, p := range plan {
		if p.Kind == k {
			return p.At, true
		}
	}
	return time.Time{}, false
}

func TestPlanEndInThreeDaysNoStart(t *testing.T) {
	p := utcPlanner(t)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 13, 18, 0, 0, 0, time.UTC)

	plan, err := p.Plan("report", end, nil, now)
	require.NoError(t, err)
	assert.Equal(t, []model.ReminderKind{model.ReminderDayBefore, model.ReminderSameDay}, kinds(plan))

	dayBefore, _ := at(plan, model.ReminderDayBefore)
	assert.Equal(t, time.Date(2025, 3, 12, 18, 0, 0, 0, time.UTC), dayBefore)
	sameDay, _ := at(plan, model.ReminderSameDay)
	assert.Equal(t, time.Date(2025, 3, 13, 9, 0, 0, 0, time.UTC), sameDay)
}

func TestPlanLaunchScenario(t *testing.T) {
	p := utcPlanner(t)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, 1)
	end := now.AddDate(0, 0, 10)

	plan, err := p.Plan("Launch", end, &start, now)
	require.NoError(t, err)
	assert.Equal(t, []model.ReminderKind{
		model.ReminderDayBefore,
		model.ReminderSameDay,
		model.ReminderStartDay,
		model.ReminderSevenDaysAfter,
	}, kinds(plan))

	startDay, _ := at(plan, model.ReminderStartDay)
	assert.Equal(t, time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC), startDay)
	seven, _ := at(plan, model.ReminderSevenDaysAfter)
	assert.Equal(t, time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC), seven)
}

func TestPlanSevenDaysRequiresStrictlyBeforeEnd(t *testing.T) {
	p := utcPlanner(t)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	exactly := time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC)
	plan, err := p.Plan("x", exactly, nil, now)
	require.NoError(t, err)
	_, ok := at(plan, model.ReminderSevenDaysAfter)
	assert.False(t, ok, "seven-day nudge at exactly the end instant must be skipped")

	plan, err = p.Plan("x", exactly.Add(time.Second), nil, now)
	require.NoError(t, err)
	_, ok = at(plan, model.ReminderSevenDaysAfter)
	assert.True(t, ok)
}

func TestPlanPastEndHasNoDeadlineReminders(t *testing.T) {
	p := utcPlanner(t)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	for _, end := range []time.Time{now, now.Add(-time.Hour), now.AddDate(0, 0, -3)} {
		plan, err := p.Plan("x", end, nil, now)
		require.NoError(t, err)
		assert.Empty(t, plan, "end=%s", end)
	}
}

func TestPlanSameDayAlreadyPassed(t *testing.T) {
	p := utcPlanner(t)
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	plan, err := p.Plan("x", end, nil, now)
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestPlanStartInPastIsSkipped(t *testing.T) {
	p := utcPlanner(t)
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -2)
	plan, err := p.Plan("x", now.AddDate(0, 0, 3), &start, now)
	require.NoError(t, err)
	_, ok := at(plan, model.ReminderStartDay)
	assert.False(t, ok)
}

func TestPlanIsDeterministic(t *testing.T) {
	p := utcPlanner(t)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, 2)
	end := now.AddDate(0, 0, 20)
	a, err := p.Plan("same", end, &start, now)
	require.NoError(t, err)
	b, err := p.Plan("same", end, &start, now)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPlanRejectsContractViolations(t *testing.T) {
	p := utcPlanner(t)
	now := time.Now()
	_, err := p.Plan("  ", now.Add(time.Hour), nil, now)
	assert.ErrorIs(t, err, ErrTitleRequired)
	_, err = p.Plan("x", time.Time{}, nil, now)
	assert.ErrorIs(t, err, ErrEndRequired)
}

func TestPlanDayBeforeIsCalendarDayAcrossDST(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skip("tzdata not available")
	}
	p, err := NewPlanner(paris, DefaultHour)
	require.NoError(t, err)
	now := time.Date(2025, 3, 20, 8, 0, 0, 0, paris)
	// DST starts 2025-03-30 02:00 in Paris.
	end := time.Date(2025, 3, 30, 18, 0, 0, 0, paris)
	plan, err := p.Plan("x", end, nil, now)
	require.NoError(t, err)
	dayBefore, ok := at(plan, model.ReminderDayBefore)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 29, 18, 0, 0, 0, paris), dayBefore)
	assert.Equal(t, 23*time.Hour, end.Sub(dayBefore))
}

func TestPlanUsesConfiguredHourAndZone(t *testing.T) {
	zone := time.FixedZone("UTC+7", 7*3600)
	p, err := NewPlanner(zone, 8)
	require.NoError(t, err)
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 12, 20, 0, 0, 0, time.UTC) // 13th 03:00 in UTC+7
	plan, err := p.Plan("x", end, nil, now)
	require.NoError(t, err)
	sameDay, ok := at(plan, model.ReminderSameDay)
	require.True(t, ok)
	assert.True(t, sameDay.Equal(time.Date(2025, 3, 13, 8, 0, 0, 0, zone)))

	_, err = NewPlanner(time.UTC, 24)
	assert.Error(t, err)
}
