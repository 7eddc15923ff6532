// Package reminder computes the reminder instants of a task and realizes
// them against a notification facility.
//
// Planner is pure: the same title, dates and now always give the same plan.
// Scheduler adds the side effects (permission, scheduling, cancellation)
// and never lets a facility error escape.
package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskmanager/internal/model"
)

const DefaultHour = 9

var (
	ErrTitleRequired = errors.New("reminder: title required")
	ErrEndRequired   = errors.New("reminder: end instant required")
)

// Planned is one reminder that should exist.
type Planned struct {
	Kind model.ReminderKind
	At   time.Time
}

// Planner places reminders on calendar days of its location at a fixed
// hour. The zero value plans at midnight local time; use NewPlanner or
// DefaultPlanner.
type Planner struct {
	loc  *time.Location
	hour int
}

func NewPlanner(loc *time.Location, hour int) (Planner, error) {
	if hour < 0 || hour > 23 {
		return Planner{}, fmt.Errorf("reminder hour %d out of range 0..23", hour)
	}
	return Planner{loc: loc, hour: hour}, nil
}

// DefaultPlanner plans at 09:00 local time.
func DefaultPlanner() Planner {
	return Planner{loc: time.Local, hour: DefaultHour}
}

func (p Planner) Location() *time.Location {
	if p.loc == nil {
		return time.Local
	}
	return p.loc
}

func (p Planner) Hour() int { return p.hour }

// Plan returns the reminders to schedule in canonical kind order:
//
//   - day_before: end minus one calendar day, if after now
//   - same_day: end's date at the reminder hour, if after now and the end
//     itself has not passed
//   - start_day: start's date at the reminder hour, if start is set and after now
//   - seven_days_after: now plus seven calendar days at the reminder hour,
//     if strictly before end
func (p Planner) Plan(title string, end time.Time, start *time.Time, now time.Time) ([]Planned, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrTitleRequired
	}
	if end.IsZero() {
		return nil, ErrEndRequired
	}
	loc := p.Location()
	end = end.In(loc)
	now = now.In(loc)

	out := make([]Planned, 0, len(model.ReminderKinds))
	if at := end.AddDate(0, 0, -1); at.After(now) {
		out = append(out, Planned{Kind: model.ReminderDayBefore, At: at})
	}
	if at := p.atHour(end); at.After(now) && end.After(now) {
		out = append(out, Planned{Kind: model.ReminderSameDay, At: at})
	}
	if start != nil && !start.IsZero() {
		if at := p.atHour(start.In(loc)); at.After(now) {
			out = append(out, Planned{Kind: model.ReminderStartDay, At: at})
		}
	}
	if at := p.atHour(now.AddDate(0, 0, 7)); at.Before(end) {
		out = append(out, Planned{Kind: model.ReminderSevenDaysAfter, At: at})
	}
	return out, nil
}

func (p Planner) atHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, p.hour, 0, 0, 0, t.Location())
}
