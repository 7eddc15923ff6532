package model

import (
	"sort"
	"time"
)

// ReminderKind names one of the reminder categories tied to a task timeline.
type ReminderKind string

const (
	ReminderDayBefore      ReminderKind = "day_before"
	ReminderSameDay        ReminderKind = "same_day"
	ReminderStartDay       ReminderKind = "start_day"
	ReminderSevenDaysAfter ReminderKind = "seven_days_after"
)

// ReminderKinds lists every kind in canonical order.
var ReminderKinds = []ReminderKind{
	ReminderDayBefore,
	ReminderSameDay,
	ReminderStartDay,
	ReminderSevenDaysAfter,
}

func (k ReminderKind) Valid() bool {
	return k.order() >= 0
}

func (k ReminderKind) order() int {
	for i, v := range ReminderKinds {
		if v == k {
			return i
		}
	}
	return -1
}

// ReminderSet maps a reminder kind to the handle returned by the notification
// facility. A missing key means "not scheduled".
type ReminderSet map[ReminderKind]string

// Clone returns a copy that drops empty handles and unknown kinds.
func (s ReminderSet) Clone() ReminderSet {
	if len(s) == 0 {
		return ReminderSet{}
	}
	out := make(ReminderSet, len(s))
	for k, h := range s {
		if h == "" || !k.Valid() {
			continue
		}
		out[k] = h
	}
	return out
}

// Kinds returns the scheduled kinds in canonical order.
func (s ReminderSet) Kinds() []ReminderKind {
	out := make([]ReminderKind, 0, len(s))
	for k, h := range s {
		if h != "" {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order() < out[j].order() })
	return out
}

// Handles returns the handles in canonical kind order.
func (s ReminderSet) Handles() []string {
	kinds := s.Kinds()
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, s[k])
	}
	return out
}

type Task struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"ownerId"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	StartDate   *time.Time  `json:"startDate,omitempty"`
	EndDate     time.Time   `json:"endDate"`
	CreatedAt   time.Time   `json:"createdAt"`
	Completed   bool        `json:"completed"`
	Reminders   ReminderSet `json:"reminders,omitempty"`
}

// Clone deep-copies the pointer and map fields.
func (t Task) Clone() Task {
	if t.StartDate != nil {
		s := *t.StartDate
		t.StartDate = &s
	}
	t.Reminders = t.Reminders.Clone()
	return t
}

// TaskPatch represents a partial update.
// nil pointer => "no change"; Reminders replaces the whole set.
// ClearStartDate removes the start date and wins over StartDate.
type TaskPatch struct {
	Title          *string      `json:"title,omitempty"`
	Description    *string      `json:"description,omitempty"`
	StartDate      *time.Time   `json:"startDate,omitempty"`
	ClearStartDate bool         `json:"clearStartDate,omitempty"`
	EndDate        *time.Time   `json:"endDate,omitempty"`
	Completed      *bool        `json:"completed,omitempty"`
	Reminders      *ReminderSet `json:"reminders,omitempty"`
}

func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.StartDate == nil && !p.ClearStartDate &&
		p.EndDate == nil && p.Completed == nil && p.Reminders == nil
}

// Apply merges the patch into t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	switch {
	case p.ClearStartDate:
		t.StartDate = nil
	case p.StartDate != nil:
		s := *p.StartDate
		t.StartDate = &s
	}
	if p.EndDate != nil {
		t.EndDate = *p.EndDate
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Reminders != nil {
		t.Reminders = p.Reminders.Clone()
	}
}
