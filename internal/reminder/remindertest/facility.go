// Package remindertest provides an in-memory notification facility that
// records every call.
package remindertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"taskmanager/internal/model"
	"taskmanager/internal/platform"
)

var ErrInjected = errors.New("injected facility failure")

type Scheduled struct {
	Handle  string
	At      time.Time
	Content platform.Content
}

// Facility hands out sequential handles ("n1", "n2", ...).
type Facility struct {
	mu sync.Mutex

	Permission      platform.Permission
	PermissionCalls int
	FailKinds       map[model.ReminderKind]bool
	FailAll         bool
	FailCancel      bool

	seq       int
	Active    map[string]Scheduled
	Cancelled map[string]int // handle -> Cancel calls
}

func NewFacility() *Facility {
	return &Facility{
		Permission: platform.PermissionGranted,
		FailKinds:  map[model.ReminderKind]bool{},
		Active:     map[string]Scheduled{},
		Cancelled:  map[string]int{},
	}
}

func (f *Facility) RequestPermission(context.Context) (platform.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PermissionCalls++
	return f.Permission, nil
}

func (f *Facility) ScheduleAt(_ context.Context, at time.Time, c platform.Content) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailAll || f.FailKinds[model.ReminderKind(c.Data["kind"])] {
		return "", ErrInjected
	}
	f.seq++
	h := fmt.Sprintf("n%d", f.seq)
	f.Active[h] = Scheduled{Handle: h, At: at, Content: c}
	return h, nil
}

func (f *Facility) Cancel(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled[handle]++
	if f.FailCancel {
		return ErrInjected
	}
	delete(f.Active, handle)
	return nil
}

// ScheduleCalls is the number of handles issued so far.
func (f *Facility) ScheduleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

// CancelCount reports how often handle was cancelled.
func (f *Facility) CancelCount(handle string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Cancelled[handle]
}

// TotalCancels sums Cancel calls over all handles.
func (f *Facility) TotalCancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Cancelled {
		n += c
	}
	return n
}

// ActiveHandles lists the handles still armed, sorted.
func (f *Facility) ActiveHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Active))
	for h := range f.Active {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func (f *Facility) Get(handle string) (Scheduled, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Active[handle]
	return s, ok
}
