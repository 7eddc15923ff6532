package task

import (
	"fmt"
	"sort"
	"strings"

	"taskmanager/internal/model"
)

type Status string

const (
	StatusAll       Status = "all"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusPending:
		return StatusPending, nil
	case StatusCompleted:
		return StatusCompleted, nil
	default:
		return "", fmt.Errorf("unknown task status %q", s)
	}
}

// Filter narrows a task list. Query matches title or description,
// case-insensitively.
type Filter struct {
	Query  string
	Status Status
}

// Apply returns the matching tasks ordered by end date, then creation time.
func (f Filter) Apply(in []model.Task) []model.Task {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]model.Task, 0, len(in))
	for _, t := range in {
		switch f.Status {
		case StatusPending:
			if t.Completed {
				continue
			}
		case StatusCompleted:
			if !t.Completed {
				continue
			}
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(t.Title), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.EndDate.Equal(b.EndDate) {
			return a.EndDate.Before(b.EndDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}
