package task

import (
	"errors"
	"strings"
)

var (
	ErrInvalid  = errors.New("invalid task")
	ErrNotFound = errors.New("task not found")
)

// ValidationError lists every rejected field. errors.Is(err, ErrInvalid)
// holds for it.
type ValidationError struct {
	Fields map[string]string // field -> reason
}

func (e *ValidationError) Error() string {
	keys := []string{"title", "endDate", "startDate"}
	parts := make([]string, 0, len(e.Fields))
	for _, k := range keys {
		if r, ok := e.Fields[k]; ok {
			parts = append(parts, k+": "+r)
		}
	}
	return "invalid task: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }
