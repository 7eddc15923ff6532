// Package platform is the local notification facility: it grants or denies
// notification permission, arms one-shot notifications at an instant and
// cancels them by handle. Armed notifications are persisted so they survive
// a restart (see Local.Restore).
package platform

import (
	"errors"
	"strings"
)

type Permission string

const (
	PermissionUndetermined Permission = "undetermined"
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
)

// ParsePermission accepts "granted" and "denied"; anything else is
// undetermined.
func ParsePermission(s string) Permission {
	switch Permission(strings.ToLower(strings.TrimSpace(s))) {
	case PermissionGranted:
		return PermissionGranted
	case PermissionDenied:
		return PermissionDenied
	default:
		return PermissionUndetermined
	}
}

var (
	ErrPermissionDenied = errors.New("notification permission not granted")
	ErrPastTrigger      = errors.New("trigger instant is not in the future")
)

// Content is what the user sees when the notification fires. Data travels
// with it untouched.
type Content struct {
	Title string
	Body  string
	Data  map[string]string
}

// Presentation controls how a fired notification is shown. It is fixed at
// construction.
type Presentation struct {
	ShowAlert bool
	PlaySound bool
}

func DefaultPresentation() Presentation {
	return Presentation{ShowAlert: true, PlaySound: false}
}
