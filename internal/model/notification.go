package model

import "time"

// PendingNotification is a one-shot notification that has been handed to the
// local facility and has not fired yet.
type PendingNotification struct {
	Handle    string            `json:"handle"`
	At        time.Time         `json:"at"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func (n PendingNotification) Clone() PendingNotification {
	if n.Data != nil {
		d := make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			d[k] = v
		}
		n.Data = d
	}
	return n
}
