// Package model holds the records shared by the store, the reminder planner
// and the task service.
package model
