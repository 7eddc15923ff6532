package storage

import (
	"context"
	"errors"
	"time"

	"taskmanager/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	ErrClosed   = errors.New("store closed")
)

// Config selects and configures a driver.
type Config struct {
	Driver      string        // memory | file | sqlite | postgres
	Path        string        // file and sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite; 0 means default
	MaxConns    int32         // postgres pool size; 0 means default
}

// Store is the persistence API used by the services.
//
// Tasks: CreateTask assigns an ID when empty and fails with ErrConflict when
// the ID is taken. UpdateTask applies the patch atomically and returns the
// stored result. ListTasks with an empty owner lists every task; results are
// ordered by creation time.
//
// Users are unique by email (ErrConflict).
type Store interface {
	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]model.Task, error)
	UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error

	PutPending(ctx context.Context, n model.PendingNotification) error
	DeletePending(ctx context.Context, handle string) (bool, error)
	ListPending(ctx context.Context) ([]model.PendingNotification, error)

	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	PutUser(ctx context.Context, u model.User) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	// Compact folds journals, prunes expired dedup entries and reclaims
	// space where the driver supports it.
	Compact(ctx context.Context) error
	Close() error
}
