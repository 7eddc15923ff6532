package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskmanager/internal/model"
)

// Memory is the in-process driver. Values are cloned on the way in and out
// so callers never share maps with the store.
type Memory struct {
	mu      sync.RWMutex
	closed  bool
	tasks   map[string]model.Task
	pending map[string]model.PendingNotification
	users   map[string]model.User
	emails  map[string]string // email -> user id
	dedup   map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tasks:   map[string]model.Task{},
		pending: map[string]model.PendingNotification{},
		users:   map[string]model.User{},
		emails:  map[string]string{},
		dedup:   map[string]time.Time{},
	}
}

func (m *Memory) CreateTask(_ context.Context, t model.Task) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Task{}, ErrClosed
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := m.tasks[t.ID]; ok {
		return model.Task{}, ErrConflict
	}
	t = t.Clone()
	m.tasks[t.ID] = t
	return t.Clone(), nil
}

func (m *Memory) GetTask(_ context.Context, id string) (model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return model.Task{}, ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *Memory) ListTasks(_ context.Context, ownerID string) ([]model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if ownerID != "" && t.OwnerID != ownerID {
			continue
		}
		out = append(out, t.Clone())
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) UpdateTask(_ context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Task{}, ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	t = t.Clone()
	patch.Apply(&t)
	m.tasks[id] = t
	return t.Clone(), nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) PutPending(_ context.Context, n model.PendingNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pending[n.Handle] = n.Clone()
	return nil
}

func (m *Memory) DeletePending(_ context.Context, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.pending[handle]
	delete(m.pending, handle)
	return ok, nil
}

func (m *Memory) ListPending(_ context.Context) ([]model.PendingNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]model.PendingNotification, 0, len(m.pending))
	for _, n := range m.pending {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Handle < out[j].Handle
	})
	return out, nil
}

func (m *Memory) CreateUser(_ context.Context, u model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.User{}, ErrClosed
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	key := emailKey(u.Email)
	if _, ok := m.emails[key]; ok {
		return model.User{}, ErrConflict
	}
	if _, ok := m.users[u.ID]; ok {
		return model.User{}, ErrConflict
	}
	m.users[u.ID] = u
	m.emails[key] = u.ID
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return model.User{}, ErrClosed
	}
	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return model.User{}, ErrClosed
	}
	id, ok := m.emails[emailKey(email)]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *Memory) PutUser(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.putUserLocked(u)
}

func (m *Memory) putUserLocked(u model.User) error {
	old, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	key := emailKey(u.Email)
	if owner, taken := m.emails[key]; taken && owner != u.ID {
		return ErrConflict
	}
	delete(m.emails, emailKey(old.Email))
	m.users[u.ID] = u
	m.emails[key] = u.ID
	return nil
}

func (m *Memory) PutDedup(_ context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if key != "" {
		m.dedup[key] = until
	}
	return nil
}

func (m *Memory) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	until, ok := m.dedup[key]
	return until, ok, nil
}

func (m *Memory) Compact(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneDedupLocked(time.Now())
	return nil
}

func (m *Memory) pruneDedupLocked(now time.Time) {
	for k, until := range m.dedup {
		if until.Before(now) {
			delete(m.dedup, k)
		}
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sortTasks(ts []model.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

// The restore helpers put back a value captured before a mutation. The file
// driver uses them when the journal write after that mutation fails.

func (m *Memory) restoreTask(id string, prev model.Task, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existed {
		m.tasks[id] = prev
	} else {
		delete(m.tasks, id)
	}
}

func (m *Memory) restorePending(handle string, prev model.PendingNotification, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existed {
		m.pending[handle] = prev
	} else {
		delete(m.pending, handle)
	}
}

func (m *Memory) restoreUser(id string, prev model.User, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.users[id]; ok {
		delete(m.emails, emailKey(cur.Email))
	}
	if existed {
		m.users[id] = prev
		m.emails[emailKey(prev.Email)] = id
	} else {
		delete(m.users, id)
	}
}

func (m *Memory) restoreDedup(key string, prev time.Time, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existed {
		m.dedup[key] = prev
	} else {
		delete(m.dedup, key)
	}
}

// peek helpers read without cloning for the same purpose.

func (m *Memory) peekTask(id string) (model.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

func (m *Memory) peekPending(handle string) (model.PendingNotification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.pending[handle]
	return n, ok
}

func (m *Memory) peekUser(id string) (model.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok
}
