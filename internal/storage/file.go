package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"taskmanager/internal/model"
	logx "taskmanager/pkg/logx"
)

// fileStore keeps the whole state in a Memory and makes it durable with two
// files next to cfg.Path:
//
//   - <prefix>.snapshot.json  full state, rewritten by Compact
//   - <prefix>.journal.jsonl  one record per mutation since the snapshot
//
// Open loads the snapshot and replays the journal on top of it. A mutation
// whose journal record cannot be written is undone in memory.
type fileStore struct {
	log logx.Logger
	mem *Memory

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

type journalRecord struct {
	Op      string                     `json:"op"`
	ID      string                     `json:"id,omitempty"`
	Task    *model.Task                `json:"task,omitempty"`
	Pending *model.PendingNotification `json:"pending,omitempty"`
	User    *model.User                `json:"user,omitempty"`
	Until   time.Time                  `json:"until,omitempty"`
}

const (
	opTaskPut    = "task.put"
	opTaskDel    = "task.del"
	opPendingPut = "pending.put"
	opPendingDel = "pending.del"
	opUserPut    = "user.put"
	opDedupPut   = "dedup.put"
)

type fileSnapshot struct {
	Tasks   []model.Task                `json:"tasks"`
	Pending []model.PendingNotification `json:"pending"`
	Users   []model.User                `json:"users"`
	Dedup   map[string]time.Time        `json:"dedup,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		mem:          NewMemory(),
		snapshotPath: prefix + ".snapshot.json",
		compactEvery: 1000,
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	replayed, err := s.replay(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	s.writes = replayed
	log.Info("file store opened", logx.String("path", prefix), logx.Int("tasks", len(s.mem.tasks)), logx.Int("journal", replayed))
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	m := s.mem
	for _, t := range snap.Tasks {
		m.tasks[t.ID] = t
	}
	for _, n := range snap.Pending {
		m.pending[n.Handle] = n
	}
	for _, u := range snap.Users {
		m.users[u.ID] = u
		m.emails[emailKey(u.Email)] = u.ID
	}
	for k, v := range snap.Dedup {
		m.dedup[k] = v
	}
	return nil
}

// replay applies journal records; a torn trailing line is skipped.
func (s *fileStore) replay(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.log.Warn("skipping unreadable journal record", logx.Int("line", n+1), logx.Err(err))
			continue
		}
		s.applyRecord(r)
		n++
	}
	return n, sc.Err()
}

func (s *fileStore) applyRecord(r journalRecord) {
	m := s.mem
	switch r.Op {
	case opTaskPut:
		if r.Task != nil {
			m.tasks[r.Task.ID] = *r.Task
		}
	case opTaskDel:
		delete(m.tasks, r.ID)
	case opPendingPut:
		if r.Pending != nil {
			m.pending[r.Pending.Handle] = *r.Pending
		}
	case opPendingDel:
		delete(m.pending, r.ID)
	case opUserPut:
		if r.User != nil {
			if old, ok := m.users[r.User.ID]; ok {
				delete(m.emails, emailKey(old.Email))
			}
			m.users[r.User.ID] = *r.User
			m.emails[emailKey(r.User.Email)] = r.User.ID
		}
	case opDedupPut:
		m.dedup[r.ID] = r.Until
	}
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes >= s.compactEvery {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.mem.CreateTask(ctx, t)
	if err != nil {
		return model.Task{}, err
	}
	if err := s.appendLocked(journalRecord{Op: opTaskPut, Task: &out}); err != nil {
		s.mem.restoreTask(out.ID, model.Task{}, false)
		return model.Task{}, err
	}
	return out, nil
}

func (s *fileStore) GetTask(ctx context.Context, id string) (model.Task, error) {
	return s.mem.GetTask(ctx, id)
}

func (s *fileStore) ListTasks(ctx context.Context, ownerID string) ([]model.Task, error) {
	return s.mem.ListTasks(ctx, ownerID)
}

func (s *fileStore) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.mem.peekTask(id)
	out, err := s.mem.UpdateTask(ctx, id, patch)
	if err != nil {
		return model.Task{}, err
	}
	if err := s.appendLocked(journalRecord{Op: opTaskPut, Task: &out}); err != nil {
		s.mem.restoreTask(id, prev, existed)
		return model.Task{}, err
	}
	return out, nil
}

func (s *fileStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.mem.peekTask(id)
	if err := s.mem.DeleteTask(ctx, id); err != nil {
		return err
	}
	if err := s.appendLocked(journalRecord{Op: opTaskDel, ID: id}); err != nil {
		s.mem.restoreTask(id, prev, existed)
		return err
	}
	return nil
}

func (s *fileStore) PutPending(ctx context.Context, n model.PendingNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.mem.peekPending(n.Handle)
	if err := s.mem.PutPending(ctx, n); err != nil {
		return err
	}
	n = n.Clone()
	if err := s.appendLocked(journalRecord{Op: opPendingPut, Pending: &n}); err != nil {
		s.mem.restorePending(n.Handle, prev, existed)
		return err
	}
	return nil
}

func (s *fileStore) DeletePending(ctx context.Context, handle string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, _ := s.mem.peekPending(handle)
	ok, err := s.mem.DeletePending(ctx, handle)
	if err != nil || !ok {
		return ok, err
	}
	if err := s.appendLocked(journalRecord{Op: opPendingDel, ID: handle}); err != nil {
		s.mem.restorePending(handle, prev, true)
		return false, err
	}
	return true, nil
}

func (s *fileStore) ListPending(ctx context.Context) ([]model.PendingNotification, error) {
	return s.mem.ListPending(ctx)
}

func (s *fileStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.mem.CreateUser(ctx, u)
	if err != nil {
		return model.User{}, err
	}
	if err := s.appendLocked(journalRecord{Op: opUserPut, User: &out}); err != nil {
		s.mem.restoreUser(out.ID, model.User{}, false)
		return model.User{}, err
	}
	return out, nil
}

func (s *fileStore) GetUser(ctx context.Context, id string) (model.User, error) {
	return s.mem.GetUser(ctx, id)
}

func (s *fileStore) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.mem.GetUserByEmail(ctx, email)
}

func (s *fileStore) PutUser(ctx context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.mem.peekUser(u.ID)
	if err := s.mem.PutUser(ctx, u); err != nil {
		return err
	}
	if err := s.appendLocked(journalRecord{Op: opUserPut, User: &u}); err != nil {
		s.mem.restoreUser(u.ID, prev, existed)
		return err
	}
	return nil
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed, err := s.mem.GetDedup(ctx, key)
	if err != nil {
		return err
	}
	if err := s.mem.PutDedup(ctx, key, until); err != nil {
		return err
	}
	if err := s.appendLocked(journalRecord{Op: opDedupPut, ID: key, Until: until}); err != nil {
		s.mem.restoreDedup(key, prev, existed)
		return err
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	return s.mem.GetDedup(ctx, key)
}

func (s *fileStore) Compact(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

// compactLocked writes the snapshot via rename and truncates the journal.
func (s *fileStore) compactLocked() error {
	m := s.mem
	m.mu.Lock()
	m.pruneDedupLocked(time.Now())
	snap := fileSnapshot{Dedup: make(map[string]time.Time, len(m.dedup))}
	for _, t := range m.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	for _, n := range m.pending {
		snap.Pending = append(snap.Pending, n)
	}
	for _, u := range m.users {
		snap.Users = append(snap.Users, u)
	}
	for k, v := range m.dedup {
		snap.Dedup[k] = v
	}
	m.mu.Unlock()
	sortTasks(snap.Tasks)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	s.log.Debug("journal compacted", logx.Int("records", s.writes), logx.Int("tasks", len(snap.Tasks)))
	s.writes = 0
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.mem.Close()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}
