package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"taskmanager/internal/model"
	logx "taskmanager/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteStore keeps each record as a JSON document next to the columns
// it is queried by.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; transactions serialize through the single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug("pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t = t.Clone()
	doc, err := json.Marshal(t)
	if err != nil {
		return model.Task{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, owner_id, created_at, doc) VALUES(?,?,?,?) ON CONFLICT DO NOTHING`,
		t.ID, t.OwnerID, t.CreatedAt.UnixNano(), string(doc))
	if err != nil {
		return model.Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Task{}, ErrConflict
	}
	return t, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (model.Task, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, err
	}
	var t model.Task
	return t, json.Unmarshal([]byte(doc), &t)
}

func (s *sqliteStore) ListTasks(ctx context.Context, ownerID string) ([]model.Task, error) {
	q := `SELECT doc FROM tasks ORDER BY created_at, id`
	args := []any{}
	if ownerID != "" {
		q = `SELECT doc FROM tasks WHERE owner_id = ? ORDER BY created_at, id`
		args = append(args, ownerID)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Task{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t model.Task
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, err
	}
	var t model.Task
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return model.Task{}, err
	}
	patch.Apply(&t)
	b, err := json.Marshal(t)
	if err != nil {
		return model.Task{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET doc = ? WHERE id = ?`, string(b), id); err != nil {
		return model.Task{}, err
	}
	return t, tx.Commit()
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) PutPending(ctx context.Context, n model.PendingNotification) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_notifications(handle, at, doc) VALUES(?,?,?)
		 ON CONFLICT(handle) DO UPDATE SET at = excluded.at, doc = excluded.doc`,
		n.Handle, n.At.UnixNano(), string(doc))
	return err
}

func (s *sqliteStore) DeletePending(ctx context.Context, handle string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_notifications WHERE handle = ?`, handle)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListPending(ctx context.Context) ([]model.PendingNotification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM pending_notifications ORDER BY at, handle`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PendingNotification{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var n model.PendingNotification
		if err := json.Unmarshal([]byte(doc), &n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	doc, err := json.Marshal(u)
	if err != nil {
		return model.User{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, email, doc) VALUES(?,?,?) ON CONFLICT DO NOTHING`,
		u.ID, emailKey(u.Email), string(doc))
	if err != nil {
		return model.User{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.User{}, ErrConflict
	}
	return u, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (model.User, error) {
	return s.userWhere(ctx, `SELECT doc FROM users WHERE id = ?`, id)
}

func (s *sqliteStore) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.userWhere(ctx, `SELECT doc FROM users WHERE email = ?`, emailKey(email))
}

func (s *sqliteStore) userWhere(ctx context.Context, q string, arg string) (model.User, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	var u model.User
	return u, json.Unmarshal([]byte(doc), &u)
}

func (s *sqliteStore) PutUser(ctx context.Context, u model.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, emailKey(u.Email)).Scan(&owner)
	if err == nil && owner != u.ID {
		return ErrConflict
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE users SET email = ?, doc = ? WHERE id = ?`, emailKey(u.Email), string(doc), u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli())
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
