package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"taskmanager/internal/model"
	logx "taskmanager/pkg/logx"
)

// pgStore mirrors sqliteStore with JSONB documents and row locks for
// read-modify-write updates.
type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.ConnectConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	st := &pgStore{pool: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("database", pcfg.ConnConfig.Database))
	return st, nil
}

func (s *pgStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, string(b))
	return err
}

func (s *pgStore) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t = t.Clone()
	doc, err := json.Marshal(t)
	if err != nil {
		return model.Task{}, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tasks(id, owner_id, created_at, doc) VALUES($1,$2,$3,$4::jsonb) ON CONFLICT DO NOTHING`,
		t.ID, t.OwnerID, t.CreatedAt, string(doc))
	if err != nil {
		return model.Task{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.Task{}, ErrConflict
	}
	return t, nil
}

func (s *pgStore) GetTask(ctx context.Context, id string) (model.Task, error) {
	var t model.Task
	err := scanDoc(s.pool.QueryRow(ctx, `SELECT doc::text FROM tasks WHERE id = $1`, id), &t)
	return t, err
}

func (s *pgStore) ListTasks(ctx context.Context, ownerID string) ([]model.Task, error) {
	q := `SELECT doc::text FROM tasks ORDER BY created_at, id`
	args := []any{}
	if ownerID != "" {
		q = `SELECT doc::text FROM tasks WHERE owner_id = $1 ORDER BY created_at, id`
		args = append(args, ownerID)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Task{}
	for rows.Next() {
		var t model.Task
		if err := scanDoc(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Task{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var t model.Task
	if err := scanDoc(tx.QueryRow(ctx, `SELECT doc::text FROM tasks WHERE id = $1 FOR UPDATE`, id), &t); err != nil {
		return model.Task{}, err
	}
	patch.Apply(&t)
	b, err := json.Marshal(t)
	if err != nil {
		return model.Task{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE tasks SET doc = $1::jsonb WHERE id = $2`, string(b), id); err != nil {
		return model.Task{}, err
	}
	return t, tx.Commit(ctx)
}

func (s *pgStore) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) PutPending(ctx context.Context, n model.PendingNotification) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pending_notifications(handle, at, doc) VALUES($1,$2,$3::jsonb)
		 ON CONFLICT(handle) DO UPDATE SET at = excluded.at, doc = excluded.doc`,
		n.Handle, n.At, string(doc))
	return err
}

func (s *pgStore) DeletePending(ctx context.Context, handle string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pending_notifications WHERE handle = $1`, handle)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgStore) ListPending(ctx context.Context) ([]model.PendingNotification, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc::text FROM pending_notifications ORDER BY at, handle`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PendingNotification{}
	for rows.Next() {
		var n model.PendingNotification
		if err := scanDoc(rows, &n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *pgStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	doc, err := json.Marshal(u)
	if err != nil {
		return model.User{}, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO users(id, email, doc) VALUES($1,$2,$3::jsonb) ON CONFLICT DO NOTHING`,
		u.ID, emailKey(u.Email), string(doc))
	if err != nil {
		return model.User{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.User{}, ErrConflict
	}
	return u, nil
}

func (s *pgStore) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := scanDoc(s.pool.QueryRow(ctx, `SELECT doc::text FROM users WHERE id = $1`, id), &u)
	return u, err
}

func (s *pgStore) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := scanDoc(s.pool.QueryRow(ctx, `SELECT doc::text FROM users WHERE email = $1`, emailKey(email)), &u)
	return u, err
}

func (s *pgStore) PutUser(ctx context.Context, u model.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner string
	err = tx.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, emailKey(u.Email)).Scan(&owner)
	if err == nil && owner != u.ID {
		return ErrConflict
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE users SET email = $1, doc = $2::jsonb WHERE id = $3`, emailKey(u.Email), string(doc), u.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *pgStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dedup(key, until) VALUES($1,$2) ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until)
	return err
}

func (s *pgStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var until time.Time
	err := s.pool.QueryRow(ctx, `SELECT until FROM dedup WHERE key = $1`, key).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return until, true, nil
}

func (s *pgStore) Compact(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dedup WHERE until < now()`)
	return err
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func scanDoc(row pgx.Row, out any) error {
	var doc string
	err := row.Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(doc), out)
}
