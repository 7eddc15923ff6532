package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmanager/internal/model"
	logx "taskmanager/pkg/logx"
)

type opener func(t *testing.T) Store

func drivers(t *testing.T) map[string]opener {
	t.Helper()
	out := map[string]opener{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "tasks.json")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
	if dsn := os.Getenv("TASKD_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "postgres", DSN: dsn}, logx.Nop())
			require.NoError(t, err)
			pg := st.(*pgStore)
			_, err = pg.pool.Exec(context.Background(), `TRUNCATE tasks, pending_notifications, users, dedup`)
			require.NoError(t, err)
			return st
		}
	}
	return out
}

func forEachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	for name, open := range drivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })
			fn(t, st)
		})
	}
}

func sampleTask(owner, title string, created time.Time) model.Task {
	return model.Task{
		OwnerID:   owner,
		Title:     title,
		EndDate:   created.Add(72 * time.Hour),
		CreatedAt: created,
		Reminders: model.ReminderSet{model.ReminderSameDay: "h1"},
	}
}

func TestTaskCRUD(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

		created, err := st.CreateTask(ctx, sampleTask("u1", "write report", now))
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)

		_, err = st.CreateTask(ctx, created)
		assert.ErrorIs(t, err, ErrConflict)

		got, err := st.GetTask(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "write report", got.Title)
		assert.True(t, got.EndDate.Equal(created.EndDate))
		assert.Equal(t, "h1", got.Reminders[model.ReminderSameDay])

		title := "write final report"
		set := model.ReminderSet{model.ReminderDayBefore: "h2"}
		updated, err := st.UpdateTask(ctx, created.ID, model.TaskPatch{Title: &title, Reminders: &set})
		require.NoError(t, err)
		assert.Equal(t, title, updated.Title)
		assert.Equal(t, model.ReminderSet{model.ReminderDayBefore: "h2"}, updated.Reminders)

		got, err = st.GetTask(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, updated.Reminders, got.Reminders)

		require.NoError(t, st.DeleteTask(ctx, created.ID))
		_, err = st.GetTask(ctx, created.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, st.DeleteTask(ctx, created.ID), ErrNotFound)
		_, err = st.UpdateTask(ctx, created.ID, model.TaskPatch{Title: &title})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListTasksByOwnerOrdered(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		_, err := st.CreateTask(ctx, sampleTask("u1", "second", base.Add(time.Minute)))
		require.NoError(t, err)
		_, err = st.CreateTask(ctx, sampleTask("u1", "first", base))
		require.NoError(t, err)
		_, err = st.CreateTask(ctx, sampleTask("u2", "other", base))
		require.NoError(t, err)

		list, err := st.ListTasks(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "first", list[0].Title)
		assert.Equal(t, "second", list[1].Title)

		all, err := st.ListTasks(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestPendingNotifications(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		at := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
		require.NoError(t, st.PutPending(ctx, model.PendingNotification{Handle: "b", At: at.Add(time.Hour), Title: "later"}))
		require.NoError(t, st.PutPending(ctx, model.PendingNotification{Handle: "a", At: at, Title: "sooner", Data: map[string]string{"taskId": "t1"}}))

		list, err := st.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a", list[0].Handle)
		assert.Equal(t, "t1", list[0].Data["taskId"])

		ok, err := st.DeletePending(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = st.DeletePending(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestUsersUniqueByEmail(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		u, err := st.CreateUser(ctx, model.User{Email: "ada@example.com", PasswordHash: "x"})
		require.NoError(t, err)
		require.NotEmpty(t, u.ID)

		_, err = st.CreateUser(ctx, model.User{Email: "ADA@example.com"})
		assert.ErrorIs(t, err, ErrConflict)

		got, err := st.GetUserByEmail(ctx, "Ada@Example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		got.EmailVerified = true
		require.NoError(t, st.PutUser(ctx, got))
		again, err := st.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, again.EmailVerified)

		other, err := st.CreateUser(ctx, model.User{Email: "bob@example.com"})
		require.NoError(t, err)
		other.Email = "ada@example.com"
		assert.ErrorIs(t, st.PutUser(ctx, other), ErrConflict)

		assert.ErrorIs(t, st.PutUser(ctx, model.User{ID: "missing", Email: "x@example.com"}), ErrNotFound)
		_, err = st.GetUser(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDedupAndCompact(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		future := time.Now().Add(time.Hour).Truncate(time.Millisecond)
		require.NoError(t, st.PutDedup(ctx, "live", future))
		require.NoError(t, st.PutDedup(ctx, "stale", time.Now().Add(-time.Hour)))

		until, ok, err := st.GetDedup(ctx, "live")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, until.Equal(future))

		require.NoError(t, st.Compact(ctx))
		_, ok, err = st.GetDedup(ctx, "stale")
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, _ = st.GetDedup(ctx, "live")
		assert.True(t, ok)
	})
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "tasks.json")
	open := func() Store {
		st, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
		require.NoError(t, err)
		return st
	}

	st := open()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a, err := st.CreateTask(ctx, sampleTask("u1", "kept", now))
	require.NoError(t, err)
	b, err := st.CreateTask(ctx, sampleTask("u1", "deleted", now))
	require.NoError(t, err)
	require.NoError(t, st.Compact(ctx))
	require.NoError(t, st.DeleteTask(ctx, b.ID))
	done := true
	_, err = st.UpdateTask(ctx, a.ID, model.TaskPatch{Completed: &done})
	require.NoError(t, err)
	require.NoError(t, st.PutPending(ctx, model.PendingNotification{Handle: "p1", At: now}))
	require.NoError(t, st.Close())

	st = open()
	defer st.Close()
	list, err := st.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "kept", list[0].Title)
	assert.True(t, list[0].Completed)
	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestFileStoreUndoesMutationWhenJournalWriteFails(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "tasks.json")}, logx.Nop())
	require.NoError(t, err)
	fs := st.(*fileStore)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	kept, err := st.CreateTask(ctx, sampleTask("u1", "kept", now))
	require.NoError(t, err)
	require.NoError(t, st.PutPending(ctx, model.PendingNotification{Handle: "p1", At: now}))
	u, err := st.CreateUser(ctx, model.User{Email: "a@example.com"})
	require.NoError(t, err)

	// Writes to a closed journal fail.
	require.NoError(t, fs.journal.Close())
	t.Cleanup(func() { fs.journal = nil; _ = st.Close() })

	_, err = st.CreateTask(ctx, sampleTask("u1", "lost", now))
	assert.Error(t, err)
	set := model.ReminderSet{model.ReminderDayBefore: "n1"}
	_, err = st.UpdateTask(ctx, kept.ID, model.TaskPatch{Reminders: &set})
	assert.Error(t, err)
	assert.Error(t, st.DeleteTask(ctx, kept.ID))
	_, err = st.DeletePending(ctx, "p1")
	assert.Error(t, err)
	u.Email = "b@example.com"
	assert.Error(t, st.PutUser(ctx, u))

	list, err := st.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
	assert.Empty(t, list[0].Reminders)
	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	_, err = st.GetUserByEmail(ctx, "a@example.com")
	assert.NoError(t, err)
	_, err = st.GetUserByEmail(ctx, "b@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}
