package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmanager/internal/config"
	"taskmanager/internal/model"
	"taskmanager/internal/reminder"
	"taskmanager/internal/task"
	"taskmanager/internal/transport"
)

func quietConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "error", Console: true},
		Storage: config.StorageConfig{Driver: "memory"},
	}
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, WithSender(transport.SenderFunc(func(context.Context, transport.Notification) error { return nil })))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopRequested)
	})
	return a
}

func TestTaskLifecycleArmsAndDisarmsNotifications(t *testing.T) {
	a := startApp(t, quietConfig())
	ctx := context.Background()

	created, err := a.Tasks().Create(ctx, "u1", task.NewTask{Title: "Report", EndDate: time.Now().AddDate(0, 0, 3)})
	require.NoError(t, err)
	require.Len(t, created.Reminders, 2)

	pending, err := a.Store().ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.Len(t, a.Facility().Pending(), 2)

	require.NoError(t, a.Tasks().Delete(ctx, created.ID))
	pending, err = a.Store().ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, a.Facility().Pending())
}

func TestDeniedPermissionStoresTasksWithoutReminders(t *testing.T) {
	cfg := quietConfig()
	cfg.Notifications.Permission = "denied"
	a := startApp(t, cfg)

	created, err := a.Tasks().Create(context.Background(), "u1", task.NewTask{Title: "Report", EndDate: time.Now().AddDate(0, 0, 3)})
	require.NoError(t, err)
	assert.Empty(t, created.Reminders)
	assert.Empty(t, a.Facility().Pending())
}

func TestApplySwitchesReminderLocale(t *testing.T) {
	cfg := quietConfig()
	a := startApp(t, cfg)

	next := *cfg
	next.Reminders.Locale = "fr"
	a.apply(context.Background(), &next)

	created, err := a.Tasks().Create(context.Background(), "u1", task.NewTask{Title: "Rapport", EndDate: time.Now().AddDate(0, 0, 3)})
	require.NoError(t, err)
	wantTitle, _ := reminder.FrenchTemplates().Render(model.ReminderSameDay, "Rapport")

	var titles []string
	for _, p := range a.Facility().Pending() {
		titles = append(titles, p.Title)
	}
	assert.Contains(t, titles, wantTitle)
	assert.Len(t, created.Reminders, 2)
}

func TestBuildRejectsBadReminderConfig(t *testing.T) {
	cfg := quietConfig()
	cfg.Reminders.Locale = "tlh"
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)

	cfg = quietConfig()
	cfg.Reminders.Messages = map[string]config.MessageTemplate{"someday": {Title: "x"}}
	_, err = Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewLoadsFileAndRestoresPending(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "taskd.yaml")
	body := "logging:\n  level: error\n  console: true\nstorage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "taskd.db") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	ctx := context.Background()

	a, err := New(ctx, cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	created, err := a.Tasks().Create(ctx, "u1", task.NewTask{Title: "Report", EndDate: time.Now().AddDate(0, 0, 3)})
	require.NoError(t, err)
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	require.NoError(t, a.Stop(stopCtx, StopRequested))
	cancel()

	b, err := New(ctx, cfgPath)
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = b.Stop(stopCtx, StopRequested)
	}()

	got, err := b.Tasks().Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Reminders, got.Reminders)
	assert.Len(t, b.Facility().Pending(), 2, "pending notifications are re-armed")
}
