// Package app wires the daemon: config, logging, storage, triggers, the
// delivery pipeline, the notification facility and the domain services.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskmanager/internal/auth"
	"taskmanager/internal/config"
	"taskmanager/internal/eventbus"
	"taskmanager/internal/notifier"
	"taskmanager/internal/observability/debug"
	"taskmanager/internal/platform"
	"taskmanager/internal/reminder"
	"taskmanager/internal/runtime/supervisor"
	"taskmanager/internal/storage"
	"taskmanager/internal/task"
	"taskmanager/internal/transport"
	"taskmanager/internal/transport/telegram"
	"taskmanager/internal/trigger"
	logx "taskmanager/pkg/logx"
)

type StopReason string

const (
	StopSignal    StopReason = "signal"
	StopFatal     StopReason = "fatal"
	StopRequested StopReason = "requested"
)

const maintenanceJob = "maintenance.compact"

type Option func(*options)

type options struct {
	sender transport.Sender
}

// WithSender replaces the configured transport.
func WithSender(s transport.Sender) Option { return func(o *options) { o.sender = s } }

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sender    transport.Sender
	triggers  *trigger.Service
	notif     *notifier.Service
	facility  *platform.Local
	reminders *reminder.Scheduler
	tasks     *task.Service
	auth      *auth.Local
	debug     *debug.Server
}

// New loads cfgPath and wires the app. The file is watched after Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}
	return build(ctx, cfg, cfgm, opts...)
}

// Build wires the app from an in-memory config; nothing is hot-reloaded.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return build(ctx, cfg, nil, opts...)
}

func build(ctx context.Context, cfg *config.Config, cfgm *config.Manager, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	logs, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	if cfgm != nil {
		cfgm.SetLogger(root.With(logx.String("comp", "config")))
	}

	sender, channel := o.sender, "custom"
	if sender == nil {
		if cfg.Telegram.Enabled() {
			tc, err := mapTelegram(cfg)
			if err != nil {
				_ = logs.Close()
				return nil, err
			}
			tg, err := telegram.New(tc, root.With(logx.String("comp", "telegram")))
			if err != nil {
				_ = logs.Close()
				return nil, err
			}
			sender, channel = tg, "telegram"
			logs.SetAlerter(transport.Alerter{Sender: tg, Channel: "alerts"})
		} else {
			sender, channel = transport.LogSender{Log: root.With(logx.String("comp", "deliveries"))}, "log"
		}
	}

	sc, err := mapStorage(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	store, err := storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	bus := eventbus.New()

	tc, err := mapTrigger(cfg)
	if err != nil {
		return fail(err)
	}
	triggers := trigger.New(tc, root.With(logx.String("comp", "trigger")), bus)

	nc, err := mapNotifier(cfg)
	if err != nil {
		return fail(err)
	}
	notif := notifier.New(nc, sender, root.With(logx.String("comp", "notifier")), bus)
	if nc.PersistDedup {
		notif.SetDedupStore(store)
	}

	pc, err := mapPlatform(cfg, channel)
	if err != nil {
		return fail(err)
	}
	facility := platform.NewLocal(pc, triggers, store, notif, root.With(logx.String("comp", "platform")), bus)

	planner, templates, err := mapReminders(cfg)
	if err != nil {
		return fail(err)
	}
	reminders := reminder.NewScheduler(facility, planner,
		reminder.WithLogger(root.With(logx.String("comp", "reminder"))),
		reminder.WithBus(bus),
		reminder.WithTemplates(templates),
	)
	tasks := task.NewService(store, reminders, reminder.SystemClock{}, root.With(logx.String("comp", "task")), bus)

	ac, err := mapAuth(cfg)
	if err != nil {
		return fail(err)
	}
	authLog := root.With(logx.String("comp", "auth"))
	provider := auth.NewLocal(ac, store, auth.LogMailer{Log: root.With(logx.String("comp", "mail"))},
		auth.WithLogger(authLog), auth.WithBus(bus))

	a := &App{
		cfgm:      cfgm,
		cfg:       cfg,
		log:       log,
		logs:      logs,
		bus:       bus,
		store:     store,
		sender:    sender,
		triggers:  triggers,
		notif:     notif,
		facility:  facility,
		reminders: reminders,
		tasks:     tasks,
		auth:      provider,
	}
	a.debug = debug.New(a.status, root.With(logx.String("comp", "debug")))
	log.Info("app wired", logx.String("storage", sc.Driver), logx.String("channel", channel))
	return a, nil
}

func (a *App) Tasks() *task.Service           { return a.tasks }
func (a *App) Auth() *auth.Local              { return a.auth }
func (a *App) Facility() *platform.Local      { return a.facility }
func (a *App) Reminders() *reminder.Scheduler { return a.reminders }
func (a *App) Bus() eventbus.Bus              { return a.bus }
func (a *App) Store() storage.Store           { return a.store }
func (a *App) Logger() logx.Logger            { return a.log }

// Done is closed when the app context is cancelled by Stop or a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.notif.Start(run)
	a.triggers.Start(run)

	if _, err := a.facility.Restore(ctx); err != nil {
		return err
	}
	if err := a.scheduleMaintenance(a.cfg); err != nil {
		return err
	}
	if err := a.debug.Apply(ctx, mapDebug(a.cfg)); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return
				case next, ok := <-sub:
					if !ok {
						return
					}
					a.apply(c, next)
				}
			}
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started")
	return nil
}

func (a *App) scheduleMaintenance(cfg *config.Config) error {
	spec, timeout, err := mapMaintenance(cfg)
	if err != nil {
		return err
	}
	return a.triggers.AddSchedule(maintenanceJob, spec, timeout, a.compact)
}

func (a *App) compact(ctx context.Context) error {
	start := time.Now()
	if err := a.store.Compact(ctx); err != nil {
		a.log.Warn("storage compaction failed", logx.Err(err))
		return err
	}
	a.log.Debug("storage compacted", logx.Duration("took", time.Since(start)))
	return nil
}

// apply hot-applies a committed config. Sections in
// config.RestartSections only log a warning.
func (a *App) apply(ctx context.Context, next *config.Config) {
	sections, fields := config.SummarizeChange(a.cfg, next)
	if len(sections) == 0 {
		a.log.Debug("config reload without effective changes")
		return
	}
	prev := a.cfg
	a.cfg = next

	for _, s := range sections {
		if config.RestartSections[s] {
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogging(next))
	if tc, err := mapTrigger(next); err == nil {
		a.triggers.Apply(tc)
	}
	if nc, err := mapNotifier(next); err == nil {
		a.notif.Apply(nc)
	}
	if p, t, err := mapReminders(next); err == nil {
		a.reminders.Apply(p, t)
	} else {
		a.log.Warn("reminder config kept", logx.Err(err))
	}
	if prev == nil || prev.Maintenance != next.Maintenance {
		if err := a.scheduleMaintenance(next); err != nil {
			a.log.Warn("maintenance schedule kept", logx.Err(err))
		}
	}
	if err := a.debug.Apply(ctx, mapDebug(next)); err != nil {
		a.log.Warn("debug server not applied", logx.Err(err))
	}

	a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

func (a *App) status(context.Context) any {
	out := map[string]any{
		"triggers":   len(a.triggers.Snapshot()),
		"pending":    len(a.facility.Pending()),
		"deliveries": len(a.notif.History()),
		"permission": a.facility.Status(),
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Counters()
	}
	return out
}

// Stop shuts components down in dependency order. Every step is bounded so
// one component cannot stall the others.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var firstErr error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step failed", logx.String("name", name), logx.Err(err))
				if firstErr == nil {
					firstErr = err
				}
			}
			a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("triggers", 2*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return firstErr
}
