package trigger

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"taskmanager/internal/eventbus"
	logx "taskmanager/pkg/logx"
)

type Config struct {
	Timezone       string        // IANA name, empty means time.Local
	DefaultTimeout time.Duration // applied when a job is added with timeout <= 0
}

type Job func(ctx context.Context) error

type schedule struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entry   cron.EntryID
	busy    atomic.Bool
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

// Service owns the cron runner and the one-shot timers. Definitions survive
// Stop, so a later Start re-arms them.
type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron

	base    context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup

	schedules map[string]*schedule
	once      map[string]*onceDef
	seq       uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		schedules: map[string]*schedule{},
		once:      map[string]*onceDef{},
	}
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

// Location is the zone used for cron specs.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply swaps the config. A timezone change restarts the cron runner when it
// is active.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if !tzChanged {
		return
	}
	s.loc = s.loadLocation(cfg.Timezone)
	if s.c == nil {
		return
	}
	old := s.c
	s.startCronLocked()
	go func() { <-old.Stop().Done() }()
	s.log.Info("timezone changed; cron restarted", logx.String("tz", s.loc.String()))
}

// Start arms every known definition. Jobs inherit ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(ctx)
	s.startCronLocked()
	for name, d := range s.once {
		s.armLocked(name, d)
	}
	s.log.Info("trigger started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.schedules)), logx.Int("once", len(s.once)))
}

func (s *Service) startCronLocked() {
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, sc := range s.schedules {
		if err := s.registerLocked(sc); err != nil {
			s.log.Error("schedule register failed", logx.String("name", sc.name), logx.String("spec", sc.spec), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop disarms timers and cron, cancels running jobs and waits for them
// until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
	cancel := s.cancel
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out with jobs still running")
	}
	s.log.Info("trigger stopped")
}

// AddOnce registers job to run once at `at`. An existing definition with the
// same name is replaced; instants in the past fire as soon as possible.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.seq++
	d := &onceDef{at: at, timeout: timeout, job: job, ver: s.seq}
	s.once[name] = d
	if s.c != nil {
		s.armLocked(name, d)
	}
	s.log.Debug("once registered", logx.String("name", name), logx.Time("at", at))
	return nil
}

func (s *Service) armLocked(name string, d *onceDef) {
	delay := time.Until(d.at)
	if delay < 0 {
		delay = 0
	}
	ver := d.ver
	d.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.once[name]
		if !ok || cur.ver != ver {
			s.mu.Unlock()
			return
		}
		delete(s.once, name)
		s.mu.Unlock()
		s.run(name, cur.timeout, cur.job)
	})
}

// AddSchedule registers a recurring job; see ParseSchedule for accepted
// forms. Runs never overlap: a tick is skipped while the previous run of the
// same name is still going.
func (s *Service) AddSchedule(name, raw string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	spec := ps.Spec()
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("parse %q: %w", raw, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	sc := &schedule{name: name, spec: spec, timeout: timeout, job: job}
	s.schedules[name] = sc
	if s.c != nil {
		if err := s.registerLocked(sc); err != nil {
			delete(s.schedules, name)
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

func (s *Service) registerLocked(sc *schedule) error {
	id, err := s.c.AddFunc(sc.spec, func() {
		if !sc.busy.CompareAndSwap(false, true) {
			s.log.Debug("previous run still active; tick skipped", logx.String("name", sc.name))
			return
		}
		s.run(sc.name, sc.timeout, func(ctx context.Context) error {
			defer sc.busy.Store(false)
			return sc.job(ctx)
		})
	})
	if err != nil {
		return err
	}
	sc.entry = id
	return nil
}

// Remove drops every definition with the given name. It reports whether
// anything was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(name)
	if removed {
		s.log.Debug("trigger removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	removed := false
	if d, ok := s.once[name]; ok {
		if d.timer != nil {
			d.timer.Stop()
		}
		delete(s.once, name)
		removed = true
	}
	if sc, ok := s.schedules[name]; ok {
		if s.c != nil && sc.entry != 0 {
			s.c.Remove(sc.entry)
		}
		delete(s.schedules, name)
		removed = true
	}
	return removed
}

// Info describes one registered trigger.
type Info struct {
	Name string
	Spec string // "once" for one-shot triggers
	Next time.Time
}

// Snapshot lists the registered triggers ordered by name.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.once)+len(s.schedules))
	for name, d := range s.once {
		out = append(out, Info{Name: name, Spec: "once", Next: d.at})
	}
	for name, sc := range s.schedules {
		info := Info{Name: name, Spec: sc.spec}
		if s.c != nil && sc.entry != 0 {
			info.Next = s.c.Entry(sc.entry).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) run(name string, timeout time.Duration, job Job) {
	s.mu.Lock()
	base := s.base
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	s.running.Add(1)
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}

	go func() {
		defer s.running.Done()
		ctx, cancel := base, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(base, timeout)
		}
		defer cancel()

		start := time.Now()
		err := guard(ctx, job)
		took := time.Since(start)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("job failed", logx.String("name", name), logx.Duration("took", took), logx.Err(err))
			s.bus.Publish(eventbus.Event{Type: "trigger.failed", Data: map[string]any{"name": name, "error": err.Error()}})
			return
		}
		s.log.Debug("job done", logx.String("name", name), logx.Duration("took", took))
	}()
}

func guard(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
