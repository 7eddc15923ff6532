package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskmanager/internal/eventbus"
	rtsup "taskmanager/internal/runtime/supervisor"
	"taskmanager/internal/transport"
	logx "taskmanager/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historySize = 200

// DedupStore persists suppress-until marks so a restart inside the window
// does not resend.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

type job struct {
	n   transport.Notification
	key string
}

// Service is safe for concurrent use. Apply may run while workers are
// delivering; worker count and queue size take effect on the next Start.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender transport.Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	enqueueWG sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor

	dmu    sync.Mutex
	dedup  map[string]time.Time
	dstore DedupStore

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender transport.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus, dedup: map[string]time.Time{}}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// SetSender swaps the delivery transport.
func (s *Service) SetSender(sender transport.Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// SetDedupStore enables persistent dedup when cfg.PersistDedup is set.
func (s *Service) SetDedupStore(st DedupStore) {
	s.dmu.Lock()
	s.dstore = st
	s.dmu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		rtsup.WithCancelOnError(false),
	)
	q, sup, workers := s.queue, s.sup, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			if c.Err() != nil {
				return c.Err()
			}
			// queue closed by Stop
			return nil
		}, 250*time.Millisecond, 5*time.Second)
	}
	s.log.Info("notifier started", logx.Int("workers", workers))
}

// Stop refuses new notifications, then drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	s.enqueueWG.Wait()
	close(q)
	_ = sup.Wait(ctx)
	if ctx.Err() != nil {
		s.log.Warn("notifier drain timed out; cancelling workers")
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}

	s.mu.Lock()
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()
	s.log.Info("notifier stopped")
}

// Notify enqueues n for delivery. A duplicate key inside the dedup window is
// dropped silently.
func (s *Service) Notify(ctx context.Context, n transport.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, maxEntries, persist := s.cfg.DedupWindow, s.cfg.DedupMaxEntries, s.cfg.PersistDedup
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(ctx, key, window, maxEntries, persist) {
		s.publish("notifier.deduped", n, key, 0, nil)
		return nil
	}

	select {
	case q <- job{n: n, key: key}:
		s.publish("notifier.queued", n, key, 0, nil)
		return nil
	default:
		s.publish("notifier.dropped", n, key, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

// History returns the most recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		s.publish("notifier.failed", j.n, j.key, 0, errors.New("no sender configured"))
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sender.Send(callCtx, j.n)
		cancel()
		if err == nil {
			s.remember(j)
			s.publish("notifier.sent", j.n, j.key, attempt, nil)
			return
		}
		lastErr = err
		s.log.Debug("send failed", logx.String("key", j.key), logx.Int("attempt", attempt), logx.Int("max", attempts), logx.Err(err))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("notification delivery failed", logx.String("key", j.key), logx.Int("attempts", attempts), logx.Err(lastErr))
	s.publish("notifier.failed", j.n, j.key, attempts, lastErr)
}

func (s *Service) remember(j job) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Key: j.key, Text: j.n.Body()})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, n transport.Notification, key string, attempt int, err error) {
	ev := Event{Channel: n.Channel, Key: key, At: time.Now(), Attempt: attempt}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// dedupKey prefers the caller's key; otherwise it hashes channel, priority
// and content.
func dedupKey(n transport.Notification) string {
	if n.Key != "" {
		return n.Key
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s", n.Channel, n.Priority, n.Body())
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, maxEntries int, persist bool) bool {
	now := time.Now()
	s.dmu.Lock()
	st := s.dstore
	if !persist {
		st = nil
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if st != nil {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var (
			oldest  string
			oldestT time.Time
		)
		for k, t := range s.dedup {
			if oldest == "" || t.Before(oldestT) {
				oldest, oldestT = k, t
			}
		}
		delete(s.dedup, oldest)
	}
	s.dmu.Unlock()

	if st != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		if err := st.PutDedup(cctx, key, until); err != nil {
			s.log.Debug("dedup persist failed", logx.String("key", key), logx.Err(err))
		}
		cancel()
	}
	return true
}

// retryDelay is RetryBase * 2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
