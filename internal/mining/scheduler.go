package mining

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/logging"
)

// CycleRunner runs one user's mining cycle. *Miner implements it.
type CycleRunner interface {
	RunCycle(ctx context.Context, userID string) (CycleSummary, error)
}

type scheduleEntry struct {
	timezone string
	next     time.Time
}

// Scheduler fires each active user's mining cycle once a day at the
// configured hour in the user's own timezone.
//
// A ticker loop enumerates users and hands due ones to a bounded worker
// pool. Each cycle runs under its own timeout; an error or panic in one
// user's cycle is logged and never affects another user.
//
// Thread Safety: Start and Stop are safe for concurrent use.
type Scheduler struct {
	runner CycleRunner
	users  UserDirectory
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	// mu protects running, stopCh and cancel.
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	runCtx  context.Context
	wg      sync.WaitGroup
	jobs    chan string

	// stateMu protects entries and inflight.
	stateMu  sync.Mutex
	entries  map[string]scheduleEntry
	inflight map[string]bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerConfig overrides DefaultConfig.
func WithSchedulerConfig(cfg Config) SchedulerOption {
	return func(s *Scheduler) {
		s.cfg = cfg
	}
}

// WithSchedulerClock sets the time source used for scheduling decisions.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler. It does not start until Start is called.
func NewScheduler(runner CycleRunner, users UserDirectory, logger *logging.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("cycle runner cannot be nil")
	}
	if users == nil {
		return nil, errors.New("user directory cannot be nil")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Scheduler{
		runner:   runner,
		users:    users,
		cfg:      DefaultConfig(),
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		entries:  make(map[string]scheduleEntry),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	return s, nil
}

// Start enumerates users, plans their next runs and starts the workers.
//
// Failing to list users at startup is returned to the caller rather than
// retried: the store is unreachable and nothing could be scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}

	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		getMetrics().enumerationFailures.Inc()
		s.logger.Error(ctx, "failed to enumerate users at scheduler start", zap.Error(err))
		return fmt.Errorf("enumerating users: %w", err)
	}
	s.plan(ctx, users, s.now())

	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.stopCh = make(chan struct{})
	s.jobs = make(chan string)
	s.running = true

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(s.runCtx, s.jobs)
	}
	s.wg.Add(1)
	go s.run(s.runCtx, s.stopCh)

	s.logger.Info(ctx, "mining scheduler started",
		zap.Int("users", len(users)),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("run_hour", s.cfg.RunHour),
		zap.Duration("tick", s.cfg.Tick))
	return nil
}

// Stop cancels in-flight cycles and waits for the workers to exit. Work
// already committed by a cancelled cycle is kept. Calling Stop on a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.logger.Info(context.Background(), "stopping mining scheduler")
	s.running = false
	close(s.stopCh)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// NextRun returns when the user's next cycle is planned.
func (s *Scheduler) NextRun(userID string) (time.Time, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	e, ok := s.entries[userID]
	return e.next, ok
}

func (s *Scheduler) run(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "scheduler loop panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeTick(ctx)
		case <-stopCh:
			return
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "scheduler tick panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	s.tick(ctx, s.now())
}

// tick re-reads the user list, refreshes every user's schedule and
// dispatches the users whose run time has passed. A user whose previous
// cycle is still running is not dispatched again.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		getMetrics().enumerationFailures.Inc()
		s.logger.Error(ctx, "failed to enumerate users", zap.Error(err))
		return
	}

	for _, userID := range s.plan(ctx, users, now) {
		s.stateMu.Lock()
		busy := s.inflight[userID]
		if !busy {
			s.inflight[userID] = true
		}
		s.stateMu.Unlock()
		if busy {
			s.logger.Warn(logging.WithUserID(ctx, userID), "previous mining cycle still running, skipping")
			continue
		}

		select {
		case s.jobs <- userID:
		case <-ctx.Done():
			s.finish(userID)
			return
		}
	}
}

// plan updates the schedule entries for users and returns those that are
// due at now. Users no longer listed are forgotten.
func (s *Scheduler) plan(ctx context.Context, users []string, now time.Time) []string {
	listed := make(map[string]bool, len(users))
	var due []string

	for _, userID := range users {
		listed[userID] = true
		uctx := logging.WithUserID(ctx, userID)

		s.stateMu.Lock()
		prev, known := s.entries[userID]
		s.stateMu.Unlock()
		fallback := "UTC"
		if known {
			fallback = prev.timezone
		}
		tz := s.timezone(uctx, userID, fallback)
		sched := s.schedule(uctx, tz)

		s.stateMu.Lock()
		e, ok := s.entries[userID]
		switch {
		case !ok || e.timezone != tz:
			e = scheduleEntry{timezone: tz, next: sched.Next(now)}
		case !now.Before(e.next):
			due = append(due, userID)
			e.next = sched.Next(now)
		}
		s.entries[userID] = e
		s.stateMu.Unlock()
	}

	s.stateMu.Lock()
	for userID := range s.entries {
		if !listed[userID] {
			delete(s.entries, userID)
		}
	}
	s.stateMu.Unlock()
	return due
}

// timezone reads the user's zone. A failed read returns fallback, the zone
// already planned for the user, so a transient error never replans.
func (s *Scheduler) timezone(ctx context.Context, userID, fallback string) string {
	tz, err := s.users.GetUserTimezone(ctx, userID)
	if err != nil {
		s.logger.Warn(ctx, "failed to read user timezone, keeping previous",
			zap.String("timezone", fallback), zap.Error(err))
		return fallback
	}
	if tz == "" {
		return "UTC"
	}
	return tz
}

// schedule returns the daily run schedule in tz, falling back to UTC when
// the zone cannot be loaded.
func (s *Scheduler) schedule(ctx context.Context, tz string) cron.Schedule {
	expr := fmt.Sprintf("CRON_TZ=%s 0 %d * * *", tz, s.cfg.RunHour)
	sched, err := cron.ParseStandard(expr)
	if err == nil {
		return sched
	}
	s.logger.Warn(ctx, "unknown user timezone, scheduling in UTC",
		zap.String("timezone", tz),
		zap.Error(err))
	sched, err = cron.ParseStandard(fmt.Sprintf("CRON_TZ=UTC 0 %d * * *", s.cfg.RunHour))
	if err != nil {
		panic(fmt.Sprintf("invalid UTC schedule: %v", err))
	}
	return sched
}

func (s *Scheduler) worker(ctx context.Context, jobs <-chan string) {
	defer s.wg.Done()
	for {
		select {
		case userID := <-jobs:
			s.runUser(ctx, userID)
		case <-ctx.Done():
			return
		}
	}
}

// runUser runs one cycle under the per-user timeout with a fresh run ID.
// Errors and panics are logged and contained.
func (s *Scheduler) runUser(ctx context.Context, userID string) {
	ctx = logging.WithRunID(logging.WithUserID(ctx, userID), uuid.NewString())
	defer s.finish(userID)
	defer func() {
		if r := recover(); r != nil {
			getMetrics().cycles.WithLabelValues(OutcomeFailure).Inc()
			s.logger.Error(ctx, "mining cycle panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.UserTimeout)
	defer cancel()

	if _, err := s.runner.RunCycle(cctx, userID); err != nil {
		s.logger.Error(cctx, "mining cycle failed", zap.Error(err))
	}
}

func (s *Scheduler) finish(userID string) {
	s.stateMu.Lock()
	delete(s.inflight, userID)
	s.stateMu.Unlock()
}
