package mining

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/patternd/internal/logging"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, userID string) error
}

func (f *fakeRunner) RunCycle(ctx context.Context, userID string) (CycleSummary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userID)
	f.mu.Unlock()
	if f.fn != nil {
		if err := f.fn(ctx, userID); err != nil {
			return CycleSummary{UserID: userID}, err
		}
	}
	return CycleSummary{UserID: userID}, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.calls...)
	sort.Strings(out)
	return out
}

type flakyZoneDirectory struct {
	*InMemoryUserDirectory
	failing atomic.Bool
}

func (d *flakyZoneDirectory) GetUserTimezone(ctx context.Context, userID string) (string, error) {
	if d.failing.Load() {
		return "", errors.New("connection reset")
	}
	return d.InMemoryUserDirectory.GetUserTimezone(ctx, userID)
}

type flakyDirectory struct {
	*InMemoryUserDirectory
	failing atomic.Bool
}

func (d *flakyDirectory) ListActiveUsers(ctx context.Context) ([]string, error) {
	if d.failing.Load() {
		return nil, errors.New("store unreachable")
	}
	return d.InMemoryUserDirectory.ListActiveUsers(ctx)
}

// schedulerStart is a Monday noon UTC.
var schedulerStart = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, runner CycleRunner, dir UserDirectory) (*Scheduler, *logging.TestLogger) {
	t.Helper()
	tl := logging.NewTestLogger()
	cfg := DefaultConfig()
	// The loop never ticks on its own; tests drive tick directly.
	cfg.Tick = time.Hour
	s, err := NewScheduler(runner, dir, tl.Logger,
		WithSchedulerConfig(cfg),
		WithSchedulerClock(func() time.Time { return schedulerStart }))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s, tl
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(nil, NewInMemoryUserDirectory(), nil)
	assert.Error(t, err)

	_, err = NewScheduler(&fakeRunner{}, nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.RunHour = 25
	_, err = NewScheduler(&fakeRunner{}, NewInMemoryUserDirectory(), nil, WithSchedulerConfig(cfg))
	assert.Error(t, err)
}

func TestScheduler_PlansLocalRunHour(t *testing.T) {
	dir := NewInMemoryUserDirectory()
	dir.Set("ny", "America/New_York", true)
	dir.Set("tokyo", "Asia/Tokyo", true)
	dir.Set("inactive", "UTC", false)

	s, _ := newTestScheduler(t, &fakeRunner{}, dir)

	next, ok := s.NextRun("ny")
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2025, 1, 7, 8, 0, 0, 0, time.UTC)), "ny next run %v", next)

	next, ok = s.NextRun("tokyo")
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC)), "tokyo next run %v", next)

	_, ok = s.NextRun("inactive")
	assert.False(t, ok)
}

func TestScheduler_DispatchesDueUsers(t *testing.T) {
	dir := NewInMemoryUserDirectory()
	dir.Set("ny", "America/New_York", true)
	dir.Set("tokyo", "Asia/Tokyo", true)

	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, runner, dir)

	s.tick(s.runCtx, time.Date(2025, 1, 6, 18, 0, 30, 0, time.UTC))
	require.Eventually(t, func() bool { return len(runner.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tokyo"}, runner.Calls())

	next, _ := s.NextRun("tokyo")
	assert.True(t, next.Equal(time.Date(2025, 1, 7, 18, 0, 0, 0, time.UTC)), "tokyo next run %v", next)

	s.tick(s.runCtx, time.Date(2025, 1, 7, 8, 1, 0, 0, time.UTC))
	require.Eventually(t, func() bool { return len(runner.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ny", "tokyo"}, runner.Calls())
}

func TestScheduler_IsolatesUserFailures(t *testing.T) {
	dir := NewInMemoryUserDirectory()
	dir.Set("erroring", "UTC", true)
	dir.Set("panicking", "UTC", true)
	dir.Set("healthy", "UTC", true)

	var healthy atomic.Bool
	runner := &fakeRunner{fn: func(_ context.Context, userID string) error {
		switch userID {
		case "erroring":
			return errors.New("store timeout")
		case "panicking":
			panic("detector exploded")
		}
		healthy.Store(true)
		return nil
	}}
	s, tl := newTestScheduler(t, runner, dir)

	s.tick(s.runCtx, time.Date(2025, 1, 7, 3, 0, 0, 0, time.UTC))
	require.Eventually(t, healthy.Load, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(tl.FilterMessage("mining cycle failed").All()) == 1 &&
			len(tl.FilterMessage("mining cycle panicked").All()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"erroring", "healthy", "panicking"}, runner.Calls())
	tl.AssertField(t, "mining cycle failed", "user_id", "erroring")
	failed := tl.FilterMessage("mining cycle failed").All()
	require.Len(t, failed, 1)
	assert.NotEmpty(t, failed[0].ContextMap()["run_id"])
}

func TestScheduler_CycleContextCarriesIDs(t *testing.T) {
	dir := NewInMemoryUserDirectory()
	dir.Set("u1", "UTC", true)

	var mu sync.Mutex
	var gotUser, gotRun string
	runner := &fakeRunner{fn: func(ctx context.Context, _ string) error {
		mu.Lock()
		defer mu.Unlock()
		gotUser = logging.UserIDFromContext(ctx)
		gotRun = logging.RunIDFromContext(ctx)
		return nil
	}}
	s, _ := newTestScheduler(t, runner, dir)

	s.tick(s.runCtx, time.Date(2025, 1, 7, 3, 0, 0, 0, time.UTC))
	require.Eventually(t, func() bool { return len(runner.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "u1", gotUser)
	assert.NotEmpty(t, gotRun)
}

func TestScheduler_AppliesUserTimeout(t *testing.T) {
	dir := NewInMemoryUserDirectory()
	dir.Set("slow", "UTC", true)

	runner := &fakeRunner{fn: func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	tl := logging.NewTestLogger()
	cfg := DefaultConfig()
	cfg.Tick = time.Hour
	cfg.UserTimeout = 20 * time.Millisecond
	s, err := NewScheduler(runner, dir, tl.Logger,
		WithSchedulerConfig(cfg),
		WithSchedulerClock(func() time.Time { return schedulerStart }))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.tick(s.runCtx, time.Date(2025, 1, 7, 3, 0, 0, 0, time.UTC))
	require.Eventually(t, func() bool {
		return len(tl.FilterMessage("mining cycle failed").All()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_SkipsUserStillRunning(t *testing.T) {
	dir := NewInMemoryUserDirectory()
	dir.Set("busy", "UTC", true)

	release := make(chan struct{})
	runner := &fakeRunner{fn: func(context.Context, string) error {
		<-release
		return nil
	}}
	s, tl := newTestScheduler(t, runner, dir)

	s.tick(s.runCtx, time.Date(2025, 1, 7, 3, 0, 0, 0, time.UTC))
	require.Eventually(t, func() bool { return len(runner.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	s.tick(s.runCtx, time.Date(2025, 1, 8, 3, 0, 0, 0, time.UTC))
	tl.AssertLogged(t, zapcore.WarnLevel, "still running")
	assert.Len(t, runner.Calls(), 1)

	close(release)
}

func TestScheduler_StartFailsWhenUsersUnavailable(t *testing.T) {
	dir := &flakyDirectory{InMemoryUserDirectory: NewInMemoryUserDirectory()}
	dir.failing.Store(true)

	tl := logging.NewTestLogger()
	s, err := NewScheduler(&fakeRunner{}, dir, tl.Logger)
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unreachable")
	tl.AssertLogged(t, zapcore.ErrorLevel, "failed to enumerate users")
	require.NoError(t, s.Stop())
}

func TestScheduler_TickEnumerationFailureIsLogged(t *testing.T) {
	dir := &flakyDirectory{InMemoryUserDirectory: NewInMemoryUserDirectory()}
	dir.Set("u1", "UTC", true)

	runner := &fakeRunner{}
	s, tl := newTestScheduler(t, runner, dir)

	dir.failing.Store(true)
	s.tick(s.runCtx, time.Date(2025, 1, 7, 3, 0, 0, 0, time.UTC))
	tl.AssertLogged(t, zapcore.ErrorLevel, "failed to enumerate users")
	assert.Empty(t, runner.Calls())

	dir.failing.Store(false)
	s.tick(s.runCtx, time.Date(2025, 1, 7, 3, 1, 0, 0, time.UTC))
	require.Eventually(t, func() bool { return len(runner.Calls()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_TimezoneHandling(t *testing.T) {
	dir := NewInMemoryUserDirectory()
	dir.Set("lost", "Mars/Olympus_Mons", true)
	dir.Set("mover", "Europe/London", true)

	s, tl := newTestScheduler(t, &fakeRunner{}, dir)

	t.Run("unknown zone falls back to UTC", func(t *testing.T) {
		next, ok := s.NextRun("lost")
		require.True(t, ok)
		assert.True(t, next.Equal(time.Date(2025, 1, 7, 3, 0, 0, 0, time.UTC)))
		tl.AssertLogged(t, zapcore.WarnLevel, "unknown user timezone")
	})

	t.Run("zone change replans", func(t *testing.T) {
		next, _ := s.NextRun("mover")
		assert.True(t, next.Equal(time.Date(2025, 1, 7, 3, 0, 0, 0, time.UTC)))

		dir.Set("mover", "America/Los_Angeles", true)
		s.tick(s.runCtx, schedulerStart.Add(time.Minute))
		next, _ = s.NextRun("mover")
		assert.True(t, next.Equal(time.Date(2025, 1, 7, 11, 0, 0, 0, time.UTC)), "mover next run %v", next)
	})

	t.Run("removed users are forgotten", func(t *testing.T) {
		dir.Set("lost", "UTC", false)
		s.tick(s.runCtx, schedulerStart.Add(2*time.Minute))
		_, ok := s.NextRun("lost")
		assert.False(t, ok)
	})
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(&fakeRunner{}, NewInMemoryUserDirectory(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestScheduler_TimezoneReadFailureKeepsPlan(t *testing.T) {
	dir := &flakyZoneDirectory{InMemoryUserDirectory: NewInMemoryUserDirectory()}
	dir.Set("tokyo", "Asia/Tokyo", true)

	runner := &fakeRunner{}
	s, tl := newTestScheduler(t, runner, dir)

	planned, ok := s.NextRun("tokyo")
	require.True(t, ok)
	assert.True(t, planned.Equal(time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC)))

	// The read fails exactly when the run falls due; the run must still fire.
	dir.failing.Store(true)
	s.tick(s.runCtx, time.Date(2025, 1, 6, 18, 0, 30, 0, time.UTC))
	require.Eventually(t, func() bool { return len(runner.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	tl.AssertLogged(t, zapcore.WarnLevel, "failed to read user timezone")

	next, ok := s.NextRun("tokyo")
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2025, 1, 7, 18, 0, 0, 0, time.UTC)), "tokyo next run %v", next)
}
