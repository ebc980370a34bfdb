package workflows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/mining"
)

// fakeRunner returns canned summaries and counts calls per user.
type fakeRunner struct {
	mu    sync.Mutex
	calls  map[string]int
	fail   map[string]error
	runIDs map[string]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: map[string]int{}, fail: map[string]error{}, runIDs: map[string]string{}}
}

func (f *fakeRunner) RunCycle(ctx context.Context, userID string) (mining.CycleSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[userID]++
	f.runIDs[logging.UserIDFromContext(ctx)] = logging.RunIDFromContext(ctx)
	if err := f.fail[userID]; err != nil {
		return mining.CycleSummary{}, err
	}
	return mining.CycleSummary{
		UserID:          userID,
		EventsAnalyzed:  120,
		NewPatterns:     2,
		UpdatedPatterns: 1,
		DurationSeconds: 0.5,
	}, nil
}

func (f *fakeRunner) callCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[userID]
}

func newEnv(t *testing.T, runner mining.CycleRunner) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(BackfillWorkflow)
	acts, err := NewActivities(runner, nil)
	require.NoError(t, err)
	env.RegisterActivity(acts)
	return env
}

func TestBackfillWorkflow(t *testing.T) {
	t.Run("mines every user", func(t *testing.T) {
		runner := newFakeRunner()
		env := newEnv(t, runner)

		env.ExecuteWorkflow(BackfillWorkflow, BackfillInput{UserIDs: []string{"alice", "bob"}})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result BackfillResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 2, result.Succeeded)
		assert.Equal(t, 0, result.Failed)
		require.Len(t, result.Users, 2)
		assert.Equal(t, "alice", result.Users[0].UserID)
		assert.Equal(t, "bob", result.Users[1].UserID)
		assert.Equal(t, 120, result.Users[0].EventsAnalyzed)
		require.NotEmpty(t, runner.runIDs["alice"])
		assert.Equal(t, runner.runIDs["alice"], runner.runIDs["bob"])
		assert.Equal(t, 2, result.Users[0].NewPatterns)
		assert.Empty(t, result.Users[0].Error)
	})

	t.Run("one failing user does not abort the others", func(t *testing.T) {
		runner := newFakeRunner()
		runner.fail["bob"] = errors.New("database is locked")
		env := newEnv(t, runner)

		env.ExecuteWorkflow(BackfillWorkflow, BackfillInput{
			UserIDs:     []string{"alice", "bob", "carol"},
			MaxAttempts: 2,
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result BackfillResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 2, result.Succeeded)
		assert.Equal(t, 1, result.Failed)
		require.Len(t, result.Users, 3)
		assert.Equal(t, "bob", result.Users[1].UserID)
		assert.Contains(t, result.Users[1].Error, "database is locked")
		assert.Equal(t, "carol", result.Users[2].UserID)
		assert.Empty(t, result.Users[2].Error)
		assert.Equal(t, 2, runner.callCount("bob"))
	})

	t.Run("unknown users are not retried", func(t *testing.T) {
		runner := newFakeRunner()
		runner.fail["ghost"] = fmt.Errorf("resolve timezone: %w", mining.ErrUnknownUser)
		env := newEnv(t, runner)

		env.ExecuteWorkflow(BackfillWorkflow, BackfillInput{UserIDs: []string{"ghost"}})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result BackfillResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, 1, runner.callCount("ghost"))
	})

	t.Run("rejects empty input", func(t *testing.T) {
		env := newEnv(t, newFakeRunner())

		env.ExecuteWorkflow(BackfillWorkflow, BackfillInput{})

		require.True(t, env.IsWorkflowCompleted())
		require.Error(t, env.GetWorkflowError())
	})

	t.Run("mocked activity", func(t *testing.T) {
		env := newEnv(t, newFakeRunner())
		var a *Activities
		env.OnActivity(a.RunMiningCycle, mock.Anything, RunMiningCycleInput{UserID: "dave"}).
			Return(UserResult{UserID: "dave", Skipped: true}, nil)

		env.ExecuteWorkflow(BackfillWorkflow, BackfillInput{
			UserIDs:         []string{"dave"},
			ActivityTimeout: time.Minute,
		})

		require.NoError(t, env.GetWorkflowError())
		var result BackfillResult
		require.NoError(t, env.GetWorkflowResult(&result))
		require.Len(t, result.Users, 1)
		assert.True(t, result.Users[0].Skipped)
	})
}

func TestNewActivities(t *testing.T) {
	_, err := NewActivities(nil, nil)
	assert.Error(t, err)
}
