package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"instaclean/pkg/logger"
	"instaclean/pkg/task"
)

func TestRunnerLaunchRunsInBackground(t *testing.T) {
	client := newFakeClient()
	exec := newTestExecutor(client, &recordingSleep{})
	runner := NewRunner(logger.NewTestLogger())

	tasks := []*task.Task{
		newTask(t, task.KindCancel, ids("1", "2"), nil),
		newTask(t, task.KindUnfollow, ids("3"), nil),
	}
	for _, tk := range tasks {
		require.NoError(t, runner.Launch(exec, tk))
	}

	for _, tk := range tasks {
		evs := events(t, tk)
		assert.Equal(t, task.EventComplete, evs[len(evs)-1].Type)
	}

	require.NoError(t, runner.Shutdown(context.Background()))
	assert.Equal(t, 0, runner.Running())
}

func TestRunnerShutdownExpiresRunningTasks(t *testing.T) {
	client := newFakeClient()
	started := make(chan struct{}, 1)
	blockingSleep := func(ctx context.Context, d time.Duration) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	exec := New(client, WithSleep(blockingSleep), WithLogger(logger.NewTestLogger()))
	runner := NewRunner(logger.NewTestLogger())

	tk := newTask(t, task.KindCancel, ids("1", "2", "3"), nil)
	require.NoError(t, runner.Launch(exec, tk))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(ctx))

	status, reason := tk.Status()
	assert.Equal(t, task.StatusExpired, status)
	assert.Equal(t, "expired", reason)
	assert.Equal(t, 1, tk.Counts().Completed)

	err := runner.Launch(exec, newTask(t, task.KindCancel, ids("9"), nil))
	assert.ErrorIs(t, err, ErrShuttingDown)
}
