package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/taskpool/pkg/types"
)

func noopFn(context.Context) (interface{}, error) { return nil, nil }

func testTask(id string) *Task {
	return newTask(id, noopFn, types.PriorityNormal, 0, types.NewRealClock())
}

func TestNewTask_GeneratesUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := testTask("").ID()
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}

	assert.Equal(t, "custom", testTask("custom").ID())
}

func TestTask_CancelPending(t *testing.T) {
	task := testTask("a")

	assert.True(t, task.Cancel())
	assert.True(t, task.Cancelled())
	assert.False(t, task.Cancel(), "second cancel is a no-op")

	_, ok := task.begin()
	assert.False(t, ok, "cancelled task must not start")

	h := &Handle{task: task}
	r, ok := h.Result()
	require.True(t, ok)
	assert.ErrorIs(t, r.Error, types.ErrCancelled)
}

func TestTask_CancelAwaitingRetry(t *testing.T) {
	task := testTask("a")
	var hooked int
	task.onCancel = func(*Task) { hooked++ }

	_, ok := task.begin()
	require.True(t, ok)
	require.True(t, task.release())

	assert.False(t, task.Cancel(), "task already had an attempt")
	assert.True(t, task.Cancelled())
	assert.Equal(t, 1, hooked)

	h := &Handle{task: task}
	r, ok := h.Result()
	require.True(t, ok)
	assert.ErrorIs(t, r.Error, types.ErrCancelled)
	assert.Equal(t, 1, r.Attempts)
}

func TestTask_CancelRunningCancelsContext(t *testing.T) {
	task := testTask("a")
	attempt, ok := task.begin()
	require.True(t, ok)
	assert.Equal(t, 1, attempt)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	task.setStop(stop)

	assert.False(t, task.Cancel())
	assert.True(t, task.cancelRequested.Load())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, task.Cancelled())
}

func TestTask_CancelRequestedBeforeStopIsApplied(t *testing.T) {
	task := testTask("a")
	_, ok := task.begin()
	require.True(t, ok)
	assert.False(t, task.Cancel())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	task.setStop(stop)
	assert.Error(t, ctx.Err())
}

func TestTask_ReleaseAndRetry(t *testing.T) {
	task := testTask("a")
	_, _ = task.begin()
	require.True(t, task.release())

	attempt, ok := task.begin()
	require.True(t, ok)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, 2, task.Attempts())
}

func TestTask_FinishOnce(t *testing.T) {
	var calls int
	task := testTask("a")
	task.onFinish = func(*Task) { calls++ }

	assert.True(t, task.finish(42, nil, time.Millisecond))
	assert.False(t, task.finish(nil, errors.New("late"), 0))
	assert.Equal(t, 1, calls)

	v, err := (&Handle{task: task}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.False(t, task.Cancel(), "finished task cannot be cancelled")
}

func TestTask_Abandon(t *testing.T) {
	task := testTask("a")
	assert.True(t, task.abandon(types.ErrPoolClosed))
	assert.False(t, task.abandon(types.ErrPoolClosed))

	r, ok := (&Handle{task: task}).Result()
	require.True(t, ok)
	assert.ErrorIs(t, r.Error, types.ErrPoolClosed)

	cancelled := testTask("b")
	cancelled.Cancel()
	assert.False(t, cancelled.abandon(types.ErrPoolClosed))
}

func TestHandle_WaitRespectsContext(t *testing.T) {
	h := &Handle{task: testTask("a")}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok := h.Result()
	assert.False(t, ok)
}

func TestAwait(t *testing.T) {
	task := testTask("a")
	task.finish("hello", nil, 0)
	h := &Handle{task: task}

	s, err := Await[string](context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	_, err = Await[int](context.Background(), h)
	assert.Error(t, err)

	failed := testTask("b")
	failed.finish(nil, errors.New("boom"), 0)
	_, err = Await[string](context.Background(), &Handle{task: failed})
	assert.EqualError(t, err, "boom")
}

func TestTaskFromContext(t *testing.T) {
	_, ok := TaskFromContext(context.Background())
	assert.False(t, ok)

	id, ok := TaskFromContext(withTask(context.Background(), "t-1"))
	assert.True(t, ok)
	assert.Equal(t, "t-1", id)
}
