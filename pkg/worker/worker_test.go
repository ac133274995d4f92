package worker

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jzx17/taskpool/pkg/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to WorkerState
		want     bool
	}{
		{WorkerStateStarting, WorkerStateIdle, true},
		{WorkerStateIdle, WorkerStateBusy, true},
		{WorkerStateBusy, WorkerStateIdle, true},
		{WorkerStateIdle, WorkerStateDraining, true},
		{WorkerStateDraining, WorkerStateTerminated, true},
		{WorkerStateBusy, WorkerStateCrashed, true},
		{WorkerStateIdle, WorkerStateCrashed, true},
		{WorkerStateBusy, WorkerStateTerminated, true},
		{WorkerStateStarting, WorkerStateBusy, false},
		{WorkerStateBusy, WorkerStateDraining, false},
		{WorkerStateDraining, WorkerStateIdle, false},
		{WorkerStateTerminated, WorkerStateIdle, false},
		{WorkerStateCrashed, WorkerStateIdle, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}

	assert.True(t, WorkerStateCrashed.Terminal())
	assert.False(t, WorkerStateDraining.Terminal())
	assert.Equal(t, "unknown", WorkerState(99).String())
}

type workerHarness struct {
	w    *Worker
	out  chan message
	done chan struct{}
}

func startWorker(t *testing.T, tracer trace.Tracer, heartbeat time.Duration) *workerHarness {
	t.Helper()
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("test")
	}
	out := make(chan message, 64)
	done := make(chan struct{})
	w := newWorker(1, workerDeps{
		out:       out,
		poolDone:  done,
		clock:     types.NewRealClock(),
		tracer:    tracer,
		heartbeat: heartbeat,
	})
	go w.run(context.Background())
	t.Cleanup(func() {
		w.stop()
		close(done)
	})
	return &workerHarness{w: w, out: out, done: done}
}

// next returns the first message of kind, skipping heartbeats
func (h *workerHarness) next(t *testing.T, kind messageKind) message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-h.out:
			if m.kind == kind {
				return m
			}
			if m.kind != msgHeartbeat {
				t.Fatalf("unexpected %s message, want %s", m.kind, kind)
			}
		case <-deadline:
			t.Fatalf("no %s message", kind)
		}
	}
}

func (h *workerHarness) assign(fn TaskFunc) *Task {
	task := newTask("", fn, types.PriorityNormal, 0, types.NewRealClock())
	attempt, _ := task.begin()
	h.w.inbox <- assignment{task: task, attempt: attempt}
	return task
}

func TestWorker_RunsTaskAndReportsResult(t *testing.T) {
	h := startWorker(t, nil, time.Second)

	task := h.assign(func(ctx context.Context) (interface{}, error) {
		id, _ := TaskFromContext(ctx)
		return id, nil
	})

	m := h.next(t, msgResult)
	assert.Equal(t, task, m.task)
	assert.Equal(t, 1, m.attempt)
	assert.Equal(t, task.ID(), m.value)
	assert.NoError(t, m.err)

	require.Eventually(t, func() bool { return h.w.CurrentTask() == "" }, time.Second, time.Millisecond)
	stats := h.w.Stats()
	assert.Equal(t, WorkerStateIdle, stats.State)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, 1.0, stats.GetSuccessRate())
}

func TestWorker_ReportsTaskError(t *testing.T) {
	h := startWorker(t, nil, time.Second)
	boom := errors.New("boom")

	h.assign(func(context.Context) (interface{}, error) { return nil, boom })

	m := h.next(t, msgResult)
	assert.ErrorIs(t, m.err, boom)
	assert.Equal(t, int64(1), h.w.Stats().Failed)
}

func TestWorker_PanicCrashesWorker(t *testing.T) {
	h := startWorker(t, nil, time.Second)

	task := h.assign(func(context.Context) (interface{}, error) {
		panic("kaboom")
	})

	m := h.next(t, msgCrashed)
	assert.Equal(t, task, m.task)
	assert.ErrorIs(t, m.err, types.ErrWorkerCrash)
	assert.Contains(t, m.err.Error(), "kaboom")

	<-h.w.Done()
	assert.Equal(t, WorkerStateCrashed, h.w.State())
}

func TestWorker_GoexitStopsHeartbeatSilently(t *testing.T) {
	h := startWorker(t, nil, 5*time.Millisecond)

	h.assign(func(context.Context) (interface{}, error) {
		runtime.Goexit()
		return nil, nil
	})

	select {
	case <-h.w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker loop did not stop")
	}
	assert.Equal(t, WorkerStateCrashed, h.w.State())

	for len(h.out) > 0 {
		m := <-h.out
		assert.Equal(t, msgHeartbeat, m.kind, "only heartbeats may precede the silence")
	}

	last := h.w.LastHeartbeat()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, last, h.w.LastHeartbeat(), "no heartbeats after the execution context died")
}

func TestWorker_HeartbeatsWhileBusy(t *testing.T) {
	h := startWorker(t, nil, 5*time.Millisecond)

	release := make(chan struct{})
	h.assign(func(context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})

	require.Eventually(t, func() bool { return h.w.State() == WorkerStateBusy }, time.Second, time.Millisecond)
	before := h.w.LastHeartbeat()
	require.Eventually(t, func() bool { return h.w.LastHeartbeat().After(before) }, time.Second, time.Millisecond)
	assert.Equal(t, WorkerStateBusy, h.w.State())

	close(release)
	h.next(t, msgResult)
}

func TestWorker_DrainExits(t *testing.T) {
	h := startWorker(t, nil, time.Second)
	require.Eventually(t, func() bool { return h.w.State() == WorkerStateIdle }, time.Second, time.Millisecond)

	h.w.requestDrain()
	m := h.next(t, msgExited)
	assert.Equal(t, 1, m.workerID)

	<-h.w.Done()
	assert.Equal(t, WorkerStateTerminated, h.w.State())
}

func TestWorker_KillWhileBusyCancelsPayload(t *testing.T) {
	h := startWorker(t, nil, time.Second)

	cancelled := make(chan struct{})
	h.assign(func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})
	require.Eventually(t, func() bool { return h.w.State() == WorkerStateBusy }, time.Second, time.Millisecond)

	h.w.stop()
	<-h.w.Done()
	assert.Equal(t, WorkerStateTerminated, h.w.State())

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("payload context was not cancelled")
	}
}

func TestWorker_RecordsSpanPerAttempt(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	h := startWorker(t, tp.Tracer("test"), time.Second)

	ok := h.assign(func(context.Context) (interface{}, error) { return 1, nil })
	h.next(t, msgResult)
	h.assign(func(context.Context) (interface{}, error) { return nil, errors.New("bad input") })
	h.next(t, msgResult)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "taskpool.task", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("task.id", ok.ID()))
	assert.Contains(t, spans[0].Attributes(), attribute.Int("worker.id", 1))
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "bad input", spans[1].Status().Description)
}
