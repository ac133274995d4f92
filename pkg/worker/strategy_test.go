package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/taskpool/pkg/types"
)

func idleState(infos ...WorkerInfo) PoolState {
	return PoolState{Idle: infos, Workers: len(infos)}
}

func TestNewStrategy(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", StrategyRoundRobin, false},
		{StrategyRoundRobin, StrategyRoundRobin, false},
		{StrategyLeastBusy, StrategyLeastBusy, false},
		{StrategyPriorityAware, StrategyPriorityAware, false},
		{"random", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStrategy(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Name())
		})
	}
}

func TestRoundRobin_CyclesInIDOrder(t *testing.T) {
	rr := &RoundRobin{}
	state := idleState(WorkerInfo{ID: 1}, WorkerInfo{ID: 2}, WorkerInfo{ID: 3})

	var picks []int
	for i := 0; i < 5; i++ {
		id, ok := rr.Select(state, nil)
		require.True(t, ok)
		picks = append(picks, id)
	}
	assert.Equal(t, []int{1, 2, 3, 1, 2}, picks)
}

func TestRoundRobin_SkipsBusyWorkers(t *testing.T) {
	rr := &RoundRobin{last: 1}

	id, ok := rr.Select(idleState(WorkerInfo{ID: 1}, WorkerInfo{ID: 4}), nil)
	require.True(t, ok)
	assert.Equal(t, 4, id)

	id, _ = rr.Select(idleState(WorkerInfo{ID: 2}, WorkerInfo{ID: 3}), nil)
	assert.Equal(t, 2, id, "wraps when no higher ID is idle")

	_, ok = rr.Select(PoolState{}, nil)
	assert.False(t, ok)
}

func TestLeastBusy(t *testing.T) {
	tests := []struct {
		name  string
		state PoolState
		want  int
	}{
		{
			name: "lowest busy time",
			state: idleState(
				WorkerInfo{ID: 1, BusyTime: 5 * time.Second},
				WorkerInfo{ID: 2, BusyTime: 2 * time.Second},
				WorkerInfo{ID: 3, BusyTime: 7 * time.Second},
			),
			want: 2,
		},
		{
			name: "busy time outweighs a long history of short tasks",
			state: idleState(
				WorkerInfo{ID: 1, BusyTime: time.Millisecond},
				WorkerInfo{ID: 2, BusyTime: 10 * time.Second},
			),
			want: 1,
		},
		{
			name: "current assignments first",
			state: idleState(
				WorkerInfo{ID: 1, Assigned: 1, BusyTime: time.Millisecond},
				WorkerInfo{ID: 2, BusyTime: time.Second},
			),
			want: 2,
		},
		{
			name: "lowest ID on full tie",
			state: idleState(
				WorkerInfo{ID: 4, BusyTime: time.Second},
				WorkerInfo{ID: 9, BusyTime: time.Second},
			),
			want: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := LeastBusy{}.Select(tt.state, nil)
			require.True(t, ok)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestPriorityAware(t *testing.T) {
	clock := types.NewRealClock()
	high := newTask("h", noopFn, types.PriorityHigh, 0, clock)
	normal := newTask("n", noopFn, types.PriorityNormal, 0, clock)

	state := idleState(
		WorkerInfo{ID: 1, BusyTime: 10 * time.Second},
		WorkerInfo{ID: 2},
		WorkerInfo{ID: 3, BusyTime: 4 * time.Second},
	)
	s := &PriorityAware{}

	id, _ := s.Select(state, high)
	assert.Equal(t, 2, id)

	id, _ = s.Select(state, normal)
	assert.Equal(t, 1, id)
	id, _ = s.Select(state, normal)
	assert.Equal(t, 2, id)
}
