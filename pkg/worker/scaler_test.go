package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jzx17/taskpool/internal/testutils"
)

func TestAutoscaler_NeedsConsecutiveSamples(t *testing.T) {
	a := newAutoscaler(10, 0.5, 3, 0)
	now := time.Unix(1000, 0)
	busy := scaleSample{queueLength: 50, workers: 2, idle: 0, min: 2, max: 8}
	calm := scaleSample{queueLength: 5, workers: 2, idle: 0, min: 2, max: 8}

	assert.Equal(t, scaleHold, a.observe(busy, now))
	assert.Equal(t, scaleHold, a.observe(busy, now))
	assert.Equal(t, scaleHold, a.observe(calm, now), "a calm sample resets the streak")
	assert.Equal(t, scaleHold, a.observe(busy, now))
	assert.Equal(t, scaleHold, a.observe(busy, now))
	assert.Equal(t, scaleUp, a.observe(busy, now))
	assert.Equal(t, scaleHold, a.observe(busy, now), "streak restarts after an action")
}

func TestAutoscaler_RespectsBounds(t *testing.T) {
	tests := []struct {
		name   string
		sample scaleSample
	}{
		{"at max", scaleSample{queueLength: 100, workers: 8, min: 2, max: 8}},
		{"at min", scaleSample{queueLength: 0, workers: 2, idle: 2, min: 2, max: 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAutoscaler(10, 0.5, 1, 0)
			for i := 0; i < 5; i++ {
				assert.Equal(t, scaleHold, a.observe(tt.sample, time.Unix(int64(i), 0)))
			}
		})
	}
}

func TestAutoscaler_ScalesDownOnIdleRatio(t *testing.T) {
	a := newAutoscaler(10, 0.5, 2, 0)
	now := time.Unix(1000, 0)

	half := scaleSample{workers: 4, idle: 2, min: 1, max: 8}
	assert.Equal(t, scaleHold, a.observe(half, now))
	assert.Equal(t, scaleHold, a.observe(half, now), "ratio must exceed the threshold")

	mostly := scaleSample{workers: 4, idle: 3, min: 1, max: 8}
	assert.Equal(t, scaleHold, a.observe(mostly, now))
	assert.Equal(t, scaleDown, a.observe(mostly, now))
}

func TestAutoscaler_Cooldown(t *testing.T) {
	mock := testutils.NewMockClock(t)
	a := newAutoscaler(10, 0.5, 3, 2*time.Second)
	busy := scaleSample{queueLength: 50, workers: 2, min: 2, max: 8}

	observe := func(step time.Duration) scaleAction {
		if step > 0 {
			mock.Advance(step)
		}
		return a.observe(busy, mock.Now())
	}

	assert.Equal(t, scaleHold, observe(0))
	assert.Equal(t, scaleHold, observe(500*time.Millisecond))
	assert.Equal(t, scaleUp, observe(500*time.Millisecond))

	assert.Equal(t, scaleHold, observe(500*time.Millisecond))
	assert.Equal(t, scaleHold, observe(500*time.Millisecond))
	assert.Equal(t, scaleHold, observe(500*time.Millisecond), "inside cooldown")
	assert.Equal(t, scaleUp, observe(time.Second))
}

func TestScaleSample_IdleRatio(t *testing.T) {
	assert.Equal(t, 0.0, scaleSample{}.idleRatio())
	assert.Equal(t, 0.75, scaleSample{workers: 4, idle: 3}.idleRatio())
}
