package worker

import (
	"time"

	"golang.org/x/time/rate"
)

// scaleAction is the autoscaler's verdict for one sample
type scaleAction int

const (
	scaleHold scaleAction = iota
	scaleUp
	scaleDown
)

// scaleSample is one observation of the pool
type scaleSample struct {
	queueLength int
	workers     int
	idle        int
	min, max    int
}

func (s scaleSample) idleRatio() float64 {
	if s.workers == 0 {
		return 0
	}
	return float64(s.idle) / float64(s.workers)
}

// autoscaler turns samples into scaling actions. An action needs `samples`
// consecutive qualifying observations, and actions are spaced by the
// cooldown limiter evaluated at the sample time.
type autoscaler struct {
	upThreshold   int
	downThreshold float64
	samples       int
	limiter       *rate.Limiter

	over int
	idle int
}

func newAutoscaler(upThreshold int, downThreshold float64, samples int, cooldown time.Duration) *autoscaler {
	if samples < 1 {
		samples = 1
	}
	limit := rate.Inf
	if cooldown > 0 {
		limit = rate.Every(cooldown)
	}
	return &autoscaler{
		upThreshold:   upThreshold,
		downThreshold: downThreshold,
		samples:       samples,
		limiter:       rate.NewLimiter(limit, 1),
	}
}

func (a *autoscaler) observe(s scaleSample, now time.Time) scaleAction {
	if s.queueLength > a.upThreshold {
		a.over++
	} else {
		a.over = 0
	}

	if s.idleRatio() > a.downThreshold {
		a.idle++
	} else {
		a.idle = 0
	}

	switch {
	case a.over >= a.samples && s.workers < s.max:
		if a.limiter.AllowN(now, 1) {
			a.over = 0
			return scaleUp
		}
	case a.idle >= a.samples && s.workers > s.min:
		if a.limiter.AllowN(now, 1) {
			a.idle = 0
			return scaleDown
		}
	}
	return scaleHold
}
