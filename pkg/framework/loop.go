package framework

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// DefaultInterval is used when Loop.Interval is not set.
const DefaultInterval = 10 * time.Second

// Loop runs a Controller at a fixed interval.
// Iterations never overlap: the wait for the next one starts after the
// current one completes, and cancellation is only observed between
// iterations.
type Loop struct {
	Interval   time.Duration
	Controller Controller

	// After creates the wait between iterations, time.After if nil.
	After func(time.Duration) <-chan time.Time
}

type loopIteration struct {
	ctx  context.Context
	tick uint64
	time time.Time
}

// NewLoop creates a Loop.
func NewLoop(interval time.Duration, ctl Controller) *Loop {
	return &Loop{Interval: interval, Controller: ctl}
}

// Run implements Runnable.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	after := l.After
	if after == nil {
		after = time.After
	}
	for tick := uint64(0); ; tick++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		iter := &loopIteration{ctx: ctx, tick: tick, time: time.Now()}
		glog.V(4).Infof("iteration %d", tick)
		if err := l.Controller.Control(iter); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-after(interval):
		}
	}
}

func (t *loopIteration) Context() context.Context {
	return t.ctx
}

func (t *loopIteration) Time() time.Time {
	return t.time
}

func (t *loopIteration) Tick() uint64 {
	return t.tick
}
