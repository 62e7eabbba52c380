package coordinator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"arb_engine/internal/core"
)

// Timer invokes registered callbacks on a fixed cadence with drift
// compensation: targets are scheduled as t0 + k*period, so a slow
// callback shortens the next sleep instead of shifting the whole
// schedule. A late tick clamps the sleep to zero rather than replaying
// missed ticks.
type Timer struct {
	logger core.ILogger
	tasks  []timerTask
}

type timerTask struct {
	period time.Duration
	fn     func()
}

// NewTimer creates an empty timer.
func NewTimer(logger core.ILogger) *Timer {
	return &Timer{logger: logger}
}

// Every registers fn to run each period. Registration must happen before
// Run.
func (t *Timer) Every(period time.Duration, fn func()) {
	t.tasks = append(t.tasks, timerTask{period: period, fn: fn})
}

// Run drives all registered tasks until the context is cancelled.
func (t *Timer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range t.tasks {
		task := task
		g.Go(func() error { return t.runTask(ctx, task) })
	}
	return g.Wait()
}

func (t *Timer) runTask(ctx context.Context, task timerTask) error {
	start := time.Now()
	for k := int64(1); ; k++ {
		target := start.Add(time.Duration(k) * task.period)
		sleep := time.Until(target)
		if sleep < 0 {
			t.logger.Debug("timer tick late", "period", task.period, "behind", -sleep)
			sleep = 0
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		task.fn()
	}
}
