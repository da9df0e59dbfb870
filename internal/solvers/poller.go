package solvers

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 24
)

// Poller drives one task from submission to resolution
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPoller polls every 5s, at most 24 times
func DefaultPoller() Poller {
	return Poller{Interval: DefaultPollInterval, MaxAttempts: DefaultMaxAttempts}
}

// Solve submits image and polls until the task is ready, the service
// reports a failure, or the attempt budget runs out. It never returns an
// error: every failure is folded into a Failed outcome. Cancelling ctx
// abandons the task without further requests and yields ErrTimeout.
func (p Poller) Solve(ctx context.Context, s Solver, image []byte, credential string) Outcome {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	interval := p.Interval
	if interval < 0 {
		interval = 0
	}

	task, err := s.Submit(ctx, image, credential)
	if err != nil {
		if ctx.Err() != nil {
			return Failed(fmt.Errorf("%w: %v", ErrTimeout, ctx.Err()))
		}
		return Failed(err)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for task.Attempts < maxAttempts {
		select {
		case <-ctx.Done():
			task.Status = StatusFailed
			return Failed(fmt.Errorf("%w: %v", ErrTimeout, ctx.Err()))
		case <-timer.C:
		}

		task.Attempts++
		out := s.Poll(ctx, task)
		if ctx.Err() != nil && out.Status != StatusReady {
			task.Status = StatusFailed
			return Failed(fmt.Errorf("%w: %v", ErrTimeout, ctx.Err()))
		}
		task.Status = out.Status
		if out.Done() {
			return out
		}
		timer.Reset(interval)
	}

	task.Status = StatusFailed
	return Failed(ErrTimeout)
}
