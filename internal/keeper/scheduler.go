package keeper

import (
	"context"
	"time"
)

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Scheduler runs cycles back to back. The first cycle starts immediately;
// each later cycle starts interval after the previous one completed, so a
// slow cycle pushes out the next start. Cycles never overlap.
type Scheduler struct {
	interval time.Duration
	sleeper  Sleeper
}

// NewScheduler creates a Scheduler using real timers.
func NewScheduler(interval time.Duration) *Scheduler {
	return &Scheduler{interval: interval, sleeper: timerSleeper{}}
}

// Run drives cycle until it returns an error, which is returned unchanged
// and is fatal to the process. Cancelling ctx (process termination) stops
// the loop with ctx.Err().
func (s *Scheduler) Run(ctx context.Context, cycle func(ctx context.Context) error) error {
	for first := true; ; first = false {
		if !first {
			if err := s.sleeper.Sleep(ctx, s.interval); err != nil {
				return err
			}
		}
		if err := cycle(ctx); err != nil {
			return err
		}
	}
}
