package activity

import (
	"context"
	"time"

	"github.com/hupe1980/neurallink/logging"
)

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Interval time.Duration
	Now      func() time.Time
	Logger   logging.Logger
}

// Sweeper runs Tracker.Sweep on a fixed period.
type Sweeper struct {
	tracker *Tracker
	opts    SweeperOptions
}

// NewSweeper creates a sweeper for tracker.
func NewSweeper(tracker *Tracker, optFns ...func(o *SweeperOptions)) *Sweeper {
	opts := SweeperOptions{
		Interval: DefaultSweepInterval,
		Now:      time.Now,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	return &Sweeper{tracker: tracker, opts: opts}
}

// Run blocks, sweeping every interval until ctx is canceled. It always
// returns nil so it composes with errgroup without aborting siblings.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.opts.Logger.Info("activity.sweeper.started", "interval", s.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			s.opts.Logger.Info("activity.sweeper.stopped")
			return nil
		case <-ticker.C:
			removed := s.tracker.Sweep(s.opts.Now())
			if len(removed) > 0 {
				s.opts.Logger.Info("activity.sweeper.evicted", "users", removed)
			}
		}
	}
}
