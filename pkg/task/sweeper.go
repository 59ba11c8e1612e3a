package task

import (
	"context"
	"time"

	"instaclean/pkg/logger"
)

// SweepFunc removes stale entries as of now and returns how many it removed
type SweepFunc func(now time.Time) int

// Sweeper periodically runs a set of sweep functions
type Sweeper struct {
	interval time.Duration
	clock    func() time.Time
	logger   logger.Logger
	names    []string
	funcs    []SweepFunc
}

// NewSweeper creates a sweeper ticking every interval
func NewSweeper(interval time.Duration, log logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Sweeper{interval: interval, clock: time.Now, logger: log}
}

// Add registers a named sweep function
func (s *Sweeper) Add(name string, fn SweepFunc) *Sweeper {
	s.names = append(s.names, name)
	s.funcs = append(s.funcs, fn)
	return s
}

// RunOnce invokes every sweep function once
func (s *Sweeper) RunOnce(now time.Time) int {
	total := 0
	for i, fn := range s.funcs {
		n := fn(now)
		if n > 0 {
			s.logger.DebugWithFields("sweep removed entries", map[string]interface{}{
				"sweeper": s.names[i],
				"removed": n,
			})
		}
		total += n
	}
	return total
}

// Run sweeps on every tick until ctx is done
func (s *Sweeper) Run(ctx context.Context) error {
	logger.LogComponentStart(s.logger, "sweeper", map[string]interface{}{
		"interval": s.interval.String(),
		"targets":  s.names,
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.LogComponentStop(s.logger, "sweeper", ctx.Err().Error())
			return nil
		case <-ticker.C:
			s.RunOnce(s.clock())
		}
	}
}
