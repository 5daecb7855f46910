package session

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Sweeper runs Store.Sweep on a cron schedule.
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper schedules sweeps of s using a cron spec such as "@every 1m".
// It returns nil without scheduling anything when s has no TTL.
func StartSweeper(s *Store, spec string) (*Sweeper, error) {
	if s.ttl <= 0 {
		return nil, nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.Sweep(s.clock.Now()) }); err != nil {
		return nil, fmt.Errorf("scheduling session sweep %q: %w", spec, err)
	}
	c.Start()
	s.logger.Info("session sweep scheduled", "schedule", spec, "ttl", s.ttl)
	return &Sweeper{cron: c}, nil
}

// Stop halts the schedule and waits for a running sweep to finish.
// It is safe to call on a nil Sweeper.
func (w *Sweeper) Stop() {
	if w == nil {
		return
	}
	<-w.cron.Stop().Done()
}
