package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Expirer applies the expiration rule to stored cards
type Expirer interface {
	ExpireOverdueCards(ctx context.Context) (int64, error)
}

// ExpirySweeper periodically moves overdue cards to EXPIRED
type ExpirySweeper struct {
	expirer  Expirer
	schedule string
	log      *logrus.Logger
}

// NewExpirySweeper validates schedule, a standard 5-field cron spec or a
// descriptor like "@daily". An empty schedule disables the sweep.
func NewExpirySweeper(expirer Expirer, schedule string, log *logrus.Logger) (*ExpirySweeper, error) {
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("invalid expiry sweep schedule %q: %w", schedule, err)
		}
	}
	return &ExpirySweeper{expirer: expirer, schedule: schedule, log: log}, nil
}

// Run schedules the sweep and blocks until ctx is done
func (s *ExpirySweeper) Run(ctx context.Context) error {
	if s.schedule == "" {
		s.log.Info("Expiry sweep disabled")
		<-ctx.Done()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	c.Start()
	s.log.WithField("schedule", s.schedule).Info("Expiry sweep scheduled")

	<-ctx.Done()
	// wait for a running sweep to finish
	<-c.Stop().Done()
	s.log.Info("Expiry sweep stopped")
	return nil
}

// Sweep runs one pass and returns the number of cards expired
func (s *ExpirySweeper) Sweep(ctx context.Context) int64 {
	n, err := s.expirer.ExpireOverdueCards(ctx)
	if err != nil {
		s.log.Errorf("Expiry sweep failed: %v", err)
		return 0
	}
	s.log.WithField("expired", n).Debug("Expiry sweep finished")
	return n
}
