package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the periodic approval expiry pass. Expiry is also applied
// lazily on the resolve path, so the sweep interval bounds how stale a
// pending-but-overdue request can look to listings, not correctness.
type Sweeper struct {
	approvals *Approvals
	interval  time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewSweeper creates a sweeper with the given pass interval.
func NewSweeper(approvals *Approvals, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		approvals: approvals,
		interval:  interval,
		logger:    logger.With("module", "approval_sweeper"),
	}
}

// Start schedules the sweep and returns immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		expired, err := s.approvals.ExpireDue(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Approval expiry sweep failed", "error", err)

			return
		}

		if expired > 0 {
			s.logger.InfoContext(ctx, "Expired overdue approvals", "count", expired)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule approval sweep: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Approval expiry sweeper started", "interval", s.interval.String())

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
}
