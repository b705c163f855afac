// Package jobs runs the background maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trezcool/atelier/core"
)

const (
	purgeTempSpec   = "@hourly"
	finishStaleSpec = "@every 5m"
)

type (
	TempPurger interface {
		PurgeTemp(maxAge time.Duration) (int, error)
	}

	SessionFinisher interface {
		FinishStale(ctx context.Context, maxDuration time.Duration) (int, error)
	}

	Scheduler struct {
		cron               *cron.Cron
		temp               TempPurger
		sessions           SessionFinisher
		tempMaxAge         time.Duration
		sessionMaxDuration time.Duration
		logger             core.Logger
	}
)

func NewScheduler(conf *core.Config, temp TempPurger, sessions SessionFinisher, logger core.Logger) *Scheduler {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		cron:               c,
		temp:               temp,
		sessions:           sessions,
		tempMaxAge:         conf.Media.TempMaxAge,
		sessionMaxDuration: conf.Jobs.SessionMaxDuration,
		logger:             logger,
	}
}

// Start schedules the jobs; they run until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(purgeTempSpec, func() { s.PurgeTemp() }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(finishStaleSpec, func() { s.FinishStale(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("jobs scheduler started")
	return nil
}

// Stop waits for the running jobs to complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("jobs scheduler stopped")
}

// PurgeTemp deletes the stale files of the temp dir.
func (s *Scheduler) PurgeTemp() int {
	n, err := s.temp.PurgeTemp(s.tempMaxAge)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[CRON] purging temp files: %v", err), err)
		return n
	}
	if n > 0 {
		s.logger.Info(fmt.Sprintf("[CRON] purged %d temp files", n))
	}
	return n
}

// FinishStale finishes the sessions left started for too long.
func (s *Scheduler) FinishStale(ctx context.Context) int {
	n, err := s.sessions.FinishStale(ctx, s.sessionMaxDuration)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[CRON] finishing stale sessions: %v", err), err)
		return n
	}
	if n > 0 {
		s.logger.Info(fmt.Sprintf("[CRON] finished %d stale sessions", n))
	}
	return n
}
