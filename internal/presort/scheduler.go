package presort

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const TriggerSchedule = "schedule"

type BatchRunner interface {
	Run(ctx context.Context, p Params) (Result, error)
}

// Sweeper removes expired segments between batch runs.
type Sweeper interface {
	DeleteExpiredSegments(ctx context.Context) (int64, error)
}

// Scheduler runs the batch presort every interval. Runs never overlap: a
// tick that arrives during a run is dropped by the ticker.
type Scheduler struct {
	job      BatchRunner
	sweeper  Sweeper
	interval time.Duration
	log      zerolog.Logger
}

func NewScheduler(job BatchRunner, sweeper Sweeper, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		job:      job,
		sweeper:  sweeper,
		interval: interval,
		log:      log.With().Str("component", "presort_scheduler").Logger(),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info().Msg("scheduler disabled")
		return
	}
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.sweeper != nil {
		n, err := s.sweeper.DeleteExpiredSegments(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("expired segment sweep failed")
		} else if n > 0 {
			s.log.Info().Int64("deleted", n).Msg("expired segments swept")
		}
	}
	if _, err := s.job.Run(ctx, Params{Trigger: TriggerSchedule}); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("scheduled presort failed")
	}
}
