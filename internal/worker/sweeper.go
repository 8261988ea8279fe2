package worker

import (
	"context"
	"fmt"
	"time"

	"mindleap-provisioning/internal/config"
	"mindleap-provisioning/internal/db"
	"mindleap-provisioning/internal/logger"
	"mindleap-provisioning/internal/metrics"
	"mindleap-provisioning/internal/model"

	"github.com/rs/zerolog"
)

const sweepBatch = 500

// JobSweeper periodically fails upload jobs stuck in RUNNING, which happens
// when a worker dies mid-job. Rows already provisioned stay provisioned.
type JobSweeper struct {
	jobs       db.JobRepository
	interval   time.Duration
	staleAfter time.Duration
	runOnStart bool
	now        func() time.Time
	ticker     *time.Ticker
	log        zerolog.Logger
}

func NewJobSweeper(cfg config.SweeperConfig, jobs db.JobRepository) *JobSweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &JobSweeper{
		jobs:       jobs,
		interval:   interval,
		staleAfter: cfg.StaleAfter,
		runOnStart: cfg.RunOnStart,
		now:        time.Now,
		log:        logger.Component("job_sweeper"),
	}
}

func (s *JobSweeper) Start(ctx context.Context) error {
	s.log.Info().
		Dur("interval", s.interval).
		Dur("stale_after", s.staleAfter).
		Msg("Starting job sweeper")

	if s.runOnStart {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error().Err(err).Msg("Initial sweep failed")
		}
	}

	s.ticker = time.NewTicker(s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Job sweeper context cancelled")
			return ctx.Err()
		case <-s.ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("Scheduled sweep failed")
			}
		}
	}
}

func (s *JobSweeper) Stop() {
	s.log.Info().Msg("Stopping job sweeper")
	if s.ticker != nil {
		s.ticker.Stop()
	}
}

// Sweep marks stale RUNNING jobs as FAILED and returns how many it touched.
func (s *JobSweeper) Sweep(ctx context.Context) (int, error) {
	if s.staleAfter <= 0 {
		return 0, nil
	}
	running, err := s.jobs.ListJobs(ctx, model.JobStatusRunning, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}

	cutoff := s.now().Add(-s.staleAfter)
	swept := 0
	for _, job := range running {
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		msg := fmt.Sprintf("job abandoned: no progress since %s", job.UpdatedAt.UTC().Format(time.RFC3339))
		if err := s.jobs.UpdateJobStatus(ctx, job.ID, model.JobStatusFailed, &msg); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark stale job")
			continue
		}
		metrics.ProvisionJobs.WithLabelValues("ABANDONED").Inc()
		s.log.Warn().
			Str("job_id", job.ID).
			Time("updated_at", job.UpdatedAt).
			Msg("Stale job marked as failed")
		swept++
	}

	if swept > 0 {
		s.log.Info().Int("count", swept).Msg("Sweep completed")
	}
	return swept, nil
}
