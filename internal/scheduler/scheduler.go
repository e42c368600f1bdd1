// Package scheduler wires up the cron job that periodically triggers an
// ingestion run.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"jobpulse/ingest-service/internal/pipeline"
)

// Scheduler wraps robfig/cron and manages the ingestion loop.
type Scheduler struct {
	cron *cron.Cron
	pipe *pipeline.Pipeline
	spec string // cron spec, e.g. "@every 6h"
	log  zerolog.Logger
}

// New creates a Scheduler that fires every intervalHours hours.
func New(pipe *pipeline.Pipeline, intervalHours int, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		pipe: pipe,
		spec: fmt.Sprintf("@every %dh", intervalHours),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the job and starts the scheduler. Also runs one ingestion
// immediately so the data is populated without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Msg("cron started")

	// Run immediately on startup (non-blocking)
	go s.runOnce(ctx)

	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info().Msg("cron stopped")
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.pipe.Run(ctx); err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			s.log.Warn().Msg("skipping tick, run already in progress")
			return
		}
		s.log.Error().Err(err).Msg("ingestion run failed")
	}
}
