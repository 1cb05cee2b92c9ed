package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/observability"
)

// StuckJobSweeper fails QA jobs abandoned in PROCESSING, typically after a
// worker died between acquiring the cell lock and finishing. The lock TTL has
// expired by the sweep cutoff, so a reprocess can pick the cell up again.
type StuckJobSweeper struct {
	jobs             domain.QAJobRepository
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewStuckJobSweeper constructs a sweeper; zero durations get defaults.
func NewStuckJobSweeper(jobs domain.QAJobRepository, maxProcessingAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{jobs: jobs, maxProcessingAge: maxProcessingAge, interval: interval}
}

// Run sweeps until the context is cancelled.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().UTC().Add(-s.maxProcessingAge)
	const pageSize = 100

	failed := 0
	for {
		jobs, err := s.jobs.ListProcessingOlderThan(ctx, cutoff, pageSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("stuck job sweep failed to list jobs", slog.Any("error", err))
			return
		}
		if len(jobs) == 0 {
			break
		}
		pageFailed := 0
		for _, j := range jobs {
			msg := fmt.Sprintf("job processing exceeded maximum age %v; marked failed by sweeper", s.maxProcessingAge)
			if err := s.jobs.UpdateStatus(ctx, j.ID, domain.JobFailed, msg); err != nil {
				span.RecordError(err)
				slog.Error("stuck job sweep failed to update job", slog.Int64("job_id", j.ID), slog.Any("error", err))
				continue
			}
			observability.FailJob("qa")
			pageFailed++
		}
		failed += pageFailed
		// Failed jobs drop out of the filter; a page that made no progress
		// would otherwise loop forever.
		if pageFailed == 0 || len(jobs) < pageSize {
			break
		}
	}
	span.SetAttributes(attribute.Int("jobs.failed", failed))
	if failed > 0 {
		slog.Warn("stuck jobs failed by sweeper", slog.Int("count", failed))
	}
}
