package etl

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"jobpulse/ingest-service/internal/db"
	"jobpulse/ingest-service/internal/model"
)

// TxRunner runs a unit of work against a transactional Store. Satisfied by
// *db.DB; tests substitute an in-memory implementation.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(db.Store) error) error
}

// Loader reconciles a batch of normalized jobs into the store. One run is one
// transaction; a single item's persistence failure rolls back only that item.
type Loader struct {
	db  TxRunner
	log zerolog.Logger
}

// NewLoader constructs a Loader.
func NewLoader(txr TxRunner, log zerolog.Logger) *Loader {
	return &Loader{db: txr, log: log.With().Str("component", "loader").Logger()}
}

// Load reconciles the batch against the store for runDate. It expires active
// postings missing from the batch, then recomputes the date's metrics. An
// empty batch skips expiry so a broken crawl cannot wipe the active set.
func (l *Loader) Load(ctx context.Context, jobs []model.NormalizedJob, runDate time.Time) (model.LoadStats, error) {
	var stats model.LoadStats

	err := l.db.WithTx(ctx, func(store db.Store) error {
		seen := make([]string, 0, len(jobs))

		for _, job := range jobs {
			var itemStats model.LoadStats
			err := store.Savepoint(ctx, func(s db.Store) error {
				return l.loadOne(ctx, s, job, runDate, &itemStats)
			})
			if err != nil {
				stats.Errors++
				l.log.Warn().Err(err).Str("job_id", job.Posting.JobID).Msg("failed to load job")
				continue
			}
			stats.New += itemStats.New
			stats.Updated += itemStats.Updated
			stats.TechnologiesNew += itemStats.TechnologiesNew
			seen = append(seen, job.Posting.JobID)
		}

		if len(seen) > 0 {
			expired, err := store.ExpireJobsNotSeen(ctx, seen)
			if err != nil {
				return err
			}
			stats.Expired = int(expired)
		}

		return store.RecomputeDailyMetrics(ctx, runDate)
	})
	if err != nil {
		return model.LoadStats{}, err
	}

	l.log.Info().
		Int("new", stats.New).
		Int("updated", stats.Updated).
		Int("expired", stats.Expired).
		Int("new_technologies", stats.TechnologiesNew).
		Int("errors", stats.Errors).
		Msg("load complete")
	return stats, nil
}

// loadOne persists a single job: posting insert-or-touch, dated snapshot and
// salary upserts, and get-or-create plus link for each technology.
func (l *Loader) loadOne(ctx context.Context, store db.Store, job model.NormalizedJob, runDate time.Time, stats *model.LoadStats) error {
	existing, err := store.GetJobPosting(ctx, job.Posting.JobID)
	if err != nil {
		return err
	}
	if existing == nil {
		posting := job.Posting
		posting.FirstSeen = runDate
		posting.LastSeen = runDate
		posting.Active = true
		if err := store.InsertJobPosting(ctx, posting); err != nil {
			return err
		}
		stats.New++
	} else {
		if err := store.TouchJobPosting(ctx, job.Posting.JobID, runDate); err != nil {
			return err
		}
		stats.Updated++
	}

	snapshot := job.Snapshot
	snapshot.JobID = job.Posting.JobID
	snapshot.Date = runDate
	if err := store.UpsertJobSnapshot(ctx, snapshot); err != nil {
		return err
	}

	if job.Salary != nil {
		salary := *job.Salary
		salary.JobID = job.Posting.JobID
		salary.Date = runDate
		if err := store.UpsertSalary(ctx, salary); err != nil {
			return err
		}
	}

	for _, tech := range job.Technologies {
		existing, err := store.GetTechnology(ctx, tech.Name)
		if err != nil {
			return err
		}
		var techID int64
		if existing == nil {
			techID, err = store.InsertTechnology(ctx, tech.Name, tech.Category)
			if err != nil {
				return err
			}
			stats.TechnologiesNew++
		} else {
			techID = existing.ID
		}

		err = store.LinkJobTechnology(ctx, model.JobTechnologyLink{
			JobID:        job.Posting.JobID,
			TechnologyID: techID,
			Date:         runDate,
		})
		if err != nil {
			return err
		}
	}

	return nil
}
