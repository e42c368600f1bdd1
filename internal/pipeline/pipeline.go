// Package pipeline drives one end-to-end ingestion run: crawl, extract,
// transform, load, and the audit record that covers all of it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"jobpulse/ingest-service/internal/db"
	"jobpulse/ingest-service/internal/etl"
	"jobpulse/ingest-service/internal/model"
	"jobpulse/ingest-service/internal/scraper"
)

// ErrRunInProgress is returned when another instance holds the run lock.
var ErrRunInProgress = fmt.Errorf("another ingestion run is already in progress")

// Pipeline owns the stage components and the run bookkeeping.
type Pipeline struct {
	database    *db.DB
	rdb         *redis.Client
	worker      *scraper.Worker
	extractor   *etl.Extractor
	transformer *etl.Transformer
	loader      *etl.Loader
	lockTTL     time.Duration
	log         zerolog.Logger
}

// New constructs a Pipeline.
func New(database *db.DB, rdb *redis.Client, worker *scraper.Worker, log zerolog.Logger) *Pipeline {
	plog := log.With().Str("component", "pipeline").Logger()
	return &Pipeline{
		database:    database,
		rdb:         rdb,
		worker:      worker,
		extractor:   etl.NewExtractor(log),
		transformer: etl.NewTransformer(),
		loader:      etl.NewLoader(database, log),
		lockTTL:     time.Hour,
		log:         plog,
	}
}

// Run executes one full ingestion run. Exactly one scrape_runs row is written
// per invocation, whatever the outcome. Failure to scrape anything is fatal;
// individual bad pages or records only degrade the run to "partial".
func (p *Pipeline) Run(ctx context.Context) (model.ScrapeRun, error) {
	start := time.Now()
	runDate := model.DateOf(start)

	locked, err := db.AcquireRunLock(ctx, p.rdb, p.lockTTL)
	if err != nil {
		return model.ScrapeRun{}, err
	}
	if !locked {
		p.log.Warn().Msg("run lock held, skipping run")
		return model.ScrapeRun{}, ErrRunInProgress
	}
	defer func() {
		if err := db.ReleaseRunLock(context.WithoutCancel(ctx), p.rdb); err != nil {
			p.log.Error().Err(err).Msg("failed to release run lock")
		}
	}()

	p.log.Info().Time("run_date", runDate).Msg("ingestion run started")

	raws, scrapeStats, err := p.worker.ScrapeAll(ctx)
	if err != nil {
		run := p.failedRun(start, scrapeStats.JobsFound, fmt.Sprintf("scrape failed: %v", err))
		p.record(ctx, run)
		return run, fmt.Errorf("scrape: %w", err)
	}

	extracted := p.extractor.ExtractBatch(raws)
	normalized := p.transformer.TransformBatch(extracted)

	loadStats, err := p.loader.Load(ctx, normalized, runDate)
	if err != nil {
		run := p.failedRun(start, scrapeStats.JobsFound, fmt.Sprintf("load failed: %v", err))
		p.record(ctx, run)
		return run, fmt.Errorf("load: %w", err)
	}

	status := model.RunStatusSuccess
	if scrapeStats.JobsScraped == 0 || scrapeStats.Errors > 0 || loadStats.Errors > 0 {
		status = model.RunStatusPartial
	}

	run := model.ScrapeRun{
		RunDate:         start.UTC(),
		JobsFound:       scrapeStats.JobsFound,
		JobsNew:         loadStats.New,
		JobsUpdated:     loadStats.Updated,
		JobsExpired:     loadStats.Expired,
		Status:          status,
		DurationSeconds: time.Since(start).Seconds(),
	}
	p.record(ctx, run)

	p.log.Info().
		Str("status", status).
		Int("found", run.JobsFound).
		Int("new", run.JobsNew).
		Int("updated", run.JobsUpdated).
		Int("expired", run.JobsExpired).
		Float64("duration_s", run.DurationSeconds).
		Msg("ingestion run finished")
	return run, nil
}

func (p *Pipeline) failedRun(start time.Time, jobsFound int, msg string) model.ScrapeRun {
	return model.ScrapeRun{
		RunDate:         start.UTC(),
		JobsFound:       jobsFound,
		Status:          model.RunStatusFailed,
		ErrorMessage:    msg,
		DurationSeconds: time.Since(start).Seconds(),
	}
}

// record writes the audit row outside the load transaction; losing it is
// logged but never fails the run.
func (p *Pipeline) record(ctx context.Context, run model.ScrapeRun) {
	if err := p.database.InsertScrapeRun(context.WithoutCancel(ctx), run); err != nil {
		p.log.Error().Err(err).Msg("failed to record scrape run")
	}
}
