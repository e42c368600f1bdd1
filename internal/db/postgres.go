// Package db provides database connection helpers, the transactional Store
// used by the loader, and the persisted schema.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobpulse/ingest-service/internal/model"
)

// DB wraps the pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// Connect creates and verifies a pgxpool connection pool.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (d *DB) Close() {
	d.Pool.Close()
}

// WithTx runs fn against a Store bound to a single transaction. Any error
// from fn rolls back every write fn performed.
func (d *DB) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := d.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&pgStore{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InsertScrapeRun appends one audit row. Runs outside the load transaction so
// failed runs are recorded too.
func (d *DB) InsertScrapeRun(ctx context.Context, run model.ScrapeRun) error {
	_, err := d.Pool.Exec(ctx,
		`INSERT INTO scrape_runs
		   (run_date, jobs_found, jobs_new, jobs_updated, jobs_expired,
		    status, error_message, duration_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		run.RunDate, run.JobsFound, run.JobsNew, run.JobsUpdated,
		run.JobsExpired, run.Status, run.ErrorMessage, run.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("insert scrape run: %w", err)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS job_postings (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		job_id TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		company_name TEXT NOT NULL,
		url TEXT NOT NULL,
		first_seen_date DATE NOT NULL,
		last_seen_date DATE NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS job_snapshots (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES job_postings(job_id),
		snapshot_date DATE NOT NULL,
		description TEXT,
		requirements TEXT,
		location_type TEXT,
		city TEXT,
		region TEXT,
		country TEXT DEFAULT 'Poland',
		seniority_level TEXT,
		employment_type TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (job_id, snapshot_date)
	)`,
	`CREATE TABLE IF NOT EXISTS salaries (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES job_postings(job_id),
		snapshot_date DATE NOT NULL,
		currency TEXT NOT NULL DEFAULT 'PLN',
		salary_min DOUBLE PRECISION,
		salary_max DOUBLE PRECISION,
		salary_avg DOUBLE PRECISION,
		period TEXT NOT NULL DEFAULT 'monthly',
		is_b2b BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (job_id, snapshot_date)
	)`,
	`CREATE TABLE IF NOT EXISTS technologies (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		category TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS job_technologies (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES job_postings(job_id),
		technology_id BIGINT NOT NULL REFERENCES technologies(id),
		proficiency_level TEXT,
		snapshot_date DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (job_id, technology_id, snapshot_date)
	)`,
	`CREATE TABLE IF NOT EXISTS daily_metrics (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		metric_date DATE UNIQUE NOT NULL,
		total_jobs INTEGER,
		remote_jobs INTEGER,
		office_jobs INTEGER,
		hybrid_jobs INTEGER,
		avg_salary_pln DOUBLE PRECISION,
		median_salary_pln DOUBLE PRECISION,
		jobs_scraped INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS scrape_runs (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		run_date TIMESTAMPTZ NOT NULL,
		jobs_found INTEGER,
		jobs_new INTEGER,
		jobs_updated INTEGER,
		jobs_expired INTEGER,
		status TEXT,
		error_message TEXT,
		duration_seconds DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_postings_active ON job_postings(is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_job_snapshots_date ON job_snapshots(snapshot_date)`,
	`CREATE INDEX IF NOT EXISTS idx_job_snapshots_job_id ON job_snapshots(job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_salaries_date ON salaries(snapshot_date)`,
	`CREATE INDEX IF NOT EXISTS idx_salaries_job_id ON salaries(job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_job_technologies_date ON job_technologies(snapshot_date)`,
}

// InitSchema creates the seven tables and their indexes if absent.
func (d *DB) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
