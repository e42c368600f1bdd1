package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"jobpulse/ingest-service/internal/model"
)

// Store is the loader's view of the persisted schema. Every implementation
// is bound to one transaction; Savepoint scopes a sub-unit of work whose
// failure must not poison the rest of the batch.
type Store interface {
	GetJobPosting(ctx context.Context, jobID string) (*model.JobPosting, error)
	InsertJobPosting(ctx context.Context, p model.JobPosting) error
	// TouchJobPosting advances last_seen_date and reactivates the posting.
	TouchJobPosting(ctx context.Context, jobID string, lastSeen time.Time) error
	UpsertJobSnapshot(ctx context.Context, s model.JobSnapshot) error
	UpsertSalary(ctx context.Context, s model.Salary) error
	GetTechnology(ctx context.Context, name string) (*model.Technology, error)
	InsertTechnology(ctx context.Context, name, category string) (int64, error)
	// LinkJobTechnology inserts the (job, technology, date) link if absent;
	// duplicates are silently ignored.
	LinkJobTechnology(ctx context.Context, link model.JobTechnologyLink) error
	// ExpireJobsNotSeen deactivates every active posting whose job_id is not
	// in seen and returns how many were deactivated.
	ExpireJobsNotSeen(ctx context.Context, seen []string) (int64, error)
	// RecomputeDailyMetrics replaces the daily_metrics row for date from the
	// store's current state.
	RecomputeDailyMetrics(ctx context.Context, date time.Time) error
	// Savepoint runs fn in a nested scope; an error rolls back only fn's
	// writes while the surrounding transaction stays usable.
	Savepoint(ctx context.Context, fn func(Store) error) error
}

// pgStore implements Store on top of a pgx transaction.
type pgStore struct {
	tx pgx.Tx
}

func (s *pgStore) GetJobPosting(ctx context.Context, jobID string) (*model.JobPosting, error) {
	var p model.JobPosting
	err := s.tx.QueryRow(ctx,
		`SELECT job_id, title, company_name, url, first_seen_date, last_seen_date, is_active
		 FROM job_postings
		 WHERE job_id = $1`,
		jobID,
	).Scan(&p.JobID, &p.Title, &p.CompanyName, &p.URL, &p.FirstSeen, &p.LastSeen, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job posting %s: %w", jobID, err)
	}
	return &p, nil
}

func (s *pgStore) InsertJobPosting(ctx context.Context, p model.JobPosting) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO job_postings
		   (job_id, title, company_name, url, first_seen_date, last_seen_date, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.JobID, p.Title, p.CompanyName, p.URL, p.FirstSeen, p.LastSeen, p.Active,
	)
	if err != nil {
		return fmt.Errorf("insert job posting %s: %w", p.JobID, err)
	}
	return nil
}

func (s *pgStore) TouchJobPosting(ctx context.Context, jobID string, lastSeen time.Time) error {
	_, err := s.tx.Exec(ctx,
		`UPDATE job_postings
		 SET last_seen_date = $2, is_active = TRUE, updated_at = now()
		 WHERE job_id = $1`,
		jobID, lastSeen,
	)
	if err != nil {
		return fmt.Errorf("touch job posting %s: %w", jobID, err)
	}
	return nil
}

func (s *pgStore) UpsertJobSnapshot(ctx context.Context, snap model.JobSnapshot) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO job_snapshots
		   (job_id, snapshot_date, description, requirements, location_type,
		    city, region, country, seniority_level, employment_type)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''),
		         NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), NULLIF($10, ''))
		 ON CONFLICT (job_id, snapshot_date) DO UPDATE SET
		   description = EXCLUDED.description,
		   requirements = EXCLUDED.requirements,
		   location_type = EXCLUDED.location_type,
		   city = EXCLUDED.city,
		   region = EXCLUDED.region,
		   country = EXCLUDED.country,
		   seniority_level = EXCLUDED.seniority_level,
		   employment_type = EXCLUDED.employment_type`,
		snap.JobID, snap.Date, snap.Description, snap.Requirements, snap.LocationType,
		snap.City, snap.Region, snap.Country, snap.SeniorityLevel, snap.EmploymentType,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.JobID, err)
	}
	return nil
}

func (s *pgStore) UpsertSalary(ctx context.Context, sal model.Salary) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO salaries
		   (job_id, snapshot_date, currency, salary_min, salary_max, salary_avg, period, is_b2b)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (job_id, snapshot_date) DO UPDATE SET
		   currency = EXCLUDED.currency,
		   salary_min = EXCLUDED.salary_min,
		   salary_max = EXCLUDED.salary_max,
		   salary_avg = EXCLUDED.salary_avg,
		   period = EXCLUDED.period,
		   is_b2b = EXCLUDED.is_b2b`,
		sal.JobID, sal.Date, sal.Currency, sal.Min, sal.Max, sal.Avg, sal.Period, sal.B2B,
	)
	if err != nil {
		return fmt.Errorf("upsert salary %s: %w", sal.JobID, err)
	}
	return nil
}

func (s *pgStore) GetTechnology(ctx context.Context, name string) (*model.Technology, error) {
	var t model.Technology
	err := s.tx.QueryRow(ctx,
		`SELECT id, name, category FROM technologies WHERE name = $1`,
		name,
	).Scan(&t.ID, &t.Name, &t.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get technology %s: %w", name, err)
	}
	return &t, nil
}

func (s *pgStore) InsertTechnology(ctx context.Context, name, category string) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx,
		`INSERT INTO technologies (name, category) VALUES ($1, $2) RETURNING id`,
		name, category,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert technology %s: %w", name, err)
	}
	return id, nil
}

func (s *pgStore) LinkJobTechnology(ctx context.Context, link model.JobTechnologyLink) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO job_technologies (job_id, technology_id, snapshot_date, proficiency_level)
		 VALUES ($1, $2, $3, NULLIF($4, ''))
		 ON CONFLICT (job_id, technology_id, snapshot_date) DO NOTHING`,
		link.JobID, link.TechnologyID, link.Date, link.ProficiencyLevel,
	)
	if err != nil {
		return fmt.Errorf("link technology %d to %s: %w", link.TechnologyID, link.JobID, err)
	}
	return nil
}

func (s *pgStore) ExpireJobsNotSeen(ctx context.Context, seen []string) (int64, error) {
	tag, err := s.tx.Exec(ctx,
		`UPDATE job_postings
		 SET is_active = FALSE, updated_at = now()
		 WHERE is_active AND NOT (job_id = ANY($1))`,
		seen,
	)
	if err != nil {
		return 0, fmt.Errorf("expire jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *pgStore) RecomputeDailyMetrics(ctx context.Context, date time.Time) error {
	var (
		total, remote, office, hybrid int
		avgSalary                     *float64
	)
	err := s.tx.QueryRow(ctx,
		`SELECT
		   COUNT(DISTINCT jp.job_id),
		   COUNT(DISTINCT jp.job_id) FILTER (WHERE js.location_type = 'remote'),
		   COUNT(DISTINCT jp.job_id) FILTER (WHERE js.location_type = 'office'),
		   COUNT(DISTINCT jp.job_id) FILTER (WHERE js.location_type = 'hybrid'),
		   AVG(sal.salary_avg)
		 FROM job_postings jp
		 LEFT JOIN job_snapshots js ON js.job_id = jp.job_id AND js.snapshot_date = $1
		 LEFT JOIN salaries sal ON sal.job_id = jp.job_id AND sal.snapshot_date = $1
		 WHERE jp.is_active`,
		date,
	).Scan(&total, &remote, &office, &hybrid, &avgSalary)
	if err != nil {
		return fmt.Errorf("aggregate metrics: %w", err)
	}

	// Median via order statistic over that date's salary rows, matching the
	// even-count behavior of the dashboard queries.
	var median *float64
	err = s.tx.QueryRow(ctx,
		`SELECT salary_avg FROM salaries
		 WHERE snapshot_date = $1
		 ORDER BY salary_avg
		 LIMIT 1 OFFSET (SELECT COUNT(*) / 2 FROM salaries WHERE snapshot_date = $1)`,
		date,
	).Scan(&median)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("median salary: %w", err)
	}

	_, err = s.tx.Exec(ctx,
		`INSERT INTO daily_metrics
		   (metric_date, total_jobs, remote_jobs, office_jobs, hybrid_jobs,
		    avg_salary_pln, median_salary_pln, jobs_scraped)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $2)
		 ON CONFLICT (metric_date) DO UPDATE SET
		   total_jobs = EXCLUDED.total_jobs,
		   remote_jobs = EXCLUDED.remote_jobs,
		   office_jobs = EXCLUDED.office_jobs,
		   hybrid_jobs = EXCLUDED.hybrid_jobs,
		   avg_salary_pln = EXCLUDED.avg_salary_pln,
		   median_salary_pln = EXCLUDED.median_salary_pln,
		   jobs_scraped = EXCLUDED.jobs_scraped`,
		date, total, remote, office, hybrid, avgSalary, median,
	)
	if err != nil {
		return fmt.Errorf("upsert daily metrics: %w", err)
	}
	return nil
}

// Savepoint uses pgx nested transactions, which map to SQL savepoints.
func (s *pgStore) Savepoint(ctx context.Context, fn func(Store) error) error {
	nested, err := s.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}

	if err := fn(&pgStore{tx: nested}); err != nil {
		if rbErr := nested.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("savepoint rollback failed: %v (original err: %w)", rbErr, err)
		}
		return err
	}
	return nested.Commit(ctx)
}
