// Package model defines the typed records passed between pipeline stages and
// the entities of the persisted schema.
package model

import "time"

// RawJob is the flat, unvalidated record the page parser produces for a
// single posting. Free-text fields may be empty or malformed.
type RawJob struct {
	JobID          string
	Title          string
	CompanyName    string
	URL            string
	Description    string
	Requirements   string
	Salary         string
	Location       string
	Technologies   []string
	Seniority      string
	EmploymentType string
}

// ExtractedJob is the validated, four-part shape produced by the extractor.
// Snapshot fields and the salary text are still raw; only identity fields
// have been checked and whitespace-normalized.
type ExtractedJob struct {
	Posting      JobPosting
	Snapshot     RawSnapshot
	SalaryText   string
	Technologies []string
}

// RawSnapshot carries the descriptive free-text fields before normalization.
type RawSnapshot struct {
	Description    string
	Requirements   string
	Location       string
	Seniority      string
	EmploymentType string
}

// NormalizedJob is the loader's input: one posting with its normalized
// snapshot, optional salary, and categorized technologies.
type NormalizedJob struct {
	Posting      JobPosting
	Snapshot     JobSnapshot
	Salary       *Salary // nil when no parseable salary text exists
	Technologies []Technology
}

// JobPosting mirrors a job_postings row. Postings are never deleted — a
// posting absent from the latest run is deactivated instead.
type JobPosting struct {
	JobID       string
	Title       string
	CompanyName string
	URL         string
	FirstSeen   time.Time
	LastSeen    time.Time
	Active      bool
}

// JobSnapshot is a dated observation of a posting's descriptive attributes.
// One row per (job, date); a later run on the same date replaces it.
type JobSnapshot struct {
	JobID          string
	Date           time.Time
	Description    string
	Requirements   string
	LocationType   string // "remote", "office", "hybrid", or "" (unknown)
	City           string
	Region         string
	Country        string
	SeniorityLevel string
	EmploymentType string
}

// Salary is a dated, normalized compensation observation.
type Salary struct {
	JobID    string
	Date     time.Time
	Currency string
	Min      float64
	Max      float64
	Avg      float64
	Period   string // "hourly", "monthly", or "annual"
	B2B      bool
}

// Technology is a catalog entry. The category is fixed at first insert and
// never revisited.
type Technology struct {
	ID       int64
	Name     string
	Category string
}

// JobTechnologyLink records that a technology was mentioned for a posting on
// a given date. Duplicate (job, technology, date) tuples are ignored.
type JobTechnologyLink struct {
	JobID            string
	TechnologyID     int64
	Date             time.Time
	ProficiencyLevel string
}

// DailyMetrics is the per-date aggregate row, recomputed whenever a run
// touches that date.
type DailyMetrics struct {
	Date         time.Time
	TotalJobs    int
	RemoteJobs   int
	OfficeJobs   int
	HybridJobs   int
	AvgSalary    float64
	MedianSalary float64
	JobsScraped  int
}

// ScrapeRun statuses.
const (
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// ScrapeRun is the append-only audit record of one pipeline invocation.
type ScrapeRun struct {
	RunDate         time.Time
	JobsFound       int
	JobsNew         int
	JobsUpdated     int
	JobsExpired     int
	Status          string
	ErrorMessage    string
	DurationSeconds float64
}

// LoadStats is the fixed-shape result of one loader invocation.
type LoadStats struct {
	New             int
	Updated         int
	Expired         int
	TechnologiesNew int
	Errors          int
}

// ScrapeStats counts what the crawl phase saw and scraped.
type ScrapeStats struct {
	PagesScraped int
	JobsFound    int
	JobsScraped  int
	Errors       int
}

// DateOf truncates t to its calendar date in UTC. Snapshot, salary, link and
// metric rows are all keyed by this.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
