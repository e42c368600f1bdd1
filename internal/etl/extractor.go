// Package etl turns raw scraper output into normalized records and
// reconciles them into the store.
package etl

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"jobpulse/ingest-service/internal/model"
)

// Extractor validates raw records and shapes them into the four-part form
// the transformer expects. One record's rejection never affects others.
type Extractor struct {
	log zerolog.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(log zerolog.Logger) *Extractor {
	return &Extractor{log: log.With().Str("component", "extractor").Logger()}
}

// Extract validates required fields, normalizes whitespace on free text, and
// shapes the record. It does not run the second validation pass.
func (e *Extractor) Extract(raw model.RawJob) (model.ExtractedJob, error) {
	switch {
	case raw.JobID == "":
		return model.ExtractedJob{}, fmt.Errorf("missing job id")
	case strings.TrimSpace(raw.Title) == "":
		return model.ExtractedJob{}, fmt.Errorf("missing title")
	case strings.TrimSpace(raw.CompanyName) == "":
		return model.ExtractedJob{}, fmt.Errorf("missing company name")
	case raw.URL == "":
		return model.ExtractedJob{}, fmt.Errorf("missing url")
	}

	return model.ExtractedJob{
		Posting: model.JobPosting{
			JobID:       raw.JobID,
			Title:       cleanText(raw.Title),
			CompanyName: cleanText(raw.CompanyName),
			URL:         raw.URL,
		},
		Snapshot: model.RawSnapshot{
			Description:    cleanText(raw.Description),
			Requirements:   cleanText(raw.Requirements),
			Location:       raw.Location,
			Seniority:      raw.Seniority,
			EmploymentType: raw.EmploymentType,
		},
		SalaryText:   raw.Salary,
		Technologies: raw.Technologies,
	}, nil
}

// Validate is the second pass: field-level sanity rules that only make sense
// after whitespace normalization.
func (e *Extractor) Validate(job model.ExtractedJob) error {
	if utf8.RuneCountInString(job.Posting.Title) < 3 {
		return fmt.Errorf("title too short: %q", job.Posting.Title)
	}
	if utf8.RuneCountInString(job.Posting.CompanyName) < 2 {
		return fmt.Errorf("company name too short: %q", job.Posting.CompanyName)
	}
	u, err := url.Parse(job.Posting.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url: %q", job.Posting.URL)
	}
	return nil
}

// ExtractBatch processes records independently and returns the ones that
// survive both passes.
func (e *Extractor) ExtractBatch(raws []model.RawJob) []model.ExtractedJob {
	jobs := make([]model.ExtractedJob, 0, len(raws))
	for _, raw := range raws {
		job, err := e.Extract(raw)
		if err == nil {
			err = e.Validate(job)
		}
		if err != nil {
			e.log.Warn().Err(err).Str("url", raw.URL).Msg("skipping invalid job")
			continue
		}
		jobs = append(jobs, job)
	}
	e.log.Info().Int("valid", len(jobs)).Int("raw", len(raws)).Msg("extraction complete")
	return jobs
}

// cleanText collapses whitespace runs and strips control characters.
func cleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
