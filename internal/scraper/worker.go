package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"jobpulse/ingest-service/internal/config"
	"jobpulse/ingest-service/internal/model"
)

// Worker runs the two-phase crawl: first enumerate candidate job URLs across
// paginated listing pages, then fetch and parse each detail page. Both phases
// go through the same fetcher, so pacing and the breaker apply uniformly.
type Worker struct {
	fetcher   *Fetcher
	parser    *Parser
	breaker   *CircuitBreaker
	searchURL string
	maxPages  int
	maxJobs   int
	log       zerolog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(cfg *config.Config, fetcher *Fetcher, parser *Parser, breaker *CircuitBreaker, log zerolog.Logger) *Worker {
	return &Worker{
		fetcher:   fetcher,
		parser:    parser,
		breaker:   breaker,
		searchURL: cfg.SearchURL,
		maxPages:  cfg.MaxPages,
		maxJobs:   cfg.MaxJobsPerRun,
		log:       log.With().Str("component", "worker").Logger(),
	}
}

// ScrapeAll executes one crawl and returns the raw job records. A tripped
// breaker is fatal for the whole crawl; any other per-item failure is counted
// and skipped.
func (w *Worker) ScrapeAll(ctx context.Context) ([]model.RawJob, model.ScrapeStats, error) {
	var stats model.ScrapeStats

	urls, err := w.discoverJobURLs(ctx, &stats)
	if err != nil {
		return nil, stats, err
	}
	w.log.Info().Int("urls", len(urls)).Msg("listing discovery complete")

	if len(urls) > w.maxJobs {
		w.log.Info().Int("max_jobs", w.maxJobs).Msg("truncating job list")
		urls = urls[:w.maxJobs]
	}

	var jobs []model.RawJob
	for i, target := range urls {
		if !w.breaker.CanProceed() {
			w.log.Error().Msg("circuit breaker open, aborting crawl")
			return jobs, stats, ErrCircuitOpen
		}

		body, err := w.fetcher.Fetch(ctx, target)
		switch {
		case errors.Is(err, ErrGone):
			w.log.Debug().Str("url", target).Msg("job gone (404)")
			continue
		case errors.Is(err, ErrCircuitOpen), errors.Is(err, context.Canceled):
			return jobs, stats, err
		case err != nil:
			stats.Errors++
			w.log.Warn().Err(err).Str("url", target).Msg("skipping job")
			continue
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			stats.Errors++
			w.log.Warn().Err(err).Str("url", target).Msg("unparseable detail page")
			continue
		}

		job := w.parser.ParseJobDetail(doc, target)
		jobs = append(jobs, job)
		stats.JobsScraped++
		w.log.Info().Int("n", i+1).Int("total", len(urls)).Str("title", job.Title).Msg("scraped job")
	}

	w.log.Info().
		Int("pages", stats.PagesScraped).
		Int("found", stats.JobsFound).
		Int("scraped", stats.JobsScraped).
		Int("errors", stats.Errors).
		Msg("crawl complete")
	return jobs, stats, nil
}

// discoverJobURLs walks listing pages until the page cap, an empty page, or
// the parser's no-more-pages signal. URLs are deduplicated in crawl order.
func (w *Worker) discoverJobURLs(ctx context.Context, stats *model.ScrapeStats) ([]string, error) {
	var urls []string
	seen := map[string]struct{}{}

	for page := 1; page <= w.maxPages; page++ {
		if !w.breaker.CanProceed() {
			return nil, ErrCircuitOpen
		}

		body, err := w.fetcher.Fetch(ctx, w.pageURL(page))
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		if err != nil {
			w.log.Warn().Err(err).Int("page", page).Msg("listing page failed, stopping discovery")
			break
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			w.log.Warn().Err(err).Int("page", page).Msg("unparseable listing page")
			break
		}

		pageURLs := w.parser.ExtractJobURLs(doc)
		if len(pageURLs) == 0 {
			w.log.Info().Int("page", page).Msg("no jobs on page")
			break
		}

		for _, u := range pageURLs {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
		stats.PagesScraped++
		stats.JobsFound = len(urls)
		w.log.Info().Int("page", page).Int("jobs", len(pageURLs)).Int("total", len(urls)).Msg("listing page scraped")

		if !w.parser.HasNextPage(doc) {
			break
		}
	}

	return urls, nil
}

// pageURL assumes a plain query-parameter scheme; HasNextPage decides when
// discovery actually stops.
func (w *Worker) pageURL(page int) string {
	if page == 1 {
		return w.searchURL
	}
	return fmt.Sprintf("%s?page=%d", w.searchURL, page)
}
