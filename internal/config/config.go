// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds all runtime configuration for the ingest service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	BaseURL   string // job board root, e.g. "https://nofluffjobs.com"
	SearchURL string // listing page the crawl starts from
	UserAgent string

	HTTPTimeout       time.Duration
	MinDelay          time.Duration // minimum spacing between outbound requests
	MaxDelay          time.Duration
	RequestsPerMinute int
	RetryAttempts     int
	RetryBackoff      int // exponential backoff base, in seconds

	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	MaxPages            int // listing pages visited per run
	MaxJobsPerRun       int // detail pages fetched per run
	ScrapeIntervalHours int // how often the cron job fires
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	baseURL := os.Getenv("JOBBOARD_BASE_URL")
	if baseURL == "" {
		baseURL = "https://nofluffjobs.com"
	}

	searchURL := os.Getenv("JOBBOARD_SEARCH_URL")
	if searchURL == "" {
		searchURL = baseURL + "/pl/praca-it"
	}

	userAgent := os.Getenv("SCRAPER_USER_AGENT")
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	port := os.Getenv("INGEST_PORT")
	if port == "" {
		port = "8081"
	}

	cfg := &Config{
		Port:        port,
		DatabaseURL: dbURL,
		RedisURL:    redisURL,
		BaseURL:     baseURL,
		SearchURL:   searchURL,
		UserAgent:   userAgent,
	}

	var err error
	if cfg.HTTPTimeout, err = secondsEnv("HTTP_TIMEOUT_SECONDS", 15); err != nil {
		return nil, err
	}
	if cfg.MinDelay, err = secondsEnv("MIN_DELAY_SECONDS", 2); err != nil {
		return nil, err
	}
	if cfg.MaxDelay, err = secondsEnv("MAX_DELAY_SECONDS", 5); err != nil {
		return nil, err
	}
	if cfg.MaxDelay < cfg.MinDelay {
		return nil, fmt.Errorf("MAX_DELAY_SECONDS must be >= MIN_DELAY_SECONDS")
	}
	if cfg.RequestsPerMinute, err = intEnv("REQUESTS_PER_MINUTE", 20); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts, err = intEnv("RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = intEnv("RETRY_BACKOFF", 2); err != nil {
		return nil, err
	}
	if cfg.BreakerFailureThreshold, err = intEnv("BREAKER_FAILURE_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.BreakerTimeout, err = secondsEnv("BREAKER_TIMEOUT_SECONDS", 300); err != nil {
		return nil, err
	}
	if cfg.MaxPages, err = intEnv("MAX_PAGES", 20); err != nil {
		return nil, err
	}
	if cfg.MaxJobsPerRun, err = intEnv("MAX_JOBS_PER_RUN", 1000); err != nil {
		return nil, err
	}
	if cfg.ScrapeIntervalHours, err = intEnv("SCRAPE_INTERVAL_HOURS", 6); err != nil {
		return nil, err
	}

	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return v, nil
}

func secondsEnv(name string, def int) (time.Duration, error) {
	v, err := intEnv(name, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}
