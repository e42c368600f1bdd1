package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"jobpulse/ingest-service/internal/config"
	"jobpulse/ingest-service/internal/db"
	"jobpulse/ingest-service/internal/pipeline"
	"jobpulse/ingest-service/internal/scheduler"
	"jobpulse/ingest-service/internal/scraper"
)

const version = "0.1.0"

type cli struct {
	Verbose bool             `short:"v" help:"Enable debug logging."`
	Version kong.VersionFlag `help:"Print version and exit."`

	Run    runCmd    `cmd:"" help:"Execute one ingestion run and exit."`
	Serve  serveCmd  `cmd:"" help:"Run the scheduler and health endpoint."`
	InitDB initDBCmd `cmd:"" name:"init-db" help:"Create the database schema if absent."`
}

type runCmd struct{}

type serveCmd struct{}

type initDBCmd struct{}

type appContext struct {
	ctx context.Context
	cfg *config.Config
	log zerolog.Logger
}

func main() {
	// A missing .env file is fine; env vars may come from the environment.
	_ = godotenv.Load()

	var c cli
	k := kong.Parse(&c,
		kong.Name("ingest"),
		kong.Description("Job posting ingestion service."),
		kong.Vars{"version": version},
	)

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if c.Verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k.FatalIfErrorf(k.Run(&appContext{ctx: ctx, cfg: cfg, log: log}))
}

func buildPipeline(app *appContext) (*pipeline.Pipeline, func(), error) {
	database, err := db.Connect(app.ctx, app.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	rdb, err := db.NewRedisClient(app.ctx, app.cfg.RedisURL)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	cleanup := func() {
		_ = rdb.Close()
		database.Close()
	}

	pacer := scraper.NewPacer(app.cfg.MinDelay, app.cfg.MaxDelay, app.cfg.RequestsPerMinute)
	breaker := scraper.NewCircuitBreaker(app.cfg.BreakerFailureThreshold, app.cfg.BreakerTimeout)
	fetcher := scraper.NewFetcher(app.cfg, pacer, breaker, app.log)
	parser := scraper.NewParser(app.cfg.BaseURL)
	worker := scraper.NewWorker(app.cfg, fetcher, parser, breaker, app.log)

	return pipeline.New(database, rdb, worker, app.log), cleanup, nil
}

func (r *runCmd) Run(app *appContext) error {
	pipe, cleanup, err := buildPipeline(app)
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := pipe.Run(app.ctx)
	if err != nil {
		return err
	}
	app.log.Info().Str("status", run.Status).Msg("run finished")
	return nil
}

func (s *serveCmd) Run(app *appContext) error {
	pipe, cleanup, err := buildPipeline(app)
	if err != nil {
		return err
	}
	defer cleanup()

	sched := scheduler.New(pipe, app.cfg.ScrapeIntervalHours, app.log)
	if err := sched.Start(app.ctx); err != nil {
		return err
	}
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": "ingest-service",
			"version": version,
		})
	})

	srv := &http.Server{Addr: ":" + app.cfg.Port, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		app.log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-app.ctx.Done():
		app.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (i *initDBCmd) Run(app *appContext) error {
	database, err := db.Connect(app.ctx, app.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer database.Close()

	if err := database.InitSchema(app.ctx); err != nil {
		return err
	}
	app.log.Info().Msg("schema initialized")
	return nil
}
