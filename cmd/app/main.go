// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"autodoc-pipeline/internal/config"
	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	pg "autodoc-pipeline/internal/infra/db/postgres"
	"autodoc-pipeline/internal/infra/filesource"
	httpapi "autodoc-pipeline/internal/infra/http"
	"autodoc-pipeline/internal/infra/ignore"
	"autodoc-pipeline/internal/infra/logging"
	"autodoc-pipeline/internal/infra/metrics"
	red "autodoc-pipeline/internal/infra/redis"
	"autodoc-pipeline/internal/infra/worker"
	"autodoc-pipeline/internal/usecase"
)

const lockTTL = 10 * time.Minute

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted secrets)")
	jobID := flag.String("job", "", "resume an existing job instead of creating a new one")
	serve := flag.Bool("serve", false, "keep the control API running after the run ends")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}
	metrics.MustRegister()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	code := run(ctx, cancel, cfg, *jobID, *serve, logger)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, resumeID string, serve bool, logger *zerolog.Logger) int {
	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Error().Err(err).Msg("postgres")
		return 1
	}
	defer pool.Close()
	if err := pg.EnsureSchema(ctx, pool); err != nil {
		logger.Error().Err(err).Msg("schema")
		return 1
	}
	store := pg.NewJobStore(pool, pg.NewTxManager(pool))

	// ---- Redis (optional) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Error().Err(err).Msg("redis")
			return 1
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis not configured: rate budgets reset on restart and jobs are not locked")
	}

	// ---- Governor, AI, executor ----
	gov, err := buildGovernor(cfg, redisClient, logger)
	if err != nil {
		logger.Error().Err(err).Msg("rate limits")
		return 1
	}
	ai, err := buildAI(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("ai adapter")
		return 1
	}
	if err := checkModel(ctx, ai, cfg.AI.DefaultModel, logger); err != nil {
		logger.Error().Err(err).Str("model", cfg.AI.DefaultModel).Msg("model check")
		return 1
	}
	tokens := buildTokenCounter(logger)
	exec := usecase.NewCallExecutor(usecase.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}, logger)

	// ---- File selection ----
	tmpl, err := loadTemplate(cfg.Job)
	if err != nil {
		logger.Error().Err(err).Msg("template")
		return 1
	}
	filter, err := ignore.FromPatterns(cfg.Job.IgnorePatterns)
	if err != nil {
		logger.Error().Err(err).Msg("ignore patterns")
		return 1
	}
	src, err := filesource.NewDir(cfg.Job.Root, filter, logger)
	if err != nil {
		logger.Error().Err(err).Msg("file source")
		return 1
	}
	files, _, err := src.Collect()
	if err != nil {
		logger.Error().Err(err).Str("root", cfg.Job.Root).Msg("file selection")
		return 1
	}

	// ---- Job ----
	planner := usecase.NewJobPlanner(store, usecase.PackagingOptions{
		MaxFiles: cfg.Packaging.MaxFiles,
		MaxBytes: cfg.Packaging.MaxBytes,
	}, logger)
	spec := usecase.JobSpec{
		Files:          files,
		Template:       tmpl,
		RepositoryName: cfg.Job.RepositoryName,
		Model:          cfg.AI.DefaultModel,
		Temperature:    cfg.AI.Temperature,
	}
	job, err := prepareJob(ctx, planner, resumeID, spec)
	if err != nil {
		logger.Error().Err(err).Msg("prepare job")
		return 1
	}
	ctx = logging.WithJobID(ctx, job.ID)

	if redisClient != nil {
		release, err := holdJobLock(ctx, red.NewLocker(redisClient), job.ID, logger)
		if err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("job lock")
			return 1
		}
		defer release()
	}

	runner := usecase.NewJobRunner(job, store, ai, gov, exec, tokens, logger)
	docs := usecase.NewDocumentationUseCase(store, ai, gov, exec, tokens, logger)

	// ---- Single-worker run pool ----
	wp := worker.NewPool(1, 1, logger)
	wp.Start(ctx)
	defer wp.Stop()
	dispatcher := worker.NewJobDispatcher(runner, wp, logger)

	// ---- Control API ----
	var srv *httpapi.Server
	if cfg.HTTP.Addr != "" {
		srv = httpapi.NewServer(runner, dispatcher, docs, ai, gov, cfg.HTTP.RequestTimeout, logger)
		go func() {
			if err := srv.Start(cfg.HTTP.Addr); err != nil {
				logger.Error().Err(err).Msg("http server error")
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	// ---- Signals: first stops at the next batch boundary, second cancels ----
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		stopped := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigc:
				if !stopped {
					logger.Warn().Msg("stop requested; finishing the current batch (signal again to abort)")
					runner.Stop()
					stopped = true
					continue
				}
				logger.Warn().Msg("aborting")
				cancel()
				return
			}
		}
	}()

	// ---- Run ----
	if err := dispatcher.Dispatch(worker.RunProcess); err != nil {
		logger.Error().Err(err).Msg("dispatch")
		return 1
	}
	if err := dispatcher.Wait(ctx); err != nil {
		logger.Warn().Err(err).Msg("run interrupted")
	}
	res, _ := dispatcher.Last()
	if errors.Is(res.Err, domain.ErrNothingToProcess) {
		logger.Info().Str("job_id", job.ID).Msg("job already completed and consolidated")
		res.Error = ""
		res.Report.Outcome = usecase.OutcomeCompleted
	}
	logRun(logger, job.ID, res)

	wctx, wcancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer wcancel()
	if err := writeOutput(wctx, docs, job.ID, cfg.Job.OutputFile, logger); err != nil {
		logger.Error().Err(err).Msg("write documentation")
		return 1
	}

	if serve && srv != nil {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("run finished; control API stays up until interrupted")
		<-ctx.Done()
	}

	switch {
	case res.Error != "":
		return 1
	case res.Report.Outcome == usecase.OutcomeCompleted:
		return 0
	default:
		return 3
	}
}

func prepareJob(ctx context.Context, planner *usecase.JobPlanner, resumeID string, spec usecase.JobSpec) (*model.Job, error) {
	if resumeID != "" {
		return planner.Resume(ctx, resumeID, spec)
	}
	return planner.Prepare(ctx, spec)
}

func logRun(logger *zerolog.Logger, jobID string, res worker.RunResult) {
	ev := logger.Info()
	if res.Error != "" {
		ev = logger.Error().Str("error", res.Error)
	}
	ev.Str("job_id", jobID).
		Str("outcome", string(res.Report.Outcome)).
		Int("attempted", res.Report.Attempted).
		Int("completed", res.Report.Completed).
		Int("failed", res.Report.Failed).
		Str("message", res.Report.Message).
		Msg("run finished")
}

// writeOutput stores the consolidated document at path when the job has one.
func writeOutput(ctx context.Context, docs usecase.DocumentationUseCase, jobID, path string, logger *zerolog.Logger) error {
	if path == "" {
		return nil
	}
	doc, err := docs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotConsolidated) {
		logger.Info().Str("job_id", jobID).Msg("no consolidated documentation yet; nothing written")
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(doc.Content), 0o644); err != nil {
		return err
	}
	logger.Info().Str("path", path).Int("bytes", len(doc.Content)).Msg("documentation written")
	return nil
}
