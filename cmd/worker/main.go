package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/pipeline"
	"server/internal/providers/shopify"
	"server/internal/providers/vertex"
	"server/internal/sqlinline"
	"server/internal/storage"
)

const (
	jobPollInterval   = 2 * time.Second
	retentionInterval = 10 * time.Minute
)

var errNoJobAvailable = errors.New("no job available")

type videoWorker struct {
	ctx    context.Context
	runner *infra.SQLRunner
	pipe   *pipeline.Pipeline
	store  *storage.FileStore
	logger infra.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	jobs := repo.NewVideoJobRepository(runner)
	shopTokens := credentials.NewStore(runner)

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	creds, err := vertex.LoadCredentials(cfg.GoogleCredentialsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to load google credentials")
	}
	httpClient := &http.Client{Timeout: 60 * time.Second}
	tokens := vertex.NewTokenSource(creds, httpClient)
	generator, err := vertex.NewClient(vertex.Options{
		ProjectID:  creds.ProjectID,
		Location:   cfg.VertexLocation,
		Model:      cfg.VeoModel,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure generation client")
	}

	commerce := func(shopDomain, accessToken string) (pipeline.Publisher, pipeline.ReadinessWaiter, error) {
		client, err := shopify.NewClient(shopify.Options{
			ShopDomain:  shopDomain,
			AccessToken: accessToken,
			APIVersion:  cfg.ShopifyAPIVersion,
			HTTPClient:  httpClient,
			Logger:      &logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return shopify.NewPublisher(client), shopify.NewPoller(client, cfg.ReadinessAttempts, cfg.ReadinessInterval), nil
	}

	pipe := pipeline.New(pipeline.Options{
		Repo:           jobs,
		Tokens:         tokens,
		Generator:      generator,
		Store:          fileStore,
		ShopTokens:     shopTokens,
		Commerce:       commerce,
		StorageBaseURL: cfg.StorageBaseURL,
		Retention:      cfg.StorageRetention,
		Logger:         logger,
	})

	worker := &videoWorker{
		ctx:    ctx,
		runner: runner,
		pipe:   pipe,
		store:  fileStore,
		logger: logger,
	}

	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *videoWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	nextSweep := time.Now()
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		if time.Now().After(nextSweep) {
			w.purgeExpired()
			nextSweep = time.Now().Add(retentionInterval)
		}

		jobID, err := w.claimJob()
		if err != nil {
			if !errors.Is(err, errNoJobAvailable) {
				w.logger.Error().Err(err).Msg("worker: failed to claim job")
			}
			w.sleep(jobPollInterval)
			continue
		}

		w.handleJob(jobID)
	}
}

func (w *videoWorker) claimJob() (string, error) {
	row := w.runner.QueryRow(w.ctx, sqlinline.QClaimActiveVideoJob)
	var jobID string
	if err := row.Scan(&jobID); err != nil {
		if infra.IsNoRows(err) {
			return "", errNoJobAvailable
		}
		return "", err
	}
	return jobID, nil
}

func (w *videoWorker) handleJob(jobID string) {
	status, err := w.pipe.CheckStatus(w.ctx, jobID)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: status check failed")
		return
	}
	w.logger.Info().Str("job_id", jobID).Str("status", string(status)).Msg("worker: job polled")
}

// purgeExpired deletes stored payloads whose retention window has lapsed.
// The published copy lives on the commerce platform, so only local storage
// is reclaimed.
func (w *videoWorker) purgeExpired() {
	rows, err := w.runner.Query(w.ctx, sqlinline.QListExpiredStorageJobs)
	if err != nil {
		w.logger.Error().Err(err).Msg("worker: failed to list expired jobs")
		return
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			w.logger.Error().Err(err).Msg("worker: failed to scan expired job")
			rows.Close()
			return
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		job := domain.VideoJob{ID: id}
		if err := w.store.Delete(w.ctx, job.StorageKey()); err != nil {
			w.logger.Warn().Err(err).Str("job_id", id).Msg("worker: failed to delete expired media")
			continue
		}
		if _, err := w.runner.Exec(w.ctx, sqlinline.QMarkVideoJobStoragePurged, id); err != nil {
			w.logger.Error().Err(err).Str("job_id", id).Msg("worker: failed to mark storage purged")
			continue
		}
		w.logger.Info().Str("job_id", id).Msg("worker: expired media purged")
	}
}

func (w *videoWorker) sleep(d time.Duration) {
	select {
	case <-w.ctx.Done():
	case <-time.After(d):
	}
}
