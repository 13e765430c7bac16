// Package pipeline drives the generation-to-publish lifecycle of a video
// job: submit, poll the AI platform, materialize the payload into storage,
// publish onto the storefront product, and clean up.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/shopify"
	"server/internal/providers/vertex"
	"server/internal/storage"
	"server/internal/transfer"
)

// TokenSource yields fresh bearer tokens for the AI platform.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// VideoGenerator is the AI platform boundary: submission and status checks.
type VideoGenerator interface {
	SubmitGeneration(ctx context.Context, token, prompt string, opts vertex.GenerateOptions) (string, error)
	FetchOperation(ctx context.Context, token, operationRef string) (*vertex.OperationResult, error)
}

// MediaStore is the durable object storage for generated payloads.
type MediaStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Publisher is the commerce-platform staged-upload boundary.
type Publisher interface {
	Stage(ctx context.Context, filename, mimeType string, size int64) (*shopify.StagedTarget, error)
	Transfer(ctx context.Context, target *shopify.StagedTarget, filename string, data []byte) error
	Attach(ctx context.Context, productID, resourceURL string) (string, error)
}

// ReadinessWaiter blocks until attached media has a resolvable URL.
type ReadinessWaiter interface {
	WaitForSource(ctx context.Context, mediaID string) (string, error)
}

// ShopTokenSource resolves commerce credentials per shop.
type ShopTokenSource interface {
	ShopToken(ctx context.Context, shopDomain string) (string, error)
}

// CommerceFactory builds the per-shop publisher and readiness poller. Shops
// carry their own access tokens, so clients are constructed per job.
type CommerceFactory func(shopDomain, accessToken string) (Publisher, ReadinessWaiter, error)

// Options wires the pipeline's collaborators.
type Options struct {
	Repo           domain.VideoJobRepository
	Tokens         TokenSource
	Generator      VideoGenerator
	Store          MediaStore
	ShopTokens     ShopTokenSource
	Commerce       CommerceFactory
	StorageBaseURL string
	Retention      time.Duration
	Logger         infra.Logger
}

// Pipeline coordinates one job across the AI platform, object storage and
// the commerce platform. It holds no per-job state; every transition is a
// guarded update against the persisted record, so concurrent or repeated
// triggers for the same job collapse into no-ops.
type Pipeline struct {
	repo           domain.VideoJobRepository
	tokens         TokenSource
	generator      VideoGenerator
	store          MediaStore
	shopTokens     ShopTokenSource
	commerce       CommerceFactory
	storageBaseURL string
	retention      time.Duration
	logger         infra.Logger
}

const defaultRetention = 72 * time.Hour

// New builds a pipeline from its collaborators.
func New(opts Options) *Pipeline {
	retention := opts.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Pipeline{
		repo:           opts.Repo,
		tokens:         opts.Tokens,
		generator:      opts.Generator,
		store:          opts.Store,
		shopTokens:     opts.ShopTokens,
		commerce:       opts.Commerce,
		storageBaseURL: opts.StorageBaseURL,
		retention:      retention,
		logger:         opts.Logger,
	}
}

// StartParams describes a new generation request.
type StartParams struct {
	ShopDomain string
	ProductID  string
	Prompt     string
	Options    vertex.GenerateOptions
}

// Start submits a generation to the AI platform and persists the new job in
// its pending state with the operation reference already assigned.
func (p *Pipeline) Start(ctx context.Context, params StartParams) (*domain.VideoJob, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	operationRef, err := p.generator.SubmitGeneration(ctx, token, params.Prompt, params.Options)
	if err != nil {
		return nil, err
	}
	job := &domain.VideoJob{
		ID:           uuid.NewString(),
		ShopDomain:   params.ShopDomain,
		ProductID:    params.ProductID,
		OperationRef: operationRef,
		Status:       domain.VideoJobStatusPending,
		Prompt:       params.Prompt,
	}
	if err := p.repo.Create(ctx, job); err != nil {
		return nil, err
	}
	p.logger.Info().Str("job_id", job.ID).Str("operation", operationRef).Msg("pipeline: generation submitted")
	return job, nil
}

// CheckStatus performs one status poll for a job. Jobs already in a
// terminal state return immediately without contacting the AI platform.
func (p *Pipeline) CheckStatus(ctx context.Context, jobID string) (domain.VideoJobStatus, error) {
	job, err := p.repo.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status.IsTerminal() {
		return job.Status, nil
	}

	token, err := p.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	result, err := p.generator.FetchOperation(ctx, token, job.OperationRef)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedRef) {
			// Data-integrity failure: absorbed into the job record so the
			// next poll observes a terminal state instead of re-raising.
			return p.fail(ctx, job.ID, err.Error())
		}
		return "", err
	}
	if !result.Done {
		return domain.VideoJobStatusProcessing, nil
	}
	if result.ErrMessage != "" {
		return p.fail(ctx, job.ID, result.ErrMessage)
	}

	data, err := transfer.Decode(result.VideoBase64)
	if err != nil {
		return p.fail(ctx, job.ID, fmt.Sprintf("decode video payload: %v", err))
	}
	key, err := p.store.Write(ctx, job.StorageKey(), data)
	if err != nil {
		return "", err
	}
	mediaURL := storage.PublicURL(p.storageBaseURL, key)
	if _, err := p.repo.MarkCompleted(ctx, job.ID, mediaURL, time.Now().Add(p.retention)); err != nil {
		return "", err
	}
	p.logger.Info().Str("job_id", job.ID).Int("bytes", len(data)).Msg("pipeline: generation completed")
	return domain.VideoJobStatusCompleted, nil
}

// Publish pushes a completed job's video onto the storefront product. It is
// an at-most-once operation gated on the persisted publish flag; publish
// failures leave the job completed and retryable.
func (p *Pipeline) Publish(ctx context.Context, jobID string) (*domain.VideoJob, error) {
	job, err := p.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Published {
		return nil, domain.ErrAlreadyPublished
	}
	if job.Status != domain.VideoJobStatusCompleted {
		return nil, domain.ErrNotReady
	}

	accessToken, err := p.shopTokens.ShopToken(ctx, job.ShopDomain)
	if err != nil {
		return nil, fmt.Errorf("resolve shop credentials: %w", err)
	}
	publisher, poller, err := p.commerce(job.ShopDomain, accessToken)
	if err != nil {
		return nil, err
	}

	key := job.StorageKey()
	data, err := p.store.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	filename := job.ID + ".mp4"
	target, err := publisher.Stage(ctx, filename, "video/mp4", int64(len(data)))
	if err != nil {
		return nil, err
	}
	if err := publisher.Transfer(ctx, target, filename, data); err != nil {
		return nil, err
	}
	mediaID, err := publisher.Attach(ctx, job.ProductID, target.ResourceURL)
	if err != nil {
		return nil, err
	}
	finalURL, err := poller.WaitForSource(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	applied, err := p.repo.MarkPublished(ctx, job.ID, mediaID, finalURL)
	if err != nil {
		return nil, err
	}
	if !applied {
		// A concurrent trigger won the race; the publish is durable either way.
		return nil, domain.ErrAlreadyPublished
	}

	// The publish is durable in the job record; losing the storage copy
	// costs nothing but disk, so cleanup failure is logged and swallowed.
	if err := p.store.Delete(ctx, key); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: storage cleanup after publish failed")
	}

	job.Published = true
	job.MediaID = mediaID
	job.MediaURL = finalURL
	p.logger.Info().Str("job_id", job.ID).Str("media_id", mediaID).Msg("pipeline: video published")
	return job, nil
}

func (p *Pipeline) fail(ctx context.Context, jobID, message string) (domain.VideoJobStatus, error) {
	if _, err := p.repo.MarkFailed(ctx, jobID, message); err != nil {
		return "", err
	}
	p.logger.Warn().Str("job_id", jobID).Str("cause", message).Msg("pipeline: generation failed")
	return domain.VideoJobStatusFailed, nil
}
