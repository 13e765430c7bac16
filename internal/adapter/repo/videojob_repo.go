package repo

import (
	"context"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// VideoJobRepositoryPG implements domain.VideoJobRepository over the
// marker-tagged inline SQL runner. Every transition is expressed as a
// guarded UPDATE, so a stale or duplicate trigger simply matches zero rows.
type VideoJobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewVideoJobRepository creates a repository backed by PostgreSQL.
func NewVideoJobRepository(sql infra.SQLExecutor) *VideoJobRepositoryPG {
	return &VideoJobRepositoryPG{sql: sql}
}

// Create inserts a new job record in its initial state.
func (r *VideoJobRepositoryPG) Create(ctx context.Context, job *domain.VideoJob) error {
	status := job.Status
	if status == "" {
		status = domain.VideoJobStatusPending
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertVideoJob,
		job.ID,
		job.ShopDomain,
		job.ProductID,
		job.OperationRef,
		status,
		job.Prompt,
	)
	if err != nil {
		return fmt.Errorf("repo: create video job: %w", err)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *VideoJobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.VideoJob, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectVideoJob, jobID)
	var job domain.VideoJob
	if err := row.Scan(
		&job.ID,
		&job.ShopDomain,
		&job.ProductID,
		&job.OperationRef,
		&job.Status,
		&job.Prompt,
		&job.MediaURL,
		&job.MediaID,
		&job.ErrorMessage,
		&job.Published,
		&job.ExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: get video job: %w", err)
	}
	return &job, nil
}

// MarkFailed records a terminal failure. Returns false when the job was
// already terminal.
func (r *VideoJobRepositoryPG) MarkFailed(ctx context.Context, jobID, errMsg string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkVideoJobFailed, jobID, errMsg)
	if err != nil {
		return false, fmt.Errorf("repo: mark failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCompleted records a terminal success. A fresh generation invalidates
// any prior publish state, so the publish fields are reset in the same
// statement. Returns false when the job was already terminal.
func (r *VideoJobRepositoryPG) MarkCompleted(ctx context.Context, jobID, mediaURL string, expiresAt time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkVideoJobCompleted, jobID, mediaURL, expiresAt)
	if err != nil {
		return false, fmt.Errorf("repo: mark completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkPublished flips the publish flag at most once per completed
// generation. Returns false when the guard did not match.
func (r *VideoJobRepositoryPG) MarkPublished(ctx context.Context, jobID, mediaID, mediaURL string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkVideoJobPublished, jobID, mediaID, mediaURL)
	if err != nil {
		return false, fmt.Errorf("repo: mark published: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ domain.VideoJobRepository = (*VideoJobRepositoryPG)(nil)
