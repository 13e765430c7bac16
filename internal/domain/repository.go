package domain

import (
	"context"
	"time"
)

// VideoJobRepository defines persistence for video generation jobs. All
// mutating methods are guarded read-check-write updates: they only apply
// when the persisted row is still in the expected state, and report whether
// the transition happened so duplicate triggers degrade to no-ops.
type VideoJobRepository interface {
	Create(ctx context.Context, job *VideoJob) error
	GetByID(ctx context.Context, jobID string) (*VideoJob, error)

	// MarkFailed transitions pending/processing -> failed with a cause.
	MarkFailed(ctx context.Context, jobID, errMsg string) (bool, error)

	// MarkCompleted transitions pending/processing -> completed, records the
	// storage-backed media URL and retention stamp, and clears any stale
	// publish state from a prior generation.
	MarkCompleted(ctx context.Context, jobID, mediaURL string, expiresAt time.Time) (bool, error)

	// MarkPublished flips the publish flag and records the platform media id
	// and final URL, only while the job is completed and unpublished.
	MarkPublished(ctx context.Context, jobID, mediaID, mediaURL string) (bool, error)
}
