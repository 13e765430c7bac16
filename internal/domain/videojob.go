package domain

import "time"

// VideoJobStatus enumerates generation job lifecycle states.
type VideoJobStatus string

const (
	VideoJobStatusPending    VideoJobStatus = "pending"
	VideoJobStatusProcessing VideoJobStatus = "processing"
	VideoJobStatusCompleted  VideoJobStatus = "completed"
	VideoJobStatusFailed     VideoJobStatus = "failed"
)

// IsTerminal reports whether no further automatic transition can occur.
func (s VideoJobStatus) IsTerminal() bool {
	return s == VideoJobStatusCompleted || s == VideoJobStatusFailed
}

// VideoJob encapsulates one marketing-video generation request from
// submission through publication onto the storefront product page.
type VideoJob struct {
	ID           string
	ShopDomain   string
	ProductID    string
	OperationRef string
	Status       VideoJobStatus
	Prompt       string
	MediaURL     string
	MediaID      string
	ErrorMessage string
	Published    bool
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StorageKey returns the object key the generated payload is stored under.
func (j *VideoJob) StorageKey() string {
	return "videos/" + j.ID + ".mp4"
}
