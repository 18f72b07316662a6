package repository

import (
	"context"
	"errors"

	"comfy-cockpit/backend/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// JobStore persists jobs and their harvested assets.
type JobStore interface {
	// CreateJob inserts a new job record.
	CreateJob(ctx context.Context, job *models.Job) error
	// UpdateJob applies a partial update to a job.
	UpdateJob(ctx context.Context, id string, upd models.JobUpdate) error
	// GetJob retrieves a job by its ID.
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// GetJobByPromptID retrieves the job holding a backend prompt id.
	GetJobByPromptID(ctx context.Context, promptID string) (*models.Job, error)
	// ListJobs returns the most recent jobs, newest first.
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)

	// CreateAsset inserts a new asset record.
	CreateAsset(ctx context.Context, asset *models.Asset) error
	// GetAsset retrieves an asset by its ID.
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	// ListAssets returns the most recent assets, newest first.
	ListAssets(ctx context.Context, limit int) ([]*models.Asset, error)
	// ListAssetsByJob returns a job's assets, oldest first.
	ListAssetsByJob(ctx context.Context, jobID string) ([]*models.Asset, error)
	// ToggleFavorite flips an asset's favorite flag and returns the row.
	ToggleFavorite(ctx context.Context, id string) (*models.Asset, error)
}
