package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"comfy-cockpit/backend/pkg/models"
)

// PostgresJobStore is a PostgreSQL implementation of the JobStore interface.
type PostgresJobStore struct {
	db *pgxpool.Pool
}

// NewPostgresJobStore creates a new PostgresJobStore.
func NewPostgresJobStore(db *pgxpool.Pool) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

// EnsureSchema creates the jobs and assets tables if they do not exist.
func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			prompt_id TEXT,
			prompt TEXT NOT NULL,
			negative_prompt TEXT NOT NULL DEFAULT '',
			params JSONB NOT NULL DEFAULT '{}',
			progress_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			progress_max DOUBLE PRECISION NOT NULL DEFAULT 0,
			harvested BOOLEAN NOT NULL DEFAULT FALSE,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_prompt_id ON jobs(prompt_id);
		CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);

		CREATE TABLE IF NOT EXISTS assets (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			filename TEXT NOT NULL,
			favorite BOOLEAN NOT NULL DEFAULT FALSE,
			recipe JSONB NOT NULL DEFAULT '{}',
			meta JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_assets_created_at ON assets(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_assets_job_id ON assets(job_id);
	`)
	return err
}

// CreateJob inserts a new job record.
func (s *PostgresJobStore) CreateJob(ctx context.Context, job *models.Job) error {
	params, err := json.Marshal(emptyIfNil(job.Params))
	if err != nil {
		return fmt.Errorf("failed to encode job params: %w", err)
	}

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err = s.db.Exec(ctx, `
		INSERT INTO jobs (id, workflow_id, status, prompt_id, prompt, negative_prompt, params,
			progress_value, progress_max, harvested, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.WorkflowID, job.Status, job.PromptID, job.Prompt, job.NegativePrompt,
		params, job.ProgressValue, job.ProgressMax, job.Harvested, job.Error,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

// UpdateJob applies the non-nil fields of upd to a job row.
func (s *PostgresJobStore) UpdateJob(ctx context.Context, id string, upd models.JobUpdate) error {
	sets := make([]string, 0, 6)
	args := make([]interface{}, 0, 8)

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.PromptID != nil {
		add("prompt_id", *upd.PromptID)
	}
	if upd.ProgressValue != nil {
		add("progress_value", *upd.ProgressValue)
	}
	if upd.ProgressMax != nil {
		add("progress_max", *upd.ProgressMax)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}
	if upd.Harvested != nil {
		add("harvested", *upd.Harvested)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const jobColumns = `id, workflow_id, status, prompt_id, prompt, negative_prompt, params,
	progress_value, progress_max, harvested, error, created_at, updated_at`

// GetJob retrieves a job by its ID.
func (s *PostgresJobStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id)
	return scanJob(row)
}

// GetJobByPromptID retrieves the job that owns a backend prompt id.
func (s *PostgresJobStore) GetJobByPromptID(ctx context.Context, promptID string) (*models.Job, error) {
	row := s.db.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE prompt_id = $1", promptID)
	return scanJob(row)
}

// ListJobs returns the most recent jobs, newest first.
func (s *PostgresJobStore) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	var params []byte
	err := row.Scan(&job.ID, &job.WorkflowID, &job.Status, &job.PromptID, &job.Prompt,
		&job.NegativePrompt, &params, &job.ProgressValue, &job.ProgressMax,
		&job.Harvested, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(params, &job.Params); err != nil {
		return nil, fmt.Errorf("failed to decode job params: %w", err)
	}
	return &job, nil
}

// CreateAsset inserts a new asset record.
func (s *PostgresJobStore) CreateAsset(ctx context.Context, asset *models.Asset) error {
	recipe, err := json.Marshal(emptyIfNil(asset.Recipe))
	if err != nil {
		return fmt.Errorf("failed to encode asset recipe: %w", err)
	}
	meta, err := json.Marshal(emptyIfNil(asset.Meta))
	if err != nil {
		return fmt.Errorf("failed to encode asset meta: %w", err)
	}

	asset.CreatedAt = time.Now().UTC()

	_, err = s.db.Exec(ctx, `
		INSERT INTO assets (id, job_id, filename, favorite, recipe, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		asset.ID, asset.JobID, asset.Filename, asset.Favorite, recipe, meta, asset.CreatedAt,
	)
	return err
}

const assetColumns = `id, job_id, filename, favorite, recipe, meta, created_at`

// GetAsset retrieves an asset by its ID.
func (s *PostgresJobStore) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	row := s.db.QueryRow(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = $1", id)
	return scanAsset(row)
}

// ListAssets returns the most recent assets, newest first.
func (s *PostgresJobStore) ListAssets(ctx context.Context, limit int) ([]*models.Asset, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+assetColumns+" FROM assets ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	return collectAssets(rows)
}

// ListAssetsByJob returns a job's assets, oldest first.
func (s *PostgresJobStore) ListAssetsByJob(ctx context.Context, jobID string) ([]*models.Asset, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE job_id = $1 ORDER BY created_at ASC", jobID)
	if err != nil {
		return nil, err
	}
	return collectAssets(rows)
}

// ToggleFavorite flips an asset's favorite flag and returns the updated row.
func (s *PostgresJobStore) ToggleFavorite(ctx context.Context, id string) (*models.Asset, error) {
	row := s.db.QueryRow(ctx,
		"UPDATE assets SET favorite = NOT favorite WHERE id = $1 RETURNING "+assetColumns, id)
	return scanAsset(row)
}

func collectAssets(rows pgx.Rows) ([]*models.Asset, error) {
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var asset models.Asset
	var recipe, meta []byte
	err := row.Scan(&asset.ID, &asset.JobID, &asset.Filename, &asset.Favorite,
		&recipe, &meta, &asset.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(recipe, &asset.Recipe); err != nil {
		return nil, fmt.Errorf("failed to decode asset recipe: %w", err)
	}
	if err := json.Unmarshal(meta, &asset.Meta); err != nil {
		return nil, fmt.Errorf("failed to decode asset meta: %w", err)
	}
	return &asset, nil
}

func emptyIfNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
