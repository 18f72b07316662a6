package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"comfy-cockpit/backend/pkg/models"
)

func TestPostgresJobStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresJobStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))

	t.Run("create, get, update job", func(t *testing.T) {
		job := &models.Job{
			ID:         uuid.New().String(),
			WorkflowID: "txt2img_base",
			Status:     models.JobStatusQueued,
			Prompt:     "a lighthouse at dusk",
			Params:     map[string]interface{}{"prompt": "a lighthouse at dusk", "steps": float64(20)},
		}

		require.NoError(t, store.CreateJob(ctx, job))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, models.JobStatusQueued, got.Status)
		assert.Equal(t, job.Params, got.Params)
		assert.Nil(t, got.PromptID)

		promptID := "comfy-prompt-1"
		running := models.JobStatusRunning
		value := 5.0
		max := 20.0
		err = store.UpdateJob(ctx, job.ID, models.JobUpdate{
			Status:        &running,
			PromptID:      &promptID,
			ProgressValue: &value,
			ProgressMax:   &max,
		})
		require.NoError(t, err)

		got, err = store.GetJobByPromptID(ctx, promptID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, models.JobStatusRunning, got.Status)
		assert.Equal(t, 5.0, got.ProgressValue)
	})

	t.Run("missing rows return ErrNotFound", func(t *testing.T) {
		_, err := store.GetJob(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)

		running := models.JobStatusRunning
		err = store.UpdateJob(ctx, "nope", models.JobUpdate{Status: &running})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("assets round-trip and favorite toggle", func(t *testing.T) {
		job := &models.Job{
			ID:         uuid.New().String(),
			WorkflowID: "txt2img_base",
			Status:     models.JobStatusCompleted,
			Prompt:     "forest in fog",
		}
		require.NoError(t, store.CreateJob(ctx, job))

		asset := &models.Asset{
			ID:       uuid.New().String(),
			JobID:    job.ID,
			Filename: "comfy_20260101_000000_abc123.png",
			Recipe:   map[string]interface{}{"prompt": "forest in fog"},
			Meta:     map[string]interface{}{"node_id": "9"},
		}
		require.NoError(t, store.CreateAsset(ctx, asset))

		byJob, err := store.ListAssetsByJob(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, byJob, 1)
		assert.Equal(t, asset.Filename, byJob[0].Filename)
		assert.False(t, byJob[0].Favorite)

		toggled, err := store.ToggleFavorite(ctx, asset.ID)
		require.NoError(t, err)
		assert.True(t, toggled.Favorite)

		toggled, err = store.ToggleFavorite(ctx, asset.ID)
		require.NoError(t, err)
		assert.False(t, toggled.Favorite)

		all, err := store.ListAssets(ctx, 10)
		require.NoError(t, err)
		assert.NotEmpty(t, all)
	})
}
