// Package services holds the job submission facade: the only path through
// which the API and MCP surfaces create generation jobs. It merges presets,
// resolves random seeds, invokes the patch engine, persists the job, and
// submits the patched graph to the generation backend.
package services

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"comfy-cockpit/backend/internal/events"
	"comfy-cockpit/backend/internal/logging"
	"comfy-cockpit/backend/internal/quality"
	"comfy-cockpit/backend/internal/repository"
	"comfy-cockpit/backend/internal/storage"
	"comfy-cockpit/backend/internal/workflow"
	"comfy-cockpit/backend/pkg/models"
)

// GenerateRequest is one call into the facade.
type GenerateRequest struct {
	WorkflowID string                 `json:"workflow_id"`
	Preset     string                 `json:"preset,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

// JobService owns the job lifecycle from submission through harvest.
type JobService struct {
	store    repository.JobStore
	registry *workflow.Registry
	comfy    GraphClient
	assets   *storage.AssetStore
	hub      *events.Hub
	log      *logging.Logger

	// clientID identifies this backend instance to ComfyUI. All prompts are
	// submitted under it so one event websocket covers every job.
	clientID string

	persistUnknownParams bool
}

// NewJobService wires the facade.
func NewJobService(
	store repository.JobStore,
	registry *workflow.Registry,
	comfy GraphClient,
	assets *storage.AssetStore,
	hub *events.Hub,
	log *logging.Logger,
	persistUnknownParams bool,
) *JobService {
	return &JobService{
		store:                store,
		registry:             registry,
		comfy:                comfy,
		assets:               assets,
		hub:                  hub,
		log:                  log,
		clientID:             uuid.New().String(),
		persistUnknownParams: persistUnknownParams,
	}
}

// ClientID returns the backend's ComfyUI client id.
func (s *JobService) ClientID() string { return s.clientID }

// Generate validates and submits one generation job. Validation failures
// (unknown workflow, bad params) surface as typed errors from the workflow
// package before anything is persisted; backend submission failures are
// recorded on the job.
func (s *JobService) Generate(ctx context.Context, req GenerateRequest) (*models.Job, error) {
	wf, err := s.registry.Get(req.WorkflowID)
	if err != nil {
		return nil, err
	}

	params, err := wf.Manifest.MergePreset(req.Preset, req.Params)
	if err != nil {
		return nil, err
	}
	resolveRandomSeeds(wf.Manifest, params)

	patched, err := workflow.Apply(wf.Template, wf.Manifest, params)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:             uuid.New().String(),
		WorkflowID:     wf.Manifest.ID,
		Status:         models.JobStatusQueued,
		Prompt:         stringParam(params, "prompt", "text"),
		NegativePrompt: stringParam(params, "negative_prompt"),
		Params:         s.persistableParams(wf.Manifest, params),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	promptID, err := s.comfy.SubmitPrompt(ctx, patched, s.clientID)
	if err != nil {
		s.failJob(ctx, job.ID, fmt.Sprintf("submission failed: %v", err))
		return nil, fmt.Errorf("failed to submit prompt: %w", err)
	}

	if err := s.store.UpdateJob(ctx, job.ID, models.JobUpdate{PromptID: &promptID}); err != nil {
		s.log.Error("failed to record prompt id for job %s: %v", job.ID, err)
	}
	job.PromptID = &promptID

	s.hub.Publish(events.TopicJobs, "job_created", job)
	s.log.Info("job %s queued as prompt %s (workflow %s)", job.ID, promptID, job.WorkflowID)
	return job, nil
}

// resolveRandomSeeds replaces the -1 sentinel on integer seed parameters
// with a concrete random value, so the stored params always describe exactly
// what ran. The patch engine itself never randomizes.
func resolveRandomSeeds(m *workflow.Manifest, params map[string]interface{}) {
	for name, spec := range m.Params {
		if spec.Type != workflow.ParamInteger {
			continue
		}
		if name != "seed" && name != "noise_seed" {
			continue
		}
		v, ok := numericValue(params[name])
		if !ok {
			// no caller value; the manifest default may be the sentinel
			if _, present := params[name]; present {
				continue
			}
			v, ok = numericValue(spec.Default)
		}
		if ok && v == -1 {
			params[name] = rand.Int63n(math.MaxInt32)
		}
	}
}

func numericValue(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func stringParam(params map[string]interface{}, names ...string) string {
	for _, name := range names {
		if s, ok := params[name].(string); ok {
			return s
		}
	}
	return ""
}

// persistableParams decides what lands in the job record. Declared params
// are always kept; undeclared caller keys are kept only when configured
// to, so recipes can round-trip extra metadata without the engine ever
// seeing it.
func (s *JobService) persistableParams(m *workflow.Manifest, params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if _, declared := m.Params[k]; declared || s.persistUnknownParams {
			out[k] = v
		}
	}
	return out
}

func (s *JobService) failJob(ctx context.Context, id, msg string) {
	status := models.JobStatusFailed
	if err := s.store.UpdateJob(ctx, id, models.JobUpdate{Status: &status, Error: &msg}); err != nil {
		s.log.Error("failed to mark job %s failed: %v", id, err)
		return
	}
	if job, err := s.store.GetJob(ctx, id); err == nil {
		s.hub.Publish(events.TopicJobs, "job_failed", job)
	}
}

// GetJob returns a job with its outputs attached.
func (s *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	s.attachOutputs(ctx, job)
	return job, nil
}

// ListJobs returns recent jobs, newest first.
func (s *JobService) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	jobs, err := s.store.ListJobs(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		s.attachOutputs(ctx, job)
	}
	return jobs, nil
}

func (s *JobService) attachOutputs(ctx context.Context, job *models.Job) {
	assets, err := s.store.ListAssetsByJob(ctx, job.ID)
	if err != nil {
		s.log.Error("failed to list assets for job %s: %v", job.ID, err)
		return
	}
	job.Outputs = make([]models.JobOutput, 0, len(assets))
	for _, a := range assets {
		job.Outputs = append(job.Outputs, models.JobOutput{
			ID:        a.ID,
			Filename:  a.Filename,
			URL:       s.assets.URL(a.Filename),
			CreatedAt: a.CreatedAt,
		})
	}
}

// ListAssets returns recent assets, newest first, with serving URLs filled.
func (s *JobService) ListAssets(ctx context.Context, limit int) ([]*models.Asset, error) {
	assets, err := s.store.ListAssets(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, a := range assets {
		a.URL = s.assets.URL(a.Filename)
	}
	return assets, nil
}

// GetAsset returns one asset.
func (s *JobService) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	asset, err := s.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	asset.URL = s.assets.URL(asset.Filename)
	return asset, nil
}

// ToggleFavorite flips an asset's favorite flag.
func (s *JobService) ToggleFavorite(ctx context.Context, id string) (*models.Asset, error) {
	asset, err := s.store.ToggleFavorite(ctx, id)
	if err != nil {
		return nil, err
	}
	asset.URL = s.assets.URL(asset.Filename)
	s.hub.Publish(events.TopicAssets, "asset_updated", asset)
	return asset, nil
}

// markRunning transitions a job to running when the backend starts on it.
func (s *JobService) markRunning(ctx context.Context, promptID string) {
	job, err := s.store.GetJobByPromptID(ctx, promptID)
	if err != nil {
		return
	}
	if job.Status != models.JobStatusQueued {
		return
	}
	status := models.JobStatusRunning
	if err := s.store.UpdateJob(ctx, job.ID, models.JobUpdate{Status: &status}); err != nil {
		s.log.Error("failed to mark job %s running: %v", job.ID, err)
		return
	}
	job.Status = status
	s.hub.Publish(events.TopicJobs, "job_started", job)
}

// recordProgress stores step progress and pushes it to clients.
func (s *JobService) recordProgress(ctx context.Context, promptID string, value, max float64) {
	job, err := s.store.GetJobByPromptID(ctx, promptID)
	if err != nil {
		return
	}
	if err := s.store.UpdateJob(ctx, job.ID, models.JobUpdate{
		ProgressValue: &value,
		ProgressMax:   &max,
	}); err != nil {
		s.log.Error("failed to record progress for job %s: %v", job.ID, err)
		return
	}
	s.hub.Publish(events.TopicJobProgress, "progress", map[string]interface{}{
		"job_id": job.ID,
		"value":  value,
		"max":    max,
	})
}

// markFailed records a backend execution error.
func (s *JobService) markFailed(ctx context.Context, promptID, msg string) {
	job, err := s.store.GetJobByPromptID(ctx, promptID)
	if err != nil {
		return
	}
	s.failJob(ctx, job.ID, msg)
}

// completeJob transitions a finished prompt to completed and harvests its
// outputs exactly once. ComfyUI signals completion on more than one event
// type, so this must be idempotent.
func (s *JobService) completeJob(ctx context.Context, promptID string) {
	job, err := s.store.GetJobByPromptID(ctx, promptID)
	if err != nil {
		return
	}
	if job.Harvested || job.Status == models.JobStatusFailed {
		return
	}

	harvested := true
	status := models.JobStatusCompleted
	if err := s.store.UpdateJob(ctx, job.ID, models.JobUpdate{
		Status:    &status,
		Harvested: &harvested,
	}); err != nil {
		s.log.Error("failed to mark job %s completed: %v", job.ID, err)
		return
	}
	job.Status = status
	job.Harvested = true

	if err := s.harvest(ctx, job, promptID); err != nil {
		s.log.Error("harvest failed for job %s: %v", job.ID, err)
	}

	s.attachOutputs(ctx, job)
	s.hub.Publish(events.TopicJobs, "job_completed", job)
	s.log.Info("job %s completed with %d outputs", job.ID, len(job.Outputs))
}

// harvest walks the prompt's history record, downloads every output image,
// runs quality checks, and stores each as an asset. A single bad image does
// not abort the rest.
func (s *JobService) harvest(ctx context.Context, job *models.Job, promptID string) error {
	history, err := s.comfy.History(ctx, promptID)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	record, _ := history[promptID].(map[string]interface{})
	outputs, _ := record["outputs"].(map[string]interface{})
	if len(outputs) == 0 {
		return fmt.Errorf("no outputs in history for prompt %s", promptID)
	}

	var checks *workflow.QualityChecks
	if wf, err := s.registry.Get(job.WorkflowID); err == nil {
		checks = wf.Manifest.Quality
	}

	var firstErr error
	for nodeID, rawNode := range outputs {
		node, _ := rawNode.(map[string]interface{})
		images, _ := node["images"].([]interface{})
		for _, rawImage := range images {
			img, _ := rawImage.(map[string]interface{})
			filename, _ := img["filename"].(string)
			if filename == "" {
				continue
			}
			subfolder, _ := img["subfolder"].(string)
			folderType, _ := img["type"].(string)

			if err := s.harvestImage(ctx, job, nodeID, filename, subfolder, folderType, checks); err != nil {
				s.log.Error("failed to harvest %s for job %s: %v", filename, job.ID, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func (s *JobService) harvestImage(ctx context.Context, job *models.Job, nodeID, filename, subfolder, folderType string, checks *workflow.QualityChecks) error {
	data, err := s.comfy.ViewImage(ctx, filename, subfolder, folderType)
	if err != nil {
		return err
	}

	local := s.assets.NewFilename(filename)
	if _, err := s.assets.Write(local, data); err != nil {
		return err
	}

	meta := map[string]interface{}{
		"source_filename": filename,
		"node_id":         nodeID,
	}
	report := quality.CheckImage(data, checks)
	if report.Checked {
		meta["quality"] = report
		for _, flag := range report.Flags {
			s.log.Warn("asset %s flagged: %s (job %s)", local, flag, job.ID)
		}
	}

	asset := &models.Asset{
		ID:       uuid.New().String(),
		JobID:    job.ID,
		Filename: local,
		URL:      s.assets.URL(local),
		Recipe: map[string]interface{}{
			"workflow_id":     job.WorkflowID,
			"prompt":          job.Prompt,
			"negative_prompt": job.NegativePrompt,
			"params":          job.Params,
		},
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAsset(ctx, asset); err != nil {
		return err
	}
	s.hub.Publish(events.TopicAssets, "asset_created", asset)
	return nil
}
