package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"comfy-cockpit/backend/pkg/models"
)

// MemoryJobStore is an in-memory JobStore. The server falls back to it when
// no database is configured, trading persistence for a zero-setup start;
// tests use it to exercise the job lifecycle without postgres.
type MemoryJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	assets map[string]*models.Asset
}

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:   map[string]*models.Job{},
		assets: map[string]*models.Asset{},
	}
}

func (m *MemoryJobStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryJobStore) UpdateJob(_ context.Context, id string, upd models.JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.PromptID != nil {
		job.PromptID = upd.PromptID
	}
	if upd.ProgressValue != nil {
		job.ProgressValue = *upd.ProgressValue
	}
	if upd.ProgressMax != nil {
		job.ProgressMax = *upd.ProgressMax
	}
	if upd.Error != nil {
		job.Error = upd.Error
	}
	if upd.Harvested != nil {
		job.Harvested = *upd.Harvested
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryJobStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryJobStore) GetJobByPromptID(_ context.Context, promptID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.PromptID != nil && *job.PromptID == promptID {
			cp := *job
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryJobStore) ListJobs(_ context.Context, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryJobStore) CreateAsset(_ context.Context, asset *models.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	cp := *asset
	m.assets[asset.ID] = &cp
	return nil
}

func (m *MemoryJobStore) GetAsset(_ context.Context, id string) (*models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	asset, ok := m.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *asset
	return &cp, nil
}

func (m *MemoryJobStore) ListAssets(_ context.Context, limit int) ([]*models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Asset, 0, len(m.assets))
	for _, asset := range m.assets {
		cp := *asset
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryJobStore) ListAssetsByJob(_ context.Context, jobID string) ([]*models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Asset
	for _, asset := range m.assets {
		if asset.JobID == jobID {
			cp := *asset
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryJobStore) ToggleFavorite(_ context.Context, id string) (*models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	asset, ok := m.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	asset.Favorite = !asset.Favorite
	cp := *asset
	return &cp, nil
}
