// Package models defines the domain models for the cockpit backend.
package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents one submission of a workflow to the generation backend.
// PromptID is the identifier the backend returned for the queued graph; it
// stays nil until submission succeeds.
type Job struct {
	ID             string                 `json:"id" db:"id"`
	WorkflowID     string                 `json:"workflow_id" db:"workflow_id"`
	Status         JobStatus              `json:"status" db:"status"`
	PromptID       *string                `json:"prompt_id" db:"prompt_id"`
	Prompt         string                 `json:"prompt" db:"prompt"`
	NegativePrompt string                 `json:"negative_prompt" db:"negative_prompt"`
	Params         map[string]interface{} `json:"params" db:"params"`
	ProgressValue  float64                `json:"progress_value" db:"progress_value"`
	ProgressMax    float64                `json:"progress_max" db:"progress_max"`
	Harvested      bool                   `json:"-" db:"harvested"`
	Error          *string                `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" db:"updated_at"`

	// Outputs is populated on detail reads from the job's assets.
	Outputs []JobOutput `json:"outputs"`
}

// JobOutput is the compact asset view attached to a job detail response.
type JobOutput struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Asset is one stored output image. Recipe captures what produced it (the
// job's prompt and params, for re-runs); Meta captures where it came from
// (backend filename, node id, quality flags).
type Asset struct {
	ID        string                 `json:"id" db:"id"`
	JobID     string                 `json:"job_id" db:"job_id"`
	Filename  string                 `json:"filename" db:"filename"`
	URL       string                 `json:"url"`
	Favorite  bool                   `json:"favorite" db:"favorite"`
	Recipe    map[string]interface{} `json:"recipe" db:"recipe"`
	Meta      map[string]interface{} `json:"meta" db:"meta"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// JobUpdate carries partial updates applied to a job record. Nil fields are
// left untouched.
type JobUpdate struct {
	Status        *JobStatus
	PromptID      *string
	ProgressValue *float64
	ProgressMax   *float64
	Error         *string
	Harvested     *bool
}
