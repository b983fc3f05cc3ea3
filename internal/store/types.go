package store

import (
	"encoding/json"
	"time"

	"github.com/okonma/flowrail/pkg/schema"
)

// Run is the persisted representation of a workflow session.
type Run struct {
	ID              string                    `json:"id"`
	WorkflowName    string                    `json:"workflow_name"`
	WorkflowVersion string                    `json:"workflow_version,omitempty"`
	Definition      schema.WorkflowDefinition `json:"definition"`
	State           schema.RunState           `json:"state"`
	CurrentStep     string                    `json:"current_step,omitempty"`
	SpecFile        string                    `json:"spec_file,omitempty"`
	BranchName      string                    `json:"branch_name,omitempty"`
	WorktreePath    string                    `json:"worktree_path,omitempty"`
	PRNumber        int                       `json:"pr_number,omitempty"`
	PRURL           string                    `json:"pr_url,omitempty"`
	Error           json.RawMessage           `json:"error,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	StartedAt       *time.Time                `json:"started_at,omitempty"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	State       *schema.RunState `json:"state,omitempty"`
	CurrentStep *string          `json:"current_step,omitempty"`
	PRNumber    *int             `json:"pr_number,omitempty"`
	PRURL       *string          `json:"pr_url,omitempty"`
	Error       json.RawMessage  `json:"error,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	State  *schema.RunState `json:"state,omitempty"`
	Since  *time.Time       `json:"since,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// CheckpointRecord is a persisted checkpoint row. A run keeps one checkpoint
// per completed top-level step; LoadLatestCheckpoint returns the newest.
type CheckpointRecord struct {
	ID        int64             `json:"id"`
	SessionID string            `json:"session_id"`
	StepName  string            `json:"step_name"`
	Data      schema.Checkpoint `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
}

// AuditRecord is an immutable entry in the per-session audit log, with a
// monotonically increasing per-session sequence.
type AuditRecord struct {
	ID        int64              `json:"id"`
	SessionID string             `json:"session_id"`
	Step      string             `json:"step"`
	Status    schema.AuditStatus `json:"status"`
	Metadata  json.RawMessage    `json:"metadata,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Sequence  int64              `json:"sequence"`
}

// Schedule is a cron-triggered workflow run.
type Schedule struct {
	ID             string          `json:"id"`
	WorkflowName   string          `json:"workflow_name"`
	CronExpression string          `json:"cron_expression"`
	Params         json.RawMessage `json:"params,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
