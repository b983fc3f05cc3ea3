package schema

import "time"

// AuditStatus is the status recorded on a step transition.
type AuditStatus string

const (
	AuditStarted   AuditStatus = "started"
	AuditCompleted AuditStatus = "completed"
	AuditFailed    AuditStatus = "failed"
	AuditSkipped   AuditStatus = "skipped"
)

// WorkflowAuditEntry records one step-status transition. Entries are created
// once, appended to the session audit log, and never mutated afterwards.
type WorkflowAuditEntry struct {
	Step      string         `json:"step"`
	Status    AuditStatus    `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RunState is a workflow run lifecycle state. Between Init and Complete the
// run moves through one state per named top-level phase.
type RunState string

const (
	RunStateInit     RunState = "INIT"
	RunStateComplete RunState = "COMPLETE"
	RunStateFailed   RunState = "FAILED"
	RunStatePaused   RunState = "PAUSED"
)

// IsTerminal reports whether the state ends the run.
func (s RunState) IsTerminal() bool {
	return s == RunStateComplete || s == RunStateFailed || s == RunStatePaused
}

// StepSummary is one step's line in the final summary.
type StepSummary struct {
	Name       string      `json:"name"`
	Status     AuditStatus `json:"status"`
	DurationMs int64       `json:"durationMs"`
}

// SummaryCounts aggregates step outcomes.
type SummaryCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// LoopDetail records how a loop step resolved.
type LoopDetail struct {
	Name       string `json:"name"`
	Attempts   int    `json:"attempts"`
	Exhausted  bool   `json:"exhausted"`
	LastOutput any    `json:"lastOutput,omitempty"`
}

// ExecutionSummary is created once, at successful completion of a run.
type ExecutionSummary struct {
	TotalDurationMs int64         `json:"totalDurationMs"`
	Steps           []StepSummary `json:"steps"`
	Counts          SummaryCounts `json:"counts"`
	SkippedSteps    []string      `json:"skippedSteps"`
	LoopDetails     []LoopDetail  `json:"loopDetails"`
}
