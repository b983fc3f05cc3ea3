package store

import "context"

// SessionStore defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type SessionStore interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Checkpoints
	SaveCheckpoint(ctx context.Context, rec *CheckpointRecord) error
	LoadLatestCheckpoint(ctx context.Context, sessionID string) (*CheckpointRecord, error)

	// Audit log (append-only)
	AppendAuditEntry(ctx context.Context, rec *AuditRecord) error
	ListAuditEntries(ctx context.Context, sessionID string, since int64) ([]*AuditRecord, error)

	// Schedules
	CreateSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
