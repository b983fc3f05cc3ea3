// Package reporters fans workflow audit entries out to external progress
// surfaces. Reporters are constructed from the definition's reporter config
// list through a factory registry; a reporter failure is always contained at
// the manager boundary and never affects the run.
package reporters

import (
	"context"
	"log/slog"
	"sync"

	"github.com/okonma/flowrail/internal/secrets"
	"github.com/okonma/flowrail/pkg/schema"
)

// StepVisibility is one entry of the pre-resolved visibility list.
type StepVisibility struct {
	Name       string            `json:"name"`
	Visibility schema.Visibility `json:"visibility"`
}

// ReporterContext is handed to every reporter at initialization. Steps holds
// the flattened, pre-resolved visibility of every step, computed once before
// any reporter is constructed.
type ReporterContext struct {
	SessionID    string           `json:"session_id"`
	SpecFile     string           `json:"spec_file,omitempty"`
	BranchName   string           `json:"branch_name,omitempty"`
	WorktreePath string           `json:"worktree_path,omitempty"`
	PRNumber     int              `json:"pr_number,omitempty"`
	PRURL        string           `json:"pr_url,omitempty"`
	Steps        []StepVisibility `json:"steps"`
}

// WorkflowReporter receives run lifecycle events. Implementations must not
// assume any call succeeds; errors are logged by the manager and dropped.
type WorkflowReporter interface {
	Name() string
	Initialize(ctx context.Context, rctx ReporterContext) error
	OnAuditEntry(ctx context.Context, entry schema.WorkflowAuditEntry) error
	OnComplete(ctx context.Context, summary *schema.ExecutionSummary) error
	OnError(ctx context.Context, runErr error) error
	Dispose(ctx context.Context) error
}

// Deps carries engine-owned collaborators into reporter factories.
type Deps struct {
	Logger   *slog.Logger
	Redactor *secrets.Redactor
}

// Factory constructs a reporter from its resolved configuration.
type Factory func(config map[string]string, deps Deps) (WorkflowReporter, error)

// FactoryRegistry maps reporter type names to factories. Built once per
// process and passed by reference, never ambient state.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactoryRegistry creates an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]Factory)}
}

// Register adds a factory under a type name.
func (r *FactoryRegistry) Register(typeName string, f Factory) error {
	if typeName == "" || f == nil {
		return schema.NewError(schema.ErrCodeValidation, "reporter type and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeName]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "reporter type %q already registered", typeName)
	}
	r.factories[typeName] = f
	return nil
}

// Get returns the factory for a type, or false when unknown.
func (r *FactoryRegistry) Get(typeName string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typeName]
	return f, ok
}

// DefaultRegistry returns a registry with the built-in reporter types.
func DefaultRegistry() *FactoryRegistry {
	r := NewFactoryRegistry()
	_ = r.Register(GitHubReporterType, NewGitHubReporter)
	return r
}
