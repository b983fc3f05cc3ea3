package reporters

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/okonma/flowrail/internal/secrets"
	"github.com/okonma/flowrail/pkg/schema"
)

// Manager owns the active reporters for one run. It resolves the visibility
// map once, drops silent entries before any reporter sees them, and isolates
// every reporter failure so it never propagates into the engine.
type Manager struct {
	logger    *slog.Logger
	registry  *FactoryRegistry
	redactor  *secrets.Redactor
	vis       map[string]schema.Visibility
	reporters []WorkflowReporter

	terminalSent bool
	disposed     bool
}

// NewManager creates a manager bound to a factory registry. A nil redactor
// gets replaced by an empty one so reporters can always register secrets.
func NewManager(registry *FactoryRegistry, logger *slog.Logger, redactor *secrets.Redactor) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if redactor == nil {
		redactor = secrets.NewRedactor()
	}
	return &Manager{logger: logger, registry: registry, redactor: redactor}
}

// Initialize resolves visibility, constructs each configured reporter, and
// calls Initialize on it. Config values are rendered through the provided
// function (same placeholder rules as WorkflowContext templates). An unknown
// reporter type logs a warning and is skipped; it never aborts startup. A
// factory or Initialize failure likewise only drops that one reporter.
func (m *Manager) Initialize(ctx context.Context, def *schema.WorkflowDefinition, rctx ReporterContext, render func(string) string) {
	flat := ResolveVisibility(def.Steps)
	m.vis = VisibilityMap(flat)
	rctx.Steps = flat

	for _, cfg := range def.Reporters {
		factory, ok := m.registry.Get(cfg.Type)
		if !ok {
			m.logger.WarnContext(ctx, "unknown reporter type, skipping", "type", cfg.Type)
			continue
		}

		resolved := make(map[string]string, len(cfg.Config))
		for k, v := range cfg.Config {
			if render != nil {
				v = render(v)
			}
			resolved[k] = v
		}

		reporter, err := factory(resolved, Deps{Logger: m.logger, Redactor: m.redactor})
		if err != nil {
			m.logger.WarnContext(ctx, "reporter construction failed, skipping",
				"type", cfg.Type, "error", m.redactor.RedactError(err))
			continue
		}
		if err := m.guard(ctx, reporter, "initialize", func() error {
			return reporter.Initialize(ctx, rctx)
		}); err != nil {
			continue
		}
		m.reporters = append(m.reporters, reporter)
	}
}

// Active returns the number of live reporters.
func (m *Manager) Active() int { return len(m.reporters) }

// OnAuditEntry forwards an entry to every active reporter in arrival order.
// Entries for steps resolved as silent are dropped before any reporter sees
// them.
func (m *Manager) OnAuditEntry(ctx context.Context, entry schema.WorkflowAuditEntry) {
	if m.vis[entry.Step] == schema.VisibilitySilent {
		return
	}
	for _, r := range m.reporters {
		_ = m.guard(ctx, r, "onAuditEntry", func() error {
			return r.OnAuditEntry(ctx, entry)
		})
	}
}

// OnComplete delivers the run summary once to every reporter.
func (m *Manager) OnComplete(ctx context.Context, summary *schema.ExecutionSummary) {
	if m.terminalSent {
		return
	}
	m.terminalSent = true
	for _, r := range m.reporters {
		_ = m.guard(ctx, r, "onComplete", func() error {
			return r.OnComplete(ctx, summary)
		})
	}
}

// OnError delivers the run failure once to every reporter.
func (m *Manager) OnError(ctx context.Context, runErr error) {
	if m.terminalSent {
		return
	}
	m.terminalSent = true
	for _, r := range m.reporters {
		_ = m.guard(ctx, r, "onError", func() error {
			return r.OnError(ctx, runErr)
		})
	}
}

// Dispose disposes every reporter once. Safe to call multiple times.
func (m *Manager) Dispose(ctx context.Context) {
	if m.disposed {
		return
	}
	m.disposed = true
	for _, r := range m.reporters {
		_ = m.guard(ctx, r, "dispose", func() error {
			return r.Dispose(ctx)
		})
	}
}

// guard runs one reporter call, converting panics to errors and logging any
// failure at the point of the call.
func (m *Manager) guard(ctx context.Context, r WorkflowReporter, op string, call func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reporter panic: %v", rec)
		}
		if err != nil {
			m.logger.WarnContext(ctx, "reporter call failed",
				"reporter", r.Name(), "op", op, "error", m.redactor.RedactError(err))
		}
	}()
	return call()
}
