package reporters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonma/flowrail/pkg/schema"
)

// recordingReporter captures every lifecycle call for assertions.
type recordingReporter struct {
	mu          sync.Mutex
	name        string
	initErr     error
	entryErr    error
	panicOnCall bool
	entries     []schema.WorkflowAuditEntry
	completes   int
	errorsSeen  int
	disposes    int
}

func (r *recordingReporter) Name() string { return r.name }

func (r *recordingReporter) Initialize(_ context.Context, _ ReporterContext) error {
	return r.initErr
}

func (r *recordingReporter) OnAuditEntry(_ context.Context, entry schema.WorkflowAuditEntry) error {
	if r.panicOnCall {
		panic("reporter blew up")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return r.entryErr
}

func (r *recordingReporter) OnComplete(context.Context, *schema.ExecutionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes++
	return nil
}

func (r *recordingReporter) OnError(context.Context, error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorsSeen++
	return nil
}

func (r *recordingReporter) Dispose(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposes++
	return nil
}

func (r *recordingReporter) stepNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, e := range r.entries {
		names = append(names, e.Step)
	}
	return names
}

func managerWithReporters(t *testing.T, def *schema.WorkflowDefinition, reps ...*recordingReporter) *Manager {
	t.Helper()
	registry := NewFactoryRegistry()
	for _, rep := range reps {
		rep := rep
		require.NoError(t, registry.Register(rep.name, func(map[string]string, Deps) (WorkflowReporter, error) {
			return rep, nil
		}))
		def.Reporters = append(def.Reporters, schema.ReporterConfig{Type: rep.name})
	}
	m := NewManager(registry, nil, nil)
	m.Initialize(context.Background(), def, ReporterContext{SessionID: "sess-1"}, nil)
	return m
}

func threeStepDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name: "wf",
		Steps: []schema.StepDefinition{
			{Name: "A", Kind: schema.StepKindAgent},
			{Name: "B", Kind: schema.StepKindAgent, ReportAs: schema.VisibilitySilent},
			{Name: "C", Kind: schema.StepKindAgent, ReportAs: schema.VisibilitySummary},
		},
	}
}

func TestManager_SilentEntriesNeverDelivered(t *testing.T) {
	rep := &recordingReporter{name: "rec"}
	m := managerWithReporters(t, threeStepDefinition(), rep)
	ctx := context.Background()

	for _, step := range []string{"A", "B", "C"} {
		m.OnAuditEntry(ctx, schema.WorkflowAuditEntry{Step: step, Status: schema.AuditStarted, Timestamp: time.Now()})
		m.OnAuditEntry(ctx, schema.WorkflowAuditEntry{Step: step, Status: schema.AuditCompleted, Timestamp: time.Now()})
	}

	names := rep.stepNames()
	assert.Contains(t, names, "A")
	assert.Contains(t, names, "C")
	assert.NotContains(t, names, "B")
}

func TestManager_UnknownTypeSkipped(t *testing.T) {
	def := threeStepDefinition()
	def.Reporters = []schema.ReporterConfig{{Type: "no-such-type"}}

	m := NewManager(NewFactoryRegistry(), nil, nil)
	m.Initialize(context.Background(), def, ReporterContext{}, nil)
	assert.Equal(t, 0, m.Active())
}

func TestManager_InitializeFailureDropsOnlyThatReporter(t *testing.T) {
	bad := &recordingReporter{name: "bad", initErr: errors.New("init failed")}
	good := &recordingReporter{name: "good"}
	m := managerWithReporters(t, threeStepDefinition(), bad, good)

	assert.Equal(t, 1, m.Active())

	m.OnAuditEntry(context.Background(), schema.WorkflowAuditEntry{Step: "A", Status: schema.AuditStarted})
	assert.Empty(t, bad.stepNames())
	assert.Equal(t, []string{"A"}, good.stepNames())
}

func TestManager_PanicIsolatedFromOtherReporters(t *testing.T) {
	panicky := &recordingReporter{name: "panicky", panicOnCall: true}
	calm := &recordingReporter{name: "calm"}
	m := managerWithReporters(t, threeStepDefinition(), panicky, calm)

	assert.NotPanics(t, func() {
		m.OnAuditEntry(context.Background(), schema.WorkflowAuditEntry{Step: "A", Status: schema.AuditStarted})
	})
	assert.Equal(t, []string{"A"}, calm.stepNames())
}

func TestManager_TerminalDeliveredOnceEach(t *testing.T) {
	rep := &recordingReporter{name: "rec"}
	m := managerWithReporters(t, threeStepDefinition(), rep)
	ctx := context.Background()

	m.OnComplete(ctx, &schema.ExecutionSummary{})
	m.OnComplete(ctx, &schema.ExecutionSummary{})
	m.OnError(ctx, errors.New("late"))
	assert.Equal(t, 1, rep.completes)
	assert.Equal(t, 0, rep.errorsSeen)

	m.Dispose(ctx)
	m.Dispose(ctx)
	assert.Equal(t, 1, rep.disposes)
}

func TestManager_ConfigRenderedThroughCallback(t *testing.T) {
	var gotConfig map[string]string
	registry := NewFactoryRegistry()
	require.NoError(t, registry.Register("capture", func(config map[string]string, _ Deps) (WorkflowReporter, error) {
		gotConfig = config
		return &recordingReporter{name: "capture"}, nil
	}))

	def := threeStepDefinition()
	def.Reporters = []schema.ReporterConfig{{
		Type:   "capture",
		Config: map[string]string{"pr_number": "${{prNumber}}"},
	}}

	m := NewManager(registry, nil, nil)
	m.Initialize(context.Background(), def, ReporterContext{}, func(s string) string {
		if s == "${{prNumber}}" {
			return "42"
		}
		return s
	})
	require.Equal(t, 1, m.Active())
	assert.Equal(t, "42", gotConfig["pr_number"])
}
