package schema

// WorkflowDefinition is the JSON-serializable workflow format. It is read-only
// after load and owned for the lifetime of one run.
type WorkflowDefinition struct {
	Name      string           `json:"name"`
	Version   string           `json:"version,omitempty"`
	Steps     []StepDefinition `json:"steps"`
	Reporters []ReporterConfig `json:"reporters,omitempty"`
}

// StepKind enumerates the kinds of steps in a workflow.
type StepKind string

const (
	StepKindAgent    StepKind = "agent"
	StepKindCode     StepKind = "code"
	StepKindParallel StepKind = "parallel"
	StepKindLoop     StepKind = "loop"
	StepKindPerTask  StepKind = "per-task"
)

// Visibility controls whether a step's progress is exposed to reporters.
type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilitySilent  Visibility = "silent"
	VisibilitySummary Visibility = "summary"
)

// ExhaustPolicy decides what happens when a loop runs out of retries while its
// condition still holds.
type ExhaustPolicy string

const (
	ExhaustEscalate ExhaustPolicy = "escalate"
	ExhaustWarn     ExhaustPolicy = "warn"
)

// StepDefinition describes a single step in a workflow. Kind selects which of
// the optional fields apply; container kinds (parallel, loop, per-task) carry
// their children in Steps, and each child list is exclusively owned by its
// parent; the tree has no back-references.
type StepDefinition struct {
	Name     string     `json:"name"`
	Kind     StepKind   `json:"kind"`
	ReportAs Visibility `json:"reportAs,omitempty"` // visible | silent | summary (default: visible)
	Output   string     `json:"output,omitempty"`   // context binding name for the step result
	FailWhen string     `json:"failWhen,omitempty"` // post-step expression; true converts success to failure

	// agent
	Instruction string            `json:"instruction,omitempty"` // template, rendered against the run context
	AgentConfig map[string]string `json:"agentConfig,omitempty"`

	// code
	Handler string         `json:"handler,omitempty"`
	Input   map[string]any `json:"input,omitempty"` // string values are rendered as templates

	// loop
	Condition   string        `json:"condition,omitempty"`
	MaxRetries  int           `json:"maxRetries,omitempty"`
	OnExhausted ExhaustPolicy `json:"onExhausted,omitempty"` // escalate | warn (default: escalate)

	// per-task
	Source string `json:"source,omitempty"` // context path or jq: expression producing the item list

	// parallel, loop, per-task
	Steps []StepDefinition `json:"steps,omitempty"`
}

// DeclaredVisibility returns the step's own visibility, defaulting to visible.
// Ancestor cascade (silent forcing descendants silent) is applied by the
// reporter manager, not here.
func (s *StepDefinition) DeclaredVisibility() Visibility {
	if s.ReportAs == "" {
		return VisibilityVisible
	}
	return s.ReportAs
}

// ExhaustPolicyOrDefault returns the loop's exhaustion policy, defaulting to escalate.
func (s *StepDefinition) ExhaustPolicyOrDefault() ExhaustPolicy {
	if s.OnExhausted == "" {
		return ExhaustEscalate
	}
	return s.OnExhausted
}

// IsContainer reports whether the step kind carries child steps.
func (s *StepDefinition) IsContainer() bool {
	switch s.Kind {
	case StepKindParallel, StepKindLoop, StepKindPerTask:
		return true
	default:
		return false
	}
}

// ReporterConfig selects and configures one reporter instance.
// Config values may contain ${{...}} placeholders, resolved against the run
// context (and secrets) before the reporter is constructed.
type ReporterConfig struct {
	Type   string            `json:"type"`
	Config map[string]string `json:"config,omitempty"`
}

// Checkpoint is the authoritative record for resume, persisted after every
// completed top-level step. A resume must load it unmodified; in particular
// CompletedPhases is never regenerated.
type Checkpoint struct {
	Variables       map[string]any `json:"variables"`
	CompletedPhases []string       `json:"completedPhases"`
	ChangedFiles    []string       `json:"changedFiles"`
}

// HasPhase reports whether a top-level phase is already recorded as completed.
func (c *Checkpoint) HasPhase(name string) bool {
	for _, p := range c.CompletedPhases {
		if p == name {
			return true
		}
	}
	return false
}
