package engine

import (
	"sync"
	"time"

	"github.com/okonma/flowrail/pkg/schema"
)

// summaryBuilder accumulates run outcomes. Steps holds one entry per
// top-level phase; skipped collects descendant steps that never ran (a loop
// whose condition was false on entry); loops collects loop resolutions.
// Parallel children record concurrently, so it is mutex-guarded.
type summaryBuilder struct {
	mu      sync.Mutex
	started time.Time
	steps   []schema.StepSummary
	skipped []string
	loops   []schema.LoopDetail
}

func newSummaryBuilder() *summaryBuilder {
	return &summaryBuilder{started: time.Now()}
}

func (b *summaryBuilder) record(name string, status schema.AuditStatus, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.steps = append(b.steps, schema.StepSummary{
		Name:       name,
		Status:     status,
		DurationMs: duration.Milliseconds(),
	})
}

func (b *summaryBuilder) recordSkipped(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.skipped = append(b.skipped, name)
}

func (b *summaryBuilder) recordLoop(detail schema.LoopDetail) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loops = append(b.loops, detail)
}

// build produces the final ExecutionSummary. Counts and statuses are the
// comparable surface between an uninterrupted run and a resumed one;
// durations naturally differ.
func (b *summaryBuilder) build() *schema.ExecutionSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := schema.SummaryCounts{
		Total:   len(b.steps) + len(b.skipped),
		Skipped: len(b.skipped),
	}
	for _, s := range b.steps {
		switch s.Status {
		case schema.AuditCompleted:
			counts.Completed++
		case schema.AuditFailed:
			counts.Failed++
		}
	}

	steps := make([]schema.StepSummary, len(b.steps))
	copy(steps, b.steps)
	skipped := make([]string, len(b.skipped))
	copy(skipped, b.skipped)
	loops := make([]schema.LoopDetail, len(b.loops))
	copy(loops, b.loops)

	return &schema.ExecutionSummary{
		TotalDurationMs: time.Since(b.started).Milliseconds(),
		Steps:           steps,
		Counts:          counts,
		SkippedSteps:    skipped,
		LoopDetails:     loops,
	}
}
