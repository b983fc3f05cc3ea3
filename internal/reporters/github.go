package reporters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okonma/flowrail/internal/secrets"
	"github.com/okonma/flowrail/pkg/schema"
)

// GitHubReporterType is the registry key for the PR comment reporter.
const GitHubReporterType = "github-pr-comment"

const defaultGitHubBaseURL = "https://api.github.com"

type stepProgress struct {
	name       string
	visibility schema.Visibility
	status     string // pending, in-progress, done, failed
	startedAt  time.Time
	durationMs int64
}

// GitHubReporter renders run progress into a single pull request comment.
// Each instance always creates a new comment carrying its own session marker;
// it never reuses a comment from a prior run. An authorization or not-found
// failure on any call disables the reporter for the rest of the run; server
// and transport errors are logged and retried on the next event.
type GitHubReporter struct {
	logger   *slog.Logger
	redactor *secrets.Redactor
	client   *http.Client

	baseURL  string
	token    string
	repo     string
	prNumber int

	debounce *debouncer

	mu        sync.Mutex
	disabled  bool
	commentID int64
	sessionID string
	order     []string
	steps     map[string]*stepProgress
	summary   *schema.ExecutionSummary
	runErr    string
	final     bool
}

// NewGitHubReporter is the Factory for GitHubReporterType. Config keys:
// token, repo ("owner/name"), pr_number, base_url (optional), debounce_ms
// (optional, default 1000).
func NewGitHubReporter(config map[string]string, deps Deps) (WorkflowReporter, error) {
	token := config["token"]
	repo := config["repo"]
	if token == "" || repo == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "github-pr-comment requires 'token' and 'repo' config")
	}
	prNumber, err := strconv.Atoi(config["pr_number"])
	if err != nil || prNumber <= 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "github-pr-comment requires a positive 'pr_number'")
	}

	baseURL := config["base_url"]
	if baseURL == "" {
		baseURL = defaultGitHubBaseURL
	}
	window := 1000 * time.Millisecond
	if raw, ok := config["debounce_ms"]; ok {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			return nil, schema.NewError(schema.ErrCodeValidation, "github-pr-comment 'debounce_ms' must be a non-negative integer")
		}
		window = time.Duration(ms) * time.Millisecond
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redactor := deps.Redactor
	if redactor == nil {
		redactor = secrets.NewRedactor()
	}
	// The token must never surface in logs or error bodies, even when the
	// remote echoes it back.
	redactor.Register(token)

	r := &GitHubReporter{
		logger:   logger,
		redactor: redactor,
		client:   &http.Client{Timeout: 15 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		repo:     repo,
		prNumber: prNumber,
		steps:    map[string]*stepProgress{},
	}
	r.debounce = newDebouncer(window, r.pushUpdate)
	return r, nil
}

func (r *GitHubReporter) Name() string { return GitHubReporterType }

// Initialize creates the comment with a hidden session marker and a checklist
// seeded from every visible step. Summary-visibility steps are excluded from
// this initial render and only appear in the final one.
func (r *GitHubReporter) Initialize(ctx context.Context, rctx ReporterContext) error {
	r.mu.Lock()
	r.sessionID = rctx.SessionID
	for _, sv := range rctx.Steps {
		if sv.Visibility == schema.VisibilitySilent {
			continue
		}
		r.order = append(r.order, sv.Name)
		r.steps[sv.Name] = &stepProgress{name: sv.Name, visibility: sv.Visibility, status: "pending"}
	}
	body := r.renderLocked()
	r.mu.Unlock()

	id, err := r.createComment(ctx, body)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.commentID = id
	r.mu.Unlock()
	return nil
}

// OnAuditEntry updates per-step state and schedules a debounced update.
func (r *GitHubReporter) OnAuditEntry(_ context.Context, entry schema.WorkflowAuditEntry) error {
	r.mu.Lock()
	if r.disabled {
		r.mu.Unlock()
		return nil
	}
	if sp, ok := r.steps[entry.Step]; ok {
		switch entry.Status {
		case schema.AuditStarted:
			sp.status = "in-progress"
			sp.startedAt = entry.Timestamp
		case schema.AuditCompleted:
			sp.status = "done"
			if !sp.startedAt.IsZero() {
				sp.durationMs = entry.Timestamp.Sub(sp.startedAt).Milliseconds()
			}
		case schema.AuditFailed:
			sp.status = "failed"
		case schema.AuditSkipped:
			sp.status = "pending"
		}
	}
	r.mu.Unlock()

	r.debounce.Trigger()
	return nil
}

// OnComplete cancels any pending debounced update and renders the final
// state, including summary-visibility steps and run totals.
func (r *GitHubReporter) OnComplete(ctx context.Context, summary *schema.ExecutionSummary) error {
	r.debounce.Cancel()
	r.mu.Lock()
	if r.disabled {
		r.mu.Unlock()
		return nil
	}
	r.summary = summary
	r.final = true
	body := r.renderLocked()
	id := r.commentID
	r.mu.Unlock()

	return r.updateComment(ctx, id, body)
}

// OnError renders an error banner immediately, independent of debounce state.
func (r *GitHubReporter) OnError(ctx context.Context, runErr error) error {
	r.debounce.Cancel()
	r.mu.Lock()
	if r.disabled {
		r.mu.Unlock()
		return nil
	}
	if runErr != nil {
		r.runErr = r.redactor.RedactError(runErr)
	}
	r.final = true
	body := r.renderLocked()
	id := r.commentID
	r.mu.Unlock()

	return r.updateComment(ctx, id, body)
}

// Dispose flushes a pending debounced update exactly once, then becomes a
// safe no-op, even if never initialized or already disabled.
func (r *GitHubReporter) Dispose(context.Context) error {
	r.debounce.Dispose()
	return nil
}

// pushUpdate is the debounce flush target.
func (r *GitHubReporter) pushUpdate() {
	r.mu.Lock()
	if r.disabled || r.final {
		r.mu.Unlock()
		return
	}
	body := r.renderLocked()
	id := r.commentID
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = r.updateComment(ctx, id, body)
}

// --- rendering ---

func statusMark(status string) string {
	switch status {
	case "done":
		return "[x]"
	case "in-progress":
		return "[ ] ⏳"
	case "failed":
		return "[ ] ❌"
	default:
		return "[ ]"
	}
}

// renderLocked builds the comment markdown. Caller holds r.mu.
func (r *GitHubReporter) renderLocked() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!-- flowrail:session:%s -->\n", r.sessionID)
	b.WriteString("### Workflow progress\n\n")

	for _, name := range r.order {
		sp := r.steps[name]
		if sp.visibility == schema.VisibilitySummary && !r.final {
			continue
		}
		fmt.Fprintf(&b, "- %s %s", statusMark(sp.status), sp.name)
		if sp.status == "done" && sp.durationMs > 0 {
			fmt.Fprintf(&b, " (%dms)", sp.durationMs)
		}
		b.WriteString("\n")
	}

	if r.runErr != "" {
		fmt.Fprintf(&b, "\n> ❌ **Run failed:** %s\n", r.runErr)
	}
	if r.summary != nil {
		fmt.Fprintf(&b, "\n**Done** in %dms: %d completed, %d failed, %d skipped\n",
			r.summary.TotalDurationMs,
			r.summary.Counts.Completed, r.summary.Counts.Failed, r.summary.Counts.Skipped)
	}
	return b.String()
}

// --- transport ---

func (r *GitHubReporter) createComment(ctx context.Context, body string) (int64, error) {
	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", r.baseURL, r.repo, r.prNumber)
	respBody, err := r.call(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, err
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeReporter, "decode create response: %s", err.Error())
	}
	return created.ID, nil
}

func (r *GitHubReporter) updateComment(ctx context.Context, id int64, body string) error {
	if id == 0 {
		// The initial create failed transiently; try to create now instead.
		newID, err := r.createComment(ctx, body)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.commentID = newID
		r.mu.Unlock()
		return nil
	}
	url := fmt.Sprintf("%s/repos/%s/issues/comments/%d", r.baseURL, r.repo, id)
	_, err := r.call(ctx, http.MethodPatch, url, body)
	return err
}

// call performs one API request. 401/403/404 disable the reporter; other
// failures are logged (redacted) and left retryable.
func (r *GitHubReporter) call(ctx context.Context, method, url, commentBody string) ([]byte, error) {
	r.mu.Lock()
	if r.disabled {
		r.mu.Unlock()
		return nil, nil
	}
	r.mu.Unlock()

	payload, err := json.Marshal(map[string]string{"body": commentBody})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeReporter, "encode comment: %s", err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeReporter, "build request: %s", err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		// Transport failure: retryable, never disables.
		r.logger.Warn("github request failed", "method", method, "error", r.redactor.RedactError(err))
		return nil, schema.NewErrorf(schema.ErrCodeReporter, "github request failed: %s", r.redactor.RedactError(err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		r.mu.Lock()
		r.disabled = true
		r.mu.Unlock()
		r.logger.Warn("github reporter disabled",
			"status", resp.StatusCode, "body", r.redactor.Redact(string(respBody)))
		return nil, schema.NewErrorf(schema.ErrCodeReporter,
			"github returned %d, reporter disabled", resp.StatusCode)
	default:
		r.logger.Warn("github request rejected",
			"status", resp.StatusCode, "body", r.redactor.Redact(string(respBody)))
		return nil, schema.NewErrorf(schema.ErrCodeReporter,
			"github returned %d: %s", resp.StatusCode, r.redactor.Redact(string(respBody)))
	}
}

var _ WorkflowReporter = (*GitHubReporter)(nil)
