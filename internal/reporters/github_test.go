package reporters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonma/flowrail/pkg/schema"
)

type fakeGitHub struct {
	mu       sync.Mutex
	server   *httptest.Server
	statuses []int // consumed per request; empty means 200
	requests []capturedRequest
	nextID   int64
}

type capturedRequest struct {
	method string
	path   string
	body   string
	auth   string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{nextID: 100}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Body string `json:"body"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)

		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{
			method: r.Method,
			path:   r.URL.Path,
			body:   payload.Body,
			auth:   r.Header.Get("Authorization"),
		})
		status := http.StatusOK
		if len(f.statuses) > 0 {
			status = f.statuses[0]
			f.statuses = f.statuses[1:]
		}
		id := f.nextID
		if r.Method == http.MethodPost {
			f.nextID++
		}
		f.mu.Unlock()

		if status >= 400 {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"message":"request with token ghp_secret_token rejected"}`)
			return
		}
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"id":%d}`, id)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGitHub) captured() []capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capturedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *fakeGitHub) failNext(statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statuses...)
}

func newTestReporter(t *testing.T, f *fakeGitHub, debounceMs string) *GitHubReporter {
	t.Helper()
	rep, err := NewGitHubReporter(map[string]string{
		"token":       "ghp_secret_token",
		"repo":        "acme/widgets",
		"pr_number":   "7",
		"base_url":    f.server.URL,
		"debounce_ms": debounceMs,
	}, Deps{})
	require.NoError(t, err)
	return rep.(*GitHubReporter)
}

func testReporterContext() ReporterContext {
	return ReporterContext{
		SessionID: "sess-42",
		Steps: []StepVisibility{
			{Name: "A", Visibility: schema.VisibilityVisible},
			{Name: "B", Visibility: schema.VisibilitySilent},
			{Name: "C", Visibility: schema.VisibilitySummary},
		},
	}
}

func TestGitHubReporter_InitializeCreatesMarkedComment(t *testing.T) {
	f := newFakeGitHub(t)
	rep := newTestReporter(t, f, "0")

	require.NoError(t, rep.Initialize(context.Background(), testReporterContext()))

	reqs := f.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/repos/acme/widgets/issues/7/comments", reqs[0].path)
	assert.Contains(t, reqs[0].body, "<!-- flowrail:session:sess-42 -->")
	// Initial render lists visible steps only: no silent, no summary.
	assert.Contains(t, reqs[0].body, "] A")
	assert.NotContains(t, reqs[0].body, "] B")
	assert.NotContains(t, reqs[0].body, "] C")
	assert.Equal(t, "Bearer ghp_secret_token", reqs[0].auth)
}

func TestGitHubReporter_LiveAndFinalVisibility(t *testing.T) {
	f := newFakeGitHub(t)
	rep := newTestReporter(t, f, "0")
	ctx := context.Background()
	require.NoError(t, rep.Initialize(ctx, testReporterContext()))

	now := time.Now()
	// The manager drops silent entries; the reporter only ever sees A and C.
	for _, step := range []string{"A", "C"} {
		require.NoError(t, rep.OnAuditEntry(ctx, schema.WorkflowAuditEntry{Step: step, Status: schema.AuditStarted, Timestamp: now}))
		require.NoError(t, rep.OnAuditEntry(ctx, schema.WorkflowAuditEntry{Step: step, Status: schema.AuditCompleted, Timestamp: now.Add(time.Second)}))
	}
	require.NoError(t, rep.OnComplete(ctx, &schema.ExecutionSummary{
		TotalDurationMs: 2000,
		Counts:          schema.SummaryCounts{Total: 3, Completed: 3},
	}))

	reqs := f.captured()
	require.Greater(t, len(reqs), 2)

	for _, req := range reqs[1 : len(reqs)-1] {
		assert.Equal(t, http.MethodPatch, req.method)
		assert.Contains(t, req.body, "] A")
		assert.NotContains(t, req.body, "] B")
		assert.NotContains(t, req.body, "] C", "summary step must be absent from live updates")
	}

	final := reqs[len(reqs)-1].body
	assert.Contains(t, final, "] A")
	assert.Contains(t, final, "] C")
	assert.NotContains(t, final, "] B")
	assert.Contains(t, final, "3 completed")
}

func TestGitHubReporter_DebounceCoalescesUpdates(t *testing.T) {
	f := newFakeGitHub(t)
	rep := newTestReporter(t, f, "40")
	ctx := context.Background()
	require.NoError(t, rep.Initialize(ctx, testReporterContext()))

	now := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, rep.OnAuditEntry(ctx, schema.WorkflowAuditEntry{Step: "A", Status: schema.AuditStarted, Timestamp: now}))
	}

	assert.Eventually(t, func() bool {
		return len(f.captured()) == 2 // one create + one coalesced update
	}, time.Second, 10*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, f.captured(), 2)
}

func TestGitHubReporter_SelfDisablesOnAuthFailure(t *testing.T) {
	f := newFakeGitHub(t)
	f.failNext(http.StatusUnauthorized)
	rep := newTestReporter(t, f, "0")
	ctx := context.Background()

	err := rep.Initialize(ctx, testReporterContext())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "ghp_secret_token")

	// Every later call is a no-op: zero further requests.
	require.NoError(t, rep.OnAuditEntry(ctx, schema.WorkflowAuditEntry{Step: "A", Status: schema.AuditStarted}))
	require.NoError(t, rep.OnComplete(ctx, &schema.ExecutionSummary{}))
	require.NoError(t, rep.OnError(ctx, errors.New("boom")))
	require.NoError(t, rep.Dispose(ctx))
	assert.Len(t, f.captured(), 1)
}

func TestGitHubReporter_TransientFailureDoesNotDisable(t *testing.T) {
	f := newFakeGitHub(t)
	rep := newTestReporter(t, f, "0")
	ctx := context.Background()
	require.NoError(t, rep.Initialize(ctx, testReporterContext()))

	f.failNext(http.StatusInternalServerError)
	require.NoError(t, rep.OnAuditEntry(ctx, schema.WorkflowAuditEntry{Step: "A", Status: schema.AuditStarted}))

	// Next attempt still goes out and succeeds.
	require.NoError(t, rep.OnAuditEntry(ctx, schema.WorkflowAuditEntry{Step: "A", Status: schema.AuditCompleted, Timestamp: time.Now()}))
	reqs := f.captured()
	assert.Len(t, reqs, 3)
}

func TestGitHubReporter_ErrorBannerIsRedacted(t *testing.T) {
	f := newFakeGitHub(t)
	rep := newTestReporter(t, f, "0")
	ctx := context.Background()
	require.NoError(t, rep.Initialize(ctx, testReporterContext()))

	require.NoError(t, rep.OnError(ctx, errors.New("dispatch failed: token ghp_secret_token invalid")))

	reqs := f.captured()
	final := reqs[len(reqs)-1].body
	assert.Contains(t, final, "Run failed")
	assert.NotContains(t, final, "ghp_secret_token")
	assert.Contains(t, strings.ToLower(final), "dispatch failed")
}

func TestGitHubReporter_DisposeIdempotentEvenUninitialized(t *testing.T) {
	f := newFakeGitHub(t)
	rep := newTestReporter(t, f, "50")

	assert.NotPanics(t, func() {
		require.NoError(t, rep.Dispose(context.Background()))
		require.NoError(t, rep.Dispose(context.Background()))
	})
	assert.Empty(t, f.captured())
}

func TestGitHubReporter_DisposeFlushesPendingUpdateOnce(t *testing.T) {
	f := newFakeGitHub(t)
	rep := newTestReporter(t, f, "60000")
	ctx := context.Background()
	require.NoError(t, rep.Initialize(ctx, testReporterContext()))

	require.NoError(t, rep.OnAuditEntry(ctx, schema.WorkflowAuditEntry{Step: "A", Status: schema.AuditStarted, Timestamp: time.Now()}))
	assert.Len(t, f.captured(), 1)

	require.NoError(t, rep.Dispose(ctx))
	assert.Len(t, f.captured(), 2)

	require.NoError(t, rep.Dispose(ctx))
	assert.Len(t, f.captured(), 2)
}

func TestGitHubReporter_ConfigValidation(t *testing.T) {
	_, err := NewGitHubReporter(map[string]string{"repo": "a/b", "pr_number": "1"}, Deps{})
	require.Error(t, err)

	_, err = NewGitHubReporter(map[string]string{"token": "t", "repo": "a/b", "pr_number": "zero"}, Deps{})
	require.Error(t, err)

	_, err = NewGitHubReporter(map[string]string{"token": "t", "repo": "a/b", "pr_number": "1", "debounce_ms": "-5"}, Deps{})
	require.Error(t, err)
}
