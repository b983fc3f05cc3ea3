package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory SessionStore used in tests and for ephemeral
// runs where persistence is not wanted.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	checkpoints map[string][]*CheckpointRecord
	audit       map[string][]*AuditRecord
	schedules   map[string]*Schedule
	secrets     map[string][]byte
	nextID      int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        map[string]*Run{},
		checkpoints: map[string][]*CheckpointRecord{},
		audit:       map[string][]*AuditRecord{},
		schedules:   map[string]*Schedule{},
		secrets:     map[string][]byte{},
	}
}

func (m *MemoryStore) CreateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return storeConflict("run", run.ID)
	}
	cp := *run
	cp.CreatedAt = timeOrNow(run.CreatedAt)
	cp.UpdatedAt = timeOrNow(run.UpdatedAt)
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, id string, update RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return storeNotFound("run", id)
	}
	if update.State != nil {
		run.State = *update.State
	}
	if update.CurrentStep != nil {
		run.CurrentStep = *update.CurrentStep
	}
	if update.PRNumber != nil {
		run.PRNumber = *update.PRNumber
	}
	if update.PRURL != nil {
		run.PRURL = *update.PRURL
	}
	if update.Error != nil {
		run.Error = update.Error
	}
	if update.StartedAt != nil {
		run.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		run.CompletedAt = update.CompletedAt
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var runs []*Run
	for _, run := range m.runs {
		if filter.State != nil && run.State != *filter.State {
			continue
		}
		if filter.Since != nil && run.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if filter.Offset > 0 && filter.Offset < len(runs) {
		runs = runs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(runs) {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (m *MemoryStore) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return storeNotFound("run", id)
	}
	delete(m.runs, id)
	delete(m.checkpoints, id)
	return nil
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, rec *CheckpointRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *rec
	cp.ID = m.nextID
	cp.CreatedAt = timeOrNow(rec.CreatedAt)
	m.checkpoints[rec.SessionID] = append(m.checkpoints[rec.SessionID], &cp)
	rec.ID = cp.ID
	return nil
}

func (m *MemoryStore) LoadLatestCheckpoint(_ context.Context, sessionID string) (*CheckpointRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.checkpoints[sessionID]
	if len(recs) == 0 {
		return nil, storeNotFound("checkpoint", sessionID)
	}
	cp := *recs[len(recs)-1]
	return &cp, nil
}

func (m *MemoryStore) AppendAuditEntry(_ context.Context, rec *AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *rec
	cp.ID = m.nextID
	cp.Sequence = int64(len(m.audit[rec.SessionID]) + 1)
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	m.audit[rec.SessionID] = append(m.audit[rec.SessionID], &cp)
	rec.Sequence = cp.Sequence
	return nil
}

func (m *MemoryStore) ListAuditEntries(_ context.Context, sessionID string, since int64) ([]*AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []*AuditRecord
	for _, rec := range m.audit[sessionID] {
		if rec.Sequence > since {
			cp := *rec
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

func (m *MemoryStore) CreateSchedule(_ context.Context, sched *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.schedules[sched.ID]; exists {
		return storeConflict("schedule", sched.ID)
	}
	cp := *sched
	cp.CreatedAt = timeOrNow(sched.CreatedAt)
	m.schedules[sched.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSchedule(_ context.Context, id string) (*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sched, ok := m.schedules[id]
	if !ok {
		return nil, storeNotFound("schedule", id)
	}
	cp := *sched
	return &cp, nil
}

func (m *MemoryStore) UpdateSchedule(_ context.Context, id string, update ScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched, ok := m.schedules[id]
	if !ok {
		return storeNotFound("schedule", id)
	}
	if update.Enabled != nil {
		sched.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		sched.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		sched.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		sched.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *MemoryStore) ListSchedules(_ context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var schedules []*Schedule
	for _, sched := range m.schedules {
		if filter.Enabled != nil && sched.Enabled != *filter.Enabled {
			continue
		}
		cp := *sched
		schedules = append(schedules, &cp)
	}
	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
	if filter.Limit > 0 && filter.Limit < len(schedules) {
		schedules = schedules[:filter.Limit]
	}
	return schedules, nil
}

func (m *MemoryStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return storeNotFound("schedule", id)
	}
	delete(m.schedules, id)
	return nil
}

func (m *MemoryStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.secrets[key] = cp
	return nil
}

func (m *MemoryStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.secrets[key]
	if !ok {
		return nil, storeNotFound("secret", key)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

func (m *MemoryStore) DeleteSecret(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[key]; !ok {
		return storeNotFound("secret", key)
	}
	delete(m.secrets, key)
	return nil
}

func (m *MemoryStore) ListSecrets(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.secrets))
	for k := range m.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Vacuum(context.Context) error  { return nil }
func (m *MemoryStore) Close() error                  { return nil }

var _ SessionStore = (*MemoryStore)(nil)
