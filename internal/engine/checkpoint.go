package engine

import (
	"context"

	"github.com/okonma/flowrail/internal/store"
	"github.com/okonma/flowrail/pkg/schema"
)

// CheckpointStore persists and restores run checkpoints through the session
// store. The checkpoint is the authoritative record for resume; it is saved
// after every completed top-level step and loaded unmodified. In particular
// CompletedPhases round-trips verbatim and is never regenerated.
type CheckpointStore struct {
	store store.SessionStore
}

// NewCheckpointStore wraps a session store.
func NewCheckpointStore(s store.SessionStore) *CheckpointStore {
	return &CheckpointStore{store: s}
}

// Save writes a checkpoint row for the session.
func (c *CheckpointStore) Save(ctx context.Context, sessionID, stepName string, cp schema.Checkpoint) error {
	rec := &store.CheckpointRecord{
		SessionID: sessionID,
		StepName:  stepName,
		Data:      cp,
	}
	if err := c.store.SaveCheckpoint(ctx, rec); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save checkpoint after %q: %s", stepName, err.Error()).WithCause(err)
	}
	return nil
}

// LoadLatest returns the most recent checkpoint for the session and the name
// of the step it was written after.
func (c *CheckpointStore) LoadLatest(ctx context.Context, sessionID string) (*schema.Checkpoint, string, error) {
	rec, err := c.store.LoadLatestCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	cp := rec.Data
	return &cp, rec.StepName, nil
}
