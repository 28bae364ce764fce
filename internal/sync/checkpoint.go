package sync

import (
	"context"
	"time"

	"recruitment-sync-service/internal/store"
)

// Checkpoints stores the last successful push time per stream.
type Checkpoints struct {
	state store.StateStore
}

func NewCheckpoints(state store.StateStore) *Checkpoints {
	return &Checkpoints{state: state}
}

// Get returns the zero Unix time when the stream has never completed.
func (c *Checkpoints) Get(ctx context.Context, stream string) (time.Time, error) {
	st, err := c.state.GetSyncState(ctx, stream)
	if err != nil {
		return time.Time{}, err
	}
	if st == nil {
		return time.Unix(0, 0).UTC(), nil
	}
	return st.LastSyncTime.UTC(), nil
}

// Set records a completed pass. The stored time never moves backwards.
func (c *Checkpoints) Set(ctx context.Context, stream string, at time.Time, rows int64) error {
	prev, err := c.Get(ctx, stream)
	if err != nil {
		return err
	}
	if at.Before(prev) {
		at = prev
	}
	return c.state.UpdateSyncState(ctx, &store.SyncState{
		Stream:       stream,
		LastSyncTime: at.UTC(),
		RowsSynced:   rows,
		Status:       StatusCompleted,
	})
}

// Fail keeps the previous checkpoint and records the error on the stream.
func (c *Checkpoints) Fail(ctx context.Context, stream string, cause error) error {
	prev, err := c.Get(ctx, stream)
	if err != nil {
		return err
	}
	return c.state.UpdateSyncState(ctx, &store.SyncState{
		Stream:       stream,
		LastSyncTime: prev,
		Status:       StatusFailed,
		ErrorMessage: cause.Error(),
	})
}
