package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruitment-sync-service/internal/config"
	"recruitment-sync-service/internal/sheets"
	"recruitment-sync-service/internal/store"
)

func TestManager_RunOnceRecordsHistory(t *testing.T) {
	h := newHarness(t, Options{})
	h.addUser(t, "R1", "Ann", t0)
	m := NewManager(h.engine, h.store)
	defer m.Close()

	res, err := m.RunOnce(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TotalRows())

	hist, err := m.History(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusCompleted, hist[0].Status)
	assert.Equal(t, TriggerManual, hist[0].Trigger)
	assert.Equal(t, int64(1), hist[0].TotalRows)
	assert.Contains(t, hist[0].StreamsSynced, StreamUsers)
	require.NotNil(t, hist[0].CompletedAt)

	st := m.GetStatus()
	assert.Equal(t, StatusCompleted, st.State)
	assert.Empty(t, st.LastError)
}

func TestManager_SingleFlight(t *testing.T) {
	h := newHarness(t, Options{})
	m := NewManager(h.engine, h.store)
	defer m.Close()

	m.running.Lock()
	_, err := m.RunOnce(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.ErrorIs(t, m.Trigger(TriggerManual), ErrSyncInProgress)
	m.running.Unlock()

	require.NoError(t, m.Trigger(TriggerManual))
	assert.Eventually(t, func() bool {
		return m.GetStatus().State == StatusCompleted
	}, time.Second, 5*time.Millisecond)
}

// failingBackend rejects every write.
type failingBackend struct {
	*sheets.MemoryBackend
}

func (failingBackend) Update(ctx context.Context, rng string, values [][]string) error {
	return errors.New("quota exceeded")
}

func TestManager_FailedPassKeepsCheckpoint(t *testing.T) {
	st := store.NewMemoryStore()
	client := sheets.NewClient(failingBackend{sheets.NewMemoryBackend()}, sheets.Options{MaxAttempts: 1})
	engine := NewEngine(st, st, st, client, Options{})
	m := NewManager(engine, st)
	defer m.Close()

	_, err := m.RunOnce(context.Background(), TriggerScheduled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	state, err := st.GetSyncState(context.Background(), StreamUsers)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, time.Unix(0, 0).UTC(), state.LastSyncTime)

	hist, err := m.History(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusFailed, hist[0].Status)
	assert.Equal(t, StatusFailed, m.GetStatus().State)
}

func TestScheduler_DisabledAndInvalidInterval(t *testing.T) {
	h := newHarness(t, Options{})
	m := NewManager(h.engine, h.store)
	defer m.Close()

	s := NewScheduler(config.SchedulerConfig{Enabled: false}, m)
	require.NoError(t, s.Start())
	s.Stop()

	s = NewScheduler(config.SchedulerConfig{Enabled: true, Interval: "every now and then"}, m)
	assert.Error(t, s.Start())
}

func TestScheduler_SwallowsFailures(t *testing.T) {
	st := store.NewMemoryStore()
	client := sheets.NewClient(failingBackend{sheets.NewMemoryBackend()}, sheets.Options{MaxAttempts: 1})
	m := NewManager(NewEngine(st, st, st, client, Options{}), st)
	defer m.Close()

	s := NewScheduler(config.SchedulerConfig{Enabled: true, Interval: "@every 1h"}, m)
	assert.NotPanics(t, s.triggerSync)

	hist, err := m.History(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, TriggerScheduled, hist[0].Trigger)
}
