package sync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recruitment-sync-service/internal/logger"
	"recruitment-sync-service/internal/store"
)

// Status is a snapshot of the manager for the status endpoint.
type Status struct {
	State       string      `json:"state"`
	Trigger     string      `json:"trigger,omitempty"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	LastResult  *PassResult `json:"lastResult,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// Manager makes sure only one pass runs at a time and keeps sync history.
type Manager struct {
	engine *Engine
	state  store.StateStore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running sync.Mutex

	mu     sync.Mutex
	status Status
}

func NewManager(engine *Engine, state store.StateStore) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		engine: engine,
		state:  state,
		ctx:    ctx,
		cancel: cancel,
		status: Status{State: StatusIdle},
	}
}

// RunOnce runs a pass and blocks until it finishes. It returns
// ErrSyncInProgress when another pass holds the lock.
func (m *Manager) RunOnce(ctx context.Context, trigger string) (*PassResult, error) {
	if !m.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer m.running.Unlock()
	return m.run(ctx, trigger)
}

// Trigger starts a pass in the background.
func (m *Manager) Trigger(trigger string) error {
	if !m.running.TryLock() {
		return ErrSyncInProgress
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.running.Unlock()
		if _, err := m.run(m.ctx, trigger); err != nil {
			logger.Log.Error("Triggered sync failed", zap.String("trigger", trigger), zap.Error(err))
		}
	}()
	return nil
}

func (m *Manager) run(ctx context.Context, trigger string) (*PassResult, error) {
	started := time.Now().UTC()
	m.setStatus(func(s *Status) {
		s.State = StatusRunning
		s.Trigger = trigger
		s.StartedAt = &started
		s.CompletedAt = nil
	})

	history := &store.SyncHistory{
		ID:        uuid.New().String(),
		StartedAt: started,
		Trigger:   trigger,
		Status:    StatusRunning,
	}
	if err := m.state.CreateSyncHistory(ctx, history); err != nil {
		logger.Log.Error("Failed to create sync history", zap.Error(err))
	}

	logger.Log.Info("Starting sync pass", zap.String("trigger", trigger))
	res, err := m.engine.Run(ctx)

	completed := time.Now().UTC()
	history.CompletedAt = &completed
	history.Status = StatusCompleted
	if res != nil {
		history.StreamsSynced = res.StreamNames()
		history.TotalRows = res.TotalRows()
		history.ConflictsDetected = res.TotalConflicts()
	}
	if err != nil {
		history.Status = StatusFailed
		history.ErrorMessage = err.Error()
	}
	// the pass context may be cancelled by now
	if herr := m.state.UpdateSyncHistory(context.WithoutCancel(ctx), history); herr != nil {
		logger.Log.Error("Failed to update sync history", zap.Error(herr))
	}

	m.setStatus(func(s *Status) {
		s.State = history.Status
		s.CompletedAt = &completed
		s.LastResult = res
		s.LastError = history.ErrorMessage
	})

	if err != nil {
		return res, err
	}
	logger.Log.Info("Sync pass completed",
		zap.Int64("rows", history.TotalRows),
		zap.Int("conflicts", history.ConflictsDetected),
		zap.Duration("duration", completed.Sub(started)),
	)
	return res, nil
}

func (m *Manager) setStatus(fn func(*Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.status)
}

func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) History(ctx context.Context, limit, offset int) ([]*store.SyncHistory, error) {
	return m.state.GetSyncHistory(ctx, limit, offset)
}

func (m *Manager) Conflicts(ctx context.Context, limit, offset int) ([]*store.Conflict, error) {
	return m.state.ListConflicts(ctx, limit, offset)
}

// Close cancels background passes and waits for them to return.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
