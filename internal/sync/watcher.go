package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"recruitment-sync-service/internal/logger"
)

// ChangeStream is the part of a mongo change stream the watcher needs.
type ChangeStream interface {
	Next(ctx context.Context) bool
	Err() error
	Close(ctx context.Context) error
}

// OpenStream starts a change stream over the watched collections.
type OpenStream func(ctx context.Context) (ChangeStream, error)

// ChangeWatcher triggers a pass shortly after users or applications change,
// so edits reach the sheet before the next scheduled pass. Bursts of events
// collapse into one pass.
type ChangeWatcher struct {
	open     OpenStream
	manager  *Manager
	debounce time.Duration
	reopen   time.Duration

	events chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewChangeWatcher(open OpenStream, manager *Manager, debounce time.Duration) *ChangeWatcher {
	if debounce <= 0 {
		debounce = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChangeWatcher{
		open:     open,
		manager:  manager,
		debounce: debounce,
		reopen:   5 * time.Second,
		events:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (w *ChangeWatcher) Start() {
	logger.Log.Info("Starting change watcher", zap.Duration("debounce", w.debounce))
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.listen()
	}()
	go func() {
		defer w.wg.Done()
		w.dispatch()
	}()
}

func (w *ChangeWatcher) Stop() {
	w.cancel()
	w.wg.Wait()
	logger.Log.Info("Stopped change watcher")
}

// listen reads the stream, reopening it after failures until stopped.
func (w *ChangeWatcher) listen() {
	for {
		stream, err := w.open(w.ctx)
		if err != nil {
			logger.Log.Error("Failed to open change stream", zap.Error(err))
		} else {
			for stream.Next(w.ctx) {
				w.notify()
			}
			if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.Warn("Change stream closed", zap.Error(err))
			}
			stream.Close(context.Background())
		}

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(w.reopen):
		}
	}
}

// notify never blocks; one pending signal is enough.
func (w *ChangeWatcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}

func (w *ChangeWatcher) dispatch() {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	armed := false

	for {
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-w.events:
			if !armed {
				timer.Reset(w.debounce)
				armed = true
			}
		case <-timer.C:
			armed = false
			err := w.manager.Trigger(TriggerChange)
			if errors.Is(err, ErrSyncInProgress) {
				// the running pass may have started before the change
				timer.Reset(w.debounce)
				armed = true
			}
		}
	}
}
