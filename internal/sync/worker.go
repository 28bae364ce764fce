package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recruitment-sync-service/internal/logger"
	"recruitment-sync-service/internal/store"
)

// fanOut pushes each department's applications to its own sheet using a
// bounded pool of workers. Every department keeps an independent checkpoint.
func (e *Engine) fanOut(ctx context.Context, now time.Time) ([]StreamResult, error) {
	logger.Log.Debug("Starting department fan-out", zap.Int("workers", e.opts.FanOutWorkers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.FanOutWorkers)

	var mu sync.Mutex
	results := make([]StreamResult, len(store.Departments))
	done := make([]bool, len(store.Departments))

	for i, dept := range store.Departments {
		g.Go(func() error {
			target := appTarget{
				sheet:      dept,
				stream:     DepartmentStream(dept),
				department: dept,
				lazy:       true,
			}
			r, err := e.runStream(gctx, target.stream, true, now, func(ctx context.Context, now time.Time) (StreamResult, error) {
				return e.pushApplicationsTo(ctx, now, target)
			})

			mu.Lock()
			results[i] = r
			done[i] = true
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()

	out := make([]StreamResult, 0, len(results))
	for i, r := range results {
		if done[i] {
			out = append(out, r)
		}
	}
	return out, err
}
