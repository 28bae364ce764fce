package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"recruitment-sync-service/internal/config"
	"recruitment-sync-service/internal/logger"
	"recruitment-sync-service/internal/metrics"
	"recruitment-sync-service/internal/sheets"
	"recruitment-sync-service/internal/store"
)

const (
	PolicyNow  = "now"
	PolicySkip = "skip"
)

type Options struct {
	UsersSheet        string
	ApplicationsSheet string
	// UnparseableTimestamp is PolicyNow or PolicySkip.
	UnparseableTimestamp string
	FanOut               bool
	FanOutWorkers        int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		UsersSheet:           cfg.Sheets.UsersSheet,
		ApplicationsSheet:    cfg.Sheets.ApplicationsSheet,
		UnparseableTimestamp: cfg.Sync.UnparseableTimestamp,
		FanOut:               cfg.Sync.FanOut,
		FanOutWorkers:        cfg.Sync.FanOutWorkers,
	}
}

// Engine runs one full bidirectional pass between the store and the spreadsheet.
type Engine struct {
	users       store.UserRepository
	apps        store.ApplicationRepository
	sheets      *sheets.Client
	checkpoints *Checkpoints
	conflicts   *ConflictManager
	opts        Options
	now         func() time.Time
}

func NewEngine(users store.UserRepository, apps store.ApplicationRepository, state store.StateStore, client *sheets.Client, opts Options) *Engine {
	if opts.UsersSheet == "" {
		opts.UsersSheet = "Users"
	}
	if opts.ApplicationsSheet == "" {
		opts.ApplicationsSheet = "Applications"
	}
	if opts.UnparseableTimestamp == "" {
		opts.UnparseableTimestamp = PolicyNow
	}
	if opts.FanOutWorkers <= 0 {
		opts.FanOutWorkers = 1
	}
	return &Engine{
		users:       users,
		apps:        apps,
		sheets:      client,
		checkpoints: NewCheckpoints(state),
		conflicts:   NewConflictManager(state),
		opts:        opts,
		now:         time.Now,
	}
}

type streamFunc func(ctx context.Context, now time.Time) (StreamResult, error)

// Run executes every stream in order. Each kind is pulled before it is pushed
// so a newer sheet edit reaches the store before the store overwrites the row.
// The first failing stream aborts the pass; its checkpoint stays put.
func (e *Engine) Run(ctx context.Context) (*PassResult, error) {
	now := e.now().UTC().Truncate(time.Millisecond)
	res := &PassResult{StartedAt: now}

	steps := []struct {
		stream       string
		checkpointed bool
		fn           streamFunc
	}{
		{StreamPullUsers, false, e.pullUsers},
		{StreamUsers, true, e.pushUsers},
		{StreamPullApplications, false, e.pullApplications},
		{StreamApplications, true, e.pushApplications},
	}

	for _, step := range steps {
		r, err := e.runStream(ctx, step.stream, step.checkpointed, now, step.fn)
		res.add(r)
		if err != nil {
			return res, err
		}
	}

	if e.opts.FanOut {
		results, err := e.fanOut(ctx, now)
		for _, r := range results {
			res.add(r)
		}
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Engine) runStream(ctx context.Context, stream string, checkpointed bool, now time.Time, fn streamFunc) (StreamResult, error) {
	start := time.Now()
	r, err := fn(ctx, now)
	r.Stream = stream
	r.Duration = time.Since(start)

	metrics.SyncPassDuration.WithLabelValues(stream).Observe(r.Duration.Seconds())
	metrics.SyncRowsWritten.WithLabelValues(stream, "append").Add(float64(r.Appended))
	metrics.SyncRowsWritten.WithLabelValues(stream, "update").Add(float64(r.Updated))
	metrics.SyncRowsWritten.WithLabelValues(stream, "upsert").Add(float64(r.Upserted))

	if err != nil {
		metrics.SyncPasses.WithLabelValues(stream, "error").Inc()
		logger.Log.Error("Sync stream failed", zap.String("stream", stream), zap.Error(err))
		if checkpointed {
			// ctx may already be cancelled by a failing sibling stream
			if ferr := e.checkpoints.Fail(context.WithoutCancel(ctx), stream, err); ferr != nil {
				logger.Log.Error("Failed to record stream failure", zap.String("stream", stream), zap.Error(ferr))
			}
		}
		return r, fmt.Errorf("%s: %w", stream, err)
	}

	metrics.SyncPasses.WithLabelValues(stream, "ok").Inc()
	logger.Log.Info("Sync stream completed",
		zap.String("stream", stream),
		zap.Int("appended", r.Appended),
		zap.Int("updated", r.Updated),
		zap.Int("upserted", r.Upserted),
		zap.Int("skipped", r.Skipped),
		zap.Int("conflicts", r.Conflicts),
		zap.Duration("duration", r.Duration),
	)
	return r, nil
}

// flush writes in-place updates before appends so appended rows never shift
// the row numbers the updates address.
func (e *Engine) flush(ctx context.Context, sheet string, updates []sheets.CellUpdate, appends [][]string) error {
	if len(updates) > 0 {
		if err := e.sheets.BatchUpdateCells(ctx, sheet, updates); err != nil {
			return err
		}
	}
	if len(appends) > 0 {
		if err := e.sheets.AppendRows(ctx, sheet, appends); err != nil {
			return err
		}
	}
	return nil
}

// sheetTimestamp applies the unparseable timestamp policy. ok is false when
// the row must be skipped.
func (e *Engine) sheetTimestamp(raw string, now time.Time) (time.Time, bool) {
	if ts, ok := ParseTimestamp(raw); ok {
		return ts, true
	}
	if e.opts.UnparseableTimestamp == PolicySkip {
		return time.Time{}, false
	}
	return now, true
}
