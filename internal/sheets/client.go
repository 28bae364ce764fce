package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"recruitment-sync-service/internal/logger"
	"recruitment-sync-service/internal/metrics"
)

// Options tunes batching and retries. Zero values fall back to defaults.
type Options struct {
	BatchSize      int
	BatchDelay     time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	return o
}

// CellUpdate replaces a whole row, starting at column A.
type CellUpdate struct {
	Row    int
	Values []string
}

// Client wraps a Backend with retries, batching and sheet bookkeeping.
type Client struct {
	backend Backend
	opts    Options

	mu    sync.Mutex
	known map[string]bool
}

func NewClient(backend Backend, opts Options) *Client {
	return &Client{
		backend: backend,
		opts:    opts.withDefaults(),
		known:   make(map[string]bool),
	}
}

// ReadRange returns every row in rng. A range on a missing sheet reads as empty.
func (c *Client) ReadRange(ctx context.Context, rng string) ([][]string, error) {
	var rows [][]string
	err := c.do(ctx, "get", func(ctx context.Context) error {
		var err error
		rows, err = c.backend.Get(ctx, rng)
		return err
	})
	if errors.Is(err, ErrRangeNotFound) {
		logger.Log.Debug("Range does not exist, treating as empty", zap.String("range", rng))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return rows, nil
}

// EnsureSheet creates the sheet when the spreadsheet lacks it.
func (c *Client) EnsureSheet(ctx context.Context, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.known[title] {
		return nil
	}

	var titles []string
	err := c.do(ctx, "titles", func(ctx context.Context) error {
		var err error
		titles, err = c.backend.SheetTitles(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	for _, t := range titles {
		c.known[t] = true
	}
	if c.known[title] {
		return nil
	}

	logger.Log.Info("Creating sheet", zap.String("sheet", title))
	if err := c.do(ctx, "add_sheet", func(ctx context.Context) error {
		return c.backend.AddSheet(ctx, title)
	}); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	c.known[title] = true
	return nil
}

// EnsureHeaders writes headers into row 1 when it is empty. An existing
// header row is left alone.
func (c *Client) EnsureHeaders(ctx context.Context, title string, headers []string) error {
	if err := c.EnsureSheet(ctx, title); err != nil {
		return err
	}

	first, err := c.ReadRange(ctx, SheetRange(title, "A1", ColumnLetter(len(headers))+"1"))
	if err != nil {
		return err
	}
	if len(first) > 0 && len(first[0]) > 0 {
		return nil
	}

	logger.Log.Info("Adding headers", zap.String("sheet", title))
	return c.do(ctx, "update", func(ctx context.Context) error {
		return c.backend.Update(ctx, SheetRange(title, "A1", ""), [][]string{headers})
	})
}

// AppendRows appends rows after the last populated row, in batches.
func (c *Client) AppendRows(ctx context.Context, title string, rows [][]string) error {
	return c.batched(ctx, len(rows), func(ctx context.Context, lo, hi int) error {
		return c.do(ctx, "append", func(ctx context.Context) error {
			return c.backend.Append(ctx, SheetRange(title, "A1", ""), rows[lo:hi])
		})
	})
}

// BatchUpdateCells overwrites whole rows in place, in batches.
func (c *Client) BatchUpdateCells(ctx context.Context, title string, updates []CellUpdate) error {
	return c.batched(ctx, len(updates), func(ctx context.Context, lo, hi int) error {
		data := make([]RangeValues, 0, hi-lo)
		for _, u := range updates[lo:hi] {
			row := strconv.Itoa(u.Row)
			data = append(data, RangeValues{
				Range:  SheetRange(title, "A"+row, ColumnLetter(len(u.Values))+row),
				Values: [][]string{u.Values},
			})
		}
		return c.do(ctx, "batch_update", func(ctx context.Context) error {
			return c.backend.BatchUpdate(ctx, data)
		})
	})
}

func (c *Client) ClearRange(ctx context.Context, rng string) error {
	return c.do(ctx, "clear", func(ctx context.Context) error {
		return c.backend.Clear(ctx, rng)
	})
}

// batched calls fn for consecutive [lo, hi) windows of BatchSize items and
// pauses BatchDelay between windows.
func (c *Client) batched(ctx context.Context, n int, fn func(ctx context.Context, lo, hi int) error) error {
	for lo := 0; lo < n; lo += c.opts.BatchSize {
		if lo > 0 && c.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.BatchDelay):
			}
		}
		hi := lo + c.opts.BatchSize
		if hi > n {
			hi = n
		}
		if err := fn(ctx, lo, hi); err != nil {
			return err
		}
	}
	return nil
}

// do runs fn with exponential backoff. Client errors other than rate
// limiting fail immediately.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(c.opts.MaxAttempts-1), retry.NewExponential(c.opts.InitialBackoff))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt < c.opts.MaxAttempts {
			metrics.SheetRetries.WithLabelValues(op).Inc()
			logger.Log.Warn("Sheets call failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return retry.RetryableError(err)
	})
}

func retryable(err error) bool {
	if errors.Is(err, ErrRangeNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests {
			return true
		}
		return gerr.Code < 400 || gerr.Code >= 500
	}
	return true
}
