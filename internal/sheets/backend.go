// Package sheets adapts a remote spreadsheet to the row-oriented operations
// the sync engine needs.
package sheets

import (
	"context"
	"errors"
)

// ErrRangeNotFound is returned by a Backend when the sheet named in a range does not exist.
var ErrRangeNotFound = errors.New("range not found")

// RangeValues is one block of a batch update.
type RangeValues struct {
	Range  string
	Values [][]string
}

// Backend is a single spreadsheet. Ranges use A1 notation ("Users!A2:J").
type Backend interface {
	SheetTitles(ctx context.Context) ([]string, error)
	AddSheet(ctx context.Context, title string) error
	Get(ctx context.Context, rng string) ([][]string, error)
	Update(ctx context.Context, rng string, values [][]string) error
	Append(ctx context.Context, rng string, values [][]string) error
	BatchUpdate(ctx context.Context, data []RangeValues) error
	Clear(ctx context.Context, rng string) error
}
