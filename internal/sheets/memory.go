package sheets

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend is an in-process spreadsheet used for local runs and tests.
// Reads trim trailing empty rows and cells the way the Sheets API does.
type MemoryBackend struct {
	mu     sync.Mutex
	order  []string
	sheets map[string][][]string
	writes int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sheets: make(map[string][][]string)}
}

// Writes counts mutating calls (update, append, batch update, clear).
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Rows returns a copy of every populated row of a sheet, header included.
func (m *MemoryBackend) Rows(title string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return trimGrid(copyGrid(m.sheets[title]))
}

// SetRows replaces a sheet's content, creating the sheet if needed.
func (m *MemoryBackend) SetRows(title string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[title]; !ok {
		m.order = append(m.order, title)
	}
	m.sheets[title] = copyGrid(rows)
}

func (m *MemoryBackend) SheetTitles(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}

func (m *MemoryBackend) AddSheet(ctx context.Context, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[title]; ok {
		return fmt.Errorf("sheet %q already exists", title)
	}
	m.order = append(m.order, title)
	m.sheets[title] = nil
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, rng string) ([][]string, error) {
	r, err := parseRange(rng)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	grid, ok := m.sheets[r.Sheet]
	if !ok {
		return nil, ErrRangeNotFound
	}

	var out [][]string
	for i := r.Start.Row - 1; i < len(grid); i++ {
		if r.End.Row > 0 && i >= r.End.Row {
			break
		}
		row := grid[i]
		var cells []string
		for j := r.Start.Col - 1; j < len(row); j++ {
			if r.End.Col > 0 && j >= r.End.Col {
				break
			}
			cells = append(cells, row[j])
		}
		out = append(out, trimRow(cells))
	}
	return trimGrid(out), nil
}

func (m *MemoryBackend) Update(ctx context.Context, rng string, values [][]string) error {
	r, err := parseRange(rng)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sheets[r.Sheet]; !ok {
		return ErrRangeNotFound
	}
	m.writeAt(r.Sheet, r.Start.Row, r.Start.Col, values)
	m.writes++
	return nil
}

func (m *MemoryBackend) Append(ctx context.Context, rng string, values [][]string) error {
	r, err := parseRange(rng)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	grid, ok := m.sheets[r.Sheet]
	if !ok {
		return ErrRangeNotFound
	}
	next := usedRows(grid) + 1
	if next < r.Start.Row {
		next = r.Start.Row
	}
	m.writeAt(r.Sheet, next, r.Start.Col, values)
	m.writes++
	return nil
}

func (m *MemoryBackend) BatchUpdate(ctx context.Context, data []RangeValues) error {
	parsed := make([]a1Range, 0, len(data))
	for _, d := range data {
		r, err := parseRange(d.Range)
		if err != nil {
			return err
		}
		parsed = append(parsed, r)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range parsed {
		if _, ok := m.sheets[r.Sheet]; !ok {
			return ErrRangeNotFound
		}
	}
	for i, r := range parsed {
		m.writeAt(r.Sheet, r.Start.Row, r.Start.Col, data[i].Values)
	}
	m.writes++
	return nil
}

func (m *MemoryBackend) Clear(ctx context.Context, rng string) error {
	r, err := parseRange(rng)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	grid, ok := m.sheets[r.Sheet]
	if !ok {
		return ErrRangeNotFound
	}
	for i := r.Start.Row - 1; i < len(grid); i++ {
		if r.End.Row > 0 && i >= r.End.Row {
			break
		}
		for j := r.Start.Col - 1; j < len(grid[i]); j++ {
			if r.End.Col > 0 && j >= r.End.Col {
				break
			}
			grid[i][j] = ""
		}
	}
	m.writes++
	return nil
}

// writeAt must be called with mu held. row and col are 1-based.
func (m *MemoryBackend) writeAt(sheet string, row, col int, values [][]string) {
	grid := m.sheets[sheet]
	for len(grid) < row-1+len(values) {
		grid = append(grid, nil)
	}
	for i, vals := range values {
		target := grid[row-1+i]
		for len(target) < col-1+len(vals) {
			target = append(target, "")
		}
		copy(target[col-1:], vals)
		grid[row-1+i] = target
	}
	m.sheets[sheet] = grid
}

func trimRow(row []string) []string {
	end := len(row)
	for end > 0 && row[end-1] == "" {
		end--
	}
	return row[:end]
}

// usedRows is the 1-based index of the last row holding a value.
func usedRows(grid [][]string) int {
	end := len(grid)
	for end > 0 && len(trimRow(grid[end-1])) == 0 {
		end--
	}
	return end
}

func trimGrid(grid [][]string) [][]string {
	end := usedRows(grid)
	if end == 0 {
		return nil
	}
	out := grid[:end]
	for i := range out {
		out[i] = trimRow(out[i])
	}
	return out
}

func copyGrid(grid [][]string) [][]string {
	if grid == nil {
		return nil
	}
	out := make([][]string, len(grid))
	for i, row := range grid {
		out[i] = append([]string(nil), row...)
	}
	return out
}

var _ Backend = (*MemoryBackend)(nil)
