package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/schema"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used by tests and local dry runs. It
// counts reads and writes so callers can assert on cache and de-duplication
// behavior, and can be primed to fail a number of upcoming calls.
type MemoryStore struct {
	mu     sync.Mutex
	sheets map[string][][]string

	reads    int
	writes   int
	failures int
	failWith error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sheets: make(map[string][][]string)}
}

// FailNext makes the next n store calls return err.
func (m *MemoryStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.failWith = err
}

// Reads returns the number of read calls served so far.
func (m *MemoryStore) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Writes returns the number of write calls served so far.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Rows returns a copy of the full grid of a sheet, including header rows.
func (m *MemoryStore) Rows(sheetName string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyGrid(m.sheets[sheetName])
}

func (m *MemoryStore) failing() error {
	if m.failures > 0 {
		m.failures--
		return m.failWith
	}
	return nil
}

func (m *MemoryStore) SheetExists(_ context.Context, sheetName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if err := m.failing(); err != nil {
		return false, err
	}
	_, ok := m.sheets[sheetName]
	return ok, nil
}

func (m *MemoryStore) CreateSheet(_ context.Context, sheetName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if err := m.failing(); err != nil {
		return err
	}
	if _, ok := m.sheets[sheetName]; !ok {
		m.sheets[sheetName] = nil
	}
	return nil
}

func (m *MemoryStore) ReadRows(_ context.Context, sheetName string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if err := m.failing(); err != nil {
		return nil, err
	}
	grid, ok := m.sheets[sheetName]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", sheetName)
	}
	if len(grid) <= schema.DataStartRow {
		return nil, nil
	}
	return copyGrid(grid[schema.DataStartRow:]), nil
}

func (m *MemoryStore) WriteRow(_ context.Context, sheetName string, rowIndex int, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if err := m.failing(); err != nil {
		return err
	}
	if _, ok := m.sheets[sheetName]; !ok {
		return fmt.Errorf("sheet %q not found", sheetName)
	}
	m.growTo(sheetName, rowIndex, len(values)-1)
	copy(m.sheets[sheetName][rowIndex], values)
	return nil
}

func (m *MemoryStore) BatchWriteCells(_ context.Context, sheetName string, cells []Cell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if err := m.failing(); err != nil {
		return err
	}
	if _, ok := m.sheets[sheetName]; !ok {
		return fmt.Errorf("sheet %q not found", sheetName)
	}
	for _, c := range cells {
		row, col, err := schema.ParseCellAddress(c.Address)
		if err != nil {
			return err
		}
		m.growTo(sheetName, row, col)
		m.sheets[sheetName][row][col] = c.Value
	}
	return nil
}

func (m *MemoryStore) HeaderRow(_ context.Context, sheetName string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if err := m.failing(); err != nil {
		return nil, err
	}
	grid, ok := m.sheets[sheetName]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", sheetName)
	}
	if len(grid) == 0 {
		return nil, nil
	}
	return append([]string(nil), grid[0]...), nil
}

func (m *MemoryStore) WriteHeaderRow(_ context.Context, sheetName string, labels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if err := m.failing(); err != nil {
		return err
	}
	if _, ok := m.sheets[sheetName]; !ok {
		return fmt.Errorf("sheet %q not found", sheetName)
	}
	m.growTo(sheetName, 0, len(labels)-1)
	copy(m.sheets[sheetName][0], labels)
	return nil
}

// growTo ensures the grid covers (rowIndex, colIndex). Every row is padded
// to the widest width seen so far, mirroring how a real sheet presents a
// rectangular grid.
func (m *MemoryStore) growTo(sheetName string, rowIndex, colIndex int) {
	grid := m.sheets[sheetName]
	for len(grid) <= rowIndex {
		grid = append(grid, nil)
	}
	for i, row := range grid {
		for len(row) <= colIndex {
			row = append(row, "")
		}
		grid[i] = row
	}
	m.sheets[sheetName] = grid
}

func copyGrid(grid [][]string) [][]string {
	out := make([][]string, len(grid))
	for i, row := range grid {
		out[i] = append([]string(nil), row...)
	}
	return out
}
