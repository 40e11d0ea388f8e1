// Package store abstracts the remote spreadsheet holding the task ledger.
// The remote store is the sole source of truth; everything layered above it
// (cache, de-duplication) is advisory.
package store

import "context"

// Cell pairs an A1 address with the value to write there.
type Cell struct {
	Address string
	Value   string
}

// Store is the boundary to the spreadsheet backend. Row indexes are
// zero-based from the top of the sheet; implementations may return ragged
// rows with trailing cells missing.
type Store interface {
	// SheetExists reports whether a worksheet tab with the given name exists.
	SheetExists(ctx context.Context, sheetName string) (bool, error)

	// CreateSheet adds a worksheet tab. Creating a tab that already exists
	// is not an error.
	CreateSheet(ctx context.Context, sheetName string) error

	// ReadRows returns every data row of the tab, starting at the first
	// data row (sheet row 3).
	ReadRows(ctx context.Context, sheetName string) ([][]string, error)

	// WriteRow writes values into the row at rowIndex, starting at column A.
	WriteRow(ctx context.Context, sheetName string, rowIndex int, values []string) error

	// BatchWriteCells writes all cells in one request, so that related
	// updates land together from the caller's perspective.
	BatchWriteCells(ctx context.Context, sheetName string, cells []Cell) error

	// HeaderRow returns the values of row 1.
	HeaderRow(ctx context.Context, sheetName string) ([]string, error)

	// WriteHeaderRow rewrites row 1 with the given labels.
	WriteHeaderRow(ctx context.Context, sheetName string, labels []string) error
}
