// Package schema fixes the row/column layout of the ledger spreadsheet.
// One worksheet tab per employee; rows 1 and 2 are reserved for the header
// and a spacer, data begins on sheet row 3. Column A holds the date, and
// each task owns a fixed-width block of 8 columns after it.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DataStartRow is the zero-based index of the first data row (sheet row 3).
	DataStartRow = 2

	// DateColumn is the zero-based index of the date cell in every ledger row.
	DateColumn = 0

	// BlockWidth is the number of cells a task occupies in a ledger row.
	BlockWidth = 8

	// DateLayout is the Go time layout for ledger dates (DD/MM/YYYY).
	DateLayout = "02/01/2006"

	// ClockLayout is the Go time layout for ledger clock cells (hh:mm AM/PM).
	ClockLayout = "03:04 PM"

	// MaxSheetNameLen is the longest tab name the remote store accepts.
	MaxSheetNameLen = 255
)

// Offsets of the cells inside a task's 8-column block.
const (
	OffsetLabel = iota
	OffsetQuantity
	OffsetStart
	OffsetEstimatedEnd
	OffsetActualEnd
	OffsetRemark
	OffsetSecondary
	OffsetFinalRemark
)

// BlockStart returns the zero-based column of the first cell of the block
// owned by the task at the given ordinal position.
func BlockStart(ordinal int) int {
	return 1 + ordinal*BlockWidth
}

// ColumnLetter converts a zero-based column index to its A1 letter form
// (0 -> "A", 25 -> "Z", 26 -> "AA").
func ColumnLetter(col int) string {
	var b strings.Builder
	for col >= 0 {
		b.WriteByte(byte('A' + col%26))
		col = col/26 - 1
	}
	// Letters come out least significant first; reverse them.
	s := []byte(b.String())
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return string(s)
}

// CellAddress returns the A1 address for a zero-based (row, column) pair.
func CellAddress(row, col int) string {
	return fmt.Sprintf("%s%d", ColumnLetter(col), row+1)
}

// ParseCellAddress converts an A1 address back into a zero-based
// (row, column) pair.
func ParseCellAddress(addr string) (row, col int, err error) {
	i := 0
	for i < len(addr) && addr[i] >= 'A' && addr[i] <= 'Z' {
		col = col*26 + int(addr[i]-'A') + 1
		i++
	}
	if i == 0 || i == len(addr) {
		return 0, 0, fmt.Errorf("invalid cell address %q", addr)
	}
	n, convErr := strconv.Atoi(addr[i:])
	if convErr != nil || n < 1 {
		return 0, 0, fmt.Errorf("invalid cell address %q", addr)
	}
	return n - 1, col - 1, nil
}

// SanitizeSheetName reduces an employee name to the characters the store
// accepts in a tab name: letters, digits, spaces, hyphens and underscores,
// truncated to MaxSheetNameLen.
func SanitizeSheetName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	s := strings.TrimSpace(b.String())
	if len(s) > MaxSheetNameLen {
		s = s[:MaxSheetNameLen]
	}
	return s
}

// HeaderLabels builds the expected row-1 labels for the given task names,
// in ordinal order. The date column comes first, then one label per cell of
// each task block.
func HeaderLabels(taskNames []string) []string {
	labels := make([]string, 0, 1+len(taskNames)*BlockWidth)
	labels = append(labels, "Date")
	for _, name := range taskNames {
		labels = append(labels,
			name,
			"Qty",
			"Start",
			"Est End",
			"End",
			"Remark",
			"",
			"Final Remark",
		)
	}
	return labels
}
