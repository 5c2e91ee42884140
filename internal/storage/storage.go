// Package storage abstracts the spreadsheet workbook that holds the tenant
// ledgers and the audit sheets.
//
// The workbook is a dumb value sink: callers compute every value before
// writing it. Two implementations are provided:
//   - MemoryWorkbook: a fixed-size grid per sheet, like a hosted spreadsheet,
//     with injectable failures for tests
//   - XLSXWorkbook: an .xlsx file on disk backed by excelize
//
// Implementations signal throttling by returning an error that wraps
// ErrRateLimited; the ledger writer retries those with backoff.
package storage

import (
	"context"
	stderrors "errors"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrRateLimited marks a request rejected because of a write quota.
	ErrRateLimited = stderrors.New("storage: rate limited")

	// ErrSheetNotFound is returned for operations on unknown sheet titles.
	ErrSheetNotFound = stderrors.New("storage: sheet not found")

	// ErrOutOfGrid is returned when a write falls outside the sheet's grid.
	ErrOutOfGrid = stderrors.New("storage: cell outside grid")

	// ErrSheetExists is returned when adding a sheet whose title is taken.
	ErrSheetExists = stderrors.New("storage: sheet already exists")
)

// Cell is one value addressed by 0-based row and column.
type Cell struct {
	Row     int
	Col     int
	Value   string
	Numeric bool
}

// Highlight colours the cells of one column whose number compares to Value
// by Criteria ("less than" or "greater than").
type Highlight struct {
	Col      int
	Criteria string
	Value    string
	Color    string
}

// Workbook is the storage contract used by the ledger, writer, journal and
// maintenance packages.
type Workbook interface {
	// SheetTitles lists sheets in workbook order.
	SheetTitles(ctx context.Context) ([]string, error)

	// AddSheet creates a sheet whose first row is header.
	AddSheet(ctx context.Context, title string, header []string) error

	// ReadSheet returns every non-empty row; rows are not padded.
	ReadSheet(ctx context.Context, title string) ([][]string, error)

	// GridSize returns the writable row and column capacity.
	GridSize(ctx context.Context, title string) (rows int, cols int, err error)

	// Resize grows the grid to at least rows x cols.
	Resize(ctx context.Context, title string, rows, cols int) error

	// UpdateCells writes a batch of cells in one request.
	UpdateCells(ctx context.Context, title string, cells []Cell) error

	// AppendRows writes rows after the last non-empty row.
	AppendRows(ctx context.Context, title string, rows [][]string) error

	// SortRows orders rows from fromRow to the end ascending by the text of
	// column col; rows with an empty key keep their relative order at the end.
	SortRows(ctx context.Context, title string, fromRow int, col int) error

	// SetHighlights installs conditional fill rules on the cells from
	// fromRow down. Rules already present for a column are kept, so calling
	// it again does not stack duplicates.
	SetHighlights(ctx context.Context, title string, fromRow int, rules []Highlight) error

	// Flush persists pending changes.
	Flush(ctx context.Context) error
}

// SortGrid applies the SortRows contract to an in-memory grid and returns
// the new order as original indexes relative to fromRow.
func SortGrid(grid [][]string, fromRow int, col int) []int {
	if fromRow >= len(grid) {
		return nil
	}
	body := grid[fromRow:]
	order := make([]int, len(body))
	for i := range order {
		order[i] = i
	}
	key := func(i int) string {
		if col < len(body[i]) {
			return strings.TrimSpace(body[i][col])
		}
		return ""
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := key(order[a]), key(order[b])
		if ka == "" || kb == "" {
			return ka != "" && kb == ""
		}
		return ka < kb
	})

	sorted := make([][]string, len(body))
	for i, idx := range order {
		sorted[i] = body[idx]
	}
	copy(body, sorted)
	return order
}

// numericValue returns the float form of s when the cell should be stored as
// a number. Digit strings with a leading zero, like phone numbers, stay text.
func numericValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Trim(s, "0123456789.-") != "" {
		return 0, false
	}
	digits := strings.TrimPrefix(s, "-")
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
