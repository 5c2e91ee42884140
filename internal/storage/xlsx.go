package storage

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"
)

// XLSXWorkbook stores the ledger in an .xlsx file. Changes are kept in
// memory by excelize and written on Flush.
type XLSXWorkbook struct {
	mu    sync.Mutex
	path  string
	file  *excelize.File
	fresh bool

	// fills caches conditional style ids by colour.
	fills map[string]int
}

var _ Workbook = (*XLSXWorkbook)(nil)

// OpenXLSX opens path, or prepares a new workbook there if it does not exist.
func OpenXLSX(path string) (*XLSXWorkbook, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &XLSXWorkbook{path: path, file: excelize.NewFile(), fresh: true}, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &XLSXWorkbook{path: path, file: f}, nil
}

// Path returns the file the workbook is saved to.
func (x *XLSXWorkbook) Path() string {
	return x.path
}

func (x *XLSXWorkbook) SheetTitles(ctx context.Context) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fresh {
		return nil, nil
	}
	return x.file.GetSheetList(), nil
}

func (x *XLSXWorkbook) AddSheet(ctx context.Context, title string, header []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if idx, _ := x.file.GetSheetIndex(title); idx >= 0 && !x.fresh {
		return fmt.Errorf("%w: %s", ErrSheetExists, title)
	}

	if x.fresh {
		// excelize.NewFile always carries a default sheet; take it over.
		if err := x.file.SetSheetName(x.file.GetSheetName(0), title); err != nil {
			return err
		}
		x.fresh = false
	} else if _, err := x.file.NewSheet(title); err != nil {
		return err
	}

	if len(header) == 0 {
		return nil
	}
	values := make([]interface{}, len(header))
	for i, h := range header {
		values[i] = h
	}
	return x.file.SetSheetRow(title, "A1", &values)
}

func (x *XLSXWorkbook) ReadSheet(ctx context.Context, title string) ([][]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(title); err != nil {
		return nil, err
	}
	rows, err := x.file.GetRows(title)
	if err != nil {
		return nil, err
	}
	return trimGrid(rows), nil
}

// GridSize reports the format limits; an .xlsx sheet has no fixed grid.
func (x *XLSXWorkbook) GridSize(ctx context.Context, title string) (int, int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(title); err != nil {
		return 0, 0, err
	}
	return excelize.TotalRows, excelize.MaxColumns, nil
}

func (x *XLSXWorkbook) Resize(ctx context.Context, title string, rows, cols int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(title); err != nil {
		return err
	}
	if rows > excelize.TotalRows || cols > excelize.MaxColumns {
		return fmt.Errorf("%w: %s cannot hold %dx%d", ErrOutOfGrid, title, rows, cols)
	}
	return nil
}

func (x *XLSXWorkbook) UpdateCells(ctx context.Context, title string, cells []Cell) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(title); err != nil {
		return err
	}
	for _, c := range cells {
		name, err := excelize.CoordinatesToCellName(c.Col+1, c.Row+1)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOutOfGrid, err)
		}
		if err := x.setCell(title, name, c.Value, c.Numeric); err != nil {
			return err
		}
	}
	return nil
}

func (x *XLSXWorkbook) AppendRows(ctx context.Context, title string, rows [][]string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(title); err != nil {
		return err
	}
	existing, err := x.file.GetRows(title)
	if err != nil {
		return err
	}
	next := len(trimGrid(existing))
	for i, r := range rows {
		if err := x.writeRow(title, next+i, r); err != nil {
			return err
		}
	}
	return nil
}

func (x *XLSXWorkbook) SortRows(ctx context.Context, title string, fromRow int, col int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(title); err != nil {
		return err
	}
	rows, err := x.file.GetRows(title)
	if err != nil {
		return err
	}
	rows = trimGrid(rows)
	width := 0
	for _, r := range rows[min(fromRow, len(rows)):] {
		width = max(width, len(r))
	}
	SortGrid(rows, fromRow, col)
	for i := fromRow; i < len(rows); i++ {
		padded := make([]string, width)
		copy(padded, rows[i])
		if err := x.writeRow(title, i, padded); err != nil {
			return err
		}
	}
	return nil
}

// SetHighlights writes one conditional format per rule over the column from
// fromRow to the last row of the sheet.
func (x *XLSXWorkbook) SetHighlights(ctx context.Context, title string, fromRow int, rules []Highlight) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(title); err != nil {
		return err
	}
	existing, err := x.file.GetConditionalFormats(title)
	if err != nil {
		return err
	}

	for _, rule := range rules {
		first, err := excelize.CoordinatesToCellName(rule.Col+1, fromRow+1)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOutOfGrid, err)
		}
		last, err := excelize.CoordinatesToCellName(rule.Col+1, excelize.TotalRows)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOutOfGrid, err)
		}
		ref := first + ":" + last
		if opts := existing[ref]; len(opts) == 1 && opts[0].Criteria == rule.Criteria && opts[0].Value == rule.Value {
			continue
		}

		style, err := x.fill(rule.Color)
		if err != nil {
			return err
		}
		if err := x.file.UnsetConditionalFormat(title, ref); err != nil {
			return err
		}
		err = x.file.SetConditionalFormat(title, ref, []excelize.ConditionalFormatOptions{
			{Type: "cell", Criteria: rule.Criteria, Value: rule.Value, Format: &style},
		})
		if err != nil {
			return fmt.Errorf("highlight %s!%s: %w", title, ref, err)
		}
	}
	return nil
}

func (x *XLSXWorkbook) fill(color string) (int, error) {
	if id, ok := x.fills[color]; ok {
		return id, nil
	}
	id, err := x.file.NewConditionalStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}},
	})
	if err != nil {
		return 0, err
	}
	if x.fills == nil {
		x.fills = make(map[string]int)
	}
	x.fills[color] = id
	return id, nil
}

func (x *XLSXWorkbook) Flush(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fresh {
		return nil
	}
	return x.file.SaveAs(x.path)
}

// Close releases the underlying file handle.
func (x *XLSXWorkbook) Close() error {
	return x.file.Close()
}

func (x *XLSXWorkbook) check(title string) error {
	if x.fresh {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, title)
	}
	if idx, _ := x.file.GetSheetIndex(title); idx < 0 {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, title)
	}
	return nil
}

func (x *XLSXWorkbook) writeRow(title string, row int, values []string) error {
	for col, v := range values {
		name, err := excelize.CoordinatesToCellName(col+1, row+1)
		if err != nil {
			return err
		}
		_, numeric := numericValue(v)
		if err := x.setCell(title, name, v, numeric); err != nil {
			return err
		}
	}
	return nil
}

func (x *XLSXWorkbook) setCell(title, name, value string, numeric bool) error {
	if numeric {
		if f, ok := numericValue(value); ok {
			return x.file.SetCellFloat(title, name, f, -1, 64)
		}
	}
	return x.file.SetCellStr(title, name, value)
}
