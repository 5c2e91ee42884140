package ledger

import (
	"context"
	"sort"
	"strings"

	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// TenantLedger is the in-memory view of one tenant sheet. Rows are kept in
// MonthKey order regardless of their physical position in the sheet.
type TenantLedger struct {
	Sheet       string
	AccountCode string
	Layout      *Layout
	Rows        []*models.LedgerRow
	MonthlyRent decimal.Decimal
	LabelStyle  string

	// Unkeyed holds rows whose month could not be determined. They are
	// never recomputed or written.
	Unkeyed []*models.LedgerRow

	storedKey map[*models.LedgerRow]bool
	nextRow   int
}

// Load reads sheet and builds its ledger view.
func Load(ctx context.Context, wb storage.Workbook, sheet string, config *Config) (*TenantLedger, error) {
	grid, err := wb.ReadSheet(ctx, sheet)
	if err != nil {
		return nil, errors.StorageError(errors.CodeReadFailed, sheet, err)
	}
	return FromGrid(sheet, grid, config)
}

// FromGrid builds a ledger view from raw sheet values.
func FromGrid(sheet string, grid [][]string, config *Config) (*TenantLedger, error) {
	layout, err := DiscoverLayout(sheet, grid, config.HeaderScanRows, config.MinHeaderMatches)
	if err != nil {
		return nil, err
	}

	tl := &TenantLedger{
		Sheet:       sheet,
		AccountCode: accountCodeOf(sheet),
		Layout:      layout,
		storedKey:   make(map[*models.LedgerRow]bool),
		nextRow:     len(grid),
	}
	if tl.nextRow <= layout.HeaderRow {
		tl.nextRow = layout.HeaderRow + 1
	}

	lastStyle := ""
	var lastStyleKey models.MonthKey
	for i := layout.HeaderRow + 1; i < len(grid); i++ {
		row, stored, style := tl.parseRow(grid[i], i, config)
		if row == nil {
			continue
		}
		if style != "" {
			if lastStyle == "" || !row.MonthKey.Before(lastStyleKey) {
				lastStyle, lastStyleKey = style, row.MonthKey
			}
		}
		if row.MonthKey.IsZero() {
			tl.Unkeyed = append(tl.Unkeyed, row)
			continue
		}
		tl.storedKey[row] = stored
		tl.Rows = append(tl.Rows, row)
	}

	tl.LabelStyle = lastStyle
	if tl.LabelStyle == "" {
		tl.LabelStyle = DefaultLabelStyle
	}
	tl.SortRows()
	tl.MonthlyRent = tl.detectRent(config.DefaultRent)
	return tl, nil
}

func (tl *TenantLedger) parseRow(cells []string, sheetRow int, config *Config) (*models.LedgerRow, bool, string) {
	get := func(col Column) string {
		idx, ok := tl.Layout.Columns[col]
		if !ok || idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}

	empty := true
	for _, col := range CanonicalColumns {
		if get(col) != "" {
			empty = false
			break
		}
	}
	if empty {
		return nil, false, ""
	}

	loc := config.location()
	label := get(ColMonth)
	key, stored := models.ParseMonthKey(get(ColMonthKey))
	labelKey, style, labelOK := ParseMonthLabel(label)
	if !stored && labelOK {
		key = labelKey
	}

	row := models.NewLedgerRow(key, label)
	row.SheetRow = sheetRow
	row.AmountDue = models.CoerceDecimal(get(ColAmountDue))
	row.DueRecorded = get(ColAmountDue) != ""
	row.AmountPaid = models.CoerceDecimal(get(ColAmountPaid))
	row.Balance = models.CoerceDecimal(get(ColBalance))
	row.Penalty = models.CoerceDecimal(get(ColPenalty))
	row.Reference = get(ColReference)
	row.Comment = get(ColComments)
	if t, ok := models.CoerceDate(get(ColDateDue), loc); ok {
		row.DateDue = t
	}
	if t, ok := models.CoerceDate(get(ColDatePaid), loc); ok {
		row.DatePaid = t
	}
	return row, stored, style
}

// detectRent uses the most recent recorded due amount, zero included, so
// carry rows follow the same baseline a new month would get.
func (tl *TenantLedger) detectRent(fallback decimal.Decimal) decimal.Decimal {
	for i := len(tl.Rows) - 1; i >= 0; i-- {
		if tl.Rows[i].DueRecorded {
			return tl.Rows[i].AmountDue
		}
	}
	return fallback
}

// SortRows restores MonthKey order after rows were added.
func (tl *TenantLedger) SortRows() {
	sort.SliceStable(tl.Rows, func(i, j int) bool {
		return tl.Rows[i].MonthKey.Before(tl.Rows[j].MonthKey)
	})
}

// Find returns the row for key.
func (tl *TenantLedger) Find(key models.MonthKey) (*models.LedgerRow, int) {
	for i, row := range tl.Rows {
		if row.MonthKey == key {
			return row, i
		}
	}
	return nil, -1
}

// IndexOf returns the position of row in Rows, or -1.
func (tl *TenantLedger) IndexOf(row *models.LedgerRow) int {
	for i, r := range tl.Rows {
		if r == row {
			return i
		}
	}
	return -1
}

// Insert adds row in MonthKey order and returns its index.
func (tl *TenantLedger) Insert(row *models.LedgerRow) int {
	tl.Rows = append(tl.Rows, row)
	tl.SortRows()
	return tl.IndexOf(row)
}

// AllocateRow reserves the next free sheet row for a new ledger row.
func (tl *TenantLedger) AllocateRow() int {
	for _, row := range tl.Rows {
		if row.SheetRow >= tl.nextRow {
			tl.nextRow = row.SheetRow + 1
		}
	}
	row := tl.nextRow
	tl.nextRow++
	return row
}

// MissingMonthKeys lists rows whose MonthKey cell is empty or unreadable
// but whose month was derived from the label.
func (tl *TenantLedger) MissingMonthKeys() []*models.LedgerRow {
	var missing []*models.LedgerRow
	for _, row := range tl.Rows {
		if !row.IsNew() && !tl.storedKey[row] {
			missing = append(missing, row)
		}
	}
	return missing
}

// MarkKeyStored records that row's MonthKey cell has been written.
func (tl *TenantLedger) MarkKeyStored(row *models.LedgerRow) {
	tl.storedKey[row] = true
}

// Renumber applies a physical reordering reported by storage.SortGrid.
// order[i] is the previous position (relative to the first data row) of the
// row now at position i.
func (tl *TenantLedger) Renumber(order []int) {
	first := tl.Layout.HeaderRow + 1
	moved := make(map[int]int, len(order))
	for now, before := range order {
		moved[first+before] = first + now
	}
	renumber := func(rows []*models.LedgerRow) {
		for _, row := range rows {
			if dest, ok := moved[row.SheetRow]; ok {
				row.SheetRow = dest
			}
		}
	}
	renumber(tl.Rows)
	renumber(tl.Unkeyed)
}

// Scope selects which columns RowCells renders.
type Scope int

const (
	// ScopeComputed covers the columns the engine derives: balance, penalty
	// and month key.
	ScopeComputed Scope = iota
	// ScopePayment adds the payment columns of a posted row.
	ScopePayment
	// ScopeFull writes every column and is used for rows new to the sheet.
	ScopeFull
)

// RowCells renders row for writing. Narrower scopes leave hand-entered
// cells such as comments untouched.
func (tl *TenantLedger) RowCells(row *models.LedgerRow, scope Scope) []storage.Cell {
	cols := tl.Layout.Columns
	cell := func(col Column, value string, numeric bool) storage.Cell {
		return storage.Cell{Row: row.SheetRow, Col: cols[col], Value: value, Numeric: numeric}
	}
	money := func(col Column, d decimal.Decimal) storage.Cell {
		return cell(col, d.String(), true)
	}

	cells := []storage.Cell{
		money(ColBalance, row.Balance),
		money(ColPenalty, row.Penalty),
		tl.MonthKeyCell(row),
	}
	if scope >= ScopePayment {
		cells = append(cells,
			money(ColAmountPaid, row.AmountPaid),
			cell(ColReference, row.Reference, false),
		)
		if row.HasDatePaid() {
			cells = append(cells, cell(ColDatePaid, row.DatePaid.Format(models.DatePaidLayout), false))
		}
	}
	if scope == ScopeFull {
		dateDue := ""
		if row.HasDateDue() {
			dateDue = row.DateDue.Format(models.DateDueLayout)
		}
		cells = append(cells,
			cell(ColMonth, row.MonthLabel, false),
			cell(ColDateDue, dateDue, false),
			money(ColAmountDue, row.AmountDue),
			cell(ColComments, row.Comment, false),
		)
	}
	return cells
}

// MonthKeyCell renders the MonthKey cell of row.
func (tl *TenantLedger) MonthKeyCell(row *models.LedgerRow) storage.Cell {
	return storage.Cell{Row: row.SheetRow, Col: tl.Layout.Columns[ColMonthKey], Value: row.MonthKey.String()}
}

// accountCodeOf returns the leading alphanumeric token of a sheet title.
func accountCodeOf(sheet string) string {
	sheet = strings.TrimSpace(sheet)
	end := 0
	for end < len(sheet) && isAlnum(sheet[end]) {
		end++
	}
	return strings.ToUpper(sheet[:end])
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
