package ledger

import (
	"regexp"
	"strings"

	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/pkg/errors"
)

// Column identifies one logical ledger column.
type Column int

const (
	ColMonth Column = iota
	ColDateDue
	ColAmountDue
	ColAmountPaid
	ColDatePaid
	ColReference
	ColComments
	ColBalance
	ColPenalty
	ColMonthKey
)

// CanonicalColumns lists the columns in the order used for new sheets.
var CanonicalColumns = []Column{
	ColMonth, ColDateDue, ColAmountDue, ColAmountPaid, ColDatePaid,
	ColReference, ColComments, ColBalance, ColPenalty, ColMonthKey,
}

var canonicalNames = map[Column]string{
	ColMonth:      "Month",
	ColDateDue:    "Date Due",
	ColAmountDue:  "Amount Due",
	ColAmountPaid: "Amount Paid",
	ColDatePaid:   "Date Paid",
	ColReference:  "REF Number",
	ColComments:   "Comments",
	ColBalance:    "Prepayment/Arrears",
	ColPenalty:    "Penalties",
	ColMonthKey:   "MonthKey",
}

// Aliases maps each column to the normalized header texts accepted for it.
var Aliases = map[Column][]string{
	ColMonth:      {"month", "month/period", "period", "rent month", "billing month"},
	ColDateDue:    {"date due", "due date", "rent due date", "datedue"},
	ColAmountDue:  {"amount due", "rent due", "due", "monthly rent", "rent", "amount due kes", "rent kes"},
	ColAmountPaid: {"amount paid", "paid", "amt paid", "paid kes", "amountpaid"},
	ColDatePaid:   {"date paid", "paid date", "payment date", "datepaid"},
	ColReference:  {"ref number", "ref", "reference", "ref no", "reference no", "mpesa ref", "mpesa reference", "receipt", "receipt no"},
	ColComments:   {"comments", "comment", "remarks", "notes", "note"},
	ColBalance:    {"prepayment/arrears", "prepayment", "arrears", "balance", "bal", "prepayment arrears", "carry forward", "cf"},
	ColPenalty:    {"penalties", "penalty", "late fee", "late fees", "fine", "fines"},
	ColMonthKey:   {"monthkey", "month key", "month_key"},
}

var aliasIndex = func() map[string]Column {
	index := make(map[string]Column)
	for col, names := range Aliases {
		for _, name := range names {
			index[name] = col
		}
	}
	return index
}()

func (c Column) String() string {
	if name, ok := canonicalNames[c]; ok {
		return name
	}
	return "Unknown"
}

// CanonicalHeader returns the header row written to new tenant sheets.
func CanonicalHeader() []string {
	header := make([]string, len(CanonicalColumns))
	for i, col := range CanonicalColumns {
		header[i] = col.String()
	}
	return header
}

var (
	headerPunct = regexp.MustCompile(`[^\w\s/]+`)
	headerSpace = regexp.MustCompile(`\s+`)
	headerSlash = regexp.MustCompile(`\s*/\s*`)
)

// NormalizeHeader lowercases a header cell and strips punctuation other than
// '/' so "Amount Due (KES)" and "amount due kes" compare equal.
func NormalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " ")))
	s = headerPunct.ReplaceAllString(s, "")
	s = headerSpace.ReplaceAllString(s, " ")
	s = headerSlash.ReplaceAllString(s, "/")
	return strings.TrimSpace(s)
}

// LookupColumn returns the column a header cell names.
func LookupColumn(cell string) (Column, bool) {
	col, ok := aliasIndex[NormalizeHeader(cell)]
	return col, ok
}

// Layout is the discovered header of a ledger sheet.
type Layout struct {
	// HeaderRow is the 0-based grid row holding the header.
	HeaderRow int

	// Columns maps each column to its 0-based grid column.
	Columns map[Column]int

	// Added lists canonical columns that were missing and have been placed
	// after the last header cell; their header cells still need writing.
	Added []Column
}

// DiscoverLayout scans the first scanRows rows for the row with the most
// recognized labels. Fewer than minMatches recognized labels is a ledger
// structure error.
func DiscoverLayout(sheet string, rows [][]string, scanRows, minMatches int) (*Layout, error) {
	best, bestHits := -1, 0
	var bestCols map[Column]int

	limit := scanRows
	if limit > len(rows) {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		cols := make(map[Column]int)
		for j, cell := range rows[i] {
			col, ok := LookupColumn(cell)
			if !ok {
				continue
			}
			if _, seen := cols[col]; !seen {
				cols[col] = j
			}
		}
		if len(cols) > bestHits {
			best, bestHits, bestCols = i, len(cols), cols
		}
	}

	if best < 0 || bestHits < minMatches {
		return nil, errors.LedgerStructureError(errors.CodeHeaderNotFound, sheet,
			"no header row with enough recognized labels").
			WithContext("scanned_rows", limit).
			WithContext("best_matches", bestHits).
			WithContext("required_matches", minMatches)
	}

	layout := &Layout{HeaderRow: best, Columns: bestCols}
	next := len(rows[best])
	for _, idx := range bestCols {
		if idx+1 > next {
			next = idx + 1
		}
	}
	for _, col := range CanonicalColumns {
		if _, ok := layout.Columns[col]; ok {
			continue
		}
		layout.Columns[col] = next
		layout.Added = append(layout.Added, col)
		next++
	}
	return layout, nil
}

// Width is the number of grid columns the layout spans.
func (l *Layout) Width() int {
	width := 0
	for _, idx := range l.Columns {
		if idx+1 > width {
			width = idx + 1
		}
	}
	return width
}

// HeaderCells returns the header cells for columns added during discovery.
func (l *Layout) HeaderCells() []storage.Cell {
	cells := make([]storage.Cell, 0, len(l.Added))
	for _, col := range l.Added {
		cells = append(cells, storage.Cell{Row: l.HeaderRow, Col: l.Columns[col], Value: col.String()})
	}
	return cells
}

// Fills for the arrears and penalty highlights.
const (
	ArrearsColor = "#FFD6D6"
	PenaltyColor = "#FFFF99"
)

// Highlights returns the conditional fills for data rows: arrears below zero
// in light red and penalties above zero in light yellow.
func (l *Layout) Highlights() []storage.Highlight {
	return []storage.Highlight{
		{Col: l.Columns[ColBalance], Criteria: "less than", Value: "0", Color: ArrearsColor},
		{Col: l.Columns[ColPenalty], Criteria: "greater than", Value: "0", Color: PenaltyColor},
	}
}
