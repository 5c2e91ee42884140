package storage

import (
	"context"
	"fmt"
	"sync"
)

// Operation names used for fault injection and call counting.
const (
	OpRead   = "read"
	OpUpdate = "update"
	OpAppend = "append"
	OpResize = "resize"
	OpSort   = "sort"
	OpAdd    = "add"
	OpFlush  = "flush"
	OpStyle  = "style"
)

const (
	defaultMemoryRows = 1000
	defaultMemoryCols = 26
)

type memorySheet struct {
	cells      [][]string
	rows       int
	cols       int
	highlights map[int]Highlight
}

// MemoryWorkbook keeps sheets in memory with a fixed grid per sheet. Writes
// outside the grid fail with ErrOutOfGrid until Resize is called.
type MemoryWorkbook struct {
	mu     sync.Mutex
	order  []string
	sheets map[string]*memorySheet
	faults map[string][]error
	calls  map[string]int
}

var _ Workbook = (*MemoryWorkbook)(nil)

// NewMemoryWorkbook creates an empty workbook.
func NewMemoryWorkbook() *MemoryWorkbook {
	return &MemoryWorkbook{
		sheets: make(map[string]*memorySheet),
		faults: make(map[string][]error),
		calls:  make(map[string]int),
	}
}

// SetSheet replaces (or creates) a sheet with the given rows, sized to the
// default grid or larger if rows need it.
func (m *MemoryWorkbook) SetSheet(title string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sheet := &memorySheet{rows: defaultMemoryRows, cols: defaultMemoryCols}
	for _, r := range rows {
		sheet.cells = append(sheet.cells, append([]string(nil), r...))
		if len(r) > sheet.cols {
			sheet.cols = len(r)
		}
	}
	if len(rows) > sheet.rows {
		sheet.rows = len(rows)
	}
	if _, exists := m.sheets[title]; !exists {
		m.order = append(m.order, title)
	}
	m.sheets[title] = sheet
}

// SetGrid overrides the grid capacity of an existing sheet.
func (m *MemoryWorkbook) SetGrid(title string, rows, cols int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sheets[title]; ok {
		s.rows, s.cols = rows, cols
	}
}

// FailNext queues errors returned by the next calls of op, one per call.
func (m *MemoryWorkbook) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], errs...)
}

// Calls returns how many times op was invoked, failed calls included.
func (m *MemoryWorkbook) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Rows returns a copy of the sheet contents, or nil if it does not exist.
func (m *MemoryWorkbook) Rows(title string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[title]
	if !ok {
		return nil
	}
	return copyGrid(s.cells)
}

// Value returns one cell, "" when unset.
func (m *MemoryWorkbook) Value(title string, row, col int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[title]
	if !ok || row >= len(s.cells) || col >= len(s.cells[row]) {
		return ""
	}
	return s.cells[row][col]
}

func (m *MemoryWorkbook) begin(op string) error {
	m.calls[op]++
	if queued := m.faults[op]; len(queued) > 0 {
		m.faults[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *MemoryWorkbook) sheet(title string) (*memorySheet, error) {
	s, ok := m.sheets[title]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, title)
	}
	return s, nil
}

func (m *MemoryWorkbook) SheetTitles(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpRead); err != nil {
		return nil, err
	}
	return append([]string(nil), m.order...), nil
}

func (m *MemoryWorkbook) AddSheet(ctx context.Context, title string, header []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpAdd); err != nil {
		return err
	}
	if _, exists := m.sheets[title]; exists {
		return fmt.Errorf("%w: %s", ErrSheetExists, title)
	}
	sheet := &memorySheet{rows: defaultMemoryRows, cols: defaultMemoryCols}
	if len(header) > sheet.cols {
		sheet.cols = len(header)
	}
	if len(header) > 0 {
		sheet.cells = [][]string{append([]string(nil), header...)}
	}
	m.sheets[title] = sheet
	m.order = append(m.order, title)
	return nil
}

func (m *MemoryWorkbook) ReadSheet(ctx context.Context, title string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpRead); err != nil {
		return nil, err
	}
	s, err := m.sheet(title)
	if err != nil {
		return nil, err
	}
	return copyGrid(trimGrid(s.cells)), nil
}

func (m *MemoryWorkbook) GridSize(ctx context.Context, title string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sheet(title)
	if err != nil {
		return 0, 0, err
	}
	return s.rows, s.cols, nil
}

func (m *MemoryWorkbook) Resize(ctx context.Context, title string, rows, cols int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpResize); err != nil {
		return err
	}
	s, err := m.sheet(title)
	if err != nil {
		return err
	}
	if rows > s.rows {
		s.rows = rows
	}
	if cols > s.cols {
		s.cols = cols
	}
	return nil
}

func (m *MemoryWorkbook) UpdateCells(ctx context.Context, title string, cells []Cell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpUpdate); err != nil {
		return err
	}
	s, err := m.sheet(title)
	if err != nil {
		return err
	}
	for _, c := range cells {
		if c.Row < 0 || c.Col < 0 || c.Row >= s.rows || c.Col >= s.cols {
			return fmt.Errorf("%w: %s row %d col %d (grid %dx%d)", ErrOutOfGrid, title, c.Row, c.Col, s.rows, s.cols)
		}
	}
	for _, c := range cells {
		s.set(c.Row, c.Col, c.Value)
	}
	return nil
}

func (m *MemoryWorkbook) AppendRows(ctx context.Context, title string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpAppend); err != nil {
		return err
	}
	s, err := m.sheet(title)
	if err != nil {
		return err
	}
	s.cells = trimGrid(s.cells)
	for _, r := range rows {
		s.cells = append(s.cells, append([]string(nil), r...))
		if len(r) > s.cols {
			s.cols = len(r)
		}
	}
	if len(s.cells) > s.rows {
		s.rows = len(s.cells)
	}
	return nil
}

func (m *MemoryWorkbook) SortRows(ctx context.Context, title string, fromRow int, col int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpSort); err != nil {
		return err
	}
	s, err := m.sheet(title)
	if err != nil {
		return err
	}
	s.cells = trimGrid(s.cells)
	SortGrid(s.cells, fromRow, col)
	return nil
}

func (m *MemoryWorkbook) SetHighlights(ctx context.Context, title string, fromRow int, rules []Highlight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpStyle); err != nil {
		return err
	}
	s, err := m.sheet(title)
	if err != nil {
		return err
	}
	if s.highlights == nil {
		s.highlights = make(map[int]Highlight)
	}
	for _, rule := range rules {
		s.highlights[rule.Col] = rule
	}
	return nil
}

// Highlights returns the rules installed on a sheet by column.
func (m *MemoryWorkbook) Highlights(title string) map[int]Highlight {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[title]
	if !ok {
		return nil
	}
	out := make(map[int]Highlight, len(s.highlights))
	for col, rule := range s.highlights {
		out[col] = rule
	}
	return out
}

// Flush only counts the call; failures can be queued with FailNext.
func (m *MemoryWorkbook) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(OpFlush)
}

func (s *memorySheet) set(row, col int, value string) {
	for len(s.cells) <= row {
		s.cells = append(s.cells, nil)
	}
	for len(s.cells[row]) <= col {
		s.cells[row] = append(s.cells[row], "")
	}
	s.cells[row][col] = value
}

// trimGrid drops trailing rows with no content.
func trimGrid(grid [][]string) [][]string {
	end := len(grid)
	for end > 0 && rowEmpty(grid[end-1]) {
		end--
	}
	return grid[:end]
}

func rowEmpty(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}

func copyGrid(grid [][]string) [][]string {
	out := make([][]string, len(grid))
	for i, r := range grid {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Snapshot copies every sheet of src into a new MemoryWorkbook, so a run can
// be rehearsed without touching src.
func Snapshot(ctx context.Context, src Workbook) (*MemoryWorkbook, error) {
	titles, err := src.SheetTitles(ctx)
	if err != nil {
		return nil, err
	}
	snap := NewMemoryWorkbook()
	for _, title := range titles {
		rows, err := src.ReadSheet(ctx, title)
		if err != nil {
			return nil, err
		}
		snap.SetSheet(title, rows)
	}
	return snap, nil
}
