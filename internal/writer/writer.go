// Package writer applies computed ledger rows to workbook storage.
//
// Cell updates are batched, the sheet grid is grown before writing,
// rate-limited requests are retried with exponential backoff and the sheet
// is sorted by month key afterwards on a best-effort basis.
package writer

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// Config controls batching and retries.
type Config struct {
	// BatchSize is the number of cells sent per update request.
	BatchSize int `json:"batch_size"`

	// MaxAttempts bounds tries per request, including the first.
	MaxAttempts int `json:"max_attempts"`

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration `json:"initial_backoff"`

	// Multiplier grows the wait after each retry.
	Multiplier float64 `json:"multiplier"`

	// SortAfterWrite sorts the sheet by month key when rows were added.
	SortAfterWrite bool `json:"sort_after_write"`
}

// DefaultConfig returns 6 attempts starting at one second and doubling.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      200,
		MaxAttempts:    6,
		InitialBackoff: time.Second,
		Multiplier:     2,
		SortAfterWrite: true,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial backoff must be positive, got %v", c.InitialBackoff)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %v", c.Multiplier)
	}
	return nil
}

// WriteResult reports what one Apply call did.
type WriteResult struct {
	Sheet        string `json:"sheet"`
	RowsWritten  int    `json:"rows_written"`
	RowsCreated  int    `json:"rows_created"`
	CellsWritten int    `json:"cells_written"`
	Batches      int    `json:"batches"`
	Retries      int    `json:"retries"`
	GridResized  bool   `json:"grid_resized"`
	Sorted       bool   `json:"sorted"`
	SortFailures int    `json:"sort_failures"`
	Highlighted  bool   `json:"highlighted"`
}

// String returns a string representation of the result
func (r *WriteResult) String() string {
	return fmt.Sprintf("WriteResult{Sheet: %s, Rows: %d (%d new), Cells: %d, Batches: %d, Retries: %d, Sorted: %v}",
		r.Sheet, r.RowsWritten, r.RowsCreated, r.CellsWritten, r.Batches, r.Retries, r.Sorted)
}

// Writer writes ledger rows to a workbook.
type Writer struct {
	wb     storage.Workbook
	config *Config
	log    logger.Logger

	mu          sync.Mutex
	highlighted map[string]bool
}

// NewWriter creates a writer.
func NewWriter(wb storage.Workbook, config *Config, log logger.Logger) *Writer {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Writer{
		wb:          wb,
		config:      config,
		log:         log.WithComponent("writer"),
		highlighted: make(map[string]bool),
	}
}

// Apply writes rows into tl's sheet. Rows not yet in the sheet are given the
// next free physical row and written in full; existing rows get the columns
// selected by scope.
func (w *Writer) Apply(ctx context.Context, tl *ledger.TenantLedger, rows []*models.LedgerRow, scope ledger.Scope) (*WriteResult, error) {
	result := &WriteResult{Sheet: tl.Sheet}

	cells := tl.Layout.HeaderCells()
	for _, row := range rows {
		rowScope := scope
		if row.IsNew() {
			row.SheetRow = tl.AllocateRow()
			rowScope = ledger.ScopeFull
			result.RowsCreated++
		}
		cells = append(cells, tl.RowCells(row, rowScope)...)
		result.RowsWritten++
	}

	if err := w.WriteCells(ctx, tl.Sheet, cells, result); err != nil {
		return result, err
	}
	tl.Layout.Added = nil
	for _, row := range rows {
		tl.MarkKeyStored(row)
	}

	if result.RowsCreated > 0 && w.config.SortAfterWrite {
		w.Sort(ctx, tl, result)
	}
	if len(rows) > 0 {
		w.Highlight(ctx, tl, result)
	}

	w.log.WithFields(logger.Fields{
		"sheet":   tl.Sheet,
		"rows":    result.RowsWritten,
		"created": result.RowsCreated,
		"cells":   result.CellsWritten,
		"retries": result.Retries,
	}).Debug("ledger rows written")
	return result, nil
}

// WriteCells grows the grid when needed and sends cells in batches. A grid
// that cannot be grown fails the write.
func (w *Writer) WriteCells(ctx context.Context, sheet string, cells []storage.Cell, result *WriteResult) error {
	if len(cells) == 0 {
		return nil
	}
	if result == nil {
		result = &WriteResult{Sheet: sheet}
	}

	if err := w.ensureGrid(ctx, sheet, cells, result); err != nil {
		return err
	}

	for start := 0; start < len(cells); start += w.config.BatchSize {
		end := start + w.config.BatchSize
		if end > len(cells) {
			end = len(cells)
		}
		batch := cells[start:end]
		err := w.retry(ctx, "update "+sheet, result, func() error {
			return w.wb.UpdateCells(ctx, sheet, batch)
		})
		if err != nil {
			if errors.IsQuotaExceeded(err) {
				return err
			}
			return errors.StorageError(errors.CodeWriteFailed, sheet, err).
				WithContext("batch", result.Batches+1)
		}
		result.Batches++
		result.CellsWritten += len(batch)
	}
	return nil
}

func (w *Writer) ensureGrid(ctx context.Context, sheet string, cells []storage.Cell, result *WriteResult) error {
	needRows, needCols := 0, 0
	for _, c := range cells {
		if c.Row+1 > needRows {
			needRows = c.Row + 1
		}
		if c.Col+1 > needCols {
			needCols = c.Col + 1
		}
	}

	rows, cols, err := w.wb.GridSize(ctx, sheet)
	if err != nil {
		return errors.StorageError(errors.CodeReadFailed, sheet, err)
	}
	if needRows <= rows && needCols <= cols {
		return nil
	}
	if needRows < rows {
		needRows = rows
	}
	if needCols < cols {
		needCols = cols
	}

	err = w.retry(ctx, "resize "+sheet, result, func() error {
		return w.wb.Resize(ctx, sheet, needRows, needCols)
	})
	if err != nil {
		if errors.IsQuotaExceeded(err) {
			return err
		}
		return errors.StorageError(errors.CodeResizeFailed, sheet, err).
			WithContext("rows", needRows).
			WithContext("cols", needCols)
	}
	result.GridResized = true
	w.log.WithFields(logger.Fields{"sheet": sheet, "rows": needRows, "cols": needCols}).Debug("grid expanded")
	return nil
}

// Sort orders the sheet's data rows by month key and renumbers the rows of
// tl to match. Failures are logged and counted, never returned.
func (w *Writer) Sort(ctx context.Context, tl *ledger.TenantLedger, result *WriteResult) {
	first := tl.Layout.HeaderRow + 1
	col := tl.Layout.Columns[ledger.ColMonthKey]

	fail := func(err error) {
		result.SortFailures++
		sortErr := errors.SortFailure(tl.Sheet, err)
		w.log.WithError(sortErr).WithField("sheet", tl.Sheet).Warn("sheet left unsorted")
	}

	grid, err := w.wb.ReadSheet(ctx, tl.Sheet)
	if err != nil {
		fail(err)
		return
	}
	order := storage.SortGrid(grid, first, col)

	err = w.retry(ctx, "sort "+tl.Sheet, result, func() error {
		return w.wb.SortRows(ctx, tl.Sheet, first, col)
	})
	if err != nil {
		fail(err)
		return
	}
	tl.Renumber(order)
	result.Sorted = true
}

// Highlight installs the arrears and penalty fills on tl's sheet the first
// time this writer touches it. Like Sort it is best effort: failures are
// logged and the sheet is tried again on the next write.
func (w *Writer) Highlight(ctx context.Context, tl *ledger.TenantLedger, result *WriteResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.highlighted[tl.Sheet] {
		return
	}
	err := w.retry(ctx, "highlight "+tl.Sheet, result, func() error {
		return w.wb.SetHighlights(ctx, tl.Sheet, tl.Layout.HeaderRow+1, tl.Layout.Highlights())
	})
	if err != nil {
		w.log.WithError(err).WithField("sheet", tl.Sheet).Warn("conditional highlights not applied")
		return
	}
	w.highlighted[tl.Sheet] = true
	result.Highlighted = true
}

// Do runs fn under the writer's retry policy. Other components writing to
// the same workbook use it so quota handling stays uniform.
func (w *Writer) Do(ctx context.Context, operation string, fn func() error) error {
	return w.retry(ctx, operation, &WriteResult{}, fn)
}

// retry runs fn until it succeeds, fails with something other than a rate
// limit, or attempts run out. Exhausted rate limits become QuotaExceeded.
func (w *Writer) retry(ctx context.Context, operation string, result *WriteResult, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.config.InitialBackoff
	policy.Multiplier = w.config.Multiplier
	policy.RandomizationFactor = 0
	policy.MaxInterval = w.config.InitialBackoff * time.Duration(1<<uint(w.config.MaxAttempts))
	policy.MaxElapsedTime = 0

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn()
		if err == nil || stderrors.Is(err, storage.ErrRateLimited) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(w.config.MaxAttempts-1)), ctx),
		func(err error, wait time.Duration) {
			result.Retries++
			w.log.WithFields(logger.Fields{
				"operation": operation,
				"attempt":   attempts,
				"wait":      wait.String(),
			}).Warn("rate limited, backing off")
		})

	if err != nil && stderrors.Is(err, storage.ErrRateLimited) {
		return errors.QuotaExceeded(operation, attempts, err)
	}
	return err
}
