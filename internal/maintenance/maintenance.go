// Package maintenance provides one-off passes over every tenant ledger:
// backfilling the MonthKey column from month labels and repairing stale
// penalty and balance values.
//
// Both passes are idempotent. A tenant that fails is recorded in the Report
// and the pass moves on; only exhausted write quota stops a pass early.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"golang-rent-ledger-service/internal/balance"
	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/internal/writer"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/google/uuid"
)

// Operation names used in reports and logs.
const (
	OperationBackfill = "backfill_month_keys"
	OperationRepair   = "repair_formulas"
)

// Options control pacing of a maintenance pass.
type Options struct {
	// BatchSize is the number of ledger rows written per request.
	BatchSize int `json:"batch_size"`

	// Delay is the pause between batches, to stay under write quotas.
	Delay time.Duration `json:"delay"`

	// Sheets restricts the pass to these tenant sheets. Empty means all.
	Sheets []string `json:"sheets,omitempty"`
}

// DefaultOptions returns 50 rows per batch with a one second pause.
func DefaultOptions() *Options {
	return &Options{
		BatchSize: 50,
		Delay:     time.Second,
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	if o.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", o.BatchSize)
	}
	if o.Delay < 0 {
		return fmt.Errorf("delay cannot be negative, got %v", o.Delay)
	}
	return nil
}

// Report summarizes one maintenance pass.
type Report struct {
	ID          string           `json:"id"`
	Operation   string           `json:"operation"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	RowsScanned int              `json:"rows_scanned"`
	RowsUpdated int              `json:"rows_updated"`
	Tenants     []*TenantReport  `json:"tenants"`
	Failures    []errors.Failure `json:"failures,omitempty"`
}

// TenantReport is the outcome for one tenant sheet.
type TenantReport struct {
	Sheet        string `json:"sheet"`
	Rows         int    `json:"rows"`
	Updated      int    `json:"updated"`
	Unparseable  int    `json:"unparseable"`
	Batches      int    `json:"batches"`
	Retries      int    `json:"retries"`
	Sorted       bool   `json:"sorted"`
	SortFailures int    `json:"sort_failures"`
	Failed       bool   `json:"failed"`
	Error        string `json:"error,omitempty"`
}

// String returns a human-readable summary
func (r *Report) String() string {
	failed := 0
	for _, t := range r.Tenants {
		if t.Failed {
			failed++
		}
	}
	return fmt.Sprintf("%s: %d tenants (%d failed), %d rows scanned, %d updated",
		r.Operation, len(r.Tenants), failed, r.RowsScanned, r.RowsUpdated)
}

// Maintainer runs maintenance passes against a workbook.
type Maintainer struct {
	wb        storage.Workbook
	writer    *writer.Writer
	ledgerCfg *ledger.Config
	directory *ledger.Directory
	engine    *balance.Engine
	log       logger.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewMaintainer creates a maintainer. Nil configs use the defaults.
func NewMaintainer(wb storage.Workbook, w *writer.Writer, ledgerCfg *ledger.Config, balanceCfg *balance.Config, log logger.Logger) *Maintainer {
	if ledgerCfg == nil {
		ledgerCfg = ledger.DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Maintainer{
		wb:        wb,
		writer:    w,
		ledgerCfg: ledgerCfg,
		directory: ledger.NewDirectory(wb, ledgerCfg),
		engine:    balance.NewEngine(balanceCfg, ledger.NewResolver(ledgerCfg)),
		log:       log.WithComponent("maintenance"),
		sleep:     sleepContext,
	}
}

// tenantPass processes one loaded ledger and fills in its report.
type tenantPass func(ctx context.Context, tl *ledger.TenantLedger, tr *TenantReport) error

// run loads every selected tenant sheet in turn and applies pass to it.
func (m *Maintainer) run(ctx context.Context, operation string, opts *Options, pass tenantPass) (report *Report, err error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, operation, opts, err)
	}

	report = &Report{ID: uuid.NewString(), Operation: operation, StartedAt: time.Now()}
	log := m.log.WithField("run_id", report.ID)
	op := logger.NewOperationLogger(operation, log)
	failures := errors.NewFailureCollector(0)
	defer func() {
		report.FinishedAt = time.Now()
		report.Failures = failures.Failures()
		if err != nil {
			op.Error(err, "Maintenance pass stopped")
			return
		}
		op.Success("Maintenance pass completed", logger.Fields{
			"tenants":      len(report.Tenants),
			"rows_updated": report.RowsUpdated,
			"failures":     len(report.Failures),
		})
	}()

	sheets, err := m.selectSheets(ctx, opts.Sheets)
	if err != nil {
		return report, err
	}
	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: operation,
		Total:     int64(len(sheets)),
		Logger:    log,
	})

	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			progress.Complete(err)
			return report, err
		}
		tr := &TenantReport{Sheet: sheet}
		report.Tenants = append(report.Tenants, tr)

		var tl *ledger.TenantLedger
		err := m.writer.Do(ctx, "load "+sheet, func() error {
			var err error
			tl, err = ledger.Load(ctx, m.wb, sheet, m.ledgerCfg)
			return err
		})
		if err == nil {
			tr.Rows = len(tl.Rows) + len(tl.Unkeyed)
			tr.Unparseable = len(tl.Unkeyed)
			err = pass(ctx, tl, tr)
		}
		if err == nil && tr.Updated > 0 {
			err = m.writer.Do(ctx, "flush workbook", func() error { return m.wb.Flush(ctx) })
		}
		report.RowsScanned += tr.Rows
		report.RowsUpdated += tr.Updated

		if err != nil {
			tr.Failed = true
			tr.Error = err.Error()
			failures.Add(sheet, err)
			if errors.IsQuotaExceeded(err) {
				progress.Complete(err)
				return report, err
			}
			log.WithError(err).WithField("sheet", sheet).Warn("Tenant skipped")
		}
		progress.Increment()
	}

	progress.Complete(nil)
	return report, nil
}

func (m *Maintainer) selectSheets(ctx context.Context, only []string) ([]string, error) {
	var sheets []string
	err := m.writer.Do(ctx, "list sheets", func() error {
		var err error
		sheets, err = m.directory.TenantSheets(ctx)
		return err
	})
	if err != nil || len(only) == 0 {
		return sheets, err
	}

	wanted := make(map[string]bool, len(only))
	for _, s := range only {
		wanted[s] = true
	}
	var selected []string
	for _, s := range sheets {
		if wanted[s] {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

// batches calls fn for each chunk of opts.BatchSize rows, pausing
// opts.Delay between chunks.
func (m *Maintainer) batches(ctx context.Context, rows []*models.LedgerRow, opts *Options, fn func([]*models.LedgerRow) error) error {
	for start := 0; start < len(rows); start += opts.BatchSize {
		if start > 0 && opts.Delay > 0 {
			if err := m.sleep(ctx, opts.Delay); err != nil {
				return err
			}
		}
		end := start + opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := fn(rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
