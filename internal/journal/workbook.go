package journal

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/pkg/errors"
)

// RetryFunc wraps a storage call in a retry policy.
type RetryFunc func(ctx context.Context, operation string, fn func() error) error

func noRetry(ctx context.Context, operation string, fn func() error) error { return fn() }

// WorkbookJournal stores processed references in the ProcessedRefs sheet
// (single column "Ref") and the audit log in the PaymentHistory sheet, so
// existing workbooks keep working. Posts are serialized by a process lock.
type WorkbookJournal struct {
	wb       storage.Workbook
	retry    RetryFunc
	location *time.Location

	mu     sync.Mutex
	loaded bool
	refs   map[string]bool
}

var _ Journal = (*WorkbookJournal)(nil)

// NewWorkbookJournal creates a journal over wb. retry may be nil.
func NewWorkbookJournal(wb storage.Workbook, retry RetryFunc, loc *time.Location) *WorkbookJournal {
	if retry == nil {
		retry = noRetry
	}
	if loc == nil {
		loc = time.UTC
	}
	return &WorkbookJournal{wb: wb, retry: retry, location: loc, refs: make(map[string]bool)}
}

// load creates the bookkeeping sheets when missing and caches the reference
// set. Callers hold j.mu.
func (j *WorkbookJournal) load(ctx context.Context) error {
	if j.loaded {
		return nil
	}
	if err := j.ensureSheet(ctx, ledger.ProcessedRefsSheet, []string{"Ref"}); err != nil {
		return err
	}
	if err := j.ensureSheet(ctx, ledger.PaymentHistorySheet, models.HistoryHeader); err != nil {
		return err
	}

	var rows [][]string
	err := j.retry(ctx, "read "+ledger.ProcessedRefsSheet, func() error {
		var readErr error
		rows, readErr = j.wb.ReadSheet(ctx, ledger.ProcessedRefsSheet)
		return readErr
	})
	if err != nil {
		return errors.StorageError(errors.CodeReadFailed, ledger.ProcessedRefsSheet, err)
	}
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		ref := normalizeRef(row[0])
		if ref == "" || (i == 0 && ref == "REF") {
			continue
		}
		j.refs[ref] = true
	}
	j.loaded = true
	return nil
}

func (j *WorkbookJournal) ensureSheet(ctx context.Context, title string, header []string) error {
	titles, err := j.wb.SheetTitles(ctx)
	if err != nil {
		return errors.StorageError(errors.CodeReadFailed, title, err)
	}
	for _, existing := range titles {
		if strings.EqualFold(existing, title) {
			return nil
		}
	}
	err = j.retry(ctx, "add "+title, func() error {
		return j.wb.AddSheet(ctx, title, header)
	})
	if err != nil && !stderrors.Is(err, storage.ErrSheetExists) {
		return errors.StorageError(errors.CodeSheetMissing, title, err)
	}
	return nil
}

func (j *WorkbookJournal) IsProcessed(ctx context.Context, ref string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.load(ctx); err != nil {
		return false, err
	}
	return j.refs[normalizeRef(ref)], nil
}

func (j *WorkbookJournal) MarkProcessed(ctx context.Context, ref string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.load(ctx); err != nil {
		return err
	}
	ref = normalizeRef(ref)
	if j.refs[ref] {
		return nil
	}
	if err := j.appendRef(ctx, ref); err != nil {
		return err
	}
	j.refs[ref] = true
	return nil
}

func (j *WorkbookJournal) Post(ctx context.Context, entry models.PaymentHistoryEntry, apply ApplyFunc) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.load(ctx); err != nil {
		return err
	}

	ref := normalizeRef(entry.Reference)
	if j.refs[ref] {
		return errors.DuplicateReference(ref)
	}
	if apply != nil {
		if err := apply(ctx); err != nil {
			return err
		}
	}
	if err := j.appendRef(ctx, ref); err != nil {
		return err
	}
	j.refs[ref] = true

	err := j.retry(ctx, "append "+ledger.PaymentHistorySheet, func() error {
		return j.wb.AppendRows(ctx, ledger.PaymentHistorySheet, [][]string{entry.Cells()})
	})
	if err != nil {
		return wrapAppendErr(err, ledger.PaymentHistorySheet).WithContext("reference", ref)
	}
	return nil
}

func (j *WorkbookJournal) appendRef(ctx context.Context, ref string) error {
	err := j.retry(ctx, "append "+ledger.ProcessedRefsSheet, func() error {
		return j.wb.AppendRows(ctx, ledger.ProcessedRefsSheet, [][]string{{ref}})
	})
	if err != nil {
		return wrapAppendErr(err, ledger.ProcessedRefsSheet).WithContext("reference", ref)
	}
	return nil
}

func wrapAppendErr(err error, sheet string) *errors.LedgerError {
	if le, ok := errors.AsLedgerError(err); ok && errors.IsQuotaExceeded(err) {
		return le
	}
	return errors.StorageError(errors.CodeWriteFailed, sheet, err)
}

func (j *WorkbookJournal) History(ctx context.Context) ([]models.PaymentHistoryEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.load(ctx); err != nil {
		return nil, err
	}
	rows, err := j.wb.ReadSheet(ctx, ledger.PaymentHistorySheet)
	if err != nil {
		return nil, errors.StorageError(errors.CodeReadFailed, ledger.PaymentHistorySheet, err)
	}

	var entries []models.PaymentHistoryEntry
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		entry := models.HistoryEntryFromCells(row, j.location)
		if entry.Reference == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (j *WorkbookJournal) Close() error { return nil }
