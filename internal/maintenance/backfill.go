package maintenance

import (
	"context"

	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/internal/writer"
)

// BackfillMonthKeys writes the MonthKey cell of every row that lacks one,
// deriving it from the month label. Labels in any accepted style are read
// ("Aug-2025", "August 2025", "2025-08", "08/2025" and so on); rows whose
// label cannot be parsed are counted as unparseable and left alone. The
// MonthKey column is added to the header when missing and the sheet is
// sorted by month key afterwards.
func (m *Maintainer) BackfillMonthKeys(ctx context.Context, opts *Options) (*Report, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	return m.run(ctx, OperationBackfill, opts, func(ctx context.Context, tl *ledger.TenantLedger, tr *TenantReport) error {
		missing := tl.MissingMonthKeys()
		result := &writer.WriteResult{Sheet: tl.Sheet}
		header := tl.Layout.HeaderCells()

		err := m.batches(ctx, missing, opts, func(batch []*models.LedgerRow) error {
			cells := append([]storage.Cell(nil), header...)
			for _, row := range batch {
				cells = append(cells, tl.MonthKeyCell(row))
			}
			if err := m.writer.WriteCells(ctx, tl.Sheet, cells, result); err != nil {
				return err
			}
			header = nil
			tl.Layout.Added = nil
			for _, row := range batch {
				tl.MarkKeyStored(row)
			}
			tr.Updated += len(batch)
			return nil
		})
		if err == nil && len(header) > 0 {
			// No rows needed a key but the column itself was missing.
			if err = m.writer.WriteCells(ctx, tl.Sheet, header, result); err == nil {
				tl.Layout.Added = nil
			}
		}
		if err == nil && tr.Updated > 0 {
			m.writer.Sort(ctx, tl, result)
		}

		tr.Batches = result.Batches
		tr.Retries = result.Retries
		tr.Sorted = result.Sorted
		tr.SortFailures = result.SortFailures
		return err
	})
}
