package maintenance

import (
	"context"

	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/models"

	"github.com/shopspring/decimal"
)

// RepairFormulas recomputes penalty and balance for every row of every
// tenant in month order and writes the rows whose stored values differ.
// Running it twice writes nothing the second time.
func (m *Maintainer) RepairFormulas(ctx context.Context, opts *Options) (*Report, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	return m.run(ctx, OperationRepair, opts, func(ctx context.Context, tl *ledger.TenantLedger, tr *TenantReport) error {
		stale := m.staleRows(tl)
		if len(stale) == 0 {
			return nil
		}
		return m.batches(ctx, stale, opts, func(batch []*models.LedgerRow) error {
			result, err := m.writer.Apply(ctx, tl, batch, ledger.ScopeComputed)
			if result != nil {
				tr.Batches += result.Batches
				tr.Retries += result.Retries
			}
			if err != nil {
				return err
			}
			tr.Updated += len(batch)
			return nil
		})
	})
}

// staleRows recomputes tl and returns the rows whose penalty, balance or
// month key cell must be rewritten.
func (m *Maintainer) staleRows(tl *ledger.TenantLedger) []*models.LedgerRow {
	type stored struct{ balance, penalty decimal.Decimal }
	before := make(map[*models.LedgerRow]stored, len(tl.Rows))
	for _, row := range tl.Rows {
		before[row] = stored{balance: row.Balance, penalty: row.Penalty}
	}
	missingKey := make(map[*models.LedgerRow]bool)
	for _, row := range tl.MissingMonthKeys() {
		missingKey[row] = true
	}

	m.engine.Recompute(tl.Rows, 0)

	var stale []*models.LedgerRow
	for _, row := range tl.Rows {
		old := before[row]
		if !row.Balance.Equal(old.balance) || !row.Penalty.Equal(old.penalty) || missingKey[row] {
			stale = append(stale, row)
		}
	}
	return stale
}
