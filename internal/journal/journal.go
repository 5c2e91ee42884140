// Package journal records which payment references have been posted and
// keeps the payment history audit log.
//
// Post is the only way a reference becomes processed: the reference is
// claimed, the ledger write runs, the history entry is appended and the
// claim is committed as one unit. A failed ledger write leaves the
// reference unclaimed so the payment is retried on the next run.
//
// The workbook journal keeps its sheets next to the ledger, so its claim and
// the ledger cells are saved by the same workbook flush. SQL journals commit
// separately: the ledger is saved first and the reference cell on the row
// lets a retried payment be recognized if the commit then fails.
package journal

import (
	"context"
	"strings"

	"golang-rent-ledger-service/internal/models"
)

// ApplyFunc performs the ledger write for a payment being posted.
type ApplyFunc func(ctx context.Context) error

// Journal is the dedup gate and audit log.
type Journal interface {
	// IsProcessed reports whether ref was posted before.
	IsProcessed(ctx context.Context, ref string) (bool, error)

	// MarkProcessed records ref without a history entry. Marking an already
	// processed reference is not an error.
	MarkProcessed(ctx context.Context, ref string) error

	// Post claims entry.Reference, runs apply and appends entry. A reference
	// that is already processed yields a DuplicateReference error and apply
	// is not called.
	Post(ctx context.Context, entry models.PaymentHistoryEntry, apply ApplyFunc) error

	// History returns every audit entry in posting order.
	History(ctx context.Context) ([]models.PaymentHistoryEntry, error)

	Close() error
}

// SharesWorkbook reports whether j keeps its records in the ledger workbook,
// so one workbook flush saves the claim together with the ledger cells.
func SharesWorkbook(j Journal) bool {
	switch v := j.(type) {
	case *WorkbookJournal:
		return true
	case *Overlay:
		return SharesWorkbook(v.base)
	}
	return false
}

func normalizeRef(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}
