package ledger

import (
	"time"

	"golang-rent-ledger-service/internal/models"

	"github.com/shopspring/decimal"
)

// Resolver finds or creates the period row a payment belongs to.
type Resolver struct {
	config *Config
}

// NewResolver creates a resolver.
func NewResolver(config *Config) *Resolver {
	if config == nil {
		config = DefaultConfig()
	}
	return &Resolver{config: config}
}

// Resolve returns the row for the calendar month of ts, inserting a new row
// in month order when none exists. The second result reports whether the
// row is new.
func (r *Resolver) Resolve(tl *TenantLedger, ts time.Time) (*models.LedgerRow, bool) {
	key := r.PeriodOf(ts)
	if row, _ := tl.Find(key); row != nil {
		return row, false
	}
	row := r.NewRow(tl, key)
	tl.Insert(row)
	return row, true
}

// PeriodOf returns the billing month of ts in the ledger location.
func (r *Resolver) PeriodOf(ts time.Time) models.MonthKey {
	return models.MonthKeyOf(ts.In(r.config.location()))
}

// NewRow builds an unwritten row for key without inserting it. The due
// amount is carried forward from the latest earlier row whose Amount Due
// cell is filled, even with 0, else the tenant's monthly rent.
func (r *Resolver) NewRow(tl *TenantLedger, key models.MonthKey) *models.LedgerRow {
	row := models.NewLedgerRow(key, FormatMonthLabel(key, tl.LabelStyle))
	row.DateDue = key.Day(r.config.DueDay, r.config.location())
	row.AmountDue = r.carriedDue(tl, key)
	row.DueRecorded = true
	row.Comment = models.DefaultComment
	return row
}

func (r *Resolver) carriedDue(tl *TenantLedger, key models.MonthKey) decimal.Decimal {
	for i := len(tl.Rows) - 1; i >= 0; i-- {
		prior := tl.Rows[i]
		if !prior.MonthKey.Before(key) {
			continue
		}
		if prior.DueRecorded {
			return prior.AmountDue
		}
	}
	return tl.MonthlyRent
}
