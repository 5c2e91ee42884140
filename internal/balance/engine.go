// Package balance computes rolling balances, late penalties and prepayment
// carry rows for a tenant ledger.
//
// Balances follow one sign convention everywhere:
//
//	balance = previous balance + amount paid - amount due - penalty
//
// so a negative balance is arrears and a positive balance is prepayment
// credit. Values are computed here and written to storage as plain numbers.
package balance

import (
	"fmt"
	"time"

	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/models"

	"github.com/shopspring/decimal"
)

// Config holds the fixed rule set.
type Config struct {
	// Penalty is charged once per late, not fully covered month.
	Penalty decimal.Decimal `json:"penalty"`

	// GraceDays after the due date before a payment counts as late.
	GraceDays int `json:"grace_days"`

	// MaxCarryRows caps the rows synthesized for one payment.
	MaxCarryRows int `json:"max_carry_rows"`
}

// DefaultConfig returns the standard rule set: KES 3000 after two days.
func DefaultConfig() *Config {
	return &Config{
		Penalty:      decimal.NewFromInt(3000),
		GraceDays:    2,
		MaxCarryRows: 24,
	}
}

// Validate checks the rule set.
func (c *Config) Validate() error {
	if c.Penalty.IsNegative() {
		return fmt.Errorf("penalty cannot be negative, got %s", c.Penalty.String())
	}
	if c.GraceDays < 0 {
		return fmt.Errorf("grace days cannot be negative, got %d", c.GraceDays)
	}
	if c.MaxCarryRows < 0 {
		return fmt.Errorf("max carry rows cannot be negative, got %d", c.MaxCarryRows)
	}
	return nil
}

// Result describes the rows changed by one posted payment.
type Result struct {
	// Row is the period row the payment landed in.
	Row *models.LedgerRow

	// Created reports whether Row is new to the sheet.
	Created bool

	// CarryRows are the synthesized prepayment rows, oldest first.
	CarryRows []*models.LedgerRow

	// Touched lists every row whose values changed, in month order,
	// including Row and CarryRows.
	Touched []*models.LedgerRow

	// AlreadyApplied reports that Row already listed the payment's
	// reference, so nothing changed.
	AlreadyApplied bool
}

// Engine applies payments to tenant ledgers.
type Engine struct {
	config   *Config
	resolver *ledger.Resolver
}

// NewEngine creates an engine that resolves period rows with resolver.
func NewEngine(config *Config, resolver *ledger.Resolver) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config, resolver: resolver}
}

// Apply posts payment into tl: the period row is found or created, amounts
// and references accumulate, every row from it onward is recomputed and
// carry rows are appended while the final balance covers a full month.
// A payment whose reference is already on a row leaves the ledger as is.
func (e *Engine) Apply(tl *ledger.TenantLedger, payment *models.PaymentRecord) *Result {
	for _, row := range tl.Rows {
		if row.HasReference(payment.Reference) {
			return &Result{Row: row, AlreadyApplied: true}
		}
	}

	row, created := e.resolver.Resolve(tl, payment.PaidAt)

	row.AmountPaid = row.AmountPaid.Add(payment.Amount)
	if !row.HasDatePaid() || payment.PaidAt.After(row.DatePaid) {
		row.DatePaid = payment.PaidAt
	}
	row.AddReference(payment.Reference)

	from := tl.IndexOf(row)
	e.Recompute(tl.Rows, from)
	carry := e.Carry(tl)

	return &Result{
		Row:       row,
		Created:   created,
		CarryRows: carry,
		Touched:   append([]*models.LedgerRow(nil), tl.Rows[from:]...),
	}
}

// Recompute refreshes penalty and balance of rows[from:], seeding from the
// balance of rows[from-1] (zero for the first row). Rows must be in month
// order.
func (e *Engine) Recompute(rows []*models.LedgerRow, from int) {
	if from < 0 {
		from = 0
	}
	prev := decimal.Zero
	if from > 0 && from <= len(rows) {
		prev = rows[from-1].Balance
	}
	for _, row := range rows[from:] {
		row.Penalty = e.PenaltyFor(row, prev)
		row.Balance = prev.Add(row.AmountPaid).Sub(row.AmountDue).Sub(row.Penalty)
		prev = row.Balance
	}
}

// PenaltyFor returns the penalty for row given the balance carried into it.
// A row is penalized when it has both dates, the month is not fully covered
// and payment came GraceDays or more calendar days after the due date.
func (e *Engine) PenaltyFor(row *models.LedgerRow, prev decimal.Decimal) decimal.Decimal {
	if !row.HasDatePaid() || !row.HasDateDue() {
		return decimal.Zero
	}
	netAfter := prev.Add(row.AmountPaid).Sub(row.AmountDue)
	if netAfter.IsPositive() {
		return decimal.Zero
	}
	lateFrom := civilDate(row.DateDue).AddDate(0, 0, e.config.GraceDays)
	if civilDate(row.DatePaid).Before(lateFrom) {
		return decimal.Zero
	}
	return e.config.Penalty
}

// Carry appends months after the last row while its balance covers the
// monthly rent. Existing later months consume surplus through Recompute, so
// this only ever extends the end of the ledger.
func (e *Engine) Carry(tl *ledger.TenantLedger) []*models.LedgerRow {
	rent := tl.MonthlyRent
	if !rent.IsPositive() || len(tl.Rows) == 0 {
		return nil
	}

	var carry []*models.LedgerRow
	last := tl.Rows[len(tl.Rows)-1]
	for len(carry) < e.config.MaxCarryRows && last.Balance.GreaterThanOrEqual(rent) {
		row := e.resolver.NewRow(tl, last.MonthKey.Next())
		row.AmountDue = rent
		row.Comment = models.CarryComment
		row.Synthesized = true
		row.Penalty = decimal.Zero
		row.Balance = last.Balance.Sub(rent)

		tl.Insert(row)
		carry = append(carry, row)
		last = row
	}
	return carry
}

// civilDate drops the clock so dates compare by calendar day in their own
// location.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
