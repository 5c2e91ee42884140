// Package models holds the records that flow through the rent ledger
// pipeline: extracted payments, ledger rows and payment history entries.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Cell layouts used when writing dates back to the ledger.
const (
	DatePaidLayout = "02/01/2006 03:04 PM"
	DateDueLayout  = "02/01/2006"
)

// DefaultComment is written into the Comments cell of rows created for a real
// payment so the caretaker has an obvious placeholder to replace.
const DefaultComment = "None"

// CarryComment marks rows synthesized to consume a prepayment surplus.
const CarryComment = "Auto prepayment applied"

// PaymentRecord is one payment extracted from a bank notification.
type PaymentRecord struct {
	Amount           decimal.Decimal `json:"amount"`
	PayerName        string          `json:"payer_name"`
	PayerPhoneMasked string          `json:"payer_phone_masked"`
	PaidAt           time.Time       `json:"paid_at"`
	AccountCode      string          `json:"account_code"`
	Reference        string          `json:"reference"`
}

// Validate checks the fields the ledger relies on.
func (p *PaymentRecord) Validate() error {
	if p.Reference == "" {
		return fmt.Errorf("reference cannot be empty")
	}
	if p.Reference != strings.ToUpper(p.Reference) {
		return fmt.Errorf("reference must be uppercase, got %s", p.Reference)
	}
	if p.AccountCode == "" {
		return fmt.Errorf("account code cannot be empty")
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", p.Amount.String())
	}
	if p.PaidAt.IsZero() {
		return fmt.Errorf("payment time cannot be zero")
	}
	return nil
}

// MatchesAccount compares account codes case-insensitively.
func (p *PaymentRecord) MatchesAccount(code string) bool {
	return strings.EqualFold(strings.TrimSpace(p.AccountCode), strings.TrimSpace(code))
}

// String returns a string representation of the payment
func (p *PaymentRecord) String() string {
	return fmt.Sprintf("Payment{Ref: %s, Account: %s, Amount: %s, PaidAt: %s, Payer: %s}",
		p.Reference, p.AccountCode, p.Amount.StringFixed(2), p.PaidAt.Format(time.RFC3339), p.PayerName)
}

// LedgerRow is one billing period of one tenant. Zero times mean the date
// cell was absent or unparseable.
type LedgerRow struct {
	// SheetRow is the 0-based grid row the values live in, -1 until the row
	// has been written for the first time.
	SheetRow int `json:"sheet_row"`

	MonthLabel string          `json:"month_label"`
	MonthKey   MonthKey        `json:"month_key"`
	DateDue    time.Time       `json:"date_due"`
	AmountDue  decimal.Decimal `json:"amount_due"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	DatePaid   time.Time       `json:"date_paid"`
	Reference  string          `json:"reference"`
	Comment    string          `json:"comment"`
	Balance    decimal.Decimal `json:"balance"`
	Penalty    decimal.Decimal `json:"penalty"`

	// Synthesized is set on carry rows created by the engine.
	Synthesized bool `json:"synthesized,omitempty"`

	// DueRecorded is false when the Amount Due cell was blank, so a zero
	// AmountDue can be told apart from a waived month.
	DueRecorded bool `json:"-"`
}

// NewLedgerRow creates an unwritten row for the given month.
func NewLedgerRow(key MonthKey, label string) *LedgerRow {
	return &LedgerRow{
		SheetRow:   -1,
		MonthKey:   key,
		MonthLabel: label,
		AmountDue:  decimal.Zero,
		AmountPaid: decimal.Zero,
		Balance:    decimal.Zero,
		Penalty:    decimal.Zero,
	}
}

func (r *LedgerRow) HasDatePaid() bool { return !r.DatePaid.IsZero() }
func (r *LedgerRow) HasDateDue() bool  { return !r.DateDue.IsZero() }
func (r *LedgerRow) IsNew() bool       { return r.SheetRow < 0 }

// AddReference appends ref to the row's reference list unless it is already
// listed. Several payments in the same month share one row.
func (r *LedgerRow) AddReference(ref string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return
	}
	if r.Reference == "" {
		r.Reference = ref
		return
	}
	if r.HasReference(ref) {
		return
	}
	r.Reference = r.Reference + ", " + ref
}

// HasReference reports whether ref is listed in the row's reference cell,
// ignoring case.
func (r *LedgerRow) HasReference(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	for _, existing := range strings.Split(r.Reference, ",") {
		if strings.EqualFold(strings.TrimSpace(existing), ref) {
			return true
		}
	}
	return false
}

// String returns a string representation of the row
func (r *LedgerRow) String() string {
	return fmt.Sprintf("LedgerRow{Month: %s, Due: %s, Paid: %s, Penalty: %s, Balance: %s}",
		r.MonthKey, r.AmountDue.StringFixed(2), r.AmountPaid.StringFixed(2), r.Penalty.StringFixed(2), r.Balance.StringFixed(2))
}

// PaymentHistoryEntry is the flat audit record written once per posted
// payment. Carry rows never produce one.
type PaymentHistoryEntry struct {
	DatePaid    time.Time       `json:"date_paid"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Reference   string          `json:"reference"`
	Payer       string          `json:"payer"`
	Phone       string          `json:"phone"`
	Comment     string          `json:"comment"`
	AccountCode string          `json:"account_code"`
	TenantSheet string          `json:"tenant_sheet"`
	Month       string          `json:"month"`
}

// HistoryHeader is the column order of the audit sheet.
var HistoryHeader = []string{
	"Date Paid", "Amount Paid", "REF Number", "Payer", "Phone", "Comments", "AccountCode", "TenantSheet", "Month",
}

// NewHistoryEntry builds the audit record for a payment posted to sheet in
// the given month.
func NewHistoryEntry(p *PaymentRecord, sheet string, month string) PaymentHistoryEntry {
	return PaymentHistoryEntry{
		DatePaid:    p.PaidAt,
		AmountPaid:  p.Amount,
		Reference:   p.Reference,
		Payer:       p.PayerName,
		Phone:       p.PayerPhoneMasked,
		Comment:     "",
		AccountCode: strings.ToUpper(p.AccountCode),
		TenantSheet: sheet,
		Month:       month,
	}
}

// Cells renders the entry in HistoryHeader order.
func (e PaymentHistoryEntry) Cells() []string {
	return []string{
		e.DatePaid.Format(DatePaidLayout),
		e.AmountPaid.StringFixed(2),
		e.Reference,
		e.Payer,
		e.Phone,
		e.Comment,
		e.AccountCode,
		e.TenantSheet,
		e.Month,
	}
}

// HistoryEntryFromCells is the inverse of Cells; malformed cells coerce to
// zero values.
func HistoryEntryFromCells(cells []string, loc *time.Location) PaymentHistoryEntry {
	get := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}
	paid, _ := CoerceDate(get(0), loc)
	return PaymentHistoryEntry{
		DatePaid:    paid,
		AmountPaid:  CoerceDecimal(get(1)),
		Reference:   strings.ToUpper(get(2)),
		Payer:       get(3),
		Phone:       get(4),
		Comment:     get(5),
		AccountCode: get(6),
		TenantSheet: get(7),
		Month:       get(8),
	}
}
