package writer

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"golang-rent-ledger-service/internal/balance"
	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sheet = "B3 - Rama"

func fastConfig() *Config {
	config := DefaultConfig()
	config.InitialBackoff = time.Millisecond
	config.BatchSize = 4
	return config
}

func seed(t *testing.T) (*storage.MemoryWorkbook, *ledger.TenantLedger) {
	t.Helper()
	wb := storage.NewMemoryWorkbook()
	wb.SetSheet(sheet, [][]string{
		{"Month", "Date Due", "Amount Due", "Amount Paid", "Date Paid", "REF Number", "Comments", "Prepayment/Arrears", "Penalties"},
		{"Sep-2025", "05/09/2025", "15000", "", "", "", "gate fixed", "", ""},
		{"Aug-2025", "05/08/2025", "15000", "15000", "03/08/2025 10:00 AM", "QWER5678TY", "None", "0", "0"},
	})
	tl, err := ledger.Load(context.Background(), wb, sheet, ledger.DefaultConfig())
	require.NoError(t, err)
	return wb, tl
}

func post(tl *ledger.TenantLedger, amount string, paidAt time.Time, ref string) *balance.Result {
	engine := balance.NewEngine(balance.DefaultConfig(), ledger.NewResolver(ledger.DefaultConfig()))
	return engine.Apply(tl, &models.PaymentRecord{
		Amount: decimal.RequireFromString(amount), PaidAt: paidAt, AccountCode: "b3", Reference: ref,
	})
}

func TestApply_ExistingRow(t *testing.T) {
	ctx := context.Background()
	wb, tl := seed(t)
	w := NewWriter(wb, fastConfig(), logger.Nop())

	result := post(tl, "12000", time.Date(2025, 9, 12, 21, 30, 0, 0, time.UTC), "ABCD123456")
	res, err := w.Apply(ctx, tl, result.Touched, ledger.ScopePayment)
	require.NoError(t, err)

	assert.Equal(t, 1, res.RowsWritten)
	assert.Equal(t, 0, res.RowsCreated)
	assert.False(t, res.Sorted, "no new rows means no sort")

	col := tl.Layout.Columns
	assert.Equal(t, "MonthKey", wb.Value(sheet, 0, col[ledger.ColMonthKey]))
	assert.Equal(t, "12000", wb.Value(sheet, 1, col[ledger.ColAmountPaid]))
	assert.Equal(t, "12/09/2025 09:30 PM", wb.Value(sheet, 1, col[ledger.ColDatePaid]))
	assert.Equal(t, "ABCD123456", wb.Value(sheet, 1, col[ledger.ColReference]))
	assert.Equal(t, "3000", wb.Value(sheet, 1, col[ledger.ColPenalty]))
	assert.Equal(t, "-6000", wb.Value(sheet, 1, col[ledger.ColBalance]))
	assert.Equal(t, "gate fixed", wb.Value(sheet, 1, col[ledger.ColComments]), "comments are never overwritten")
	assert.Equal(t, "2025-09", wb.Value(sheet, 1, col[ledger.ColMonthKey]))
	assert.Empty(t, tl.Layout.Added)
}

func TestApply_NewRowsAreSorted(t *testing.T) {
	ctx := context.Background()
	wb, tl := seed(t)
	w := NewWriter(wb, fastConfig(), logger.Nop())

	result := post(tl, "60000", time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC), "PREP123456")
	require.Len(t, result.CarryRows, 3)

	res, err := w.Apply(ctx, tl, result.Touched, ledger.ScopePayment)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsCreated)
	assert.True(t, res.Sorted)
	assert.Greater(t, res.Batches, 1, "cells are chunked by batch size")

	rows := wb.Rows(sheet)
	require.Len(t, rows, 6)
	col := tl.Layout.Columns[ledger.ColMonthKey]
	var keys []string
	for _, r := range rows[1:] {
		key := ""
		if col < len(r) {
			key = r[col]
		}
		keys = append(keys, key)
	}
	assert.Equal(t, []string{"2025-09", "2025-10", "2025-11", "2025-12", ""}, keys, "rows without a month key sort last")

	for _, row := range tl.Rows {
		if row.MonthKey.String() == "2025-08" {
			continue
		}
		assert.Equal(t, row.MonthKey.String(), wb.Value(sheet, row.SheetRow, col), "in-memory rows follow the sort")
	}
	last := result.CarryRows[2]
	assert.Equal(t, models.CarryComment, wb.Value(sheet, last.SheetRow, tl.Layout.Columns[ledger.ColComments]))
	assert.Equal(t, "0", wb.Value(sheet, last.SheetRow, tl.Layout.Columns[ledger.ColBalance]))
}

func TestApply_GridExpansion(t *testing.T) {
	ctx := context.Background()
	wb, tl := seed(t)
	wb.SetGrid(sheet, 3, 9)
	w := NewWriter(wb, fastConfig(), logger.Nop())

	result := post(tl, "15000", time.Date(2025, 10, 3, 8, 0, 0, 0, time.UTC), "OCT0000001")
	res, err := w.Apply(ctx, tl, result.Touched, ledger.ScopePayment)
	require.NoError(t, err)
	assert.True(t, res.GridResized)
	assert.Equal(t, 1, wb.Calls(storage.OpResize))
}

func TestApply_ResizeFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	wb, tl := seed(t)
	wb.SetGrid(sheet, 3, 9)
	wb.FailNext(storage.OpResize, stderrors.New("grid locked"))
	w := NewWriter(wb, fastConfig(), logger.Nop())

	result := post(tl, "15000", time.Date(2025, 10, 3, 8, 0, 0, 0, time.UTC), "OCT0000001")
	_, err := w.Apply(ctx, tl, result.Touched, ledger.ScopePayment)
	require.Error(t, err)

	le, ok := errors.AsLedgerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeResizeFailed, le.Code)
	assert.Equal(t, 0, wb.Calls(storage.OpUpdate), "nothing is written when the grid cannot grow")
}

func TestApply_RetriesRateLimits(t *testing.T) {
	ctx := context.Background()
	wb, tl := seed(t)
	wb.FailNext(storage.OpUpdate, storage.ErrRateLimited, storage.ErrRateLimited)
	w := NewWriter(wb, fastConfig(), logger.Nop())

	result := post(tl, "15000", time.Date(2025, 9, 3, 8, 0, 0, 0, time.UTC), "SEP0000001")
	res, err := w.Apply(ctx, tl, result.Touched, ledger.ScopePayment)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, "0", wb.Value(sheet, 1, tl.Layout.Columns[ledger.ColBalance]))
}

func TestApply_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	wb, tl := seed(t)
	config := fastConfig()
	failures := make([]error, config.MaxAttempts)
	for i := range failures {
		failures[i] = storage.ErrRateLimited
	}
	wb.FailNext(storage.OpUpdate, failures...)
	w := NewWriter(wb, config, logger.Nop())

	result := post(tl, "15000", time.Date(2025, 9, 3, 8, 0, 0, 0, time.UTC), "SEP0000001")
	_, err := w.Apply(ctx, tl, result.Touched, ledger.ScopePayment)
	require.Error(t, err)
	assert.True(t, errors.IsQuotaExceeded(err))
	assert.Equal(t, config.MaxAttempts, wb.Calls(storage.OpUpdate))
}

func TestApply_SortFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	wb, tl := seed(t)
	wb.FailNext(storage.OpSort, stderrors.New("protected range"))
	w := NewWriter(wb, fastConfig(), logger.Nop())

	result := post(tl, "15000", time.Date(2025, 10, 3, 8, 0, 0, 0, time.UTC), "OCT0000001")
	res, err := w.Apply(ctx, tl, result.Touched, ledger.ScopePayment)
	require.NoError(t, err)
	assert.False(t, res.Sorted)
	assert.Equal(t, 1, res.SortFailures)

	october, _ := tl.Find(models.MonthKey{Year: 2025, Month: time.October})
	require.NotNil(t, october)
	assert.Equal(t, 3, october.SheetRow, "rows keep their appended position when the sort fails")
}

func TestApply_HighlightsOncePerSheet(t *testing.T) {
	ctx := context.Background()
	wb, tl := seed(t)
	w := NewWriter(wb, fastConfig(), logger.Nop())

	first := post(tl, "5000", time.Date(2025, 9, 2, 8, 0, 0, 0, time.UTC), "AAAA111122")
	res, err := w.Apply(ctx, tl, first.Touched, ledger.ScopePayment)
	require.NoError(t, err)
	assert.True(t, res.Highlighted)

	second := post(tl, "5000", time.Date(2025, 9, 3, 8, 0, 0, 0, time.UTC), "BBBB333344")
	res, err = w.Apply(ctx, tl, second.Touched, ledger.ScopePayment)
	require.NoError(t, err)
	assert.False(t, res.Highlighted)
	assert.Equal(t, 1, wb.Calls(storage.OpStyle))

	rules := wb.Highlights(sheet)
	col := tl.Layout.Columns
	require.Len(t, rules, 2)
	assert.Equal(t, "less than", rules[col[ledger.ColBalance]].Criteria)
	assert.Equal(t, ledger.ArrearsColor, rules[col[ledger.ColBalance]].Color)
	assert.Equal(t, "greater than", rules[col[ledger.ColPenalty]].Criteria)
	assert.Equal(t, ledger.PenaltyColor, rules[col[ledger.ColPenalty]].Color)
}

func TestApply_HighlightFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	wb, tl := seed(t)
	wb.FailNext(storage.OpStyle, stderrors.New("protected sheet"))
	w := NewWriter(wb, fastConfig(), logger.Nop())

	result := post(tl, "5000", time.Date(2025, 9, 2, 8, 0, 0, 0, time.UTC), "AAAA111122")
	res, err := w.Apply(ctx, tl, result.Touched, ledger.ScopePayment)
	require.NoError(t, err)
	assert.False(t, res.Highlighted)
	assert.Empty(t, wb.Highlights(sheet))

	result = post(tl, "5000", time.Date(2025, 9, 3, 8, 0, 0, 0, time.UTC), "BBBB333344")
	res, err = w.Apply(ctx, tl, result.Touched, ledger.ScopePayment)
	require.NoError(t, err)
	assert.True(t, res.Highlighted, "a failed attempt is retried on the next write")
	assert.Len(t, wb.Highlights(sheet), 2)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"default", func(c *Config) {}, false},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, true},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, true},
		{"zero backoff", func(c *Config) { c.InitialBackoff = 0 }, true},
		{"shrinking multiplier", func(c *Config) { c.Multiplier = 0.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
