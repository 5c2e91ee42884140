package maintenance

import (
	"context"
	"testing"
	"time"

	"golang-rent-ledger-service/internal/ledger"
	"golang-rent-ledger-service/internal/storage"
	"golang-rent-ledger-service/internal/writer"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var legacyHeader = []string{"Month", "Date Due", "Amount Due", "Amount Paid", "Date Paid", "REF Number", "Comments", "Prepayment/Arrears", "Penalties"}

func newMaintainer(wb *storage.MemoryWorkbook) (*Maintainer, *int) {
	config := writer.DefaultConfig()
	config.InitialBackoff = time.Millisecond
	config.MaxAttempts = 2

	m := NewMaintainer(wb, writer.NewWriter(wb, config, logger.Nop()), ledger.DefaultConfig(), nil, logger.Nop())
	sleeps := 0
	m.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	return m, &sleeps
}

func TestBackfillMonthKeys(t *testing.T) {
	ctx := context.Background()
	wb := storage.NewMemoryWorkbook()
	wb.SetSheet("A1 - Wanjiru", [][]string{
		legacyHeader,
		{"Sep-2025", "05/09/2025", "10000", "10000", "", "", "", "", ""},
		{"August 2025", "05/08/2025", "10000", "10000", "", "", "", "", ""},
		{"2025-07", "05/07/2025", "10000", "10000", "", "", "", "", ""},
		{"deposit refund", "", "", "5000", "", "", "", "", ""},
	})
	m, sleeps := newMaintainer(wb)

	report, err := m.BackfillMonthKeys(ctx, &Options{BatchSize: 2, Delay: time.Second})
	require.NoError(t, err)
	require.Len(t, report.Tenants, 1)

	tr := report.Tenants[0]
	assert.Equal(t, 4, tr.Rows)
	assert.Equal(t, 3, tr.Updated)
	assert.Equal(t, 1, tr.Unparseable)
	assert.Equal(t, 2, tr.Batches)
	assert.True(t, tr.Sorted)
	assert.Equal(t, 1, *sleeps, "one pause between two batches")

	rows := wb.Rows("A1 - Wanjiru")
	assert.Equal(t, "MonthKey", rows[0][9])
	var keys, labels []string
	for _, r := range rows[1:] {
		key := ""
		if len(r) > 9 {
			key = r[9]
		}
		keys = append(keys, key)
		labels = append(labels, r[0])
	}
	assert.Equal(t, []string{"2025-07", "2025-08", "2025-09", ""}, keys)
	assert.Equal(t, []string{"2025-07", "August 2025", "Sep-2025", "deposit refund"}, labels)

	again, err := m.BackfillMonthKeys(ctx, &Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, again.RowsUpdated, "backfill is idempotent")
}

func TestRepairFormulas(t *testing.T) {
	ctx := context.Background()
	wb := storage.NewMemoryWorkbook()
	wb.SetSheet("B3 - Rama", [][]string{
		ledger.CanonicalHeader(),
		{"Aug-2025", "05/08/2025", "12000", "12000", "03/08/2025 10:00 AM", "QAZX123456", "None", "500", "0", "2025-08"},
		{"Sep-2025", "05/09/2025", "12000", "12000", "12/09/2025 09:30 PM", "ABCD123456", "paid late", "", "", "2025-09"},
		{"Oct-2025", "05/10/2025", "12000", "15000", "04/10/2025 08:00 AM", "EFGH123456", "None", "0", "0", "2025-10"},
	})
	m, _ := newMaintainer(wb)

	report, err := m.RepairFormulas(ctx, &Options{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, report.RowsScanned)
	assert.Equal(t, 2, report.RowsUpdated, "October already holds the right values")

	rows := wb.Rows("B3 - Rama")
	tests := []struct {
		row              int
		balance, penalty string
	}{
		{1, "0", "0"},
		{2, "-3000", "3000"},
		{3, "0", "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.balance, rows[tt.row][7], "balance of row %d", tt.row)
		assert.Equal(t, tt.penalty, rows[tt.row][8], "penalty of row %d", tt.row)
	}
	assert.Equal(t, "paid late", rows[2][6], "comments are never rewritten")

	again, err := m.RepairFormulas(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, again.RowsUpdated, "repair is idempotent")
}

func TestMaintenance_TenantFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	wb := storage.NewMemoryWorkbook()
	wb.SetSheet("Z1 - Notes", [][]string{{"just", "some"}, {"free", "text"}})
	wb.SetSheet("B3 - Rama", [][]string{
		ledger.CanonicalHeader(),
		{"Aug-2025", "05/08/2025", "12000", "12000", "03/08/2025 10:00 AM", "QAZX123456", "None", "100", "0", "2025-08"},
	})
	wb.SetSheet(ledger.ProcessedRefsSheet, [][]string{{"Ref"}})
	m, _ := newMaintainer(wb)

	report, err := m.RepairFormulas(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Tenants, 2, "bookkeeping sheets are not tenants")

	assert.True(t, report.Tenants[0].Failed)
	assert.False(t, report.Tenants[1].Failed)
	assert.Equal(t, 1, report.RowsUpdated)
	require.Len(t, report.Failures, 1)
	assert.True(t, errors.IsLedgerStructure(report.Failures[0].Err))
	assert.Equal(t, "0", wb.Value("B3 - Rama", 1, 7))
}

func TestMaintenance_QuotaStopsPass(t *testing.T) {
	ctx := context.Background()
	wb := storage.NewMemoryWorkbook()
	for _, sheet := range []string{"A1", "B3"} {
		wb.SetSheet(sheet, [][]string{
			ledger.CanonicalHeader(),
			{"Aug-2025", "05/08/2025", "12000", "0", "", "", "None", "", "", "2025-08"},
		})
	}
	wb.FailNext(storage.OpUpdate, storage.ErrRateLimited, storage.ErrRateLimited)
	m, _ := newMaintainer(wb)

	report, err := m.RepairFormulas(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.IsQuotaExceeded(err))
	require.NotNil(t, report)
	assert.Len(t, report.Tenants, 1, "the pass stops at the tenant that hit the quota")
}

func TestMaintenance_SheetFilter(t *testing.T) {
	ctx := context.Background()
	wb := storage.NewMemoryWorkbook()
	for _, sheet := range []string{"A1", "B3"} {
		wb.SetSheet(sheet, [][]string{ledger.CanonicalHeader()})
	}
	m, _ := newMaintainer(wb)

	report, err := m.BackfillMonthKeys(ctx, &Options{BatchSize: 5, Sheets: []string{"B3"}})
	require.NoError(t, err)
	require.Len(t, report.Tenants, 1)
	assert.Equal(t, "B3", report.Tenants[0].Sheet)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", *DefaultOptions(), false},
		{"zero batch", Options{BatchSize: 0}, true},
		{"negative delay", Options{BatchSize: 1, Delay: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	m, _ := newMaintainer(storage.NewMemoryWorkbook())
	_, err := m.RepairFormulas(context.Background(), &Options{})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
