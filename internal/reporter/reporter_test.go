package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"golang-rent-ledger-service/internal/extractor"
	"golang-rent-ledger-service/internal/ingest"
	"golang-rent-ledger-service/internal/maintenance"
	"golang-rent-ledger-service/internal/models"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/shopspring/decimal"
)

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{
			name:        "default config",
			config:      nil,
			expectError: false,
		},
		{
			name:        "valid config",
			config:      DefaultReportConfig(),
			expectError: false,
		},
		{
			name: "invalid format",
			config: &ReportConfig{
				Format:        "invalid",
				TableMaxWidth: 120,
			},
			expectError: true,
		},
		{
			name: "table width too small",
			config: &ReportConfig{
				Format:        FormatConsole,
				TableMaxWidth: 30,
			},
			expectError: true,
		},
		{
			name: "negative list limit",
			config: &ReportConfig{
				Format:        FormatConsole,
				TableMaxWidth: 120,
				MaxListItems:  -1,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if generator == nil {
					t.Errorf("expected generator but got nil")
				}
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if tt.format.IsValid() != tt.valid {
				t.Errorf("expected IsValid() = %v for format %s", tt.valid, tt.format)
			}
		})
	}
}

func TestGenerateRunReport(t *testing.T) {
	summary := createSampleRunSummary()

	tests := []struct {
		name        string
		format      OutputFormat
		summary     *ingest.RunSummary
		expectError bool
		checkOutput func(t *testing.T, output string)
	}{
		{
			name:    "console format",
			format:  FormatConsole,
			summary: summary,
			checkOutput: func(t *testing.T, output string) {
				for _, want := range []string{
					"PAYMENT INGEST REPORT",
					"=== SUMMARY ===",
					"=== FINANCIAL SUMMARY ===",
					"Amount Posted: KES 48000.00",
					"=== TENANTS ===",
					"B3 - Rama [ok]",
					"C9 - Otieno [FAILED]",
					"=== FAILURES ===",
					"LEDGER_STRUCTURE (1):",
				} {
					if !strings.Contains(output, want) {
						t.Errorf("console output should contain %q", want)
					}
				}
			},
		},
		{
			name:    "JSON format",
			format:  FormatJSON,
			summary: summary,
			checkOutput: func(t *testing.T, output string) {
				var jsonData map[string]interface{}
				if err := json.Unmarshal([]byte(output), &jsonData); err != nil {
					t.Fatalf("output should be valid JSON: %v", err)
				}
				for _, key := range []string{"run_id", "posted", "amount_posted", "tenants", "failures", "extraction"} {
					if _, exists := jsonData[key]; !exists {
						t.Errorf("JSON output should contain %s", key)
					}
				}
				if jsonData["amount_posted"] != "48000" {
					t.Errorf("amount_posted = %v, want the decimal string 48000", jsonData["amount_posted"])
				}
			},
		},
		{
			name:    "CSV format",
			format:  FormatCSV,
			summary: summary,
			checkOutput: func(t *testing.T, output string) {
				records, err := csv.NewReader(strings.NewReader(output)).ReadAll()
				if err != nil {
					t.Fatalf("output should be valid CSV: %v", err)
				}
				if len(records) != 3 {
					t.Fatalf("expected header and two tenant rows, got %d records", len(records))
				}
				if records[0][0] != "Run_ID" || records[0][1] != "Sheet" {
					t.Errorf("unexpected CSV headers: %v", records[0])
				}
				if records[1][1] != "B3 - Rama" || records[1][5] != "48000.00" {
					t.Errorf("unexpected first tenant row: %v", records[1])
				}
				if records[2][3] != "Failed" {
					t.Errorf("second tenant should be marked failed: %v", records[2])
				}
			},
		},
		{
			name:        "nil summary",
			format:      FormatConsole,
			summary:     nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultReportConfig()
			config.Format = tt.format
			generator, err := NewReportGenerator(config)
			if err != nil {
				t.Fatalf("failed to create report generator: %v", err)
			}

			var buffer bytes.Buffer
			err = generator.GenerateRunReport(tt.summary, &buffer)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkOutput != nil {
				tt.checkOutput(t, buffer.String())
			}
		})
	}
}

func TestConsoleOutputSections(t *testing.T) {
	summary := createSampleRunSummary()

	tests := []struct {
		name             string
		config           *ReportConfig
		shouldContain    []string
		shouldNotContain []string
	}{
		{
			name:   "all sections enabled",
			config: DefaultReportConfig(),
			shouldContain: []string{
				"=== SUMMARY ===",
				"=== FINANCIAL SUMMARY ===",
				"=== EXTRACTION ===",
				"=== TENANTS ===",
				"=== FAILURES ===",
			},
		},
		{
			name: "minimal sections",
			config: &ReportConfig{
				Format:        FormatConsole,
				TableMaxWidth: 120,
			},
			shouldContain: []string{
				"=== SUMMARY ===",
				"=== FINANCIAL SUMMARY ===",
			},
			shouldNotContain: []string{
				"=== EXTRACTION ===",
				"=== TENANTS ===",
				"=== FAILURES ===",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if err != nil {
				t.Fatalf("failed to create report generator: %v", err)
			}

			var buffer bytes.Buffer
			if err := generator.GenerateRunReport(summary, &buffer); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			output := buffer.String()
			for _, s := range tt.shouldContain {
				if !strings.Contains(output, s) {
					t.Errorf("output should contain %q", s)
				}
			}
			for _, s := range tt.shouldNotContain {
				if strings.Contains(output, s) {
					t.Errorf("output should not contain %q", s)
				}
			}
		})
	}
}

func TestStoppedAndDryRunBanners(t *testing.T) {
	summary := createSampleRunSummary()
	summary.DryRun = true
	summary.StopReason = "write quota exhausted"

	generator, _ := NewReportGenerator(DefaultReportConfig())
	var buffer bytes.Buffer
	if err := generator.GenerateRunReport(summary, &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buffer.String()
	if !strings.Contains(output, "(DRY RUN)") {
		t.Errorf("dry runs should be labelled")
	}
	if !strings.Contains(output, "STOPPED EARLY: write quota exhausted") {
		t.Errorf("stopped runs should show the reason")
	}
}

func TestTenantListLimit(t *testing.T) {
	summary := createSampleRunSummary()
	summary.Tenants = nil
	for i := 0; i < 15; i++ {
		summary.Tenants = append(summary.Tenants, &ingest.TenantResult{
			Sheet:   fmt.Sprintf("A%d", i),
			Amount:  decimal.NewFromInt(1000),
			Balance: decimal.Zero,
		})
	}

	generator, _ := NewReportGenerator(DefaultReportConfig())
	var buffer bytes.Buffer
	if err := generator.GenerateRunReport(summary, &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buffer.String()
	if !strings.Contains(output, "... and 5 more") {
		t.Errorf("long tenant lists should be cut at MaxListItems")
	}
	if strings.Contains(output, "A10 [ok]") {
		t.Errorf("the eleventh tenant should not be listed")
	}
}

func TestSortByAmount(t *testing.T) {
	summary := createSampleRunSummary()
	summary.Tenants = []*ingest.TenantResult{
		{Sheet: "A1", Amount: decimal.NewFromInt(1000), Balance: decimal.Zero},
		{Sheet: "B2", Amount: decimal.NewFromInt(9000), Balance: decimal.Zero},
	}

	config := DefaultReportConfig()
	config.SortByAmount = true
	generator, _ := NewReportGenerator(config)

	var buffer bytes.Buffer
	if err := generator.GenerateRunReport(summary, &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buffer.String()
	if strings.Index(output, "B2 [ok]") > strings.Index(output, "A1 [ok]") {
		t.Errorf("larger amounts should be listed first")
	}
	if summary.Tenants[0].Sheet != "A1" {
		t.Errorf("sorting must not reorder the caller's summary")
	}
}

func TestGenerateMaintenanceReport(t *testing.T) {
	report := &maintenance.Report{
		ID:          "maint-1",
		Operation:   maintenance.OperationBackfill,
		StartedAt:   time.Date(2025, 9, 30, 8, 0, 0, 0, time.UTC),
		FinishedAt:  time.Date(2025, 9, 30, 8, 0, 5, 0, time.UTC),
		RowsScanned: 20,
		RowsUpdated: 5,
		Tenants: []*maintenance.TenantReport{
			{Sheet: "B3 - Rama", Rows: 12, Updated: 5, Unparseable: 1, Batches: 1, Sorted: true},
			{Sheet: "Notes", Failed: true, Error: "header not found"},
		},
	}

	tests := []struct {
		format OutputFormat
		check  func(t *testing.T, output string)
	}{
		{FormatConsole, func(t *testing.T, output string) {
			if !strings.Contains(output, "MAINTENANCE REPORT: BACKFILL_MONTH_KEYS") {
				t.Errorf("console output should name the operation")
			}
			if !strings.Contains(output, "Rows Updated: 5 (25.0%)") {
				t.Errorf("console output should show the update ratio")
			}
			if !strings.Contains(output, "Notes [FAILED]") {
				t.Errorf("failed tenants should be marked")
			}
		}},
		{FormatJSON, func(t *testing.T, output string) {
			var decoded maintenance.Report
			if err := json.Unmarshal([]byte(output), &decoded); err != nil {
				t.Fatalf("output should be valid JSON: %v", err)
			}
			if decoded.RowsUpdated != 5 || len(decoded.Tenants) != 2 {
				t.Errorf("unexpected decoded report: %+v", decoded)
			}
		}},
		{FormatCSV, func(t *testing.T, output string) {
			records, err := csv.NewReader(strings.NewReader(output)).ReadAll()
			if err != nil {
				t.Fatalf("output should be valid CSV: %v", err)
			}
			if len(records) != 3 {
				t.Fatalf("expected 3 records, got %d", len(records))
			}
			if records[1][3] != "5" || records[1][7] != "true" {
				t.Errorf("unexpected tenant row: %v", records[1])
			}
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			config := DefaultReportConfig()
			config.Format = tt.format
			generator, _ := NewReportGenerator(config)

			var buffer bytes.Buffer
			if err := generator.GenerateMaintenanceReport(report, &buffer); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, buffer.String())
		})
	}
}

func TestSummarizeHistory(t *testing.T) {
	entries := []models.PaymentHistoryEntry{
		{AccountCode: "B3", Month: "2025-09", AmountPaid: decimal.NewFromInt(12000)},
		{AccountCode: "B3", Month: "2025-08", AmountPaid: decimal.NewFromInt(12000)},
		{AccountCode: "C9", Month: "2025-09", AmountPaid: decimal.RequireFromString("5000.50")},
		{AccountCode: "B3", DatePaid: time.Date(2025, 7, 3, 10, 0, 0, 0, time.UTC), AmountPaid: decimal.NewFromInt(1000)},
	}

	tests := []struct {
		name       string
		account    string
		wantCount  int
		wantTotal  string
		wantMonths []MonthTotal
	}{
		{
			name:      "all tenants",
			wantCount: 4,
			wantTotal: "30000.5",
			wantMonths: []MonthTotal{
				{Month: "2025-07", Payments: 1, Total: decimal.NewFromInt(1000)},
				{Month: "2025-08", Payments: 1, Total: decimal.NewFromInt(12000)},
				{Month: "2025-09", Payments: 2, Total: decimal.RequireFromString("17000.5")},
			},
		},
		{
			name:      "one tenant, case-insensitive",
			account:   " c9 ",
			wantCount: 1,
			wantTotal: "5000.5",
			wantMonths: []MonthTotal{
				{Month: "2025-09", Payments: 1, Total: decimal.RequireFromString("5000.5")},
			},
		},
		{
			name:       "unknown tenant",
			account:    "Z1",
			wantCount:  0,
			wantTotal:  "0",
			wantMonths: []MonthTotal{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := SummarizeHistory(entries, tt.account)
			if summary.Payments != tt.wantCount {
				t.Errorf("Payments = %d, want %d", summary.Payments, tt.wantCount)
			}
			if summary.Total.String() != tt.wantTotal {
				t.Errorf("Total = %s, want %s", summary.Total, tt.wantTotal)
			}
			if len(summary.Months) != len(tt.wantMonths) {
				t.Fatalf("got %d months, want %d", len(summary.Months), len(tt.wantMonths))
			}
			for i, want := range tt.wantMonths {
				got := summary.Months[i]
				if got.Month != want.Month || got.Payments != want.Payments || !got.Total.Equal(want.Total) {
					t.Errorf("month %d = %+v, want %+v", i, got, want)
				}
			}
		})
	}
}

func TestGenerateHistoryReport(t *testing.T) {
	history := SummarizeHistory([]models.PaymentHistoryEntry{
		{AccountCode: "B3", Month: "2025-09", AmountPaid: decimal.NewFromInt(12000)},
		{AccountCode: "B3", Month: "2025-10", AmountPaid: decimal.NewFromInt(6000)},
	}, "")

	config := DefaultReportConfig()
	generator, _ := NewReportGenerator(config)
	var buffer bytes.Buffer
	if err := generator.GenerateHistoryReport(history, &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buffer.String(), "Total:    KES 18000.00") {
		t.Errorf("console history should show the grand total")
	}

	config.Format = FormatCSV
	buffer.Reset()
	if err := generator.GenerateHistoryReport(history, &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Month,Payments,Total\n2025-09,1,12000.00\n2025-10,1,6000.00\n"
	if buffer.String() != want {
		t.Errorf("CSV history = %q, want %q", buffer.String(), want)
	}

	buffer.Reset()
	empty := SummarizeHistory(nil, "")
	config.Format = FormatConsole
	if err := generator.GenerateHistoryReport(empty, &buffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buffer.String(), "No payments recorded.") {
		t.Errorf("empty history should say so")
	}
}

func TestCalculatePercentage(t *testing.T) {
	generator, _ := NewReportGenerator(DefaultReportConfig())

	tests := []struct {
		name     string
		part     int
		total    int
		expected float64
	}{
		{"normal percentage", 25, 100, 25.0},
		{"zero total", 10, 0, 0.0},
		{"zero part", 0, 100, 0.0},
		{"full percentage", 100, 100, 100.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := generator.calculatePercentage(tt.part, tt.total)
			if result != tt.expected {
				t.Errorf("expected %.2f, got %.2f", tt.expected, result)
			}
		})
	}
}

func TestUpdateConfiguration(t *testing.T) {
	generator, _ := NewReportGenerator(DefaultReportConfig())

	newConfig := DefaultReportConfig()
	newConfig.Format = FormatJSON
	if err := generator.UpdateConfiguration(newConfig); err != nil {
		t.Errorf("unexpected error updating configuration: %v", err)
	}
	if generator.GetConfiguration().Format != FormatJSON {
		t.Errorf("configuration was not updated")
	}

	invalidConfig := &ReportConfig{Format: "invalid", TableMaxWidth: 120}
	if err := generator.UpdateConfiguration(invalidConfig); err == nil {
		t.Errorf("expected error for invalid configuration")
	}
}

func TestSafeReportGenerator(t *testing.T) {
	generator, err := NewSafeReportGenerator(DefaultReportConfig(), logger.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name        string
		result      interface{}
		expectError bool
	}{
		{"run summary", createSampleRunSummary(), false},
		{"maintenance report", &maintenance.Report{Operation: maintenance.OperationRepair}, false},
		{"history", SummarizeHistory(nil, ""), false},
		{"nil result", nil, true},
		{"unsupported type", "not a report", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buffer bytes.Buffer
			err := generator.GenerateReportSafely(tt.result, &buffer)
			if (err != nil) != tt.expectError {
				t.Errorf("GenerateReportSafely() error = %v, expectError %v", err, tt.expectError)
			}
			if !tt.expectError && buffer.Len() == 0 {
				t.Errorf("expected report output")
			}
		})
	}

	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "xml", TableMaxWidth: 120}, logger.Nop()); !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("invalid config should be a configuration error, got %v", err)
	}
}

type failingWriter struct{ failures int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.failures > 0 {
		w.failures--
		return 0, fmt.Errorf("broken pipe")
	}
	return len(p), nil
}

func TestSafeReportGenerator_FormatFallback(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, _ := NewSafeReportGenerator(config, logger.Nop())

	w := &failingWriter{failures: 1}
	if err := generator.GenerateReportSafely(createSampleRunSummary(), w); err != nil {
		t.Errorf("console fallback should succeed, got %v", err)
	}
}

func TestGenerateBackupPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/tmp/report.json", "/tmp/report_backup.json"},
		{"out/summary.csv", "out/summary_backup.csv"},
		{"report", "report_backup"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := generateBackupPath(tt.path); got != tt.want {
				t.Errorf("generateBackupPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func createSampleRunSummary() *ingest.RunSummary {
	started := time.Date(2025, 9, 30, 8, 0, 0, 0, time.UTC)
	failure := errors.LedgerStructureError(errors.CodeTenantNotFound, "C9", "no tenant sheet for account C9")

	return &ingest.RunSummary{
		RunID:        "run-1",
		StartedAt:    started,
		FinishedAt:   started.Add(3 * time.Second),
		Messages:     5,
		Posted:       2,
		Duplicates:   1,
		Skipped:      1,
		Failed:       1,
		MarkedRead:   3,
		Extraction:   extractor.Stats{Attempted: 5, Extracted: 4, Failed: 1},
		AmountPosted: decimal.NewFromInt(48000),
		CarryRows:    2,
		Tenants: []*ingest.TenantResult{
			{
				Sheet:       "B3 - Rama",
				AccountCode: "B3",
				Payments:    2,
				Amount:      decimal.NewFromInt(48000),
				CarryRows:   2,
				RowsWritten: 4,
				Balance:     decimal.Zero,
			},
			{
				Sheet:       "C9 - Otieno",
				AccountCode: "C9",
				Amount:      decimal.Zero,
				Balance:     decimal.Zero,
				Failed:      true,
				Error:       failure.Error(),
			},
		},
		Failures: []errors.Failure{{Item: "MISS000001", Err: failure}},
	}
}

func BenchmarkGenerateConsoleReport(b *testing.B) {
	summary := createSampleRunSummary()
	generator, _ := NewReportGenerator(DefaultReportConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buffer bytes.Buffer
		_ = generator.GenerateRunReport(summary, &buffer)
	}
}

func BenchmarkGenerateJSONReport(b *testing.B) {
	summary := createSampleRunSummary()
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, _ := NewReportGenerator(config)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buffer bytes.Buffer
		_ = generator.GenerateRunReport(summary, &buffer)
	}
}
