// Package reporter renders the results of ledger runs for people and tools.
//
// Three kinds of result are supported:
//   - Ingest runs: message counts, amounts posted and per-tenant outcomes
//   - Maintenance passes: rows scanned and updated per tenant
//   - Payment history: audit entries grouped by month with count and total
//
// Each can be written as console text, indented JSON or CSV.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{
//		Format:        reporter.FormatJSON,
//		TableMaxWidth: 120,
//	})
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateRunReport(summary, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang-rent-ledger-service/internal/ingest"
	"golang-rent-ledger-service/internal/maintenance"
	"golang-rent-ledger-service/pkg/errors"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	// Output format
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeTenants    bool `json:"include_tenants"`
	IncludeFailures   bool `json:"include_failures"`
	IncludeExtraction bool `json:"include_extraction"`

	// Console formatting options
	TableMaxWidth int `json:"table_max_width"`
	MaxListItems  int `json:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	// SortByAmount orders tenants by amount posted instead of sheet title.
	SortByAmount bool `json:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeTenants:    true,
		IncludeFailures:   true,
		IncludeExtraction: true,
		TableMaxWidth:     120,
		MaxListItems:      10,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}

	return nil
}

// ReportGenerator renders ledger results in the configured format.
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateRunReport writes the summary of an ingest run.
func (rg *ReportGenerator) GenerateRunReport(summary *ingest.RunSummary, writer io.Writer) error {
	if summary == nil {
		return fmt.Errorf("run summary cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.runConsole(summary, writer)
	case FormatJSON:
		return rg.encodeJSON(rg.filterRunForOutput(summary), writer)
	case FormatCSV:
		return rg.runCSV(summary, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateMaintenanceReport writes the outcome of a backfill or repair pass.
func (rg *ReportGenerator) GenerateMaintenanceReport(report *maintenance.Report, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("maintenance report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.maintenanceConsole(report, writer)
	case FormatJSON:
		return rg.encodeJSON(report, writer)
	case FormatCSV:
		return rg.maintenanceCSV(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateHistoryReport writes payment history grouped by month.
func (rg *ReportGenerator) GenerateHistoryReport(history *HistorySummary, writer io.Writer) error {
	if history == nil {
		return fmt.Errorf("history summary cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.historyConsole(history, writer)
	case FormatJSON:
		return rg.encodeJSON(history, writer)
	case FormatCSV:
		return rg.historyCSV(history, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) encodeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Console output

func (rg *ReportGenerator) runConsole(s *ingest.RunSummary, writer io.Writer) error {
	title := "PAYMENT INGEST REPORT"
	if s.DryRun {
		title += " (DRY RUN)"
	}
	fmt.Fprintf(writer, "%s\n", title)
	fmt.Fprintf(writer, "Run ID: %s\n", s.RunID)
	fmt.Fprintf(writer, "Started: %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration: %v\n", s.Duration().Round(time.Millisecond))
	if s.Stopped() {
		fmt.Fprintf(writer, "STOPPED EARLY: %s\n", s.StopReason)
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Messages:    %d\n", s.Messages)
	fmt.Fprintf(writer, "  Posted:     %d (%.1f%%)\n", s.Posted, rg.calculatePercentage(s.Posted, s.Messages))
	fmt.Fprintf(writer, "  Duplicates: %d (%.1f%%)\n", s.Duplicates, rg.calculatePercentage(s.Duplicates, s.Messages))
	fmt.Fprintf(writer, "  Skipped:    %d (%.1f%%)\n", s.Skipped, rg.calculatePercentage(s.Skipped, s.Messages))
	fmt.Fprintf(writer, "  Failed:     %d (%.1f%%)\n", s.Failed, rg.calculatePercentage(s.Failed, s.Messages))
	fmt.Fprintf(writer, "Marked read: %d\n", s.MarkedRead)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== FINANCIAL SUMMARY ===\n")
	fmt.Fprintf(writer, "Amount Posted: KES %s\n", s.AmountPosted.StringFixed(2))
	fmt.Fprintf(writer, "Carry Rows:    %d\n", s.CarryRows)
	if s.EventsFailed > 0 {
		fmt.Fprintf(writer, "Events Failed: %d\n", s.EventsFailed)
	}
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeExtraction {
		fmt.Fprintf(writer, "=== EXTRACTION ===\n")
		fmt.Fprintf(writer, "Attempted: %d\n", s.Extraction.Attempted)
		fmt.Fprintf(writer, "Extracted: %d (%.1f%%)\n", s.Extraction.Extracted,
			rg.calculatePercentage(s.Extraction.Extracted, s.Extraction.Attempted))
		fmt.Fprintf(writer, "Failed:    %d\n", s.Extraction.Failed)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeTenants && len(s.Tenants) > 0 {
		fmt.Fprintf(writer, "=== TENANTS ===\n")
		rg.printTenants(s.Tenants, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeFailures && len(s.Failures) > 0 {
		fmt.Fprintf(writer, "=== FAILURES ===\n")
		rg.printFailures(s.Failures, writer)
	}
	return nil
}

func (rg *ReportGenerator) printTenants(tenants []*ingest.TenantResult, writer io.Writer) {
	ordered := rg.orderTenants(tenants)
	for i, t := range ordered {
		status := "ok"
		if t.Failed {
			status = "FAILED"
		} else if t.Created {
			status = "created"
		}
		fmt.Fprintf(writer, "  %d. %s [%s] payments: %d, amount: %s, carry rows: %d, balance: %s\n",
			i+1,
			rg.truncate(t.Sheet, 40),
			status,
			t.Payments,
			t.Amount.StringFixed(2),
			t.CarryRows,
			t.Balance.StringFixed(2))
		if t.Failed && t.Error != "" {
			fmt.Fprintf(writer, "     %s\n", rg.truncate(t.Error, rg.config.TableMaxWidth-5))
		}
		if rg.limitReached(i, len(ordered), writer) {
			break
		}
	}
}

func (rg *ReportGenerator) printFailures(failures []errors.Failure, writer io.Writer) {
	fmt.Fprintf(writer, "Total Failures: %d\n\n", len(failures))

	byCategory := make(map[errors.ErrorCategory][]errors.Failure)
	var categories []string
	for _, f := range failures {
		category := errors.CategoryInternal
		if f.Err != nil {
			category = f.Err.Category
		}
		if _, seen := byCategory[category]; !seen {
			categories = append(categories, string(category))
		}
		byCategory[category] = append(byCategory[category], f)
	}
	sort.Strings(categories)

	for _, category := range categories {
		group := byCategory[errors.ErrorCategory(category)]
		fmt.Fprintf(writer, "%s (%d):\n", strings.ToUpper(category), len(group))
		for i, f := range group {
			message := "unknown error"
			if f.Err != nil {
				message = f.Err.Message
			}
			fmt.Fprintf(writer, "  - %s: %s\n", f.Item, rg.truncate(message, rg.config.TableMaxWidth-len(f.Item)-6))
			if rg.limitReached(i, len(group), writer) {
				break
			}
		}
		fmt.Fprintf(writer, "\n")
	}
}

func (rg *ReportGenerator) maintenanceConsole(r *maintenance.Report, writer io.Writer) error {
	fmt.Fprintf(writer, "MAINTENANCE REPORT: %s\n", strings.ToUpper(r.Operation))
	fmt.Fprintf(writer, "Run ID: %s\n", r.ID)
	fmt.Fprintf(writer, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(writer, "Duration: %v\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Tenants:      %d\n", len(r.Tenants))
	fmt.Fprintf(writer, "Rows Scanned: %d\n", r.RowsScanned)
	fmt.Fprintf(writer, "Rows Updated: %d (%.1f%%)\n", r.RowsUpdated, rg.calculatePercentage(r.RowsUpdated, r.RowsScanned))
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeTenants && len(r.Tenants) > 0 {
		fmt.Fprintf(writer, "=== TENANTS ===\n")
		for i, t := range r.Tenants {
			status := "ok"
			if t.Failed {
				status = "FAILED"
			}
			fmt.Fprintf(writer, "  %d. %s [%s] rows: %d, updated: %d, unparseable: %d, batches: %d, sorted: %t\n",
				i+1, rg.truncate(t.Sheet, 40), status, t.Rows, t.Updated, t.Unparseable, t.Batches, t.Sorted)
			if rg.limitReached(i, len(r.Tenants), writer) {
				break
			}
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeFailures && len(r.Failures) > 0 {
		fmt.Fprintf(writer, "=== FAILURES ===\n")
		rg.printFailures(r.Failures, writer)
	}
	return nil
}

func (rg *ReportGenerator) historyConsole(h *HistorySummary, writer io.Writer) error {
	fmt.Fprintf(writer, "PAYMENT HISTORY\n")
	fmt.Fprintf(writer, "Payments: %d\n", h.Payments)
	fmt.Fprintf(writer, "Total:    KES %s\n\n", h.Total.StringFixed(2))

	if len(h.Months) == 0 {
		fmt.Fprintf(writer, "No payments recorded.\n")
		return nil
	}

	fmt.Fprintf(writer, "=== BY MONTH ===\n")
	fmt.Fprintf(writer, "%-10s %9s %15s\n", "Month", "Payments", "Total")
	for _, m := range h.Months {
		fmt.Fprintf(writer, "%-10s %9d %15s\n", m.Month, m.Payments, m.Total.StringFixed(2))
	}
	return nil
}

// CSV output

func (rg *ReportGenerator) newCSV(writer io.Writer) *csv.Writer {
	w := csv.NewWriter(writer)
	w.Comma = rg.config.CSVDelimiter
	return w
}

func (rg *ReportGenerator) runCSV(s *ingest.RunSummary, writer io.Writer) error {
	w := rg.newCSV(writer)

	if rg.config.CSVHeaders {
		headers := []string{
			"Run_ID",
			"Sheet",
			"Account_Code",
			"Status",
			"Payments",
			"Amount",
			"Carry_Rows",
			"Rows_Written",
			"Cells_Written",
			"Retries",
			"Balance",
			"Error",
		}
		if err := w.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, t := range rg.orderTenants(s.Tenants) {
		status := "Posted"
		if t.Failed {
			status = "Failed"
		}
		record := []string{
			s.RunID,
			t.Sheet,
			t.AccountCode,
			status,
			strconv.Itoa(t.Payments),
			t.Amount.StringFixed(2),
			strconv.Itoa(t.CarryRows),
			strconv.Itoa(t.RowsWritten),
			strconv.Itoa(t.CellsWritten),
			strconv.Itoa(t.Retries),
			t.Balance.StringFixed(2),
			t.Error,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write tenant record: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func (rg *ReportGenerator) maintenanceCSV(r *maintenance.Report, writer io.Writer) error {
	w := rg.newCSV(writer)

	if rg.config.CSVHeaders {
		headers := []string{"Operation", "Sheet", "Rows", "Updated", "Unparseable", "Batches", "Retries", "Sorted", "Failed", "Error"}
		if err := w.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, t := range r.Tenants {
		record := []string{
			r.Operation,
			t.Sheet,
			strconv.Itoa(t.Rows),
			strconv.Itoa(t.Updated),
			strconv.Itoa(t.Unparseable),
			strconv.Itoa(t.Batches),
			strconv.Itoa(t.Retries),
			strconv.FormatBool(t.Sorted),
			strconv.FormatBool(t.Failed),
			t.Error,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write tenant record: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func (rg *ReportGenerator) historyCSV(h *HistorySummary, writer io.Writer) error {
	w := rg.newCSV(writer)

	if rg.config.CSVHeaders {
		if err := w.Write([]string{"Month", "Payments", "Total"}); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, m := range h.Months {
		record := []string{m.Month, strconv.Itoa(m.Payments), m.Total.StringFixed(2)}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write month record: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// Helper methods

func (rg *ReportGenerator) orderTenants(tenants []*ingest.TenantResult) []*ingest.TenantResult {
	ordered := append([]*ingest.TenantResult(nil), tenants...)
	if rg.config.SortByAmount {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Amount.GreaterThan(ordered[j].Amount)
		})
	}
	return ordered
}

// limitReached prints the overflow line once i reaches MaxListItems.
func (rg *ReportGenerator) limitReached(i, total int, writer io.Writer) bool {
	limit := rg.config.MaxListItems
	if limit == 0 || i < limit-1 || total <= limit {
		return false
	}
	fmt.Fprintf(writer, "  ... and %d more\n", total-limit)
	return true
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) truncate(s string, width int) string {
	if width < 4 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}

func (rg *ReportGenerator) filterRunForOutput(s *ingest.RunSummary) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":        s.RunID,
		"started_at":    s.StartedAt,
		"finished_at":   s.FinishedAt,
		"dry_run":       s.DryRun,
		"messages":      s.Messages,
		"posted":        s.Posted,
		"duplicates":    s.Duplicates,
		"skipped":       s.Skipped,
		"failed":        s.Failed,
		"marked_read":   s.MarkedRead,
		"amount_posted": s.AmountPosted,
		"carry_rows":    s.CarryRows,
		"events_failed": s.EventsFailed,
	}

	if s.Stopped() {
		output["stop_reason"] = s.StopReason
	}

	if rg.config.IncludeExtraction {
		output["extraction"] = s.Extraction
	}

	if rg.config.IncludeTenants {
		output["tenants"] = rg.orderTenants(s.Tenants)
	}

	if rg.config.IncludeFailures && len(s.Failures) > 0 {
		output["failures"] = s.Failures
	}

	return output
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
