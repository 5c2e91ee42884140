package ingest

import (
	"fmt"
	"sort"
	"time"

	"golang-rent-ledger-service/internal/extractor"
	"golang-rent-ledger-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// RunSummary reports what one ingest run did. A run that stops early still
// returns the summary of the work completed before it stopped.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`

	// Message counts
	Messages   int `json:"messages"`
	Posted     int `json:"posted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	MarkedRead int `json:"marked_read"`

	Extraction extractor.Stats `json:"extraction"`

	AmountPosted decimal.Decimal `json:"amount_posted"`
	CarryRows    int             `json:"carry_rows"`
	EventsFailed int             `json:"events_failed"`

	Tenants  []*TenantResult  `json:"tenants"`
	Failures []errors.Failure `json:"failures,omitempty"`

	// StopReason is set when the run ended before every message was handled.
	StopReason string `json:"stop_reason,omitempty"`
}

// TenantResult aggregates the payments posted to one tenant sheet.
type TenantResult struct {
	Sheet        string          `json:"sheet"`
	AccountCode  string          `json:"account_code"`
	Created      bool            `json:"created"`
	Payments     int             `json:"payments"`
	Amount       decimal.Decimal `json:"amount"`
	CarryRows    int             `json:"carry_rows"`
	RowsWritten  int             `json:"rows_written"`
	CellsWritten int             `json:"cells_written"`
	Retries      int             `json:"retries"`
	SortFailures int             `json:"sort_failures"`
	Balance      decimal.Decimal `json:"balance"`
	Failed       bool            `json:"failed"`
	Error        string          `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Stopped reports whether the run ended early.
func (s *RunSummary) Stopped() bool { return s.StopReason != "" }

// String returns a human-readable summary
func (s *RunSummary) String() string {
	return fmt.Sprintf("Run %s: %d messages, %d posted (KES %s), %d duplicates, %d skipped, %d failed, %d carry rows",
		s.RunID, s.Messages, s.Posted, s.AmountPosted.StringFixed(2), s.Duplicates, s.Skipped, s.Failed, s.CarryRows)
}

func (s *RunSummary) tenant(sheet, code string) *TenantResult {
	for _, t := range s.Tenants {
		if t.Sheet == sheet {
			return t
		}
	}
	t := &TenantResult{Sheet: sheet, AccountCode: code, Amount: decimal.Zero, Balance: decimal.Zero}
	s.Tenants = append(s.Tenants, t)
	return t
}

func (s *RunSummary) sortTenants() {
	sort.SliceStable(s.Tenants, func(i, j int) bool {
		return s.Tenants[i].Sheet < s.Tenants[j].Sheet
	})
}
