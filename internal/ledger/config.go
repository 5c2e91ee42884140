// Package ledger reads tenant ledger sheets and resolves the billing period a
// payment belongs to.
//
// A ledger sheet is located by account code, its header row is discovered by
// a bounded scan that accepts common aliases for every column, and its rows
// are coerced into models.LedgerRow values kept in chronological order.
//
// Example usage:
//
//	config := ledger.DefaultConfig()
//	dir := ledger.NewDirectory(workbook, config)
//	sheet, created, err := dir.Ensure(ctx, "b3")
//	tl, err := ledger.Load(ctx, workbook, sheet, config)
//	row, isNew := ledger.NewResolver(config).Resolve(tl, payment.PaidAt)
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Sheets that hold bookkeeping data rather than a tenant ledger.
const (
	ProcessedRefsSheet  = "ProcessedRefs"
	PaymentHistorySheet = "PaymentHistory"
)

// DefaultLabelStyle is the month label layout used when a ledger has no
// parseable labels yet.
const DefaultLabelStyle = "Jan-2006"

// Config controls ledger discovery and period resolution.
type Config struct {
	// HeaderScanRows bounds how many leading rows are inspected for the header.
	HeaderScanRows int `json:"header_scan_rows"`

	// MinHeaderMatches is the number of recognized labels a header row needs.
	MinHeaderMatches int `json:"min_header_matches"`

	// DueDay is the day of month rent falls due.
	DueDay int `json:"due_day"`

	// DefaultRent is used for tenants whose ledger has no due amount yet.
	DefaultRent decimal.Decimal `json:"default_rent"`

	// AutoCreate adds a sheet for unknown account codes instead of failing.
	AutoCreate bool `json:"auto_create"`

	// AutoCreateSuffix is appended to the uppercased code for new sheets.
	AutoCreateSuffix string `json:"auto_create_suffix"`

	// MetaSheets are never treated as tenant ledgers.
	MetaSheets []string `json:"meta_sheets"`

	// Location is used for dates read from cells without zone information.
	Location *time.Location `json:"-"`
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() *Config {
	return &Config{
		HeaderScanRows:   10,
		MinHeaderMatches: 4,
		DueDay:           5,
		DefaultRent:      decimal.Zero,
		AutoCreate:       true,
		AutoCreateSuffix: " - AutoAdded",
		MetaSheets:       []string{ProcessedRefsSheet, PaymentHistorySheet},
		Location:         time.UTC,
	}
}

// Validate checks the configuration for impossible values.
func (c *Config) Validate() error {
	if c.HeaderScanRows < 1 {
		return fmt.Errorf("header scan rows must be at least 1, got %d", c.HeaderScanRows)
	}
	if c.MinHeaderMatches < 1 || c.MinHeaderMatches > len(CanonicalColumns) {
		return fmt.Errorf("min header matches must be between 1 and %d, got %d", len(CanonicalColumns), c.MinHeaderMatches)
	}
	if c.DueDay < 1 || c.DueDay > 28 {
		return fmt.Errorf("due day must be between 1 and 28, got %d", c.DueDay)
	}
	if c.DefaultRent.IsNegative() {
		return fmt.Errorf("default rent cannot be negative, got %s", c.DefaultRent.String())
	}
	if c.AutoCreate && strings.TrimSpace(c.AutoCreateSuffix) == "" {
		return fmt.Errorf("auto create suffix cannot be empty when auto create is enabled")
	}
	return nil
}

func (c *Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// IsMetaSheet reports whether title names a bookkeeping sheet.
func (c *Config) IsMetaSheet(title string) bool {
	for _, meta := range c.MetaSheets {
		if strings.EqualFold(strings.TrimSpace(title), meta) {
			return true
		}
	}
	return false
}
