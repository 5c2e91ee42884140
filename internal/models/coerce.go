package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Ledger cells are typed by hand and accumulate years of formatting habits.
// The coercion helpers below never fail: a cell that does not read as a
// number is zero and a cell that does not read as a date is absent.

var currencyTokens = []string{"KSHS", "KSH", "KES", "SH", "$"}

// ParseDecimalFromString parses an amount such as "12,000.00", "KES 12,000"
// or "(500.00)". It returns an error for anything else.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	upper := strings.ToUpper(s)
	for _, token := range currencyTokens {
		upper = strings.ReplaceAll(upper, token, "")
	}
	upper = strings.ReplaceAll(upper, ",", "")
	upper = strings.ReplaceAll(upper, " ", "")
	upper = strings.TrimSuffix(upper, "/=")

	d, err := decimal.NewFromString(upper)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// CoerceDecimal reads a numeric cell, degrading to zero.
func CoerceDecimal(s string) decimal.Decimal {
	d, err := ParseDecimalFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var dateLayouts = []string{
	DatePaidLayout,
	"02/01/2006 3:04 PM",
	"2/1/2006 3:04 PM",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	DateDueLayout,
	"2/1/2006",
	"02-01-2006",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// Serial numbers outside this window are more likely amounts than dates.
const (
	minSerialDate = 25569 // 1970-01-01
	maxSerialDate = 73051 // 2100-01-01
)

// CoerceDate reads a date cell. Day-first layouts win over ISO ones, and
// spreadsheet serial numbers are accepted. ok is false when nothing matches.
func CoerceDate(s string, loc *time.Location) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial < minSerialDate || serial > maxSerialDate {
			return time.Time{}, false
		}
		parsed, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), parsed.Hour(), parsed.Minute(), parsed.Second(), 0, loc), true
	}

	candidates := []string{s}
	if upper := strings.ToUpper(s); upper != s {
		candidates = append(candidates, upper)
	}
	for _, candidate := range candidates {
		for _, layout := range dateLayouts {
			if parsed, err := time.ParseInLocation(layout, candidate, loc); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
