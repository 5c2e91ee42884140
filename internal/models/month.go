package models

import (
	"fmt"
	"time"
)

// MonthKey identifies a billing period and sorts chronologically. Its string
// form "YYYY-MM" is what the MonthKey column stores.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthKeyOf returns the calendar month of t in t's location.
func MonthKeyOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// ParseMonthKey parses the "YYYY-MM" form.
func ParseMonthKey(s string) (MonthKey, bool) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return MonthKey{}, false
	}
	return MonthKeyOf(t), true
}

func (k MonthKey) IsZero() bool { return k.Year == 0 && k.Month == 0 }

func (k MonthKey) String() string {
	if k.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// Next returns the following month.
func (k MonthKey) Next() MonthKey {
	return MonthKeyOf(time.Date(k.Year, k.Month+1, 1, 0, 0, 0, 0, time.UTC))
}

// Before reports whether k is an earlier month than other.
func (k MonthKey) Before(other MonthKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Month < other.Month
}

// Day returns the given day of the month at midnight in loc.
func (k MonthKey) Day(day int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(k.Year, k.Month, day, 0, 0, 0, 0, loc)
}
