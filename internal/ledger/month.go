package ledger

import (
	"strings"
	"time"

	"golang-rent-ledger-service/internal/models"
)

// LabelStyles are the month label layouts recognized in the Month column,
// most common first. Month names match case-insensitively.
var LabelStyles = []string{
	"Jan-2006",
	"January 2006",
	"Jan 2006",
	"January-2006",
	"2006-01",
	"2006/01",
	"01/2006",
	"01-2006",
}

// ParseMonthLabel reads a Month cell and returns its key and the layout it
// matched.
func ParseMonthLabel(label string) (models.MonthKey, string, bool) {
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return models.MonthKey{}, "", false
	}
	for _, style := range LabelStyles {
		if t, err := time.Parse(style, label); err == nil {
			return models.MonthKeyOf(t), style, true
		}
	}
	return models.MonthKey{}, "", false
}

// FormatMonthLabel renders key in the given layout, falling back to
// DefaultLabelStyle.
func FormatMonthLabel(key models.MonthKey, style string) string {
	if style == "" {
		style = DefaultLabelStyle
	}
	return key.Day(1, time.UTC).Format(style)
}
