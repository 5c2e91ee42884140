package errors

import (
	"fmt"
	"strings"
)

// Failure ties an error to the item (message ID, sheet title, reference) it
// was raised for.
type Failure struct {
	Item string       `json:"item"`
	Err  *LedgerError `json:"error"`
}

// FailureCollector collects per-item failures during a run so that one bad
// message or tenant never aborts the rest.
type FailureCollector struct {
	failures  []Failure
	maxErrors int
}

// NewFailureCollector creates a collector. maxErrors <= 0 means unbounded.
func NewFailureCollector(maxErrors int) *FailureCollector {
	return &FailureCollector{
		failures:  make([]Failure, 0),
		maxErrors: maxErrors,
	}
}

// Add records err for item. It returns false once the collector is full and
// the caller should stop.
func (c *FailureCollector) Add(item string, err error) bool {
	if err == nil {
		return true
	}

	ledgerErr := WrapIfNeeded(err, CategoryInternal, CodeUnexpectedError, "unexpected failure")
	c.failures = append(c.failures, Failure{Item: item, Err: ledgerErr})

	return c.maxErrors <= 0 || len(c.failures) < c.maxErrors
}

// HasErrors returns true if any errors have been collected
func (c *FailureCollector) HasErrors() bool {
	return len(c.failures) > 0
}

// Failures returns all collected failures
func (c *FailureCollector) Failures() []Failure {
	return c.failures
}

// Count returns the number of failures of the given category.
func (c *FailureCollector) Count(category ErrorCategory) int {
	n := 0
	for _, f := range c.failures {
		if f.Err.Category == category {
			n++
		}
	}
	return n
}

// GetSummary returns an error summary for all collected errors
func (c *FailureCollector) GetSummary() *ErrorSummary {
	errs := make([]*LedgerError, len(c.failures))
	for i, f := range c.failures {
		errs[i] = f.Err
	}
	return NewErrorSummary(errs)
}

// FormatFailuresForUser formats collected failures grouped by category.
func FormatFailuresForUser(failures []Failure) string {
	if len(failures) == 0 {
		return "No failures"
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Found %d failures:", len(failures)))

	byCategory := make(map[ErrorCategory][]Failure)
	var order []ErrorCategory
	for _, f := range failures {
		if _, seen := byCategory[f.Err.Category]; !seen {
			order = append(order, f.Err.Category)
		}
		byCategory[f.Err.Category] = append(byCategory[f.Err.Category], f)
	}

	maxDetailed := 3
	for _, category := range order {
		group := byCategory[category]
		lines = append(lines, fmt.Sprintf("  %s (%d)", category, len(group)))
		for i, f := range group {
			if i == maxDetailed {
				lines = append(lines, fmt.Sprintf("    ... and %d more", len(group)-maxDetailed))
				break
			}
			lines = append(lines, fmt.Sprintf("    %s: %s", f.Item, f.Err.Message))
		}
	}

	return strings.Join(lines, "\n")
}
