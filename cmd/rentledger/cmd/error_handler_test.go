package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"
)

func newTestHandler(verbose bool) (*CLIErrorHandler, *bytes.Buffer) {
	var out bytes.Buffer
	return &CLIErrorHandler{logger: logger.Nop(), verbose: verbose, out: &out}, &out
}

func TestHandleError_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil", err: nil, expected: 0},
		{name: "quota", err: errors.QuotaExceeded("update B3", 6, fmt.Errorf("429")), expected: 75},
		{name: "ledger structure", err: errors.LedgerStructureError(errors.CodeHeaderNotFound, "B3 - Rama", "no header"), expected: 3},
		{name: "configuration", err: errors.ConfigurationError(errors.CodeMissingConfig, "workbook", "", nil), expected: 4},
		{name: "storage", err: errors.StorageError(errors.CodeWriteFailed, "B3 - Rama", fmt.Errorf("disk")), expected: 2},
		{name: "internal", err: errors.InternalError("report", fmt.Errorf("boom")), expected: 5},
		{name: "wrapped ledger error", err: fmt.Errorf("run: %w", errors.QuotaExceeded("append", 6, nil)), expected: 75},
		{name: "interrupted", err: fmt.Errorf("search: %w", context.Canceled), expected: ExitInterrupted},
		{name: "file not found", err: &os.PathError{Op: "open", Path: "x.xlsx", Err: os.ErrNotExist}, expected: 2},
		{name: "permission", err: &os.PathError{Op: "open", Path: "x.xlsx", Err: os.ErrPermission}, expected: 2},
		{name: "generic", err: fmt.Errorf("unknown flag: --nope"), expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(false)
			if code := h.HandleError(tt.err); code != tt.expected {
				t.Errorf("expected exit code %d, got %d", tt.expected, code)
			}
		})
	}
}

func TestHandleError_LedgerErrorOutput(t *testing.T) {
	h, out := newTestHandler(true)
	err := errors.QuotaExceeded("update B3", 6, fmt.Errorf("rate limited")).
		WithContext("sheet", "B3 - Rama").
		WithSuggestion("Wait and run again")

	h.HandleError(err)
	output := out.String()

	for _, want := range []string{
		"Error: ",
		"Context:",
		"sheet: B3 - Rama",
		"Suggestion: Wait and run again",
		"Write quota help:",
		"Underlying error: rate limited",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, output)
		}
	}
}

func TestHandleError_QuietWithoutVerbose(t *testing.T) {
	h, out := newTestHandler(false)
	h.HandleError(errors.StorageError(errors.CodeReadFailed, "", fmt.Errorf("corrupt zip")))

	if strings.Contains(out.String(), "Underlying error") {
		t.Errorf("cause should only be shown in verbose mode, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Storage help:") {
		t.Errorf("expected storage help, got:\n%s", out.String())
	}
}

func TestGetCategoryHelp(t *testing.T) {
	h, _ := newTestHandler(false)
	categories := []errors.ErrorCategory{
		errors.CategoryQuota,
		errors.CategoryLedgerStructure,
		errors.CategoryStorage,
		errors.CategoryMail,
		errors.CategoryConfiguration,
		errors.CategoryExtraction,
	}
	for _, category := range categories {
		if h.getCategoryHelp(category) == "" {
			t.Errorf("expected help text for %s", category)
		}
	}
	if h.getCategoryHelp(errors.CategoryInternal) != "" {
		t.Error("expected no help text for internal errors")
	}
}
