package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"golang-rent-ledger-service/cmd/rentledger/config"
	"golang-rent-ledger-service/pkg/errors"
	"golang-rent-ledger-service/pkg/logger"

	"github.com/spf13/viper"
)

// ExitInterrupted is returned when the run was cancelled by a signal.
const ExitInterrupted = 130

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool(config.KeyVerbose),
		out:     os.Stderr,
	}
}

// HandleError prints err for the user and returns the process exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if ledgerErr, ok := errors.AsLedgerError(err); ok {
		return h.handleLedgerError(ledgerErr)
	}
	return h.handleGenericError(err)
}

// handleLedgerError prints the message, context and help for a LedgerError.
func (h *CLIErrorHandler) handleLedgerError(err *errors.LedgerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := h.getCategoryHelp(err.Category); help != "" {
		fmt.Fprintf(h.out, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles errors that are not LedgerErrors
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case stderrors.Is(err, context.Canceled):
		fmt.Fprintf(h.out, "Interrupted\n")
		fmt.Fprintf(h.out, "Suggestion: Run the command again; posted payments are not posted twice\n")
		return ExitInterrupted
	case h.isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case h.isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions on the workbook and mail directory\n")
		return 2
	case h.isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	// Cobra reports unknown flags and arguments as plain errors.
	fmt.Fprintf(h.out, "Error: %v\n", err)
	if strings.Contains(err.Error(), "unknown flag") || strings.Contains(err.Error(), "unknown command") {
		fmt.Fprintf(h.out, "Run 'rentledger --help' for usage.\n")
	}
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryQuota:
		return `Write quota help:
• The workbook kept rejecting writes after every retry
• Payments posted before the stop are saved and will not be posted again
• Run the same command later to resume with the remaining messages`

	case errors.CategoryLedgerStructure:
		return `Ledger structure help:
• Each tenant sheet needs a header row with Month, Date Due, Amount Due and Amount Paid
• The header must be within the first rows scanned (--header-scan-rows)
• Sheet titles must start with the account code, e.g. "B3 - Jane Doe"`

	case errors.CategoryStorage:
		return `Storage help:
• Check that the workbook is an .xlsx file and is not open in another program
• Check file permissions and free disk space
• For sqlite or postgres journals, check --journal-dsn`

	case errors.CategoryMail:
		return `Mail help:
• Check that --mail-dir exists and holds messages under new/
• Unreadable messages are skipped and logged; run with --verbose for details`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and RENTLEDGER_* variables
• Verify configuration file syntax if using --config
• Use 'rentledger <command> --help' to see all available options`

	case errors.CategoryExtraction:
		return `Extraction help:
• The message did not look like an M-Pesa payment notification
• Check the --query filter and the message body`

	default:
		return ""
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || stderrors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) || stderrors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") || strings.Contains(errStr, "disk full")
}
