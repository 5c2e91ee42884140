package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryExtraction      ErrorCategory = "extraction"
	CategoryDuplicate       ErrorCategory = "duplicate"
	CategoryLedgerStructure ErrorCategory = "ledger_structure"
	CategoryQuota           ErrorCategory = "quota"
	CategorySort            ErrorCategory = "sort"
	CategoryStorage         ErrorCategory = "storage"
	CategoryMail            ErrorCategory = "mail"
	CategoryConfiguration   ErrorCategory = "configuration"
	CategoryInternal        ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Extraction errors
	CodeUnrecognizedNotification ErrorCode = "unrecognized_notification"
	CodeInvalidAmount            ErrorCode = "invalid_amount"
	CodeInvalidTimestamp         ErrorCode = "invalid_timestamp"

	// Duplicate errors
	CodeDuplicateReference ErrorCode = "duplicate_reference"

	// Ledger structure errors
	CodeHeaderNotFound ErrorCode = "header_not_found"
	CodeTenantNotFound ErrorCode = "tenant_not_found"

	// Quota errors
	CodeQuotaExceeded ErrorCode = "quota_exceeded"

	// Sort errors
	CodeSortFailed ErrorCode = "sort_failed"

	// Storage errors
	CodeReadFailed   ErrorCode = "read_failed"
	CodeWriteFailed  ErrorCode = "write_failed"
	CodeResizeFailed ErrorCode = "resize_failed"
	CodeSheetMissing ErrorCode = "sheet_missing"

	// Mail errors
	CodeMailboxUnavailable ErrorCode = "mailbox_unavailable"
	CodeMessageUnreadable  ErrorCode = "message_unreadable"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// LedgerError is the base error type for all application errors
type LedgerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *LedgerError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// Is matches another LedgerError by category and code, so sentinel values
// such as ErrDuplicateReference work with errors.Is.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return e.Category == t.Category && (t.Code == "" || e.Code == t.Code)
}

// GetExitCode returns an appropriate exit code for the error
func (e *LedgerError) GetExitCode() int {
	switch e.Category {
	case CategoryStorage, CategoryMail:
		return 2
	case CategoryExtraction, CategoryLedgerStructure:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryInternal:
		return 5
	case CategoryQuota:
		return 75 // EX_TEMPFAIL, the run can be resumed
	case CategoryDuplicate, CategorySort:
		return 0
	default:
		return 1
	}
}

// Recoverable reports whether the caller may pause and retry the operation.
func (e *LedgerError) Recoverable() bool {
	return e.Category == CategoryQuota
}

// WithContext adds context information to the error
func (e *LedgerError) WithContext(key string, value interface{}) *LedgerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *LedgerError) WithSuggestion(suggestion string) *LedgerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new LedgerError
func New(category ErrorCategory, code ErrorCode, message string) *LedgerError {
	return &LedgerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with LedgerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *LedgerError {
	if err == nil {
		return nil
	}

	return &LedgerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Sentinels for errors.Is checks. They carry no stack and must not be mutated.
var (
	ErrExtractionFailure  = &LedgerError{Category: CategoryExtraction}
	ErrDuplicateReference = &LedgerError{Category: CategoryDuplicate, Code: CodeDuplicateReference}
	ErrLedgerStructure    = &LedgerError{Category: CategoryLedgerStructure}
	ErrQuotaExceeded      = &LedgerError{Category: CategoryQuota, Code: CodeQuotaExceeded}
	ErrSortFailure        = &LedgerError{Category: CategorySort, Code: CodeSortFailed}
)

// ExtractionFailure reports a notification that does not have the expected shape.
func ExtractionFailure(code ErrorCode, snippet string, err error) *LedgerError {
	var message string
	switch code {
	case CodeInvalidAmount:
		message = "notification amount could not be parsed"
	case CodeInvalidTimestamp:
		message = "notification timestamp could not be parsed"
	default:
		message = "text is not a recognized payment notification"
	}

	var result *LedgerError
	if err != nil {
		result = Wrap(err, CategoryExtraction, code, message)
	} else {
		result = New(CategoryExtraction, code, message)
	}

	return result.
		WithSuggestion("check the notification pattern settings against the message body").
		WithContext("snippet", truncate(snippet, 80))
}

// DuplicateReference reports a reference that has already been posted.
func DuplicateReference(reference string) *LedgerError {
	return New(CategoryDuplicate, CodeDuplicateReference,
		fmt.Sprintf("reference %s has already been processed", reference)).
		WithContext("reference", reference)
}

// LedgerStructureError reports a tenant sheet that cannot be used as a ledger.
func LedgerStructureError(code ErrorCode, sheet string, detail string) *LedgerError {
	var message string
	var suggestion string

	switch code {
	case CodeHeaderNotFound:
		message = fmt.Sprintf("ledger header row not found in sheet %q: %s", sheet, detail)
		suggestion = "make sure one of the first rows carries the Month, Date Due, Amount Due and Amount Paid labels"
	case CodeTenantNotFound:
		message = fmt.Sprintf("no ledger sheet for account %q", sheet)
		suggestion = "create a sheet whose title starts with the account code or enable auto-create"
	default:
		message = fmt.Sprintf("ledger structure error in sheet %q: %s", sheet, detail)
		suggestion = "check the sheet layout"
	}

	return New(CategoryLedgerStructure, code, message).
		WithSuggestion(suggestion).
		WithContext("sheet", sheet)
}

// QuotaExceeded reports a rate limit that outlasted every retry.
func QuotaExceeded(operation string, attempts int, err error) *LedgerError {
	message := fmt.Sprintf("storage rate limit still active after %d attempts during %s", attempts, operation)
	var result *LedgerError
	if err != nil {
		result = Wrap(err, CategoryQuota, CodeQuotaExceeded, message)
	} else {
		result = New(CategoryQuota, CodeQuotaExceeded, message)
	}
	return result.
		WithSuggestion("wait for the quota window to reset and run again; processed references are skipped").
		WithContext("operation", operation).
		WithContext("attempts", attempts)
}

// SortFailure reports a failed best-effort re-sort.
func SortFailure(sheet string, err error) *LedgerError {
	return Wrap(err, CategorySort, CodeSortFailed, fmt.Sprintf("could not sort ledger rows in %q", sheet)).
		WithContext("sheet", sheet)
}

// StorageError creates a storage-related error
func StorageError(code ErrorCode, sheet string, err error) *LedgerError {
	var message string
	var suggestion string

	switch code {
	case CodeReadFailed:
		message = fmt.Sprintf("failed to read sheet %q", sheet)
		suggestion = "check that the workbook is reachable and not locked"
	case CodeWriteFailed:
		message = fmt.Sprintf("failed to write sheet %q", sheet)
		suggestion = "check write access to the workbook"
	case CodeResizeFailed:
		message = fmt.Sprintf("failed to expand grid of sheet %q", sheet)
		suggestion = "check the sheet is not protected"
	case CodeSheetMissing:
		message = fmt.Sprintf("sheet %q does not exist", sheet)
		suggestion = "check the sheet title"
	default:
		message = fmt.Sprintf("storage error on sheet %q", sheet)
		suggestion = "check the workbook and try again"
	}

	var result *LedgerError
	if err != nil {
		result = Wrap(err, CategoryStorage, code, message)
	} else {
		result = New(CategoryStorage, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("sheet", sheet)
}

// MailError creates a mail-source error
func MailError(code ErrorCode, source string, err error) *LedgerError {
	var message string
	switch code {
	case CodeMailboxUnavailable:
		message = fmt.Sprintf("mailbox %s is unavailable", source)
	case CodeMessageUnreadable:
		message = fmt.Sprintf("message %s could not be read", source)
	default:
		message = fmt.Sprintf("mail error: %s", source)
	}

	var result *LedgerError
	if err != nil {
		result = Wrap(err, CategoryMail, code, message)
	} else {
		result = New(CategoryMail, code, message)
	}
	return result.WithContext("source", source)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *LedgerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting as a flag, in the config file or as a RENTLEDGER_ variable"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	var result *LedgerError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *LedgerError {
	message := fmt.Sprintf("unexpected error during %s", operation)
	var result *LedgerError
	if err != nil {
		result = Wrap(err, CategoryInternal, CodeUnexpectedError, message)
	} else {
		result = New(CategoryInternal, CodeUnexpectedError, message)
	}
	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*LedgerError        `json:"errors"`
	SampleErrors []*LedgerError        `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*LedgerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if summary.Errors == nil {
		summary.Errors = []*LedgerError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	maxCode := 0
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}
	return maxCode
}

// AsLedgerError extracts a LedgerError from an error chain
func AsLedgerError(err error) (*LedgerError, bool) {
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a LedgerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *LedgerError {
	if err == nil {
		return nil
	}

	if ledgerErr, ok := AsLedgerError(err); ok {
		return ledgerErr
	}

	return Wrap(err, category, code, message)
}

// IsCategory reports whether err carries a LedgerError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	ledgerErr, ok := AsLedgerError(err)
	return ok && ledgerErr.Category == category
}

func IsExtractionFailure(err error) bool  { return IsCategory(err, CategoryExtraction) }
func IsDuplicateReference(err error) bool { return IsCategory(err, CategoryDuplicate) }
func IsLedgerStructure(err error) bool    { return IsCategory(err, CategoryLedgerStructure) }
func IsQuotaExceeded(err error) bool      { return IsCategory(err, CategoryQuota) }
func IsSortFailure(err error) bool        { return IsCategory(err, CategorySort) }

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
