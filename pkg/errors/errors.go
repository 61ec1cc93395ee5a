// Package errors classifies the failures a reconciliation run can hit and
// carries enough context (document, row, setting, backend address) for the
// CLI to print an actionable message and exit with a stable code.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups failures by the stage of the run they come from. The
// category alone decides the process exit code.
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryBackend        ErrorCategory = "backend"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode narrows a category to one concrete failure.
type ErrorCode string

const (
	// File access
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeDirectoryError ErrorCode = "directory_error"

	// Document parsing
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"
	CodeEncodingError ErrorCode = "encoding_error"

	// Field validation
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"
	CodeOutOfRange    ErrorCode = "out_of_range"

	// Configuration
	CodeInvalidConfig ErrorCode = "invalid_config"

	// Reconciliation run
	CodeProcessingError ErrorCode = "processing_error"

	// Workflow and history backends
	CodeConnectionFailed ErrorCode = "connection_failed"

	// Internal
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the error type every stage of the engine reports
// through. It pairs the failure with a suggestion for the operator and a
// context map that the CLI prints verbatim.
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries structured detail about the failure, keyed for display.
type Context map[string]interface{}

func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode maps the category to the exit code documented in the CLI help.
// Scripts driving the reconciler branch on these values.
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryBackend:
		return 6
	default:
		return 1
	}
}

// WithContext attaches a key for the CLI's context dump.
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion sets the operator-facing remediation hint.
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a ReconcilerError with a captured stack trace.
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap attaches category and code to an underlying error. Returns nil for a
// nil cause so call sites can wrap unconditionally.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
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

// build is the common tail of the typed constructors below.
func build(err error, category ErrorCategory, code ErrorCode, message, suggestion string) *ReconcilerError {
	result := Wrap(err, category, code, message)
	if result == nil {
		result = New(category, code, message)
	}
	return result.WithSuggestion(suggestion)
}

// FileError reports a problem opening or reading one of the input documents
// (order export, delivery notes or supplier invoices).
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("input file not found: %s", path)
		suggestion = "check the path; order, delivery and invoice inputs are plain CSV files"
	case CodeFilePermission:
		message = fmt.Sprintf("cannot read %s: permission denied", path)
		suggestion = "make the file readable by the user running the reconciler"
	case CodeFileCorrupted:
		message = fmt.Sprintf("cannot read %s: file is truncated or corrupted", path)
		suggestion = "re-export the document from the source system"
	case CodeDirectoryError:
		message = fmt.Sprintf("cannot access directory: %s", path)
		suggestion = "create the directory or point the flag at an existing one"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(err, CategoryFile, code, message, suggestion).
		WithContext("file_path", path)
}

// ParseError reports a row or column of an input document that could not be
// read. Line numbers are 1-based and include the header row.
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("malformed row in %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "compare the row against the supplier's export layout"
	case CodeMissingColumn:
		message = fmt.Sprintf("column '%s' missing from %s", column, file)
		suggestion = "check the header row, or select the supplier's format profile if the headers are renamed"
	case CodeInvalidData:
		message = fmt.Sprintf("unusable value in %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "correct the value or remove the row before re-running"
	case CodeEncodingError:
		message = fmt.Sprintf("undecodable bytes in %s near line %d", file, line)
		suggestion = "re-export the file as UTF-8"
	default:
		message = fmt.Sprintf("parse error in %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	return build(err, CategoryParse, code, message, suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError reports a parsed field whose value fails the document
// model's checks.
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("'%s' is not a usable amount: %v", field, value)
		suggestion = "quantities and prices must be plain decimals without currency symbols"
	case CodeInvalidDate:
		message = fmt.Sprintf("'%s' is not a usable date: %v", field, value)
		suggestion = "use an ISO date such as 2026-03-14, with an optional time of day"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the accepted range"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(err, CategoryValidation, code, message, suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError reports an unusable flag, profile or tolerance value.
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "run 'reconciler reconcile --help' for the accepted profiles and tolerance ranges"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(err, CategoryConfiguration, code, message, suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError reports a failure inside the matching and scoring run
// itself, after the inputs loaded cleanly.
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeProcessingError:
		message = fmt.Sprintf("reconciliation failed during %s", operation)
		suggestion = "re-run with --log-level debug to see the failing item"
	default:
		message = fmt.Sprintf("reconciliation error during %s", operation)
		suggestion = "review the input data and configuration"
	}

	return build(err, CategoryReconciliation, code, message, suggestion).
		WithContext("operation", operation)
}

// BackendError reports an unreachable workflow store or history cache.
func BackendError(code ErrorCode, target string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("cannot connect to %s", target)
		suggestion = "verify the address and that the backend accepts connections from this host"
	default:
		message = fmt.Sprintf("backend error: %s", target)
		suggestion = "check the backend and try again"
	}

	return build(err, CategoryBackend, code, message, suggestion).
		WithContext("target", target)
}

// InternalError reports a failure that indicates a bug rather than bad input.
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeUnexpectedError:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug, please report it with the error details"
	default:
		message = fmt.Sprintf("internal error during %s", operation)
		suggestion = "try again or report the problem if it persists"
	}

	return build(err, CategoryInternal, code, message, suggestion).
		WithContext("operation", operation)
}

// ErrorSummary aggregates the per-row errors collected while parsing a
// document, so a run over a bad export reports counts instead of a wall of
// messages.
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"errors"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// NewErrorSummary builds a summary, keeping at most five samples for display.
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*ReconcilerError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	const maxSamples = 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

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

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory reports whether any collected error falls in the category.
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode reports whether any collected error carries the code.
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the most severe exit code across the collected errors,
// or 0 for an empty summary.
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// AsReconcilerError extracts a ReconcilerError from anywhere in the chain.
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// WrapIfNeeded classifies an error unless something deeper in the call stack
// already did. The existing classification wins so the most specific category
// reaches the operator.
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
