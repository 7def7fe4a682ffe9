// Package errors provides structured error types for the Anvilchain system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryCodec    ErrorCategory = "CODEC"
	ErrCategorySigning  ErrorCategory = "SIGNING"
	ErrCategoryBatch    ErrorCategory = "BATCH"
	ErrCategoryAnchor   ErrorCategory = "ANCHOR"
	ErrCategoryJournal  ErrorCategory = "JOURNAL"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryIngest   ErrorCategory = "INGEST"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Codec codes
	CodeUnsupportedValue = "UNSUPPORTED_VALUE"

	// Signing codes
	CodeInvalidKey = "INVALID_KEY"

	// Batch codes
	CodeEmptyBatch    = "EMPTY_BATCH"
	CodeBatchNotFound = "BATCH_NOT_FOUND"
	CodeInvalidLeaf   = "INVALID_LEAF"
	CodeStoreFailure  = "STORE_FAILURE"

	// Anchor codes
	CodeSubmissionFailed = "SUBMISSION_FAILED"
	CodeNoAnchorFunc     = "NO_ANCHOR_FUNC"

	// Journal codes
	CodeAppendFailed   = "APPEND_FAILED"
	CodeRecoveryFailed = "RECOVERY_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Ingest codes
	CodeMalformedReading = "MALFORMED_READING"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// AnvilError is the structured error type used throughout the system.
type AnvilError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *AnvilError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *AnvilError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *AnvilError) Is(target error) bool {
	var t *AnvilError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new AnvilError.
func New(category ErrorCategory, code, message string) *AnvilError {
	return &AnvilError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new AnvilError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *AnvilError {
	return &AnvilError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *AnvilError) WithDetails(details map[string]interface{}) *AnvilError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ae *AnvilError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an AnvilError.
func GetCategory(err error) ErrorCategory {
	var ae *AnvilError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an AnvilError.
func GetCode(err error) string {
	var ae *AnvilError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable.
// Submission and upload failures are transient by nature; everything else
// requires intervention.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryAnchor && code == CodeSubmissionFailed:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryBatch && code == CodeStoreFailure:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewCodecError(message string, cause error) *AnvilError {
	return Wrap(ErrCategoryCodec, CodeUnsupportedValue, message, cause)
}

func NewBatchError(code, message string, cause error) *AnvilError {
	return Wrap(ErrCategoryBatch, code, message, cause)
}

func NewAnchorError(code, message string, cause error) *AnvilError {
	return Wrap(ErrCategoryAnchor, code, message, cause)
}

func NewJournalError(code, message string, cause error) *AnvilError {
	return Wrap(ErrCategoryJournal, code, message, cause)
}

func NewStorageError(code, message string, cause error) *AnvilError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewIngestError(code, message string, cause error) *AnvilError {
	return Wrap(ErrCategoryIngest, code, message, cause)
}

func NewInternalError(message string, cause error) *AnvilError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
