package racedata

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode is the machine-readable code carried by every pipeline error.
type ErrorCode string

// Error codes, grouped by the layer that raises them.
const (
	// Fetch / parse layer.
	CodeConnectorHTTP      ErrorCode = "connector_http"
	CodeEventPageFormat    ErrorCode = "event_page_format"
	CodeRacePageFormat     ErrorCode = "race_page_format"
	CodeLapTableMissing    ErrorCode = "lap_table_missing"
	CodeUnsupportedVariant ErrorCode = "unsupported_variant"

	// Normalizer and validator.
	CodeNormalisation ErrorCode = "normalisation"
	CodeValidation    ErrorCode = "validation"

	// Transition and locking.
	CodeStateMachine        ErrorCode = "state_machine"
	CodeIngestionInProgress ErrorCode = "ingestion_in_progress"

	// Store.
	CodePersistence         ErrorCode = "persistence"
	CodeConstraintViolation ErrorCode = "constraint_violation"

	// Supervisor.
	CodeIngestionTimeout ErrorCode = "ingestion_timeout"
)

// Sentinel errors, one per code, so callers can use errors.Is without
// inspecting codes. Every *Error returned from this package unwraps to the
// sentinel matching its code.
var (
	ErrConnectorHTTP       = errors.New("connector HTTP failure")
	ErrEventPageFormat     = errors.New("event page format not recognized")
	ErrRacePageFormat      = errors.New("race page format not recognized")
	ErrLapTableMissing     = errors.New("lap data block missing from race page")
	ErrUnsupportedVariant  = errors.New("unsupported page variant")
	ErrNormalisation       = errors.New("normalisation failure")
	ErrValidation          = errors.New("validation failure")
	ErrStateMachine        = errors.New("invalid ingest depth transition")
	ErrIngestionInProgress = errors.New("ingestion already in progress")
	ErrPersistence         = errors.New("persistence failure")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrIngestionTimeout    = errors.New("ingestion timed out")
)

var sentinelByCode = map[ErrorCode]error{
	CodeConnectorHTTP:       ErrConnectorHTTP,
	CodeEventPageFormat:     ErrEventPageFormat,
	CodeRacePageFormat:      ErrRacePageFormat,
	CodeLapTableMissing:     ErrLapTableMissing,
	CodeUnsupportedVariant:  ErrUnsupportedVariant,
	CodeNormalisation:       ErrNormalisation,
	CodeValidation:          ErrValidation,
	CodeStateMachine:        ErrStateMachine,
	CodeIngestionInProgress: ErrIngestionInProgress,
	CodePersistence:         ErrPersistence,
	CodeConstraintViolation: ErrConstraintViolation,
	CodeIngestionTimeout:    ErrIngestionTimeout,
}

// Error is the structured error shape surfaced at every public boundary of
// the pipeline. It carries a machine-readable code, the source tag, a human
// message and a structured details map (event id, race id, field, ...).
type Error struct {
	Code    ErrorCode
	Source  string
	Message string
	Details map[string]any

	cause error
}

// NewError creates a pipeline error for the given code. Details may be nil.
func NewError(code ErrorCode, message string, details map[string]any) *Error {
	return &Error{
		Code:    code,
		Source:  SourceLiveRC,
		Message: message,
		Details: details,
	}
}

// WrapError creates a pipeline error wrapping an underlying cause.
// errors.Is matches both the code's sentinel and the cause chain.
func WrapError(code ErrorCode, message string, details map[string]any, cause error) *Error {
	e := NewError(code, message, details)
	e.cause = cause

	return e
}

// Error formats the code, message and details in a stable order.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		b.WriteString(" (")

		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}

			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}

		b.WriteString(")")
	}

	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}

	return b.String()
}

// Unwrap exposes the sentinel for the error's code and, through it, any
// wrapped cause.
func (e *Error) Unwrap() []error {
	sentinel, ok := sentinelByCode[e.Code]
	if !ok {
		if e.cause != nil {
			return []error{e.cause}
		}

		return nil
	}

	if e.cause != nil {
		return []error{sentinel, e.cause}
	}

	return []error{sentinel}
}

// Detail returns a single detail value, or nil when absent.
func (e *Error) Detail(key string) any {
	if e.Details == nil {
		return nil
	}

	return e.Details[key]
}

// CodeOf extracts the ErrorCode from an error chain, or "" when the chain
// holds no pipeline error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ""
}

// IsRetryableConstraint reports whether the error is a ConstraintViolation
// flagged as a cross-transaction race, which entitles the pipeline to one
// whole-event retry.
func IsRetryableConstraint(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	if e.Code != CodeConstraintViolation {
		return false
	}

	retryable, _ := e.Detail("retryable").(bool)

	return retryable
}
