// Package coreerr defines the error-kind taxonomy that every per-file
// failure in the pipeline is classified into before it reaches a
// JobOutcome. Per-file errors never unwind past the orchestrator boundary;
// they are caught at the worker, classified into a *CoreError here, and
// folded into the outcome.
package coreerr

import "fmt"

// Kind enumerates the error taxonomy. Kinds are not Go type names: several
// distinct causes (a bad column declaration, an unknown table) share
// CONFIG_INVALID.
type Kind string

const (
	KindConfigInvalid              Kind = "CONFIG_INVALID"
	KindFileIO                     Kind = "FILE_IO"
	KindFormatUndetermined         Kind = "FORMAT_UNDETERMINED"
	KindQualityFailed              Kind = "QUALITY_FAILED"
	KindConnectionLost             Kind = "CONNECTION_LOST"
	KindLoadFailed                 Kind = "LOAD_FAILED"
	KindTimeout                    Kind = "TIMEOUT"
	KindCancelled                  Kind = "CANCELLED"
	KindWarehouseValidationFailed  Kind = "WAREHOUSE_VALIDATION_FAILED"
)

// CoreError is the structured failure every FAILED JobOutcome carries: a
// kind, a one-line human summary, and optional structured detail (e.g. the
// warehouse's query id).
type CoreError struct {
	Kind    Kind
	Summary string
	Detail  map[string]any
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Summary, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Summary)
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// New builds a CoreError with no wrapped cause.
func New(kind Kind, summary string, detail map[string]any) *CoreError {
	return &CoreError{Kind: kind, Summary: summary, Detail: detail}
}

// Wrap builds a CoreError around an underlying cause.
func Wrap(kind Kind, summary string, cause error, detail map[string]any) *CoreError {
	return &CoreError{Kind: kind, Summary: summary, Detail: detail, Cause: cause}
}

// Retryable reports whether the loader should attempt a fresh session and
// retry, per spec.md §7: only a transient connection loss is retryable.
func (e *CoreError) Retryable() bool {
	return e.Kind == KindConnectionLost
}
