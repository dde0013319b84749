// Package model holds the plain data entities shared across the pipeline:
// file identity, detected wire format, per-phase reports, and per-file
// outcomes. These are value types; ownership and lifetime are documented on
// each type, not enforced by the compiler.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/sjksingh/snowtsv-loader/internal/diagnostics"
)

// Compression identifies whether a file's bytes are gzip-compressed.
type Compression string

const (
	CompressionNone Compression = "NONE"
	CompressionGzip Compression = "GZIP"
)

// FormatKind distinguishes the two delimited-text families the loader
// understands; the distinction matters only for the quote-char default.
type FormatKind string

const (
	FormatTSV FormatKind = "TSV"
	FormatCSV FormatKind = "CSV"
)

// EscapeMode selects how a quoted field represents a literal quote
// character inside its value (spec.md §6: "escape by doubling or by
// backslash; the core must be configurable between the two but defaults
// to doubling").
type EscapeMode string

const (
	EscapeDouble    EscapeMode = "DOUBLE"
	EscapeBackslash EscapeMode = "BACKSLASH"
)

// Format is the effective wire format resolved by the FormatDetector. It is
// attached to a FileDescriptor exactly once, before any streaming read.
type Format struct {
	Kind        FormatKind
	Delimiter   byte
	Quote       byte // zero value means "no quoting"
	HasQuote    bool
	Escape      EscapeMode // zero value treated as EscapeDouble
	Compression Compression
	Confidence  float64 // in [0,1]; < 0.5 triggers a FormatDetector FORMAT_LOW_CONFIDENCE warning
}

// FileDescriptor identifies one input file and is immutable for the
// lifetime of a Job once its effective Format is resolved. Created by
// Config parsing (out of core scope); consumed by every downstream phase.
type FileDescriptor struct {
	Path              string
	TableName         string
	DateColumn        string
	ExpectedColumns   []string
	SkipHeader        int
	ExplicitDelimiter byte
	HasExplicitDelim  bool
	ExplicitQuote     byte
	HasExplicitQuote  bool
	ExplicitEscape    EscapeMode
	HasExplicitEscape bool

	// EffectiveFormat is nil until FormatDetector has run once.
	EffectiveFormat *Format
}

// DateColumnIndex resolves the configured date column name to its
// positional index in ExpectedColumns, or -1 if absent.
func (fd *FileDescriptor) DateColumnIndex() int {
	for i, col := range fd.ExpectedColumns {
		if col == fd.DateColumn {
			return i
		}
	}
	return -1
}

// SplitRow tokenizes one line into fields honoring f's resolved delimiter
// and, when set, its quote character (spec.md §4.4 step 1: "parse each row
// using the resolved delimiter and quote"; §6: escape by doubling or by a
// preceding backslash, selected by f.Escape). Shared by FileAnalyzer's
// column count and QualityValidator's field projection so the two passes
// agree on what a "column" is. line must already have its line terminator
// trimmed.
func SplitRow(line []byte, f Format) []string {
	if len(line) == 0 {
		return nil
	}
	if !f.HasQuote {
		return splitUnquoted(line, f.Delimiter)
	}

	backslash := f.Escape == EscapeBackslash
	n := len(line)
	i := 0
	var fields []string

	for {
		var buf []byte
		if i < n && line[i] == f.Quote {
			i++
			for i < n {
				if backslash && line[i] == '\\' && i+1 < n && line[i+1] == f.Quote {
					buf = append(buf, f.Quote)
					i += 2
					continue
				}
				if line[i] == f.Quote {
					if !backslash && i+1 < n && line[i+1] == f.Quote {
						buf = append(buf, f.Quote)
						i += 2
						continue
					}
					i++
					break
				}
				buf = append(buf, line[i])
				i++
			}
			// Tolerate (rather than reject) any bytes between a closing
			// quote and the next delimiter instead of dropping them.
			for i < n && line[i] != f.Delimiter {
				buf = append(buf, line[i])
				i++
			}
		} else {
			for i < n && line[i] != f.Delimiter {
				buf = append(buf, line[i])
				i++
			}
		}
		fields = append(fields, string(buf))

		if i < n && line[i] == f.Delimiter {
			i++
			if i == n {
				fields = append(fields, "")
				break
			}
			continue
		}
		break
	}
	return fields
}

func splitUnquoted(line []byte, delim byte) []string {
	var fields []string
	start := 0
	for i := 0; i < len(line); i++ {
		if line[i] == delim {
			fields = append(fields, string(line[start:i]))
			start = i + 1
		}
	}
	fields = append(fields, string(line[start:]))
	return fields
}

// AnalysisReport is produced once per file by FileAnalyzer and referenced
// by the loader and validators.
type AnalysisReport struct {
	FileSizeBytes   int64
	RowCount        int64
	ColumnCount     int
	Format          Format
	LineTerminator  string // "\n" or "\r\n"
	Truncated       bool
}

// DuplicateGroup records one composite key that repeats, with a bounded
// sample of offending row indices (spec.md §3: up to K=10).
type DuplicateGroup struct {
	Key          string
	Occurrences  int64
	SampleRows   []int64
}

// RowAnomaly records one row whose column count did not match the expected
// count, bounded to 1,000 samples per spec.md §4.4.
type RowAnomaly struct {
	RowIndex       int64
	ObservedColumns int
}

// QualityReport is the per-file product of a single streaming pass.
// Dominates per-file memory; bounded to O(distinct dates + distinct
// duplicate keys retained).
type QualityReport struct {
	TotalRows           int64
	DistinctDates       []string // ordered ascending, canonical yyyy-mm-dd
	RowsByDate          map[string]int64
	DuplicateGroups     []DuplicateGroup
	RowAnomalies        []RowAnomaly
	InvalidDateCount    int64
	InvalidDateSamples  []int64
	AnomalousDates      []string // per-date row-count anomaly, §4.4 step 6
	DelimiterConfidence float64
}

// AnomalousRowCount reports §4.4 step 6 / §4.6 step 6's shared policy: a
// date is anomalous if its count is < 0.5x or > 2x the median across all
// dates in the report.
func AnomalousRowCount(count, median int64) bool {
	if median <= 0 {
		return false
	}
	return float64(count) < 0.5*float64(median) || float64(count) > 2*float64(median)
}

// ValidationPolicy controls which of the file-side and warehouse-side
// validators run for a Job.
type ValidationPolicy string

const (
	PolicySkip           ValidationPolicy = "SKIP"
	PolicyFileOnly       ValidationPolicy = "FILE_ONLY"
	PolicyWarehouseOnly  ValidationPolicy = "WAREHOUSE_ONLY"
	PolicyBoth           ValidationPolicy = "BOTH"
)

// RunsFileValidation reports whether the policy includes the streaming
// QualityValidator pass.
func (p ValidationPolicy) RunsFileValidation() bool {
	return p == PolicyFileOnly || p == PolicyBoth
}

// RunsWarehouseValidation reports whether the policy includes the
// post-load CompletenessValidator pass.
func (p ValidationPolicy) RunsWarehouseValidation() bool {
	return p == PolicyWarehouseOnly || p == PolicyBoth
}

// Job is one orchestrator request: a set of files, a validation policy, a
// completeness window, and concurrency parameters. Owns the lifetime of
// all per-file workers and the ConnectionPool reservation.
type Job struct {
	ID               uuid.UUID
	Files            []*FileDescriptor
	Policy           ValidationPolicy
	WindowStart      time.Time
	WindowEnd        time.Time
	DuplicateKey     []string
	Workers          int
	ContinueOnError  bool
}

// StageHandle is a per-file ephemeral staging location on the warehouse.
// Created by WarehouseLoader before upload; destroyed unconditionally on
// every exit path, success or failure.
type StageHandle struct {
	Table         string
	ID            uuid.UUID
	CreatedAt     time.Time
	UploadedParts []string
}

// Path renders the stage path per spec.md §6: <user_stage>/<table>/<uuid>/.
func (s *StageHandle) Path() string {
	return s.Table + "/" + s.ID.String() + "/"
}

// CopyStatus is the terminal/non-terminal state of an async COPY.
type CopyStatus string

const (
	CopyStatusRunning   CopyStatus = "RUNNING"
	CopyStatusSuccess   CopyStatus = "SUCCESS"
	CopyStatusFailed    CopyStatus = "FAILED"
	CopyStatusCancelled CopyStatus = "CANCELLED"
	CopyStatusTimedOut  CopyStatus = "TIMED_OUT"
)

// Terminal reports whether the status ends polling.
func (s CopyStatus) Terminal() bool {
	switch s {
	case CopyStatusSuccess, CopyStatusFailed, CopyStatusCancelled, CopyStatusTimedOut:
		return true
	}
	return false
}

// CopyTicket is a server-side async job reference, created on COPY
// submission.
type CopyTicket struct {
	QueryID      string
	SubmittedAt  time.Time
	Deadline     time.Time
	LastStatus   CopyStatus
	RowsLoaded   int64
}

// GapRange is a maximal run of consecutive expected dates absent from the
// loaded table.
type GapRange struct {
	Start  string
	End    string
	Length int
}

// CompletenessReport is produced by CompletenessValidator.
type CompletenessReport struct {
	ExpectedDates    []string
	PresentDates     []string
	MissingDates     []string
	Gaps             []GapRange
	AnomalousDates   []string
	DuplicateKeyCount int64
	TotalRowCount    int64
}

// OutcomeKind discriminates the terminal states of a JobOutcome.
type OutcomeKind string

const (
	OutcomeLoaded           OutcomeKind = "LOADED"
	OutcomeValidationFailed OutcomeKind = "VALIDATION_FAILED"
	OutcomeLoadFailed       OutcomeKind = "LOAD_FAILED"
	OutcomeSkipped          OutcomeKind = "SKIPPED"
)

// JobOutcome is the terminal, per-file result the orchestrator reports.
type JobOutcome struct {
	Path               string
	Kind               OutcomeKind
	RowsLoaded         int64
	QualityReport      *QualityReport
	CompletenessReport *CompletenessReport
	SkipReason         string
	Err                error
	// Diagnostics carries non-fatal findings that do not flip the outcome
	// kind, e.g. a failed best-effort stage cleanup (spec.md §4.5 step 6:
	// "failures in cleanup are logged but do not flip the outcome"). Nil
	// when nothing was found.
	Diagnostics *diagnostics.Result
}

// JobReport aggregates every file's JobOutcome for one Job.
type JobReport struct {
	JobID    uuid.UUID
	Outcomes []JobOutcome
}

// Failed reports whether any file in the report FAILED under the default
// (non-strict) policy, driving the process exit status per spec.md §7.
func (r *JobReport) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeLoadFailed || o.Kind == OutcomeValidationFailed {
			return true
		}
	}
	return false
}
