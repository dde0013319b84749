// Package diagnostics accumulates the findings a pass over one file
// produces without aborting it: a malformed row, an unparseable date, a
// low-confidence delimiter guess, a stage that would not clean up. A
// finding's severity is a property of its code, not of the call site, so a
// streaming pass only records what it saw and the warn-versus-fail decision
// stays with the orchestrator's policy.
package diagnostics

import (
	"fmt"
	"strings"
)

// Severity classifies findings once the pass is done.
type Severity string

const (
	SeverityError   Severity = "ERROR"   // the file cannot proceed
	SeverityWarning Severity = "WARNING" // proceeds, but should be reviewed
)

// Code identifies one kind of finding the pipeline can record.
// Completeness gaps are surfaced through CompletenessReport's own
// MissingDates/Gaps fields rather than through findings, since the
// completeness validator has no streaming pass to accumulate during.
type Code string

const (
	FormatLowConfidence Code = "FORMAT_LOW_CONFIDENCE"
	ColumnCountMismatch Code = "COLUMN_COUNT_MISMATCH"
	InvalidDate         Code = "INVALID_DATE"
	DuplicateKey        Code = "DUPLICATE_KEY"
	RowCountAnomaly     Code = "ROW_COUNT_ANOMALY"
	TruncatedFile       Code = "TRUNCATED_FILE"
	StageCleanupFailed  Code = "STAGE_CLEANUP_FAILED"
)

// Severity returns the fixed severity of findings recorded under c. Only a
// file that ends mid-record blocks a load on its own; every other finding
// warns and is escalated, or not, by the job's strictness policy.
func (c Code) Severity() Severity {
	if c == TruncatedFile {
		return SeverityError
	}
	return SeverityWarning
}

// Finding is one recorded observation: the code, a human-readable detail
// line, and optional structured context (row index, observed value).
type Finding struct {
	Code    Code
	Detail  string
	Context map[string]any
}

// Severity is the severity fixed by the finding's code.
func (f Finding) Severity() Severity { return f.Code.Severity() }

// Result collects findings across one pass over a file. Recording never
// fails fast; callers inspect severity once the pass is done.
type Result struct {
	Findings []Finding
}

// NewResult returns an empty accumulator.
func NewResult() *Result { return &Result{} }

// Add records a finding with no structured context.
func (r *Result) Add(code Code, detail string) {
	r.AddContext(code, detail, nil)
}

// Addf records a finding with a formatted detail line.
func (r *Result) Addf(code Code, format string, args ...any) {
	r.AddContext(code, fmt.Sprintf(format, args...), nil)
}

// AddContext records a finding with structured context.
func (r *Result) AddContext(code Code, detail string, context map[string]any) {
	r.Findings = append(r.Findings, Finding{Code: code, Detail: detail, Context: context})
}

// Merge appends every finding from a sub-pass's result.
func (r *Result) Merge(other *Result) {
	if other != nil {
		r.Findings = append(r.Findings, other.Findings...)
	}
}

// ByCode returns the findings recorded under code.
func (r *Result) ByCode(code Code) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Code == code {
			out = append(out, f)
		}
	}
	return out
}

// HasErrors reports whether any finding carries error severity.
func (r *Result) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity() == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any finding carries warning severity.
func (r *Result) HasWarnings() bool {
	for _, f := range r.Findings {
		if f.Severity() == SeverityWarning {
			return true
		}
	}
	return false
}

// Summary renders a one-line account: the total, then each code with its
// count and first detail. Aggregating per code keeps the summary readable
// when a single bad file carries a million findings under one code.
func (r *Result) Summary() string {
	if len(r.Findings) == 0 {
		return "no findings"
	}

	var order []Code
	byCode := make(map[Code][]Finding)
	for _, f := range r.Findings {
		if _, ok := byCode[f.Code]; !ok {
			order = append(order, f.Code)
		}
		byCode[f.Code] = append(byCode[f.Code], f)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d finding(s)", len(r.Findings))
	for _, code := range order {
		fs := byCode[code]
		fmt.Fprintf(&b, "; %s x%d (%s)", code, len(fs), fs[0].Detail)
	}
	return b.String()
}
