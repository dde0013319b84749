// Package quality implements QualityValidator (spec.md §4.4): a single
// streaming pass that checks dates, duplicate composite keys, and row-level
// column-count anomalies, bounded to constant memory beyond one counter per
// distinct date and one entry per distinct duplicate key. Grounded on the
// teacher's coverage algorithm (internal/service/coverage/algorithm.go) for
// its accumulate-then-summarize shape, and on internal/validation/validation.go
// for the "never abort mid-pass, record and continue" idiom this package
// shares with internal/diagnostics.
package quality

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sjksingh/snowtsv-loader/internal/diagnostics"
	"github.com/sjksingh/snowtsv-loader/internal/model"
	"github.com/sjksingh/snowtsv-loader/internal/sink"
)

// maxDuplicateSamples bounds sample rows retained per duplicate key
// (spec.md §3: K=10).
const maxDuplicateSamples = 10

// maxInvalidDateSamples bounds retained row indices for invalid dates
// (spec.md §4.4: 1,000).
const maxInvalidDateSamples = 1000

// maxRowAnomalySamples bounds retained column-count anomalies the same way,
// so a file where every row is malformed cannot grow the report without
// bound.
const maxRowAnomalySamples = 1000

// maxDuplicateGroups bounds the number of distinct duplicate keys retained,
// so an adversarial file with no real key column cannot blow up memory.
const maxDuplicateGroups = 10000

const progressEvery = 4 * 1024 * 1024

// Validator performs one streaming quality pass per file.
type Validator struct {
	sink sink.ProgressSink
}

// NewValidator returns a QualityValidator reporting through s. A nil sink
// is valid.
func NewValidator(s sink.ProgressSink) *Validator {
	if s == nil {
		s = discardSink{}
	}
	return &Validator{sink: s}
}

// Validate streams fd.Path once and returns a QualityReport plus a
// diagnostics.Result recording every anomaly found, without aborting the
// pass (spec.md §4.4, §7 QUALITY_FAILED is decided by the caller from the
// returned diagnostics, not by this function).
func (v *Validator) Validate(fd *model.FileDescriptor, duplicateKey []string) (model.QualityReport, *diagnostics.Result, error) {
	diag := diagnostics.NewResult()

	if fd.EffectiveFormat == nil {
		return model.QualityReport{}, diag, fmt.Errorf("quality: %s has no effective format", fd.Path)
	}

	info, err := os.Stat(fd.Path)
	if err != nil {
		return model.QualityReport{}, diag, fmt.Errorf("quality: stat %s: %w", fd.Path, err)
	}

	f, err := os.Open(fd.Path)
	if err != nil {
		return model.QualityReport{}, diag, fmt.Errorf("quality: open %s: %w", fd.Path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if fd.EffectiveFormat.Compression == model.CompressionGzip {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return model.QualityReport{}, diag, fmt.Errorf("quality: gzip %s: %w", fd.Path, err)
		}
		defer gz.Close()
		r = gz
	}

	v.sink.OnFileStart(fd.Path, sink.PhaseValidating, info.Size())

	reader := bufio.NewReader(r)
	dateIdx := fd.DateColumnIndex()
	keyIdx := keyIndices(fd.ExpectedColumns, duplicateKey)
	expectedCols := len(fd.ExpectedColumns)

	report := model.QualityReport{
		RowsByDate: make(map[string]int64),
	}
	seenKeys := make(map[string]*model.DuplicateGroup)
	dateSet := make(map[string]struct{})

	var rowIndex int64
	var sinceProgress int64
	skip := fd.SkipHeader

	for {
		line, rerr := reader.ReadBytes('\n')
		n := len(line)
		if n > 0 {
			if rerr == io.EOF && line[n-1] != '\n' {
				// Partial trailing line with no terminator: excluded from the
				// count, matching the analyzer's rounded-down row count.
			} else if skip > 0 {
				skip--
			} else {
				rowIndex++
				fields := model.SplitRow(trimNewline(line), *fd.EffectiveFormat)
				v.checkRow(&report, diag, fields, expectedCols, dateIdx, keyIdx, rowIndex, seenKeys, dateSet)
			}
		}
		sinceProgress += int64(n)
		if sinceProgress >= progressEvery {
			v.sink.OnProgress(fd.Path, sink.PhaseValidating, sinceProgress)
			sinceProgress = 0
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return model.QualityReport{}, diag, fmt.Errorf("quality: read %s: %w", fd.Path, rerr)
		}
	}
	if sinceProgress > 0 {
		v.sink.OnProgress(fd.Path, sink.PhaseValidating, sinceProgress)
	}

	report.TotalRows = rowIndex
	report.DelimiterConfidence = fd.EffectiveFormat.Confidence

	report.DistinctDates = sortedKeys(dateSet)
	median := medianCount(report.RowsByDate)
	for date, count := range report.RowsByDate {
		if model.AnomalousRowCount(count, median) {
			report.AnomalousDates = append(report.AnomalousDates, date)
			diag.AddContext(diagnostics.RowCountAnomaly,
				fmt.Sprintf("%s has %d rows, median is %d", date, count, median),
				map[string]any{"date": date, "count": count, "median": median})
		}
	}
	sort.Strings(report.AnomalousDates)

	for _, g := range seenKeys {
		if g.Occurrences > 1 {
			report.DuplicateGroups = append(report.DuplicateGroups, *g)
		}
	}
	sort.Slice(report.DuplicateGroups, func(i, j int) bool {
		return report.DuplicateGroups[i].Key < report.DuplicateGroups[j].Key
	})

	return report, diag, nil
}

func (v *Validator) checkRow(
	report *model.QualityReport,
	diag *diagnostics.Result,
	fields []string,
	expectedCols, dateIdx int,
	keyIdx []int,
	rowIndex int64,
	seenKeys map[string]*model.DuplicateGroup,
	dateSet map[string]struct{},
) {
	if expectedCols > 0 && len(fields) != expectedCols {
		// Findings are capped alongside the samples so the diagnostics
		// stay bounded on a file where every row is malformed.
		if len(report.RowAnomalies) < maxRowAnomalySamples {
			report.RowAnomalies = append(report.RowAnomalies, model.RowAnomaly{RowIndex: rowIndex, ObservedColumns: len(fields)})
			diag.AddContext(diagnostics.ColumnCountMismatch,
				fmt.Sprintf("row %d: expected %d columns, found %d", rowIndex, expectedCols, len(fields)),
				map[string]any{"row": rowIndex, "expected": expectedCols, "found": len(fields)})
		}
	}

	if dateIdx >= 0 && dateIdx < len(fields) {
		raw := fields[dateIdx]
		if canonical, ok := normalizeDate(raw); ok {
			report.RowsByDate[canonical]++
			dateSet[canonical] = struct{}{}
		} else {
			report.InvalidDateCount++
			if len(report.InvalidDateSamples) < maxInvalidDateSamples {
				report.InvalidDateSamples = append(report.InvalidDateSamples, rowIndex)
				diag.AddContext(diagnostics.InvalidDate,
					fmt.Sprintf("row %d: %q does not match any accepted date form", rowIndex, raw),
					map[string]any{"row": rowIndex, "value": raw})
			}
		}
	}

	if len(keyIdx) > 0 {
		key := compositeKey(fields, keyIdx)
		g, ok := seenKeys[key]
		if !ok {
			if len(seenKeys) >= maxDuplicateGroups {
				return
			}
			g = &model.DuplicateGroup{Key: key}
			seenKeys[key] = g
		}
		g.Occurrences++
		if len(g.SampleRows) < maxDuplicateSamples {
			g.SampleRows = append(g.SampleRows, rowIndex)
		}
		if g.Occurrences == 2 {
			diag.AddContext(diagnostics.DuplicateKey,
				fmt.Sprintf("key %q repeats starting at row %d", key, rowIndex),
				map[string]any{"key": key, "row": rowIndex})
		}
	}
}

// acceptedDateForms is the exact set spec.md §6 recognizes, tried in
// order; each normalizes to the canonical "yyyy-mm-dd" key. Any other
// form is counted as invalid_date.
var acceptedDateForms = []string{"2006-01-02", "20060102", "01/02/2006"}

// normalizeDate parses raw against spec.md §6's accepted date forms
// (YYYY-MM-DD, YYYYMMDD as string or integer, MM/DD/YYYY) and returns the
// canonical yyyy-mm-dd key, or ok=false if raw matches none of them.
func normalizeDate(raw string) (string, bool) {
	for _, layout := range acceptedDateForms {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func keyIndices(columns, key []string) []int {
	if len(key) == 0 {
		return nil
	}
	idx := make([]int, 0, len(key))
	for _, k := range key {
		for i, c := range columns {
			if c == k {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

func compositeKey(fields []string, idx []int) string {
	key := ""
	for i, n := range idx {
		if i > 0 {
			key += "\x1f"
		}
		if n < len(fields) {
			key += fields[n]
		}
	}
	return key
}

func medianCount(byDate map[string]int64) int64 {
	if len(byDate) == 0 {
		return 0
	}
	counts := make([]int64, 0, len(byDate))
	for _, c := range byDate {
		counts = append(counts, c)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	mid := len(counts) / 2
	if len(counts)%2 == 1 {
		return counts[mid]
	}
	return (counts[mid-1] + counts[mid]) / 2
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func trimNewline(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return line[:n]
}

type discardSink struct{}

func (discardSink) OnFileStart(string, sink.Phase, int64) {}
func (discardSink) OnProgress(string, sink.Phase, int64)  {}
func (discardSink) OnFileEnd(string, model.JobOutcome)    {}
