// Package completeness implements CompletenessValidator (spec.md §4.6,
// §6): post-load aggregate queries against the warehouse table, comparing
// the expected date window to what is actually present, with gap and
// anomaly detection mirroring QualityValidator's policy. Grounded on the
// teacher's coverage algorithm (internal/service/coverage/algorithm.go) for
// gap-finding over a date range, and on its repository layer
// (internal/repository/postgres/postgres.go) for the "validate identifiers,
// bind values" parameterized-query discipline — a security invariant
// carried forward unchanged from spec.md §9.
package completeness

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/sjksingh/snowtsv-loader/internal/model"
)

// identifierPattern bounds table and column identifiers accepted for
// interpolation; anything else is CONFIG_INVALID at the caller.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidIdentifier is returned when a table or column name fails the
// identifier allowlist, before any SQL is built.
type ErrInvalidIdentifier struct {
	Identifier string
}

func (e *ErrInvalidIdentifier) Error() string {
	return fmt.Sprintf("completeness: invalid identifier %q", e.Identifier)
}

// schemaProbe is the cached per-table metadata a Job needs to decide how
// to bind the window's start/end date literals (spec.md §6: "Date literal
// shape is derived from the schema probe").
type schemaProbe struct {
	dateColumnType string // "string" | "integer" | "date"
}

// Validator runs completeness queries against a warehouse connection.
// Schema probes are cached per table for the lifetime of one Validator,
// matching spec.md §9's per-Job metadata cache.
type Validator struct {
	db     *sql.DB
	probes map[string]schemaProbe
}

// NewValidator wraps a leased session's database handle.
func NewValidator(db *sql.DB) *Validator {
	return &Validator{db: db, probes: make(map[string]schemaProbe)}
}

// Validate runs the four completeness queries from spec.md §6 against
// table/dateColumn over [windowStart, windowEnd] and computes gaps and
// anomalies. duplicateKey is optional; when empty, query 4 is skipped and
// DuplicateKeyCount is left at zero.
func (v *Validator) Validate(ctx context.Context, table, dateColumn string, windowStart, windowEnd time.Time, duplicateKey []string) (model.CompletenessReport, error) {
	if !identifierPattern.MatchString(table) {
		return model.CompletenessReport{}, &ErrInvalidIdentifier{Identifier: table}
	}
	if !identifierPattern.MatchString(dateColumn) {
		return model.CompletenessReport{}, &ErrInvalidIdentifier{Identifier: dateColumn}
	}
	for _, k := range duplicateKey {
		if !identifierPattern.MatchString(k) {
			return model.CompletenessReport{}, &ErrInvalidIdentifier{Identifier: k}
		}
	}

	probe, err := v.probe(ctx, table, dateColumn)
	if err != nil {
		return model.CompletenessReport{}, fmt.Errorf("completeness: probing schema: %w", err)
	}

	startLit, endLit := bindDates(probe, windowStart, windowEnd)

	report := model.CompletenessReport{
		ExpectedDates: expectedDates(windowStart, windowEnd),
	}

	totalQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s BETWEEN ? AND ?", table, dateColumn)
	if err := v.db.QueryRowContext(ctx, totalQuery, startLit, endLit).Scan(&report.TotalRowCount); err != nil {
		return model.CompletenessReport{}, fmt.Errorf("completeness: total row count: %w", err)
	}

	distinctQuery := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s BETWEEN ? AND ? ORDER BY %s", dateColumn, table, dateColumn, dateColumn)
	present, err := v.collectDates(ctx, distinctQuery, startLit, endLit)
	if err != nil {
		return model.CompletenessReport{}, fmt.Errorf("completeness: distinct dates: %w", err)
	}
	report.PresentDates = present

	countsQuery := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s WHERE %s BETWEEN ? AND ? GROUP BY %s", dateColumn, table, dateColumn, dateColumn)
	countsByDate, err := v.collectCounts(ctx, countsQuery, startLit, endLit)
	if err != nil {
		return model.CompletenessReport{}, fmt.Errorf("completeness: per-date counts: %w", err)
	}

	if len(duplicateKey) > 0 {
		dupQuery := fmt.Sprintf("SELECT COUNT(*) - COUNT(DISTINCT (%s)) FROM %s WHERE %s BETWEEN ? AND ?", joinColumns(duplicateKey), table, dateColumn)
		if err := v.db.QueryRowContext(ctx, dupQuery, startLit, endLit).Scan(&report.DuplicateKeyCount); err != nil {
			return model.CompletenessReport{}, fmt.Errorf("completeness: duplicate key count: %w", err)
		}
	}

	presentSet := make(map[string]struct{}, len(present))
	for _, d := range present {
		presentSet[d] = struct{}{}
	}
	for _, d := range report.ExpectedDates {
		if _, ok := presentSet[d]; !ok {
			report.MissingDates = append(report.MissingDates, d)
		}
	}
	report.Gaps = findGaps(report.MissingDates)

	median := medianOf(countsByDate)
	for date, count := range countsByDate {
		if model.AnomalousRowCount(count, median) {
			report.AnomalousDates = append(report.AnomalousDates, date)
		}
	}
	sort.Strings(report.AnomalousDates)

	return report, nil
}

// probe resolves and caches the date column's storage type. Snowflake's
// INFORMATION_SCHEMA is queried once per table per Validator lifetime.
func (v *Validator) probe(ctx context.Context, table, dateColumn string) (schemaProbe, error) {
	if p, ok := v.probes[table]; ok {
		return p, nil
	}

	var dataType string
	query := `SELECT DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = ? AND COLUMN_NAME = ?`
	if err := v.db.QueryRowContext(ctx, query, table, dateColumn).Scan(&dataType); err != nil {
		return schemaProbe{}, err
	}

	p := schemaProbe{dateColumnType: classifyDataType(dataType)}
	v.probes[table] = p
	return p, nil
}

func classifyDataType(dataType string) string {
	switch dataType {
	case "TEXT", "VARCHAR", "CHAR", "STRING":
		return "string"
	case "NUMBER", "INT", "INTEGER", "BIGINT":
		return "integer"
	default:
		return "date"
	}
}

// bindDates renders the window bounds in the shape the probed column type
// expects (spec.md §6: strings for string-typed columns, integers YYYYMMDD
// for integer-typed columns, native dates otherwise). Always bound as
// parameters, never interpolated.
func bindDates(p schemaProbe, start, end time.Time) (any, any) {
	switch p.dateColumnType {
	case "string":
		return start.Format("2006-01-02"), end.Format("2006-01-02")
	case "integer":
		s, _ := strconv.Atoi(start.Format("20060102"))
		e, _ := strconv.Atoi(end.Format("20060102"))
		return s, e
	default:
		return start, end
	}
}

func (v *Validator) collectDates(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		d, ok := canonicalDay(raw)
		if !ok {
			return nil, fmt.Errorf("unrecognized date value %v", raw)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (v *Validator) collectCounts(ctx context.Context, query string, args ...any) (map[string]int64, error) {
	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var raw any
		var c int64
		if err := rows.Scan(&raw, &c); err != nil {
			return nil, err
		}
		d, ok := canonicalDay(raw)
		if !ok {
			return nil, fmt.Errorf("unrecognized date value %v", raw)
		}
		counts[d] = c
	}
	return counts, rows.Err()
}

// canonicalDay folds whatever shape the driver hands back for the date
// column — native DATE as time.Time, integer YYYYMMDD, string-form dates —
// into the canonical yyyy-mm-dd key the expected-date set uses.
func canonicalDay(v any) (string, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.Format("2006-01-02"), true
	case int64:
		return parseDay(strconv.FormatInt(t, 10))
	case []byte:
		return parseDay(string(t))
	case string:
		return parseDay(t)
	}
	return "", false
}

func parseDay(s string) (string, bool) {
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// expectedDates enumerates every calendar day in [start, end] inclusive.
func expectedDates(start, end time.Time) []string {
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format("2006-01-02"))
	}
	return out
}

// findGaps collapses a sorted-by-construction list of missing dates into
// maximal consecutive runs, bracketed by the expected dates on either side
// (spec.md §8 scenario 3: a single missing 2024-07-04 is reported as
// Start=2024-07-03, End=2024-07-05, Length=1 — the surrounding boundary
// dates, not the missing range itself).
func findGaps(missing []string) []model.GapRange {
	if len(missing) == 0 {
		return nil
	}
	var gaps []model.GapRange
	runStart, _ := time.Parse("2006-01-02", missing[0])
	prev := runStart
	runLen := 1

	flush := func(end time.Time) {
		before := runStart.AddDate(0, 0, -1)
		after := end.AddDate(0, 0, 1)
		gaps = append(gaps, model.GapRange{Start: before.Format("2006-01-02"), End: after.Format("2006-01-02"), Length: runLen})
	}

	for _, d := range missing[1:] {
		cur, _ := time.Parse("2006-01-02", d)
		if cur.Sub(prev) == 24*time.Hour {
			runLen++
		} else {
			flush(prev)
			runStart = cur
			runLen = 1
		}
		prev = cur
	}
	flush(prev)
	return gaps
}

func medianOf(byDate map[string]int64) int64 {
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
