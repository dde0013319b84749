package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewResultIsEmpty(t *testing.T) {
	r := NewResult()

	assert.Empty(t, r.Findings)
	assert.False(t, r.HasErrors())
	assert.False(t, r.HasWarnings())
	assert.Equal(t, "no findings", r.Summary())
}

func TestSeverityIsFixedByCode(t *testing.T) {
	assert.Equal(t, SeverityError, TruncatedFile.Severity())
	assert.Equal(t, SeverityWarning, ColumnCountMismatch.Severity())
	assert.Equal(t, SeverityWarning, InvalidDate.Severity())
	assert.Equal(t, SeverityWarning, StageCleanupFailed.Severity())
}

func TestAddRecordsWarning(t *testing.T) {
	r := NewResult()
	r.Add(RowCountAnomaly, "2024-07-04 has 312 rows, median is 98211")

	assert.Len(t, r.Findings, 1)
	assert.True(t, r.HasWarnings())
	assert.False(t, r.HasErrors())
}

func TestAddRecordsError(t *testing.T) {
	r := NewResult()
	r.Add(TruncatedFile, "file ends mid-record")

	assert.True(t, r.HasErrors())
	assert.False(t, r.HasWarnings())
}

func TestAddf(t *testing.T) {
	r := NewResult()
	r.Addf(InvalidDate, "row %d: %q does not match any accepted date form", 12, "13/45/2024")

	assert.Len(t, r.Findings, 1)
	assert.Equal(t, `row 12: "13/45/2024" does not match any accepted date form`, r.Findings[0].Detail)
}

func TestAddContext(t *testing.T) {
	r := NewResult()
	r.AddContext(ColumnCountMismatch, "row 4021: expected 6 columns, found 5", map[string]any{
		"row":   int64(4021),
		"found": 5,
	})

	assert.Len(t, r.Findings, 1)
	assert.Equal(t, 5, r.Findings[0].Context["found"])
	assert.Equal(t, SeverityWarning, r.Findings[0].Severity())
}

func TestByCode(t *testing.T) {
	r := NewResult()
	r.Add(InvalidDate, "row 12: bad date")
	r.Add(ColumnCountMismatch, "row 13: short row")
	r.Add(InvalidDate, "row 97: bad date")

	assert.Len(t, r.ByCode(InvalidDate), 2)
	assert.Len(t, r.ByCode(ColumnCountMismatch), 1)
	assert.Empty(t, r.ByCode(DuplicateKey))
}

func TestMerge(t *testing.T) {
	sub := NewResult()
	sub.Add(InvalidDate, "row 12: bad date")
	sub.Add(TruncatedFile, "file ends mid-record")

	r := NewResult()
	r.Add(FormatLowConfidence, "delimiter detection confidence below 0.5")
	r.Merge(sub)
	r.Merge(nil)

	assert.Len(t, r.Findings, 3)
	assert.True(t, r.HasErrors())
	assert.True(t, r.HasWarnings())
}

func TestSummaryAggregatesPerCode(t *testing.T) {
	r := NewResult()
	for i := 0; i < 5; i++ {
		r.Addf(InvalidDate, "row %d: bad date", i+1)
	}
	r.Add(RowCountAnomaly, "2024-07-04 has 1 rows, median is 100")

	summary := r.Summary()
	assert.Contains(t, summary, "6 finding(s)")
	assert.Contains(t, summary, "INVALID_DATE x5 (row 1: bad date)")
	assert.Contains(t, summary, "ROW_COUNT_ANOMALY x1")
}
