package completeness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjksingh/snowtsv-loader/internal/model"
)

func window(startDay, endDay int) (time.Time, time.Time) {
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, startDay-1), base.AddDate(0, 0, endDay-1)
}

func TestExpectedDatesEnumeratesInclusive(t *testing.T) {
	start, end := window(1, 3)
	got := expectedDates(start, end)
	assert.Equal(t, []string{"2024-07-01", "2024-07-02", "2024-07-03"}, got)
}

func TestFindGapsSingleMissingDay(t *testing.T) {
	gaps := findGaps([]string{"2024-07-04"})
	require.Len(t, gaps, 1)
	assert.Equal(t, model.GapRange{Start: "2024-07-03", End: "2024-07-05", Length: 1}, gaps[0])
}

func TestFindGapsMultipleRuns(t *testing.T) {
	gaps := findGaps([]string{"2024-07-04", "2024-07-05", "2024-07-10"})
	require.Len(t, gaps, 2)
	assert.Equal(t, model.GapRange{Start: "2024-07-03", End: "2024-07-06", Length: 2}, gaps[0])
	assert.Equal(t, model.GapRange{Start: "2024-07-09", End: "2024-07-11", Length: 1}, gaps[1])
}

func TestFindGapsEmptyIsNil(t *testing.T) {
	assert.Nil(t, findGaps(nil))
}

func TestMedianOfOddAndEven(t *testing.T) {
	assert.Equal(t, int64(5), medianOf(map[string]int64{"a": 1, "b": 5, "c": 9}))
	assert.Equal(t, int64(5), medianOf(map[string]int64{"a": 1, "b": 9}))
	assert.Equal(t, int64(0), medianOf(nil))
}

func TestClassifyDataType(t *testing.T) {
	assert.Equal(t, "string", classifyDataType("VARCHAR"))
	assert.Equal(t, "integer", classifyDataType("NUMBER"))
	assert.Equal(t, "date", classifyDataType("DATE"))
}

func TestBindDatesByProbeType(t *testing.T) {
	start, end := window(1, 2)
	s, e := bindDates(schemaProbe{dateColumnType: "string"}, start, end)
	assert.Equal(t, "2024-07-01", s)
	assert.Equal(t, "2024-07-02", e)

	s, e = bindDates(schemaProbe{dateColumnType: "integer"}, start, end)
	assert.Equal(t, 20240701, s)
	assert.Equal(t, 20240702, e)

	s, e = bindDates(schemaProbe{dateColumnType: "date"}, start, end)
	assert.Equal(t, start, s)
	assert.Equal(t, end, e)
}

func TestCanonicalDayFoldsDriverShapes(t *testing.T) {
	d, ok := canonicalDay(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, "2024-07-01", d)

	d, ok = canonicalDay(int64(20240701))
	require.True(t, ok)
	assert.Equal(t, "2024-07-01", d)

	d, ok = canonicalDay([]byte("2024-07-01"))
	require.True(t, ok)
	assert.Equal(t, "2024-07-01", d)

	d, ok = canonicalDay("20240701")
	require.True(t, ok)
	assert.Equal(t, "2024-07-01", d)

	_, ok = canonicalDay("not-a-date")
	assert.False(t, ok)
}

func TestValidateRejectsInvalidIdentifiers(t *testing.T) {
	v := NewValidator(nil)
	_, err := v.Validate(nil, "orders; DROP TABLE x", "d", time.Now(), time.Now(), nil)
	require.Error(t, err)
	var target *ErrInvalidIdentifier
	assert.ErrorAs(t, err, &target)
}

func TestValidateRejectsInvalidDuplicateKeyColumn(t *testing.T) {
	v := NewValidator(nil)
	_, err := v.Validate(nil, "ORDERS", "D", time.Now(), time.Now(), []string{"ok_col", "bad col"})
	require.Error(t, err)
}

func TestJoinColumns(t *testing.T) {
	assert.Equal(t, "a, b, c", joinColumns([]string{"a", "b", "c"}))
	assert.Equal(t, "a", joinColumns([]string{"a"}))
}
