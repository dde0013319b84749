package analyzer

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjksingh/snowtsv-loader/internal/model"
	"github.com/sjksingh/snowtsv-loader/internal/sink"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.tsv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func tsvDescriptor(path string) *model.FileDescriptor {
	return &model.FileDescriptor{
		Path: path,
		EffectiveFormat: &model.Format{
			Kind:      model.FormatTSV,
			Delimiter: '\t',
		},
	}
}

func TestAnalyzeCountsRowsAndColumns(t *testing.T) {
	content := "1\tfoo\t2024-01-01\n2\tbar\t2024-01-02\n3\tbaz\t2024-01-03\n"
	path := writeTemp(t, content)
	rs := sink.NewRecordingSink()

	report, err := NewAnalyzer(rs).Analyze(tsvDescriptor(path))
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.RowCount)
	assert.Equal(t, 3, report.ColumnCount)
	assert.Equal(t, "\n", report.LineTerminator)
	assert.False(t, report.Truncated)

	assert.Len(t, rs.Starts, 1)
	assert.Equal(t, sink.PhaseAnalyzing, rs.Starts[0].Phase)
	// Single pass: the progress deltas add up to the file size exactly once.
	assert.Equal(t, int64(len(content)), rs.TotalBytesFor(path, sink.PhaseAnalyzing))
}

func TestAnalyzeSkipsHeaderRows(t *testing.T) {
	path := writeTemp(t, "id\tname\tdate\n1\tfoo\t2024-01-01\n2\tbar\t2024-01-02\n")
	fd := tsvDescriptor(path)
	fd.SkipHeader = 1

	report, err := NewAnalyzer(nil).Analyze(fd)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.RowCount)
}

func TestAnalyzeDetectsCRLF(t *testing.T) {
	path := writeTemp(t, "1\tfoo\r\n2\tbar\r\n")
	report, err := NewAnalyzer(nil).Analyze(tsvDescriptor(path))
	require.NoError(t, err)
	assert.Equal(t, "\r\n", report.LineTerminator)
}

func TestAnalyzeGzipTransparent(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("1\tfoo\n2\tbar\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "orders.tsv.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	fd := tsvDescriptor(path)
	fd.EffectiveFormat.Compression = model.CompressionGzip

	report, err := NewAnalyzer(nil).Analyze(fd)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.RowCount)
}

func TestAnalyzeDetectsTruncation(t *testing.T) {
	path := writeTemp(t, "1\tfoo\t2024-01-01\n2\tbar\t2024-01-02\n3\tbaz")
	report, err := NewAnalyzer(nil).Analyze(tsvDescriptor(path))
	require.NoError(t, err)
	assert.True(t, report.Truncated)
	// The partial trailing line is excluded: the row count rounds down.
	assert.Equal(t, int64(2), report.RowCount)
}

func TestAnalyzeHonorsQuoteCharForEmbeddedDelimiter(t *testing.T) {
	path := writeTemp(t, "1,\"Smith, John\",2024-01-01\n2,\"Doe, Jane\",2024-01-02\n")
	fd := &model.FileDescriptor{
		Path: path,
		EffectiveFormat: &model.Format{
			Kind:      model.FormatCSV,
			Delimiter: ',',
			Quote:     '"',
			HasQuote:  true,
		},
	}

	report, err := NewAnalyzer(nil).Analyze(fd)
	require.NoError(t, err)
	assert.Equal(t, 3, report.ColumnCount)
	assert.False(t, report.Truncated)
}

func TestAnalyzeMissingFormatReturnsError(t *testing.T) {
	path := writeTemp(t, "1\tfoo\n")
	fd := &model.FileDescriptor{Path: path}
	_, err := NewAnalyzer(nil).Analyze(fd)
	assert.Error(t, err)
}

func TestAnalyzeMissingFileReturnsError(t *testing.T) {
	fd := tsvDescriptor("/nonexistent/orders.tsv")
	_, err := NewAnalyzer(nil).Analyze(fd)
	assert.Error(t, err)
}
