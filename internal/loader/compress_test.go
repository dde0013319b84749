package loader

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjksingh/snowtsv-loader/internal/model"
)

func writeGzip(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gw := gzip.NewWriter(f)
	_, err = gw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return path
}

func TestEnsureCompressedReusesValidGzip(t *testing.T) {
	dir := t.TempDir()
	path := writeGzip(t, dir, "orders.tsv.gz", "1\tfoo\t2024-01-01\n")
	fd := &model.FileDescriptor{Path: path, EffectiveFormat: &model.Format{Compression: model.CompressionGzip}}

	out, produced, err := ensureCompressed(fd, 1, dir)
	require.NoError(t, err)
	assert.False(t, produced)
	assert.Equal(t, path, out)
}

func TestEnsureCompressedTruncatedGzipFailsRecompress(t *testing.T) {
	dir := t.TempDir()
	path := writeGzip(t, dir, "orders.tsv.gz", "1\tfoo\t2024-01-01\n")

	// Truncate the file so the gzip trailer (and CRC) is gone; the header
	// still looks valid, so this exercises the "mismatch" path, not the
	// "unreadable" one.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-4))

	fd := &model.FileDescriptor{Path: path, EffectiveFormat: &model.Format{Compression: model.CompressionGzip}}

	_, produced, err := ensureCompressed(fd, 1, dir)
	require.Error(t, err)
	assert.False(t, produced)
}

func TestEnsureCompressedProducesFreshGzipForUncompressedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.tsv")
	require.NoError(t, os.WriteFile(path, []byte("1\tfoo\t2024-01-01\n"), 0o644))

	fd := &model.FileDescriptor{Path: path, EffectiveFormat: &model.Format{Compression: model.CompressionNone}}

	out, produced, err := ensureCompressed(fd, 1, dir)
	require.NoError(t, err)
	assert.True(t, produced)
	defer os.Remove(out)

	assert.True(t, gzipIntegrityOK(out))
}
