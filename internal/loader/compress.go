package loader

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/sjksingh/snowtsv-loader/internal/model"
)

// ensureCompressed returns a path to a gzip-compressed copy of fd.Path,
// reusing the existing file when it is already gzip and passes a cheap
// integrity check (spec.md §4.5 step 1, §8 idempotence law: "recompressing
// an already-gzipped file detected as valid is a no-op"). On integrity
// mismatch the file is decompressed and recompressed fresh; a stream that
// cannot be decompressed to its end (e.g. a truncated trailer) cannot be
// recompressed either, and yields an error with nothing produced. The caller is
// responsible for cleaning up a freshly produced path; a reused path must
// never be removed.
func ensureCompressed(fd *model.FileDescriptor, level int, destDir string) (path string, produced bool, err error) {
	if fd.EffectiveFormat != nil && fd.EffectiveFormat.Compression == model.CompressionGzip {
		if gzipIntegrityOK(fd.Path) {
			return fd.Path, false, nil
		}
		return recompress(fd.Path, level, destDir)
	}

	in, err := os.Open(fd.Path)
	if err != nil {
		return "", false, fmt.Errorf("compress: open %s: %w", fd.Path, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(destDir, "snowtsv-*.gz")
	if err != nil {
		return "", false, fmt.Errorf("compress: create temp: %w", err)
	}
	defer out.Close()

	gw, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return "", false, fmt.Errorf("compress: gzip level %d: %w", level, err)
	}

	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		os.Remove(out.Name())
		return "", false, fmt.Errorf("compress: %s: %w", fd.Path, err)
	}
	if err := gw.Close(); err != nil {
		os.Remove(out.Name())
		return "", false, fmt.Errorf("compress: flush %s: %w", fd.Path, err)
	}

	return out.Name(), true, nil
}

// gzipIntegrityOK performs spec.md §4.5's "cheap integrity check": it reads
// the gzip header and streams the body to EOF, verifying the trailing CRC
// without retaining decompressed bytes. Any I/O or checksum error means the
// existing .gz is not safe to reuse.
func gzipIntegrityOK(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return false
	}
	defer gz.Close()

	_, err = io.Copy(io.Discard, gz)
	return err == nil
}

// recompress decompresses an existing .gz whose integrity check failed and
// writes a fresh gzip stream at the configured level.
func recompress(path string, level int, destDir string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("compress: open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", false, fmt.Errorf("compress: reading corrupt gzip %s: %w", path, err)
	}
	defer gz.Close()

	out, err := os.CreateTemp(destDir, "snowtsv-*.gz")
	if err != nil {
		return "", false, fmt.Errorf("compress: create temp: %w", err)
	}
	defer out.Close()

	gw, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return "", false, fmt.Errorf("compress: gzip level %d: %w", level, err)
	}

	if _, err := io.Copy(gw, gz); err != nil {
		gw.Close()
		os.Remove(out.Name())
		return "", false, fmt.Errorf("compress: recompressing %s: %w", path, err)
	}
	if err := gw.Close(); err != nil {
		os.Remove(out.Name())
		return "", false, fmt.Errorf("compress: flush %s: %w", path, err)
	}

	return out.Name(), true, nil
}
