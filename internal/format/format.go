// Package format implements FormatDetector (spec.md §4.2): resolving a
// file's effective delimiter, quote character, and compression. Grounded on
// the teacher's SheetNameParser (internal/service/ods_parser.go): a small,
// regex/heuristic-driven classifier that returns a confidence-free parsed
// struct or nil/error, generalized here to return an explicit confidence
// score instead.
package format

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sjksingh/snowtsv-loader/internal/diagnostics"
	"github.com/sjksingh/snowtsv-loader/internal/model"
)

// candidateDelimiters is the ordered precedence used to break ties: earlier
// entries win when two delimiters score identically (spec.md §4.2 step 3).
var candidateDelimiters = []byte{'\t', ',', '|', ';'}

// maxSampleLines bounds the number of non-empty lines sampled for scoring
// (spec.md §4.2: N <= 64).
const maxSampleLines = 64

// ErrFormatUndetermined is returned for unreadable or zero-byte files.
type ErrFormatUndetermined struct {
	Path   string
	Reason string
}

func (e *ErrFormatUndetermined) Error() string {
	return "format undetermined for " + e.Path + ": " + e.Reason
}

// Detector resolves a FileDescriptor's effective Format.
type Detector struct{}

// NewDetector returns a stateless FormatDetector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect is deterministic for the same input bytes (spec.md §8): given the
// same file contents and the same FileDescriptor overrides, it always
// returns the same Format and confidence.
func (d *Detector) Detect(fd *model.FileDescriptor, diag *diagnostics.Result) (model.Format, error) {
	compression := model.CompressionNone
	ext := strings.ToLower(filepath.Ext(fd.Path))
	if ext == ".gz" || ext == ".gzip" {
		compression = model.CompressionGzip
	}

	lines, err := sampleLines(fd.Path, compression, maxSampleLines)
	if err != nil {
		return model.Format{}, &ErrFormatUndetermined{Path: fd.Path, Reason: err.Error()}
	}
	if len(lines) == 0 {
		return model.Format{}, &ErrFormatUndetermined{Path: fd.Path, Reason: "no non-empty lines sampled"}
	}

	var delim byte
	var confidence float64

	if fd.HasExplicitDelim && consistentWith(lines, fd.ExplicitDelimiter) {
		delim = fd.ExplicitDelimiter
		confidence = 1.0
	} else {
		delim, confidence = scoreDelimiters(lines)
	}

	kind := model.FormatTSV
	if delim == ',' {
		kind = model.FormatCSV
	}

	quote := byte(0)
	hasQuote := false
	if fd.HasExplicitQuote {
		quote = fd.ExplicitQuote
		hasQuote = fd.ExplicitQuote != 0
	} else if kind == model.FormatCSV {
		quote = '"'
		hasQuote = true
	}

	escape := model.EscapeDouble
	if fd.HasExplicitEscape {
		escape = fd.ExplicitEscape
	}

	f := model.Format{
		Kind:        kind,
		Delimiter:   delim,
		Quote:       quote,
		HasQuote:    hasQuote,
		Escape:      escape,
		Compression: compression,
		Confidence:  confidence,
	}

	if confidence < 0.5 {
		diag.Add(diagnostics.FormatLowConfidence, "delimiter detection confidence below 0.5")
	}

	return f, nil
}

// sampleLines reads up to n non-empty lines, transparently decompressing
// gzip input per spec.md §4.2 step 1.
func sampleLines(path string, compression model.Compression, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compression == model.CompressionGzip {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() && len(lines) < n {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// scoreDelimiters implements spec.md §4.2 step 3: score each candidate by
// (a) consistency of field counts across sampled lines and (b) absolute
// frequency; ties broken by declared precedence order.
func scoreDelimiters(lines []string) (byte, float64) {
	type score struct {
		delim       byte
		consistency float64
		frequency   int
	}

	scores := make([]score, 0, len(candidateDelimiters))
	for _, delim := range candidateDelimiters {
		counts := make(map[int]int)
		total := 0
		for _, line := range lines {
			c := strings.Count(line, string(delim))
			counts[c]++
			total += c
		}
		mode := 0
		for _, c := range counts {
			if c > mode {
				mode = c
			}
		}
		consistency := 0.0
		if len(lines) > 0 {
			consistency = float64(mode) / float64(len(lines))
		}
		scores = append(scores, score{delim: delim, consistency: consistency, frequency: total})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].consistency != scores[j].consistency {
			return scores[i].consistency > scores[j].consistency
		}
		return scores[i].frequency > scores[j].frequency
	})

	for _, s := range scores {
		if s.frequency > 0 {
			return s.delim, s.consistency
		}
	}
	// No candidate delimiter appears at all; fall back to the first
	// precedence entry with zero confidence rather than guessing.
	return candidateDelimiters[0], 0
}

// consistentWith reports whether an explicit delimiter override appears in
// the sample and produces a stable field count across it, per spec.md §4.2
// step 2.
func consistentWith(lines []string, delim byte) bool {
	if len(lines) == 0 {
		return false
	}
	want := strings.Count(lines[0], string(delim))
	if want == 0 {
		return false
	}
	for _, line := range lines[1:] {
		if strings.Count(line, string(delim)) != want {
			return false
		}
	}
	return true
}
