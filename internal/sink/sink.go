// Package sink defines ProgressSink, the one capability the core depends on
// for surfacing file-scoped lifecycle events. The core never mentions
// terminals, bars, or loggers by name — only this interface.
package sink

import "github.com/sjksingh/snowtsv-loader/internal/model"

// Phase names a pipeline stage for progress reporting purposes.
type Phase string

const (
	PhaseAnalyzing  Phase = "ANALYZING"
	PhaseValidating Phase = "VALIDATING_FILE"
	PhaseCompress   Phase = "COMPRESSING"
	PhaseUpload     Phase = "UPLOADING"
	PhaseCopy       Phase = "COPYING"
	PhaseWarehouse  Phase = "VALIDATING_WAREHOUSE"
)

// ProgressSink receives file-scoped lifecycle events and byte/row counters.
// Implementations are expected in two shapes: a logging shape (one line per
// milestone) and a live-rendering shape (periodic redraw); the core depends
// only on this interface.
type ProgressSink interface {
	// OnFileStart announces the start of a phase, with a size hint when
	// known (total bytes or total rows depending on the phase).
	OnFileStart(path string, phase Phase, total int64)
	// OnProgress reports an incremental delta (bytes read, bytes
	// uploaded, rows scanned) within the current phase.
	OnProgress(path string, phase Phase, delta int64)
	// OnFileEnd announces the terminal outcome for one file.
	OnFileEnd(path string, outcome model.JobOutcome)
}
