package sink

import (
	"go.uber.org/zap"

	"github.com/sjksingh/snowtsv-loader/internal/model"
)

// LogSink is the logging-shape ProgressSink: one structured line per
// milestone, grounded on the teacher's log.Printf milestone style in
// internal/job/handlers.go, upgraded to zap's structured fields since this
// domain's events (file path, query id, row counts) need them far more than
// the teacher's plain status strings did.
type LogSink struct {
	log *zap.SugaredLogger
}

// NewLogSink wraps an injected zap logger. cmd/loader constructs this once
// per run and hands it to the orchestrator; it is never read from
// package-level state.
func NewLogSink(log *zap.SugaredLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) OnFileStart(path string, phase Phase, total int64) {
	s.log.Infow("phase started", "path", path, "phase", phase, "total", total)
}

func (s *LogSink) OnProgress(path string, phase Phase, delta int64) {
	s.log.Debugw("progress", "path", path, "phase", phase, "delta", delta)
}

func (s *LogSink) OnFileEnd(path string, outcome model.JobOutcome) {
	if outcome.Err != nil {
		s.log.Errorw("file finished", "path", path, "kind", outcome.Kind, "error", outcome.Err)
		return
	}
	s.log.Infow("file finished", "path", path, "kind", outcome.Kind, "rows_loaded", outcome.RowsLoaded)
}
