package sink

import (
	"sync"

	"github.com/sjksingh/snowtsv-loader/internal/model"
)

// RecordingSink is a test-only ProgressSink that records every call it
// receives, grounded on the teacher's hand-rolled fakes in
// tests/mocks/mocks.go. It is exported (not a _test.go file) so every
// package's tests can share one recording double instead of redefining it.
type RecordingSink struct {
	mu       sync.Mutex
	Starts   []StartEvent
	Progress []ProgressEvent
	Ends     []EndEvent
}

type StartEvent struct {
	Path  string
	Phase Phase
	Total int64
}

type ProgressEvent struct {
	Path  string
	Phase Phase
	Delta int64
}

type EndEvent struct {
	Path    string
	Outcome model.JobOutcome
}

// NewRecordingSink returns an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) OnFileStart(path string, phase Phase, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Starts = append(s.Starts, StartEvent{Path: path, Phase: phase, Total: total})
}

func (s *RecordingSink) OnProgress(path string, phase Phase, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Progress = append(s.Progress, ProgressEvent{Path: path, Phase: phase, Delta: delta})
}

func (s *RecordingSink) OnFileEnd(path string, outcome model.JobOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ends = append(s.Ends, EndEvent{Path: path, Outcome: outcome})
}

// TotalBytesFor sums recorded progress deltas for path/phase, useful for
// asserting single-pass byte-accounting invariants in tests.
func (s *RecordingSink) TotalBytesFor(path string, phase Phase) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, p := range s.Progress {
		if p.Path == path && p.Phase == phase {
			total += p.Delta
		}
	}
	return total
}
