// Package orchestrator implements LoadOrchestrator (spec.md §4.7): the
// bounded worker pool that drives every file in a Job through detect ->
// analyze -> validate -> load -> validate-warehouse, aggregating results
// into one JobReport without letting per-file errors unwind past the
// worker boundary (spec.md §7). Grounded on the example pack's Executor
// (Andrew50-peripheral's executor.go): errgroup plus a pre-allocated,
// index-addressed results slice so each worker only ever writes its own
// slot, never racing another worker's result.
package orchestrator

import (
	"context"
	"database/sql"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sjksingh/snowtsv-loader/internal/completeness"
	"github.com/sjksingh/snowtsv-loader/internal/config"
	"github.com/sjksingh/snowtsv-loader/internal/coreerr"
	"github.com/sjksingh/snowtsv-loader/internal/diagnostics"
	"github.com/sjksingh/snowtsv-loader/internal/loader"
	"github.com/sjksingh/snowtsv-loader/internal/model"
	"github.com/sjksingh/snowtsv-loader/internal/pool"
	"github.com/sjksingh/snowtsv-loader/internal/sink"
)

// formatDetector is the capability orchestrator depends on from
// internal/format; named here so tests can substitute a fake without
// importing the concrete package.
type formatDetector interface {
	Detect(fd *model.FileDescriptor, diag *diagnostics.Result) (model.Format, error)
}

// fileAnalyzer is the capability orchestrator depends on from
// internal/analyzer.
type fileAnalyzer interface {
	Analyze(fd *model.FileDescriptor) (model.AnalysisReport, error)
}

// qualityValidator is the capability orchestrator depends on from
// internal/quality.
type qualityValidator interface {
	Validate(fd *model.FileDescriptor, duplicateKey []string) (model.QualityReport, *diagnostics.Result, error)
}

// completenessValidator is the capability orchestrator depends on from
// internal/completeness.
type completenessValidator interface {
	Validate(ctx context.Context, table, dateColumn string, windowStart, windowEnd time.Time, duplicateKey []string) (model.CompletenessReport, error)
}

// loaderClient is the capability orchestrator depends on from
// internal/loader.
type loaderClient interface {
	Load(ctx context.Context, fd *model.FileDescriptor, opts loader.Options) model.JobOutcome
}

// Orchestrator runs a Job's files through a bounded worker pool, leasing
// one ConnectionPool session per in-flight file.
type Orchestrator struct {
	pool *pool.Pool
	cfg  config.Config
	sink sink.ProgressSink

	detector   formatDetector
	analyzer   fileAnalyzer
	quality    qualityValidator
	tempDir    string

	newLoader       func(db *sql.DB) loaderClient
	newCompleteness func(db *sql.DB) completenessValidator
}

// New builds a LoadOrchestrator over p, using cfg's tunables and reporting
// through s. detector/analyzer/quality come from their respective
// packages' concrete constructors; per-file loader/completeness clients
// are built fresh against each leased session.
func New(p *pool.Pool, cfg config.Config, s sink.ProgressSink, detector formatDetector, analyzer fileAnalyzer, quality qualityValidator, tempDir string) *Orchestrator {
	if s == nil {
		s = discardSink{}
	}
	return &Orchestrator{
		pool:     p,
		cfg:      cfg,
		sink:     s,
		detector: detector,
		analyzer: analyzer,
		quality:  quality,
		tempDir:  tempDir,
		newLoader: func(db *sql.DB) loaderClient {
			return loader.New(loader.NewClient(db), s, tempDir)
		},
		newCompleteness: func(db *sql.DB) completenessValidator {
			return completeness.NewValidator(db)
		},
	}
}

// Run drives every file in job through the pipeline concurrently, bounded
// by min(job.Workers, pool.Capacity) (spec.md §4.1). Run always returns a
// JobReport with one outcome per file and never returns a Go error. When
// !job.ContinueOnError, a worker whose file did not load hands its error to
// the group, which cancels the shared context so files not yet started end
// as CANCELLED; the group's error itself is discarded.
func (o *Orchestrator) Run(ctx context.Context, job *model.Job) *model.JobReport {
	outcomes := make([]model.JobOutcome, len(job.Files))

	limit := job.Workers
	if limit <= 0 || limit > o.pool.Capacity() {
		limit = o.pool.Capacity()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, fd := range job.Files {
		i, fd := i, fd
		g.Go(func() error {
			outcome := o.processFile(gctx, fd, job)
			outcomes[i] = outcome
			o.sink.OnFileEnd(fd.Path, outcome)

			if !job.ContinueOnError && outcome.Kind != model.OutcomeLoaded {
				return outcome.Err
			}
			return nil
		})
	}
	_ = g.Wait()

	return &model.JobReport{JobID: job.ID, Outcomes: outcomes}
}

func (o *Orchestrator) processFile(ctx context.Context, fd *model.FileDescriptor, job *model.Job) model.JobOutcome {
	select {
	case <-ctx.Done():
		return model.JobOutcome{Path: fd.Path, Kind: model.OutcomeLoadFailed, Err: coreerr.Wrap(coreerr.KindCancelled, "job cancelled before file started", ctx.Err(), nil)}
	default:
	}

	if info, err := os.Stat(fd.Path); err == nil && info.Size() == 0 {
		// spec.md §8's boundary case ("zero-byte file -> SKIPPED reason
		// EMPTY") takes precedence over §4.2's FormatUndetermined: an empty
		// file has nothing for FormatDetector to sample, so it is never
		// reached as a format failure.
		return model.JobOutcome{Path: fd.Path, Kind: model.OutcomeSkipped, SkipReason: "EMPTY"}
	}

	diag := diagnostics.NewResult()

	format, err := o.detector.Detect(fd, diag)
	if err != nil {
		return model.JobOutcome{Path: fd.Path, Kind: model.OutcomeLoadFailed, Err: coreerr.Wrap(coreerr.KindFormatUndetermined, "detecting format", err, nil)}
	}
	fd.EffectiveFormat = &format

	analysis, err := o.analyzer.Analyze(fd)
	if err != nil {
		return model.JobOutcome{Path: fd.Path, Kind: model.OutcomeLoadFailed, Err: coreerr.Wrap(coreerr.KindFileIO, "analyzing file", err, nil)}
	}
	if analysis.RowCount == 0 {
		return model.JobOutcome{Path: fd.Path, Kind: model.OutcomeSkipped, SkipReason: "EMPTY"}
	}
	if analysis.Truncated {
		diag.Add(diagnostics.TruncatedFile, "file ends mid-record")
	}

	var qualityReport *model.QualityReport
	if job.Policy.RunsFileValidation() {
		report, qdiag, err := o.quality.Validate(fd, job.DuplicateKey)
		if err != nil {
			return model.JobOutcome{Path: fd.Path, Kind: model.OutcomeLoadFailed, Err: coreerr.Wrap(coreerr.KindFileIO, "validating quality", err, nil)}
		}
		qualityReport = &report
		diag.Merge(qdiag)

		failQuality := diag.HasErrors() || (o.cfg.StrictQuality && diag.HasWarnings())
		if failQuality {
			return model.JobOutcome{
				Path:          fd.Path,
				Kind:          model.OutcomeValidationFailed,
				QualityReport: qualityReport,
				Err:           coreerr.New(coreerr.KindQualityFailed, diag.Summary(), nil),
			}
		}
	}
	if diag.HasErrors() {
		return model.JobOutcome{Path: fd.Path, Kind: model.OutcomeValidationFailed, QualityReport: qualityReport, Err: coreerr.New(coreerr.KindFileIO, diag.Summary(), nil)}
	}

	session, err := o.pool.Acquire(ctx, o.cfg.MaxWait)
	if err != nil {
		return model.JobOutcome{Path: fd.Path, Kind: model.OutcomeLoadFailed, QualityReport: qualityReport, Err: coreerr.Wrap(coreerr.KindConnectionLost, "acquiring session", err, nil)}
	}
	defer o.pool.Release(session)

	client := o.newLoader(session.DB())
	outcome := client.Load(ctx, fd, loader.Options{
		AsyncThreshold:   o.cfg.AsyncThreshold,
		PollInterval:     o.cfg.PollInterval,
		MaxWait:          o.cfg.MaxWait,
		CompressionLevel: o.cfg.CompressionLevel,
		ParallelUploads:  o.cfg.ParallelUploads,
		MaxAttempts:      o.cfg.MaxAttempts,
	})
	outcome.QualityReport = qualityReport

	if outcome.Kind != model.OutcomeLoaded || !job.Policy.RunsWarehouseValidation() {
		return outcome
	}

	o.sink.OnFileStart(fd.Path, sink.PhaseWarehouse, 0)
	completenessClient := o.newCompleteness(session.DB())
	completenessReport, err := completenessClient.Validate(ctx, fd.TableName, fd.DateColumn, job.WindowStart, job.WindowEnd, job.DuplicateKey)
	if err != nil {
		outcome.Err = coreerr.Wrap(coreerr.KindWarehouseValidationFailed, "completeness check failed to run", err, nil)
		return outcome
	}
	outcome.CompletenessReport = &completenessReport
	o.sink.OnProgress(fd.Path, sink.PhaseWarehouse, int64(len(completenessReport.ExpectedDates)))

	if len(completenessReport.MissingDates) > 0 || len(completenessReport.AnomalousDates) > 0 {
		warning := coreerr.New(coreerr.KindWarehouseValidationFailed, "completeness check found missing or anomalous dates", map[string]any{
			"missing":    completenessReport.MissingDates,
			"anomalous":  completenessReport.AnomalousDates,
		})
		if o.cfg.StrictCompleteness {
			outcome.Kind = model.OutcomeValidationFailed
		}
		outcome.Err = warning
	}

	return outcome
}

type discardSink struct{}

func (discardSink) OnFileStart(string, sink.Phase, int64) {}
func (discardSink) OnProgress(string, sink.Phase, int64)  {}
func (discardSink) OnFileEnd(string, model.JobOutcome)    {}
