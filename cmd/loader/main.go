// Command loader runs one bulk-ingest Job: detect, analyze, validate,
// stage-and-copy, and validate-complete a set of delimited text files
// against a warehouse table, then print the resulting JobReport.
//
// Input files are supplied positionally; the warehouse DSN comes from -dsn
// or the SNOWTSV_DSN environment variable. Config parsing beyond flag
// defaults is out of core scope (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sjksingh/snowtsv-loader/internal/analyzer"
	"github.com/sjksingh/snowtsv-loader/internal/config"
	"github.com/sjksingh/snowtsv-loader/internal/format"
	"github.com/sjksingh/snowtsv-loader/internal/model"
	"github.com/sjksingh/snowtsv-loader/internal/orchestrator"
	"github.com/sjksingh/snowtsv-loader/internal/pool"
	"github.com/sjksingh/snowtsv-loader/internal/quality"
	"github.com/sjksingh/snowtsv-loader/internal/sink"
)

func main() {
	var (
		dsn          = flag.String("dsn", os.Getenv("SNOWTSV_DSN"), "warehouse data source name")
		table        = flag.String("table", "", "target table name")
		dateColumn   = flag.String("date-column", "", "date column name")
		columns      = flag.String("columns", "", "comma-separated expected column names")
		duplicateKey = flag.String("duplicate-key", "", "comma-separated composite key columns (optional)")
		policy       = flag.String("policy", string(model.PolicyBoth), "validation policy: SKIP, FILE_ONLY, WAREHOUSE_ONLY, BOTH")
		windowStart  = flag.String("window-start", "", "completeness window start, yyyy-mm-dd")
		windowEnd    = flag.String("window-end", "", "completeness window end, yyyy-mm-dd")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	files := flag.Args()
	if *dsn == "" || *table == "" || len(files) == 0 {
		sugar.Fatal("usage: loader -dsn=... -table=... -columns=a,b,c [file ...]")
	}

	cfg := config.Default()
	cfg.ValidationPolicy = model.ValidationPolicy(strings.ToUpper(*policy))
	if *duplicateKey != "" {
		cfg.DuplicateKey = strings.Split(*duplicateKey, ",")
	}
	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("invalid configuration", "error", err)
	}

	p, err := pool.New(*dsn, cfg.PoolCapacity, cfg.KeepaliveInterval)
	if err != nil {
		sugar.Fatalw("opening connection pool", "error", err)
	}
	defer p.Close()

	progressSink := sink.NewLogSink(sugar)
	detector := format.NewDetector()
	fileAnalyzer := analyzer.NewAnalyzer(progressSink)
	qualityValidator := quality.NewValidator(progressSink)

	orc := orchestrator.New(p, cfg, progressSink, detector, fileAnalyzer, qualityValidator, os.TempDir())

	job := &model.Job{
		ID:              uuid.New(),
		Files:           descriptors(files, *table, *dateColumn, *columns),
		Policy:          cfg.ValidationPolicy,
		DuplicateKey:    cfg.DuplicateKey,
		Workers:         cfg.EffectiveWorkers(),
		ContinueOnError: cfg.ContinueOnError,
	}
	if cfg.ValidationPolicy.RunsWarehouseValidation() {
		job.WindowStart, job.WindowEnd, err = parseWindow(*windowStart, *windowEnd)
		if err != nil {
			sugar.Fatalw("invalid completeness window", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := orc.Run(ctx, job)
	printReport(report)

	if report.Failed() {
		os.Exit(1)
	}
}

func descriptors(paths []string, table, dateColumn, columns string) []*model.FileDescriptor {
	var cols []string
	if columns != "" {
		cols = strings.Split(columns, ",")
	}
	out := make([]*model.FileDescriptor, len(paths))
	for i, p := range paths {
		out[i] = &model.FileDescriptor{
			Path:            p,
			TableName:       table,
			DateColumn:      dateColumn,
			ExpectedColumns: cols,
		}
	}
	return out
}

func parseWindow(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("window-start: %w", err)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("window-end: %w", err)
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("window-end %s precedes window-start %s", end, start)
	}
	return s, e, nil
}

func printReport(report *model.JobReport) {
	fmt.Printf("job %s: %d file(s)\n", report.JobID, len(report.Outcomes))
	for _, o := range report.Outcomes {
		switch o.Kind {
		case model.OutcomeLoaded:
			fmt.Printf("  LOADED      %s (%d rows)\n", o.Path, o.RowsLoaded)
		case model.OutcomeSkipped:
			fmt.Printf("  SKIPPED     %s (%s)\n", o.Path, o.SkipReason)
		default:
			fmt.Printf("  %s %s: %v\n", o.Kind, o.Path, o.Err)
		}
	}
}
