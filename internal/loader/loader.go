// Package loader implements WarehouseLoader (spec.md §4.5, §6): stage,
// upload, and COPY one file into its target table, honoring the exact
// FILE_FORMAT/ON_ERROR/PURGE/SIZE_LIMIT wire contract and the async
// submit-then-poll shape for large files. Grounded on the teacher's asynq
// job scheduler (internal/job/scheduler.go): "enqueue now, poll task info
// later" maps directly onto "submit async COPY, poll query id later", and
// on internal/repository/postgres/postgres.go for wrapping a single
// *sql.DB behind a small capability interface (here, Client).
package loader

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/sjksingh/snowtsv-loader/internal/coreerr"
	"github.com/sjksingh/snowtsv-loader/internal/diagnostics"
	"github.com/sjksingh/snowtsv-loader/internal/model"
	"github.com/sjksingh/snowtsv-loader/internal/sink"
)

// Options configures one Load call; it is the loader-relevant subset of
// config.Config, passed explicitly so this package does not import config.
type Options struct {
	AsyncThreshold    int64
	PollInterval      time.Duration
	MaxWait           time.Duration
	CompressionLevel  int
	ParallelUploads   int
	MaxAttempts       int
}

// Loader drives one file through compress -> stage -> upload -> COPY ->
// cleanup against a Client. A Loader is not safe for concurrent Load calls
// against the same Client; the orchestrator gives each worker its own
// leased session and Client.
type Loader struct {
	client  Client
	sink    sink.ProgressSink
	tempDir string
}

// New returns a WarehouseLoader driving client, reporting through s.
// tempDir is where compressed scratch copies are written; "" uses the
// system default.
func New(client Client, s sink.ProgressSink, tempDir string) *Loader {
	if s == nil {
		s = discardSink{}
	}
	return &Loader{client: client, sink: s, tempDir: tempDir}
}

// Load runs the full stage-and-copy sequence for one file and returns its
// terminal JobOutcome. Stage cleanup is attempted on every exit path,
// success or failure (spec.md §5 cancellation semantics); a cleanup
// failure is recorded on the returned outcome's Diagnostics but never
// flips Kind (spec.md §4.5 step 6).
func (l *Loader) Load(ctx context.Context, fd *model.FileDescriptor, opts Options) (outcome model.JobOutcome) {
	outcome = model.JobOutcome{Path: fd.Path}

	srcInfo, err := os.Stat(fd.Path)
	if err != nil {
		outcome.Kind = model.OutcomeLoadFailed
		outcome.Err = coreerr.Wrap(coreerr.KindFileIO, "stat source file", err, nil)
		return outcome
	}

	l.sink.OnFileStart(fd.Path, sink.PhaseCompress, srcInfo.Size())
	compressedPath, produced, err := ensureCompressed(fd, opts.CompressionLevel, l.tempDir)
	if err != nil {
		outcome.Kind = model.OutcomeLoadFailed
		outcome.Err = coreerr.Wrap(coreerr.KindFileIO, "compressing file", err, nil)
		return outcome
	}
	if produced {
		defer os.Remove(compressedPath)
	}
	l.sink.OnProgress(fd.Path, sink.PhaseCompress, srcInfo.Size())

	info, err := os.Stat(compressedPath)
	if err != nil {
		outcome.Kind = model.OutcomeLoadFailed
		outcome.Err = coreerr.Wrap(coreerr.KindFileIO, "stat compressed file", err, nil)
		return outcome
	}

	if !regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`).MatchString(fd.TableName) {
		outcome.Kind = model.OutcomeLoadFailed
		outcome.Err = coreerr.New(coreerr.KindConfigInvalid, "invalid table name", map[string]any{"table": fd.TableName})
		return outcome
	}

	stage := &model.StageHandle{Table: fd.TableName, ID: uuid.New(), CreatedAt: time.Now()}
	stagePath := stage.Path()

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := l.client.RemoveStage(cleanupCtx, stagePath); err != nil {
			diag := diagnostics.NewResult()
			diag.AddContext(diagnostics.StageCleanupFailed,
				fmt.Sprintf("removing stage %s: %v", stagePath, err),
				map[string]any{"stage": stagePath, "error": err.Error()})
			outcome.Diagnostics = diag
		}
	}()

	l.sink.OnFileStart(fd.Path, sink.PhaseUpload, info.Size())
	if err := l.client.Put(ctx, compressedPath, stagePath, opts.ParallelUploads); err != nil {
		outcome.Kind = model.OutcomeLoadFailed
		outcome.Err = coreerr.Wrap(coreerr.KindConnectionLost, "uploading to stage", err, map[string]any{"stage": stagePath})
		return outcome
	}
	l.sink.OnProgress(fd.Path, sink.PhaseUpload, info.Size())

	copySQL := buildCopySQL(fd, stagePath)
	async := info.Size() > opts.AsyncThreshold

	l.sink.OnFileStart(fd.Path, sink.PhaseCopy, 0)

	rowsLoaded, err := l.runCopy(ctx, copySQL, async, opts)
	if err != nil {
		var ce *coreerr.CoreError
		if asCore, ok := err.(*coreerr.CoreError); ok {
			ce = asCore
		} else {
			ce = coreerr.Wrap(coreerr.KindLoadFailed, "COPY failed", err, map[string]any{"stage": stagePath})
		}
		outcome.Kind = model.OutcomeLoadFailed
		outcome.Err = ce
		return outcome
	}

	outcome.Kind = model.OutcomeLoaded
	outcome.RowsLoaded = rowsLoaded
	return outcome
}

// runCopy submits the COPY statement and, for async submissions, polls
// until terminal. A transport failure during a poll is retried up to
// MaxAttempts with the same query id; database/sql re-establishes the
// underlying connection on the next attempt, so the poll resumes on a
// replacement connection rather than abandoning the server-side query.
func (l *Loader) runCopy(ctx context.Context, sqlText string, async bool, opts Options) (int64, error) {
	queryID, status, rows, err := l.client.SubmitCopy(ctx, sqlText, async)
	if err != nil {
		return 0, coreerr.Wrap(coreerr.KindLoadFailed, "submitting COPY", err, nil)
	}
	if !async {
		if status != model.CopyStatusSuccess {
			return 0, coreerr.New(coreerr.KindLoadFailed, "COPY reported non-success status", map[string]any{"status": status})
		}
		return rows, nil
	}

	deadline := time.Now().Add(opts.MaxWait)
	attempts := 0
	for {
		if time.Now().After(deadline) {
			return 0, coreerr.New(coreerr.KindTimeout, "COPY exceeded maxWait", map[string]any{"queryId": queryID})
		}
		select {
		case <-ctx.Done():
			return 0, coreerr.Wrap(coreerr.KindCancelled, "Job cancelled during COPY poll", ctx.Err(), map[string]any{"queryId": queryID})
		case <-time.After(opts.PollInterval):
		}

		status, rows, err = l.client.PollCopy(ctx, queryID)
		if status.Terminal() {
			if status != model.CopyStatusSuccess {
				return 0, coreerr.Wrap(coreerr.KindLoadFailed, "COPY reached a non-success terminal status", err, map[string]any{"queryId": queryID, "status": status})
			}
			return rows, nil
		}
		if err != nil {
			attempts++
			if attempts > opts.MaxAttempts {
				return 0, coreerr.Wrap(coreerr.KindLoadFailed, "polling COPY after exhausting retries", err, map[string]any{"queryId": queryID})
			}
			continue
		}
	}
}

// buildCopySQL renders the exact wire contract from spec.md §6. Identifiers
// are checked before this is called: Load rejects a table name outside
// [A-Za-z_][A-Za-z0-9_]*, and the stage path is built from that name and a
// uuid. Besides them, only the resolved format values are interpolated
// here, never user-supplied row data.
func buildCopySQL(fd *model.FileDescriptor, stagePath string) string {
	format := fd.EffectiveFormat
	quote := "\""
	if format.HasQuote {
		quote = string(format.Quote)
	}
	return fmt.Sprintf(
		`COPY INTO %s FROM @~/%s
FILE_FORMAT = (TYPE=CSV FIELD_DELIMITER='%s' SKIP_HEADER=%d FIELD_OPTIONALLY_ENCLOSED_BY='%s' ESCAPE_UNENCLOSED_FIELD=NONE ERROR_ON_COLUMN_COUNT_MISMATCH=FALSE REPLACE_INVALID_CHARACTERS=TRUE NULL_IF=('NULL','null','','\\N') COMPRESSION=AUTO)
ON_ERROR = ABORT_STATEMENT
PURGE = TRUE
SIZE_LIMIT = 5368709120`,
		fd.TableName, stagePath, string(format.Delimiter), fd.SkipHeader, quote)
}

type discardSink struct{}

func (discardSink) OnFileStart(string, sink.Phase, int64) {}
func (discardSink) OnProgress(string, sink.Phase, int64)  {}
func (discardSink) OnFileEnd(string, model.JobOutcome)    {}
