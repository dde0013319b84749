package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/snowflakedb/gosnowflake"

	"github.com/sjksingh/snowtsv-loader/internal/model"
)

// Client abstracts the warehouse SQL surface the loader drives: stage
// upload, COPY submission/polling, and stage cleanup. Grounded on the
// teacher's postgres.DB wrapper (internal/repository/postgres/postgres.go):
// a thin struct around *sql.DB exposing the handful of operations its
// callers need, rather than callers reaching for database/sql directly.
// The production implementation is backed by a pool.Session against the
// gosnowflake driver; tests substitute a fake satisfying this interface.
type Client interface {
	// Put stages a local file under stagePath, using the driver's native
	// parallel upload (spec.md §6 parallelUploads).
	Put(ctx context.Context, localPath, stagePath string, parallel int) error
	// SubmitCopy issues the COPY statement. When async is true it returns
	// immediately with a query id and CopyStatusRunning; the caller polls.
	// When async is false it blocks until the statement completes.
	SubmitCopy(ctx context.Context, sqlText string, async bool) (queryID string, status model.CopyStatus, rowsLoaded int64, err error)
	// PollCopy checks on a previously submitted async query id. A terminal
	// status with a non-nil error carries the server's diagnostic; a
	// non-terminal status with a non-nil error is a transport failure the
	// caller may retry.
	PollCopy(ctx context.Context, queryID string) (status model.CopyStatus, rowsLoaded int64, err error)
	// RemoveStage deletes everything under stagePath unconditionally.
	RemoveStage(ctx context.Context, stagePath string) error
}

// sqlClient is the production Client, driving a single leased session's
// *sql.DB against the gosnowflake driver.
type sqlClient struct {
	db *sql.DB
}

// NewClient wraps a leased session's database handle.
func NewClient(db *sql.DB) Client {
	return &sqlClient{db: db}
}

func (c *sqlClient) Put(ctx context.Context, localPath, stagePath string, parallel int) error {
	stmt := fmt.Sprintf("PUT file://%s @~/%s PARALLEL=%d AUTO_COMPRESS=FALSE OVERWRITE=TRUE", localPath, stagePath, parallel)
	_, err := c.db.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("put %s: %w", localPath, err)
	}
	return nil
}

func (c *sqlClient) SubmitCopy(ctx context.Context, sqlText string, async bool) (string, model.CopyStatus, int64, error) {
	if !async {
		res, err := c.db.ExecContext(ctx, sqlText)
		if err != nil {
			return "", model.CopyStatusFailed, 0, err
		}
		rows, _ := res.RowsAffected()
		return "", model.CopyStatusSuccess, rows, nil
	}

	asyncCtx := gosnowflake.WithAsyncMode(ctx)
	res, err := c.db.ExecContext(asyncCtx, sqlText)
	if err != nil {
		return "", model.CopyStatusFailed, 0, err
	}

	queryID := ""
	if sfResult, ok := res.(gosnowflake.SnowflakeResult); ok {
		queryID = sfResult.GetQueryID()
	}
	if queryID == "" {
		return "", model.CopyStatusFailed, 0, fmt.Errorf("async COPY did not return a query id")
	}
	return queryID, model.CopyStatusRunning, 0, nil
}

// PollCopy asks the server for the query's status via the driver's
// monitoring API. A still-running query surfaces as ErrQueryIsRunning and
// maps to CopyStatusRunning; a server-reported failure is terminal and
// carries the server diagnostic; any other error is a transport failure
// reported as non-terminal so the caller can retry on a fresh session.
func (c *sqlClient) PollCopy(ctx context.Context, queryID string) (model.CopyStatus, int64, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return model.CopyStatusRunning, 0, err
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(gosnowflake.SnowflakeConnection)
		if !ok {
			return fmt.Errorf("connection does not expose query monitoring")
		}
		_, err := sc.GetQueryStatus(ctx, queryID)
		return err
	})
	if err != nil {
		var se *gosnowflake.SnowflakeError
		if errors.As(err, &se) {
			switch se.Number {
			case gosnowflake.ErrQueryIsRunning:
				return model.CopyStatusRunning, 0, nil
			case gosnowflake.ErrQueryReportedError:
				return model.CopyStatusFailed, 0, err
			}
		}
		return model.CopyStatusRunning, 0, err
	}
	return c.fetchCopyResult(ctx, queryID)
}

// fetchCopyResult retrieves the completed COPY's result set by query id and
// sums its rows_loaded column. COPY INTO reports one result row per staged
// file, with the loaded count in a named column rather than in the
// statement's affected-rows counter.
func (c *sqlClient) fetchCopyResult(ctx context.Context, queryID string) (model.CopyStatus, int64, error) {
	fetchCtx := gosnowflake.WithFetchResultByID(ctx, queryID)
	rows, err := c.db.QueryContext(fetchCtx, "SELECT 1")
	if err != nil {
		return model.CopyStatusFailed, 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return model.CopyStatusFailed, 0, err
	}
	loadedIdx := -1
	for i, name := range cols {
		if strings.EqualFold(name, "rows_loaded") {
			loadedIdx = i
		}
	}

	var total int64
	for rows.Next() {
		vals := make([]any, len(cols))
		for i := range vals {
			vals[i] = new(sql.RawBytes)
		}
		if err := rows.Scan(vals...); err != nil {
			return model.CopyStatusFailed, 0, err
		}
		if loadedIdx >= 0 {
			if n, err := strconv.ParseInt(string(*vals[loadedIdx].(*sql.RawBytes)), 10, 64); err == nil {
				total += n
			}
		}
	}
	if err := rows.Err(); err != nil {
		return model.CopyStatusFailed, 0, err
	}
	return model.CopyStatusSuccess, total, nil
}

func (c *sqlClient) RemoveStage(ctx context.Context, stagePath string) error {
	_, err := c.db.ExecContext(ctx, fmt.Sprintf("REMOVE @~/%s", stagePath))
	return err
}
