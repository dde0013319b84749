package completeness

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stretchr/testify/require"
)

// postgresHelper stands in for the warehouse in integration tests: no
// Snowflake test double exists, so the aggregate-query shapes from spec.md
// §6 are exercised against a real Postgres table, grounded on the
// teacher's NewPostgresTestHelper (internal/repository/postgres/postgres_test.go).
// Placeholder syntax differs (Postgres wants $1, $2; the production
// Validator targets Snowflake's `?` style), so this test drives raw SQL
// directly and feeds the results through the same pure helpers the
// Validator uses (expectedDates, findGaps, medianOf), rather than through
// Validator.Validate; the anomaly threshold is applied inline.
type postgresHelper struct {
	db        *sql.DB
	container testcontainers.Container
	ctx       context.Context
}

func newPostgresHelper(ctx context.Context, t *testing.T) *postgresHelper {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "snowtsv_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/snowtsv_test?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))

	_, err = db.ExecContext(ctx, `
		CREATE TABLE orders (
			id INTEGER,
			order_date DATE
		)`)
	require.NoError(t, err)

	return &postgresHelper{db: db, container: container, ctx: ctx}
}

func (h *postgresHelper) Close(t *testing.T) {
	if err := h.db.Close(); err != nil {
		t.Logf("warning: closing database: %v", err)
	}
	if err := h.container.Terminate(h.ctx); err != nil {
		t.Logf("warning: terminating container: %v", err)
	}
}

func TestValidateQueryShapesAgainstRealTable(t *testing.T) {
	ctx := context.Background()
	h := newPostgresHelper(ctx, t)
	defer h.Close(t)

	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	insert := func(day int, n int) {
		date := start.AddDate(0, 0, day-1)
		for i := 0; i < n; i++ {
			_, err := h.db.ExecContext(ctx, `INSERT INTO orders (id, order_date) VALUES ($1, $2)`, i, date)
			require.NoError(t, err)
		}
	}

	// Days 1-3 get 100 rows each; day 4 is entirely missing (the gap);
	// day 5 gets a single row (a row-count anomaly).
	for day := 1; day <= 3; day++ {
		insert(day, 100)
	}
	insert(5, 1)

	windowEnd := start.AddDate(0, 0, 4)

	var total int64
	require.NoError(t, h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE order_date BETWEEN $1 AND $2`, start, windowEnd).Scan(&total))
	require.Equal(t, int64(301), total)

	rows, err := h.db.QueryContext(ctx,
		`SELECT order_date, COUNT(*) FROM orders WHERE order_date BETWEEN $1 AND $2 GROUP BY order_date`, start, windowEnd)
	require.NoError(t, err)
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var d time.Time
		var c int64
		require.NoError(t, rows.Scan(&d, &c))
		counts[d.Format("2006-01-02")] = c
	}
	require.NoError(t, rows.Err())

	expected := expectedDates(start, windowEnd)
	var missing []string
	for _, d := range expected {
		if _, ok := counts[d]; !ok {
			missing = append(missing, d)
		}
	}
	require.Equal(t, []string{"2024-07-04"}, missing)

	gaps := findGaps(missing)
	require.Len(t, gaps, 1)
	require.Equal(t, "2024-07-03", gaps[0].Start)
	require.Equal(t, "2024-07-05", gaps[0].End)
	require.Equal(t, 1, gaps[0].Length)

	median := medianOf(counts)
	require.True(t, median == 100)
	var anomalous []string
	for date, count := range counts {
		if count < median/2 || count > median*2 {
			anomalous = append(anomalous, date)
		}
	}
	require.Equal(t, []string{"2024-07-05"}, anomalous)
}
