package pool

import (
	"database/sql"
	"database/sql/driver"
	"sync"
	"sync/atomic"
)

// fakeDriver is a minimal database/sql/driver.Driver that never touches the
// network, so pool lease/release/keepalive logic can be exercised without a
// live warehouse connection.
type fakeDriver struct {
	mu     sync.Mutex
	opened int
	failOn map[int]bool // connection sequence number -> fail Ping/Exec
}

var registerOnce sync.Once
var sharedFake = &fakeDriver{failOn: map[int]bool{}}
var fakeSeq int64

func init() {
	registerOnce.Do(func() {
		sql.Register("snowtsv-fake", sharedFake)
	})
}

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	id := atomic.AddInt64(&fakeSeq, 1)
	return &fakeConn{driver: d, id: int(id)}, nil
}

type fakeConn struct {
	driver *fakeDriver
	id     int
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) { return fakeTx{}, nil }

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.conn.driver.mu.Lock()
	fail := s.conn.driver.failOn[s.conn.id]
	s.conn.driver.mu.Unlock()
	if fail {
		return nil, errConnLost
	}
	return driver.RowsAffected(0), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return &fakeRows{}, nil
}

type fakeRows struct{}

func (r *fakeRows) Columns() []string              { return nil }
func (r *fakeRows) Close() error                   { return nil }
func (r *fakeRows) Next(dest []driver.Value) error { return sql.ErrNoRows }

var errConnLost = sql.ErrConnDone
