// Package pool implements ConnectionPool (spec.md §4.1): a fixed-capacity
// set of warehouse sessions that callers lease, use, and return. Grounded
// on the teacher's postgres.DB wrapper (internal/repository/postgres/postgres.go),
// generalized from a single *sql.DB into a bounded set of N sessions opened
// against the Snowflake database/sql driver, and on the example pack's
// channel/goroutine worker-pool idiom (golang.org/x/sync/errgroup plus a
// buffered channel as a semaphore, as used in Andrew50-peripheral's
// executor.go) for the lease/release FIFO.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/snowflakedb/gosnowflake"
)

// ErrTimeout is returned by Acquire when no session becomes available
// before the caller's timeout elapses.
var ErrTimeout = errors.New("pool: acquire timed out")

// ErrClosed is returned by Acquire once the pool has been closed.
var ErrClosed = errors.New("pool: closed")

// Pool is a fixed-capacity FIFO pool of warehouse sessions. The number of
// concurrent file workers is capped at min(configuredWorkers, pool.capacity)
// to guarantee no starvation (spec.md §4.1).
type Pool struct {
	driverName        string
	dsn               string
	capacity          int
	keepaliveInterval time.Duration
	sessions          chan *Session
	closed            chan struct{}
}

// New opens `capacity` independent warehouse sessions against dsn using the
// Snowflake database/sql driver. Capacity 1 is supported; the default
// capacity used by callers is 10 (spec.md §4.1).
func New(dsn string, capacity int, keepaliveInterval time.Duration) (*Pool, error) {
	return newPool(dsnDriver, dsn, capacity, keepaliveInterval)
}

// NewWithDriver is New parameterized by database/sql driver name. It
// exists so other packages' tests (orchestrator) can build a
// Pool against a fake driver without a live warehouse, the same way this
// package's own tests do.
func NewWithDriver(driverName, dsn string, capacity int, keepaliveInterval time.Duration) (*Pool, error) {
	return newPool(driverName, dsn, capacity, keepaliveInterval)
}

// newPool is the driver-parameterized constructor; tests use it with a
// fake database/sql driver so the pool's lease/release/keepalive logic can
// be exercised without a live warehouse.
func newPool(driverName, dsn string, capacity int, keepaliveInterval time.Duration) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pool: capacity must be positive, got %d", capacity)
	}

	p := &Pool{
		driverName:        driverName,
		dsn:               dsn,
		capacity:          capacity,
		keepaliveInterval: keepaliveInterval,
		sessions:          make(chan *Session, capacity),
		closed:            make(chan struct{}),
	}

	for i := 0; i < capacity; i++ {
		s, err := newSession(driverName, dsn, keepaliveInterval)
		if err != nil {
			p.closeOpened(i)
			return nil, fmt.Errorf("pool: opening session %d/%d: %w", i+1, capacity, err)
		}
		p.sessions <- s
	}

	return p, nil
}

func (p *Pool) closeOpened(n int) {
	for i := 0; i < n; i++ {
		s := <-p.sessions
		_ = s.db.Close()
	}
}

// Capacity returns the pool's fixed session count.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Acquire leases a session, blocking FIFO among waiters until one is free,
// the timeout elapses, the context is cancelled, or the pool is closed.
// An unhealthy session is transparently replaced before being handed back.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Session, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-p.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrTimeout
		case s, ok := <-p.sessions:
			if !ok {
				return nil, ErrClosed
			}
			if !s.Healthy() {
				replacement, err := p.replace(s)
				if err != nil {
					// Put the (still unhealthy) session back so Close can
					// account for it, and surface the failure.
					p.sessions <- s
					return nil, fmt.Errorf("pool: replacing unhealthy session: %w", err)
				}
				s = replacement
			}
			s.startKeepalive()
			return s, nil
		}
	}
}

func (p *Pool) replace(old *Session) (*Session, error) {
	_ = old.db.Close()
	return newSession(p.driverName, p.dsn, p.keepaliveInterval)
}

// Release stops the session's keepalive ticker and returns it to the pool,
// healthy or not. An unhealthy session is not closed or replaced here —
// Acquire replaces it lazily the next time it is handed out, so a caller
// that only ever leases one session at a time never pays for a replacement
// it doesn't need.
func (p *Pool) Release(s *Session) {
	s.stopKeepalive()
	select {
	case <-p.closed:
		_ = s.db.Close()
	default:
		p.sessions <- s
	}
}

// Close drains waiters with ErrClosed and closes every session. Safe to
// call once; a Job's ConnectionPool reservation never outlives the Job.
func (p *Pool) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
	}
	close(p.closed)

	var firstErr error
	for i := 0; i < p.capacity; i++ {
		s := <-p.sessions
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dsnDriver is the database/sql driver name the Snowflake package
// registers itself under; sql.Open uses it to resolve the driver.
const dsnDriver = "snowflake"

func newSession(driverName, dsn string, keepaliveInterval time.Duration) (*Session, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Session{
		db:                db,
		keepaliveInterval: keepaliveInterval,
	}, nil
}
