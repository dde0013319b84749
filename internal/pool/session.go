package pool

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"
)

// Session is one leased warehouse connection. While it holds an in-flight
// async query, a background ticker issues a cheap no-op every
// keepaliveInterval to defeat idle server-side session timeouts (spec.md
// §4.1). The ticker is started on lease and stopped on release.
type Session struct {
	db                *sql.DB
	keepaliveInterval time.Duration

	unhealthy atomic.Bool

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// DB exposes the underlying *sql.DB for issuing queries. Callers never
// close it directly; the pool owns its lifecycle.
func (s *Session) DB() *sql.DB {
	return s.db
}

// Healthy reports whether the session is still usable.
func (s *Session) Healthy() bool {
	return !s.unhealthy.Load()
}

// MarkUnhealthy flags the session after a transport error; the caller
// decides whether to retry with a fresh session (spec.md §4.1, §7
// CONNECTION_LOST).
func (s *Session) MarkUnhealthy() {
	s.unhealthy.Store(true)
}

func (s *Session) startKeepalive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)

	go func(stopCh chan struct{}) {
		defer s.wg.Done()
		ticker := time.NewTicker(s.keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.ping()
			case <-stopCh:
				return
			}
		}
	}(s.stopCh)
}

func (s *Session) ping() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, "SELECT 1"); err != nil {
		s.MarkUnhealthy()
	}
}

func (s *Session) stopKeepalive() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()
}
