package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"age-classifier/src/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnavailable is returned when no connection could be obtained.
	ErrUnavailable = errors.New("database connection pool not available")

	// ErrInitTimeout is returned when a concurrent initialization did not
	// finish within the wait bound.
	ErrInitTimeout = errors.New("timed out waiting for connection pool initialization")
)

// State is the lifecycle state of the connection pool.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is a single pooled connection, exclusively owned until Release.
type Conn interface {
	// Insert writes model and fills any server assigned columns back into it.
	Insert(ctx context.Context, model interface{}) error
	Release() error
}

// Pool is a bounded set of reusable connections.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Close() error
}

// Opener creates and verifies a new Pool.
type Opener func(ctx context.Context) (Pool, error)

// Manager owns the lazily created connection pool. At most one
// initialization runs at a time; a failed initialization is retried by the
// next caller.
type Manager struct {
	open        Opener
	wait        time.Duration
	initTimeout time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	group singleflight.Group

	mu    sync.RWMutex
	state State
	pool  Pool
	gen   uint64
}

type ManagerOption func(*Manager)

// WithInitTimeout bounds a single initialization attempt. It defaults to
// ten times the wait bound.
func WithInitTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.initTimeout = d }
}

func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager returns a Manager that is not connected yet. wait caps how long
// a caller blocks on an initialization started by someone else.
func NewManager(open Opener, wait time.Duration, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		open:        open,
		wait:        wait,
		initTimeout: 10 * wait,
		logger:      logger.With().Str("component", "database_manager").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// EnsureReady returns nil once the pool is ready. Concurrent callers share a
// single initialization attempt and wait for it at most the wait bound.
func (m *Manager) EnsureReady(ctx context.Context) error {
	if m.State() == StateReady {
		return nil
	}

	ch := m.group.DoChan("pool", func() (interface{}, error) {
		return nil, m.initialize()
	})

	timer := time.NewTimer(m.wait)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Shared {
			m.logger.Debug().Msg("connection pool initialized by another caller")
		}
		return res.Err
	case <-timer.C:
		m.logger.Warn().Dur("wait", m.wait).Msg("timeout waiting for connection pool initialization")
		return ErrInitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) initialize() error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	m.state = StateInitializing
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info().Msg("starting connection pool initialization")

	ctx, cancel := context.WithTimeout(context.Background(), m.initTimeout)
	defer cancel()

	pool, err := m.open(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		// CloseAll ran while we were connecting.
		if err == nil {
			_ = pool.Close()
		}
		return ErrUnavailable
	}

	if err != nil {
		m.state = StateFailed
		m.pool = nil
		m.metrics.IncPoolInit("failed")
		m.logger.Error().Err(err).Msg("database connection pool initialization failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	m.state = StateReady
	m.pool = pool
	m.metrics.IncPoolInit("ready")
	m.logger.Info().Msg("database connection pool initialized successfully")
	return nil
}

// Acquire returns a connection, or nil and false when the pool is not
// available. It never blocks longer than the wait bound on initialization.
func (m *Manager) Acquire(ctx context.Context) (Conn, bool) {
	if err := m.EnsureReady(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("pool not ready")
	}

	m.mu.RLock()
	pool, state := m.pool, m.state
	m.mu.RUnlock()

	if pool == nil || state != StateReady {
		m.logger.Warn().Msg("database connection pool not available, skipping database operation")
		return nil, false
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("error getting database connection")
		return nil, false
	}

	return conn, true
}

// WithConn runs fn with an acquired connection and always releases it
// afterwards. It returns ErrUnavailable without calling fn when no
// connection could be obtained.
func (m *Manager) WithConn(ctx context.Context, fn func(Conn) error) error {
	conn, ok := m.Acquire(ctx)
	if !ok {
		return ErrUnavailable
	}
	defer func() {
		if err := conn.Release(); err != nil {
			m.logger.Error().Err(err).Msg("failed to release database connection")
		}
	}()

	return fn(conn)
}

// CloseAll closes the pool and resets the manager to uninitialized. It is
// safe to call more than once.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	pool := m.pool
	m.pool = nil
	m.state = StateUninitialized
	m.gen++
	m.mu.Unlock()

	if pool == nil {
		return nil
	}

	m.logger.Info().Msg("closing database connections")
	if err := pool.Close(); err != nil {
		m.logger.Error().Err(err).Msg("error closing database connections")
		return err
	}
	return nil
}
