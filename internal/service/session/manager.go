// Package session owns the named-session registry: creation, touch-on-access,
// idle/lifetime expiry, and the coordinated teardown that stops samplers
// before the session's pool closes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kamusis/swissql-sub000/internal/adapter/observability"
	"github.com/kamusis/swissql-sub000/internal/domain"
)

// PoolCloser detaches and closes the pool keyed by a session id.
type PoolCloser interface {
	Close(sessionID string) error
}

// SamplerStopper halts every sampler on a session. Called before the
// session's pool closes so no tick borrows from a dying pool.
type SamplerStopper interface {
	StopSession(ctx context.Context, sessionID string)
}

// Manager is the in-memory session registry. Sessions expire on either
// boundary (idle or lifetime); the sweeper removes expired entries without
// closing pools, while CloseSession tears down samplers, pool, and entry
// together.
type Manager struct {
	log      *slog.Logger
	pools    PoolCloser
	samplers SamplerStopper

	mu        sync.RWMutex
	sessions  map[string]*domain.Session
	lastSweep time.Time

	now func() time.Time
}

func NewManager(log *slog.Logger, pools PoolCloser, samplers SamplerStopper) *Manager {
	return &Manager{
		log:      log,
		pools:    pools,
		samplers: samplers,
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

// SetSamplerStopper installs the sampler hook after construction, for
// wiring orders where the sampler manager is built later.
func (m *Manager) SetSamplerStopper(s SamplerStopper) {
	m.mu.Lock()
	m.samplers = s
	m.mu.Unlock()
}

// Create registers a new session. No pool exists yet; the pool manager
// builds one lazily on the first connection-requiring operation.
func (m *Manager) Create(dsn, dbType string, opts domain.ConnectOptions) domain.Session {
	now := m.now()
	s := domain.Session{
		ID:             uuid.New().String(),
		DSN:            dsn,
		DBType:         dbType,
		Options:        opts,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(domain.SessionMaxLifetime),
	}

	m.mu.Lock()
	m.sessions[s.ID] = &s
	m.mu.Unlock()

	observability.SessionOpened()
	m.log.Info("session created",
		slog.String("session_id", s.ID),
		slog.String("db_type", dbType),
		slog.Bool("read_only", opts.ReadOnly))
	return s
}

// Get returns the session and refreshes its idle clock. An expired entry
// is dropped and reported as not found.
func (m *Manager) Get(id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	now := m.now()
	if !s.Live(now) {
		delete(m.sessions, id)
		observability.SessionClosed()
		return domain.Session{}, fmt.Errorf("%w: %s expired", domain.ErrSessionNotFound, id)
	}
	s.LastAccessedAt = now
	return *s, nil
}

// Peek returns the session without touching its idle clock.
func (m *Manager) Peek(id string) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok || !s.Live(m.now()) {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return *s, nil
}

// CloseSession is the coordinated teardown: samplers stop first so no tick
// borrows from the pool mid-close, then the pool closes, then the entry
// drops.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	samplers := m.samplers
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	if samplers != nil {
		samplers.StopSession(ctx, id)
	}
	if m.pools != nil {
		if err := m.pools.Close(id); err != nil {
			m.log.Warn("pool close failed", slog.String("session_id", id), slog.Any("error", err))
		}
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	observability.SessionClosed()
	m.log.Info("session closed", slog.String("session_id", id))
	return nil
}

// CloseAll tears down every remaining session, for shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.CloseSession(ctx, id); err != nil {
			m.log.Warn("session close during shutdown", slog.String("session_id", id), slog.Any("error", err))
		}
	}
}

// Count reports live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// LastSweep reports when the sweeper last completed a pass. Zero until the
// first pass runs.
func (m *Manager) LastSweep() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSweep
}

// Sweep removes sessions past either boundary. Pool close is not part of
// the sweep; disconnect and shutdown own that path.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if !s.Live(now) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.lastSweep = now
	m.mu.Unlock()

	for range expired {
		observability.SessionClosed()
	}
	if len(expired) > 0 {
		m.log.Info("expired sessions swept", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// RunSweeper sweeps every interval until ctx is done. Zero or negative
// intervals fall back to the standard sweep cadence.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = domain.SessionSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			m.log.Info("session sweeper stopping")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
