package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/singleflight"

	"github.com/kamusis/swissql-sub000/internal/adapter/observability"
	"github.com/kamusis/swissql-sub000/internal/domain"
)

const (
	// Pool sizing, fixed per session.
	PoolMaxConns    = 5
	PoolMinIdle     = 1
	PoolIdleTimeout = 60 * time.Second

	// Budget for the first validating borrow when a pool is built.
	PoolValidateTimeout = 5 * time.Second

	// Budget for sampler-driven liveness probes.
	ProbeTimeout = 2 * time.Second
)

// readOnlyStmts flips a borrowed connection to read-only before use.
// SQL Server has no session-level toggle; its driver treats read-only as
// a hint, so it is absent here.
var readOnlyStmts = map[string]string{
	domain.DBTypePostgres: `SET default_transaction_read_only = on`,
	domain.DBTypeMySQL:    `SET SESSION TRANSACTION READ ONLY`,
	domain.DBTypeOracle:   `SET TRANSACTION READ ONLY`,
}

// Pool wraps the one sqlx.DB owned by a session. It never outlives the
// session and a session never has two pools.
type Pool struct {
	SessionID string
	DBType    string

	db          *sqlx.DB
	readOnly    bool
	connTimeout time.Duration
	createdAt   time.Time

	versionMu sync.Mutex
	version   string
}

// NewPool wraps an already-open handle in a session-owned Pool. The
// manager builds pools this way after dialing; tests wrap mock handles.
func NewPool(db *sqlx.DB, sessionID, dbType string, readOnly bool, connTimeout time.Duration) *Pool {
	return &Pool{
		SessionID:   sessionID,
		DBType:      dbType,
		db:          db,
		readOnly:    readOnly,
		connTimeout: connTimeout,
		createdAt:   time.Now(),
	}
}

// ReadOnly reports whether borrows are flipped to read-only.
func (p *Pool) ReadOnly() bool { return p.readOnly }

// CreatedAt reports when the pool was initialized.
func (p *Pool) CreatedAt() time.Time { return p.createdAt }

// Stats exposes the underlying pool counters.
func (p *Pool) Stats() sql.DBStats { return p.db.Stats() }

// Acquire borrows one connection, honoring the session's connection
// timeout and flipping read-only when the session demands it. The caller
// must Close the conn to return it to the pool.
func (p *Pool) Acquire(ctx context.Context) (*sqlx.Conn, error) {
	if _, ok := ctx.Deadline(); !ok && p.connTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.connTimeout)
		defer cancel()
	}
	conn, err := p.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: borrow connection: %v", domain.ErrConnectionFailure, err)
	}
	if p.readOnly {
		if stmt, ok := readOnlyStmts[p.DBType]; ok {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("%w: set read-only: %v", domain.ErrConnectionFailure, err)
			}
		}
	}
	return conn, nil
}

// Validate probes one borrow within the sampler probe budget.
func (p *Pool) Validate(ctx context.Context) error {
	vctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	if err := p.db.PingContext(vctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailure, err)
	}
	return nil
}

// Version returns the server's raw product version string, probing once
// and caching the result for the pool's lifetime.
func (p *Pool) Version(ctx context.Context) (string, error) {
	p.versionMu.Lock()
	defer p.versionMu.Unlock()
	if p.version != "" {
		return p.version, nil
	}
	raw, err := probeVersion(ctx, p)
	if err != nil {
		return "", err
	}
	p.version = raw
	return raw, nil
}

// Rebind converts compiler-emitted ? placeholders into the dialect's
// positional style.
func (p *Pool) Rebind(query string) string { return p.db.Rebind(query) }

func (p *Pool) close() error { return p.db.Close() }

// Manager owns every live pool, keyed by session id.
type Manager struct {
	log                *slog.Logger
	defaultConnTimeout time.Duration

	mu    sync.RWMutex
	pools map[string]*Pool
	group singleflight.Group
}

// NewManager builds an empty pool manager.
func NewManager(log *slog.Logger, defaultConnTimeout time.Duration) *Manager {
	return &Manager{
		log:                log,
		defaultConnTimeout: defaultConnTimeout,
		pools:              make(map[string]*Pool),
	}
}

// Get returns the session's pool, initializing it on first use. Racing
// initializers collapse onto one in-flight build; if a pool was published
// while a build ran, the fresh pool is closed and the published one wins.
func (m *Manager) Get(ctx domain.Context, sess *domain.Session) (*Pool, error) {
	m.mu.RLock()
	p, ok := m.pools[sess.ID]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	v, err, _ := m.group.Do(sess.ID, func() (any, error) {
		return m.initPool(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pool), nil
}

// Lookup returns an already-initialized pool without building one.
func (m *Manager) Lookup(sessionID string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[sessionID]
	return p, ok
}

func (m *Manager) initPool(ctx domain.Context, sess *domain.Session) (*Pool, error) {
	m.mu.RLock()
	p, ok := m.pools[sess.ID]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	driver, err := DriverName(sess.DBType)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, sess.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s pool: %v", domain.ErrConnectionFailure, sess.DBType, err)
	}
	db.SetMaxOpenConns(PoolMaxConns)
	db.SetMaxIdleConns(PoolMinIdle)
	db.SetConnMaxIdleTime(PoolIdleTimeout)

	connTimeout := m.defaultConnTimeout
	if sess.Options.ConnectionTimeoutMS > 0 {
		connTimeout = time.Duration(sess.Options.ConnectionTimeoutMS) * time.Millisecond
	}

	pool := NewPool(db, sess.ID, sess.DBType, sess.Options.ReadOnly, connTimeout)

	vctx, cancel := context.WithTimeout(ctx, PoolValidateTimeout)
	defer cancel()
	if err := db.PingContext(vctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: validate %s pool: %v", domain.ErrConnectionFailure, sess.DBType, err)
	}

	m.mu.Lock()
	if existing, ok := m.pools[sess.ID]; ok {
		// First writer wins; drop the fresh pool and adopt the published one.
		m.mu.Unlock()
		_ = db.Close()
		return existing, nil
	}
	m.pools[sess.ID] = pool
	m.mu.Unlock()

	observability.PoolOpened(sess.DBType)
	m.log.Info("pool initialized",
		slog.String("session_id", sess.ID),
		slog.String("db_type", sess.DBType),
		slog.Bool("read_only", pool.readOnly))
	return pool, nil
}

// Close detaches and closes the session's pool. Closing a session with no
// pool is a no-op.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	p, ok := m.pools[sessionID]
	delete(m.pools, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	observability.PoolClosed(p.DBType)
	m.log.Info("pool closed", slog.String("session_id", sessionID), slog.String("db_type", p.DBType))
	return p.close()
}

// CloseAll tears down every pool; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()
	for id, p := range pools {
		observability.PoolClosed(p.DBType)
		if err := p.close(); err != nil {
			m.log.Warn("pool close failed", slog.String("session_id", id), slog.Any("error", err))
		}
	}
}

// Count reports how many pools are live.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}
