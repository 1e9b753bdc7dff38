// Package sampler schedules periodic collector runs per session. A manager
// owns every live instance; instances tick at a fixed rate on a shared
// bounded worker pool and stop themselves with a recorded reason on the
// first failure.
package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kamusis/swissql-sub000/internal/adapter/database"
	"github.com/kamusis/swissql-sub000/internal/adapter/observability"
	"github.com/kamusis/swissql-sub000/internal/domain"
)

const (
	// Workers bounds concurrent ticks across every sampler and session.
	Workers = 10

	// StopGrace bounds how long a stop waits for the in-flight tick.
	StopGrace = 5 * time.Second
)

// PoolLookup resolves a session's already-initialized pool. Samplers never
// build pools; a missing pool means the connection is gone.
type PoolLookup interface {
	Lookup(sessionID string) (*database.Pool, bool)
}

// CollectorRunner executes one collector against a pool.
type CollectorRunner interface {
	RunCollector(ctx domain.Context, pool *database.Pool, collectorID, collectorRef string) (*domain.CollectorResult, error)
}

type instanceKey struct {
	sessionID string
	samplerID string
}

// Manager owns sampler defaults, live instances, and last-stop reasons.
type Manager struct {
	log    *slog.Logger
	pools  PoolLookup
	runner CollectorRunner
	sem    chan struct{}

	mu        sync.Mutex
	defaults  map[string]domain.SamplerDefinition
	instances map[instanceKey]*Instance
	reasons   map[instanceKey]string
}

func NewManager(log *slog.Logger, pools PoolLookup, runner CollectorRunner) *Manager {
	return &Manager{
		log:       log,
		pools:     pools,
		runner:    runner,
		sem:       make(chan struct{}, Workers),
		defaults:  make(map[string]domain.SamplerDefinition),
		instances: make(map[instanceKey]*Instance),
		reasons:   make(map[instanceKey]string),
	}
}

// defaultsFile is the on-disk shape of samplers/default.json.
type defaultsFile struct {
	Samplers []domain.SamplerDefinition `json:"samplers"`
}

// LoadDefaults reads the default sampler definitions. A missing file leaves
// the manager with no defaults, so every upsert fails until one exists;
// malformed JSON is an error.
func (m *Manager) LoadDefaults(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			m.log.Warn("sampler defaults file missing", slog.String("path", path))
			return nil
		}
		return fmt.Errorf("read sampler defaults: %w", err)
	}

	var file defaultsFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse sampler defaults %s: %w", path, err)
	}

	defs := make(map[string]domain.SamplerDefinition, len(file.Samplers))
	for _, def := range file.Samplers {
		if def.SamplerID == "" {
			m.log.Warn("sampler default without sampler_id skipped", slog.String("path", path))
			continue
		}
		defs[def.SamplerID] = def
	}

	m.mu.Lock()
	m.defaults = defs
	m.mu.Unlock()

	m.log.Info("sampler defaults loaded", slog.String("path", path), slog.Int("count", len(defs)))
	return nil
}

// DefaultIDs lists the known sampler ids.
func (m *Manager) DefaultIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.defaults))
	for id := range m.defaults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Upsert merges the caller's definition over the default and applies the
// result: enabled definitions (re)start the sampler, disabled ones stop it.
// Unknown sampler ids are rejected; a merged definition needs a positive
// interval and a collector target before it may run.
func (m *Manager) Upsert(ctx context.Context, sess domain.Session, def domain.SamplerDefinition) (domain.SamplerStatus, error) {
	if def.SamplerID == "" {
		return domain.SamplerStatus{}, fmt.Errorf("%w: sampler_id required", domain.ErrInvalidArgument)
	}

	m.mu.Lock()
	base, ok := m.defaults[def.SamplerID]
	m.mu.Unlock()
	if !ok {
		return domain.SamplerStatus{}, fmt.Errorf("%w: unknown sampler %q", domain.ErrInvalidArgument, def.SamplerID)
	}

	merged := base.Merge(def)
	if !merged.IsEnabled() {
		m.stop(ctx, sess.ID, merged.SamplerID, "")
		return m.Status(sess.ID, merged.SamplerID)
	}

	if merged.IntervalSec() <= 0 {
		return domain.SamplerStatus{}, fmt.Errorf("%w: sampler %q has no positive interval_sec", domain.ErrInvalidArgument, merged.SamplerID)
	}
	if merged.Target == nil || (merged.Target.CollectorID == "" && merged.Target.CollectorRef == "") {
		return domain.SamplerStatus{}, fmt.Errorf("%w: sampler %q has no collector target", domain.ErrInvalidArgument, merged.SamplerID)
	}

	return m.start(ctx, sess, merged)
}

// Start runs a sampler on its unmodified default definition. A sampler in
// STOPPED_WITH_REASON restarts and clears the recorded reason.
func (m *Manager) Start(ctx context.Context, sess domain.Session, samplerID string) (domain.SamplerStatus, error) {
	return m.Upsert(ctx, sess, domain.SamplerDefinition{SamplerID: samplerID})
}

func (m *Manager) start(ctx context.Context, sess domain.Session, def domain.SamplerDefinition) (domain.SamplerStatus, error) {
	key := instanceKey{sessionID: sess.ID, samplerID: def.SamplerID}

	// Replace any running instance; its stop does not touch the pool.
	m.stop(ctx, sess.ID, def.SamplerID, "")

	var inst *Instance
	inst = newInstance(m.log, sess.ID, sess.DBType, def, instanceDeps{
		pools:  m.pools,
		runner: m.runner,
		sem:    m.sem,
		onAutoStop: func(reason string) {
			m.onAutoStop(key, inst, reason)
		},
	})

	m.mu.Lock()
	m.instances[key] = inst
	delete(m.reasons, key)
	m.mu.Unlock()

	inst.start()
	observability.SamplerStarted()
	m.log.Info("sampler started",
		slog.String("session_id", sess.ID),
		slog.String("sampler_id", def.SamplerID),
		slog.Int("interval_sec", def.IntervalSec()))
	return m.Status(sess.ID, def.SamplerID)
}

// Stop halts a sampler manually. Manual stops retain no reason; the state
// returns to ABSENT. Stopping an absent sampler is a no-op.
func (m *Manager) Stop(ctx context.Context, sessionID, samplerID string) (domain.SamplerStatus, error) {
	m.stop(ctx, sessionID, samplerID, "")
	return m.Status(sessionID, samplerID)
}

// stop removes the instance and waits for the in-flight tick. A non-empty
// reason records an auto-stop; empty means manual and clears earlier reasons.
func (m *Manager) stop(_ context.Context, sessionID, samplerID, reason string) {
	key := instanceKey{sessionID: sessionID, samplerID: samplerID}

	m.mu.Lock()
	inst, ok := m.instances[key]
	if ok {
		delete(m.instances, key)
	}
	if reason == "" {
		delete(m.reasons, key)
	} else {
		m.reasons[key] = reason
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	inst.halt()
	if !inst.awaitIdle(StopGrace) {
		m.log.Warn("sampler stop grace elapsed with tick in flight",
			slog.String("session_id", sessionID),
			slog.String("sampler_id", samplerID))
	}
	observability.SamplerStopped()
	m.log.Info("sampler stopped",
		slog.String("session_id", sessionID),
		slog.String("sampler_id", samplerID),
		slog.String("reason", reason))
}

// onAutoStop is the instance listener: the first failure removes the
// instance from the live map and records its reason. The identity check
// keeps a stale instance (manually stopped or already replaced) from
// touching its successor's registration or leaving a reason behind.
func (m *Manager) onAutoStop(key instanceKey, inst *Instance, reason string) {
	m.mu.Lock()
	cur, ok := m.instances[key]
	if ok && cur == inst {
		delete(m.instances, key)
		m.reasons[key] = reason
	} else {
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	observability.SamplerStopped()
	m.log.Warn("sampler auto-stopped",
		slog.String("session_id", key.sessionID),
		slog.String("sampler_id", key.samplerID),
		slog.String("reason", reason))
}

// StopSession halts every sampler on the session and drops its recorded
// reasons. Runs before the session's pool closes.
func (m *Manager) StopSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	var ids []string
	for key := range m.instances {
		if key.sessionID == sessionID {
			ids = append(ids, key.samplerID)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.stop(ctx, sessionID, id, "")
	}

	m.mu.Lock()
	for key := range m.reasons {
		if key.sessionID == sessionID {
			delete(m.reasons, key)
		}
	}
	m.mu.Unlock()
}

// Shutdown halts everything across sessions.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	keys := make([]instanceKey, 0, len(m.instances))
	for key := range m.instances {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.stop(ctx, key.sessionID, key.samplerID, "")
	}
}

// List reports every sampler on the session that is running or stopped
// with a retained reason, sorted by sampler id.
func (m *Manager) List(sessionID string) []domain.SamplerStatus {
	m.mu.Lock()
	ids := make(map[string]struct{})
	for key := range m.instances {
		if key.sessionID == sessionID {
			ids[key.samplerID] = struct{}{}
		}
	}
	for key := range m.reasons {
		if key.sessionID == sessionID {
			ids[key.samplerID] = struct{}{}
		}
	}
	m.mu.Unlock()

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	out := make([]domain.SamplerStatus, 0, len(sorted))
	for _, id := range sorted {
		st, _ := m.Status(sessionID, id)
		out = append(out, st)
	}
	return out
}

// Status reports the sampler's lifecycle state. Absent-but-known samplers
// read as stopped; a retained reason marks an auto-stop. Ids outside the
// defaults that never ran are unknown.
func (m *Manager) Status(sessionID, samplerID string) (domain.SamplerStatus, error) {
	key := instanceKey{sessionID: sessionID, samplerID: samplerID}

	m.mu.Lock()
	inst, running := m.instances[key]
	reason := m.reasons[key]
	_, known := m.defaults[samplerID]
	m.mu.Unlock()

	if !running && reason == "" && !known {
		return domain.SamplerStatus{}, fmt.Errorf("%w: %s", domain.ErrSamplerNotFound, samplerID)
	}

	st := domain.SamplerStatus{
		SessionID: sessionID,
		SamplerID: samplerID,
		Status:    domain.SamplerStateStopped,
		Reason:    reason,
	}
	if running {
		st.Status = domain.SamplerStateRunning
		st.Collecting = inst.collecting.Load()
		st.IntervalSec = inst.def.IntervalSec()
		if t, ok := inst.lastRun.Load().(time.Time); ok {
			st.LastRunAt = t
		}
	}
	return st, nil
}

// Snapshot returns the latest collector result of a running sampler.
func (m *Manager) Snapshot(sessionID, samplerID string) (*domain.CollectorResult, error) {
	key := instanceKey{sessionID: sessionID, samplerID: samplerID}

	m.mu.Lock()
	inst, ok := m.instances[key]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s not running", domain.ErrSamplerNotFound, samplerID)
	}

	res := inst.latest.Load()
	if res == nil {
		return nil, fmt.Errorf("%w: %s has no result yet", domain.ErrSamplerNotFound, samplerID)
	}
	return res, nil
}

// RunningCount reports live instances across all sessions.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}
