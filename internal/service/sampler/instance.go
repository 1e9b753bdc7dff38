package sampler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kamusis/swissql-sub000/internal/adapter/database"
	"github.com/kamusis/swissql-sub000/internal/adapter/observability"
	"github.com/kamusis/swissql-sub000/internal/domain"
)

type instanceDeps struct {
	pools      PoolLookup
	runner     CollectorRunner
	sem        chan struct{}
	onAutoStop func(reason string)
}

// Instance is one scheduled sampler. Ticks for a single instance never
// overlap: the default skip policy drops a tick that finds the previous one
// still collecting, while the queue policy runs ticks serially in the
// schedule loop. Either way a tick occupies one shared worker slot.
type Instance struct {
	log  *slog.Logger
	deps instanceDeps

	sessionID string
	dbType    string
	def       domain.SamplerDefinition

	running    atomic.Bool
	collecting atomic.Bool
	lastRun    atomic.Value
	latest     atomic.Pointer[domain.CollectorResult]

	ctx      context.Context
	cancel   context.CancelFunc
	tickWG   sync.WaitGroup
	stopOnce sync.Once
}

func newInstance(log *slog.Logger, sessionID, dbType string, def domain.SamplerDefinition, deps instanceDeps) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	return &Instance{
		log:       log,
		deps:      deps,
		sessionID: sessionID,
		dbType:    dbType,
		def:       def,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Instance) start() {
	s.running.Store(true)
	go s.loop()
}

// halt flips the instance off and cancels its schedule. Idempotent; the
// in-flight tick (if any) still finishes and releases the latch.
func (s *Instance) halt() {
	s.running.Store(false)
	s.cancel()
}

// awaitIdle waits for the in-flight tick up to the grace budget. Reports
// false when the tick outlived the wait.
func (s *Instance) awaitIdle(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.tickWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

func (s *Instance) loop() {
	interval := time.Duration(s.def.IntervalSec()) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.dispatch()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatch()
		}
	}
}

func (s *Instance) dispatch() {
	if s.def.OnOverlap() == domain.OverlapQueue {
		// Serialize in the loop; a missed tick coalesces into the ticker's
		// one buffered slot and runs right after.
		s.tick()
		return
	}
	go s.tick()
}

// tick is one sampling pass: probe the connection, run the collector,
// publish the result. The first failure stops the instance with a reason.
func (s *Instance) tick() {
	if !s.running.Load() {
		return
	}
	if !s.collecting.CompareAndSwap(false, true) {
		observability.SamplerTick("skipped")
		s.log.Debug("sampler tick skipped; previous still collecting",
			slog.String("session_id", s.sessionID),
			slog.String("sampler_id", s.def.SamplerID))
		return
	}
	defer s.collecting.Store(false)

	s.tickWG.Add(1)
	defer s.tickWG.Done()

	s.deps.sem <- struct{}{}
	defer func() { <-s.deps.sem }()

	pool, ok := s.deps.pools.Lookup(s.sessionID)
	if !ok {
		observability.SamplerTick("error")
		s.autoStop("connection is closed")
		return
	}
	if err := pool.Validate(s.ctx); err != nil {
		observability.SamplerTick("error")
		s.autoStop("connection is closed")
		return
	}

	res, err := s.collect(pool)
	switch {
	case err != nil:
		observability.SamplerTick("error")
		s.autoStop(domain.DeepestMessage(err))
	case res == nil:
		observability.SamplerTick("error")
		s.autoStop("collector returned null result")
	default:
		res.IntervalSec = s.def.IntervalSec()
		s.latest.Store(res)
		s.lastRun.Store(time.Now())
		observability.SamplerTick("ok")
	}
}

func (s *Instance) collect(pool *database.Pool) (*domain.CollectorResult, error) {
	var id, ref string
	if s.def.Target != nil {
		id, ref = s.def.Target.CollectorID, s.def.Target.CollectorRef
	}
	return s.deps.runner.RunCollector(s.ctx, pool, id, ref)
}

// autoStop records the first failure reason and notifies the manager.
// Later failures from the same instance are suppressed.
func (s *Instance) autoStop(reason string) {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.cancel()
		s.deps.onAutoStop(reason)
	})
}
