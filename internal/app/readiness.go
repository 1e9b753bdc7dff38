package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/internal/service/registry"
)

// PackSource is the minimal collector-registry view needed for readiness.
type PackSource interface{ Summary() registry.ReloadSummary }

// Sweeper is the minimal session-manager view needed for readiness.
type Sweeper interface{ LastSweep() time.Time }

// AIProbe is the minimal AI-client view needed for readiness.
type AIProbe interface {
	Enabled() bool
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns three readiness checks: collector registry,
// session sweeper, and AI gateway. A disabled AI gateway passes; generation
// requests answer for themselves.
func BuildReadinessChecks(packs PackSource, sessions Sweeper, ai AIProbe) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	registryCheck := func(_ context.Context) error {
		if packs == nil {
			return fmt.Errorf("collector registry not configured")
		}
		if packs.Summary().LoadedAt.IsZero() {
			return fmt.Errorf("collector packs never loaded")
		}
		return nil
	}
	sessionsCheck := func(_ context.Context) error {
		if sessions == nil {
			return fmt.Errorf("session manager not configured")
		}
		last := sessions.LastSweep()
		if last.IsZero() {
			return fmt.Errorf("session sweeper has not run")
		}
		if since := time.Since(last); since > 3*domain.SessionSweepInterval {
			return fmt.Errorf("session sweeper stalled for %s", since.Truncate(time.Second))
		}
		return nil
	}
	aiCheck := func(ctx context.Context) error {
		if ai == nil || !ai.Enabled() {
			return nil
		}
		return ai.Ping(ctx)
	}
	return registryCheck, sessionsCheck, aiCheck
}
