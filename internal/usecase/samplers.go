package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

// SamplerService administers the periodic samplers of a session. Every
// operation resolves the session first; samplers borrow connections per
// tick so no pool is needed here.
type SamplerService struct {
	Log      *slog.Logger
	Sessions Sessions
	Samplers Samplers
}

// NewSamplerService constructs a SamplerService with its dependencies.
func NewSamplerService(log *slog.Logger, sessions Sessions, samplers Samplers) SamplerService {
	return SamplerService{Log: log, Sessions: sessions, Samplers: samplers}
}

// List reports every known sampler on the session.
func (s SamplerService) List(_ domain.Context, sessionID string) ([]domain.SamplerStatus, error) {
	sess, err := s.resolve(sessionID)
	if err != nil {
		return nil, err
	}
	return s.Samplers.List(sess.ID), nil
}

// Upsert merges the caller's definition over the sampler's default and
// applies it: enabled definitions (re)start the sampler, disabled ones
// stop it.
func (s SamplerService) Upsert(ctx domain.Context, sessionID string, def domain.SamplerDefinition) (domain.SamplerStatus, error) {
	if strings.TrimSpace(def.SamplerID) == "" {
		return domain.SamplerStatus{}, fmt.Errorf("%w: sampler_id required", domain.ErrInvalidArgument)
	}
	sess, err := s.resolve(sessionID)
	if err != nil {
		return domain.SamplerStatus{}, err
	}
	return s.Samplers.Upsert(ctx, sess, def)
}

// Stop halts a sampler manually, retaining no reason.
func (s SamplerService) Stop(ctx domain.Context, sessionID, samplerID string) (domain.SamplerStatus, error) {
	sess, err := s.resolve(sessionID)
	if err != nil {
		return domain.SamplerStatus{}, err
	}
	return s.Samplers.Stop(ctx, sess.ID, samplerID)
}

// Status reports one sampler's lifecycle state and retained stop reason.
func (s SamplerService) Status(_ domain.Context, sessionID, samplerID string) (domain.SamplerStatus, error) {
	sess, err := s.resolve(sessionID)
	if err != nil {
		return domain.SamplerStatus{}, err
	}
	return s.Samplers.Status(sess.ID, samplerID)
}

// Snapshot returns the latest result captured by a running sampler.
func (s SamplerService) Snapshot(_ domain.Context, sessionID, samplerID string) (*domain.CollectorResult, error) {
	sess, err := s.resolve(sessionID)
	if err != nil {
		return nil, err
	}
	return s.Samplers.Snapshot(sess.ID, samplerID)
}

func (s SamplerService) resolve(sessionID string) (domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.Session{}, fmt.Errorf("%w: session_id required", domain.ErrInvalidArgument)
	}
	return s.Sessions.Get(sessionID)
}
