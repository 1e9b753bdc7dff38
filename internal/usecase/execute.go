package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

// ExecuteService runs ad-hoc SQL for a session and feeds the AI context
// buffer with the outcome.
type ExecuteService struct {
	Log      *slog.Logger
	Sessions Sessions
	Pools    Pools
	Exec     Executor
	Contexts ContextStore
}

// NewExecuteService constructs an ExecuteService with its dependencies.
func NewExecuteService(log *slog.Logger, sessions Sessions, pools Pools, exec Executor, contexts ContextStore) ExecuteService {
	return ExecuteService{Log: log, Sessions: sessions, Pools: pools, Exec: exec, Contexts: contexts}
}

// Execute resolves the session, borrows its pool, and runs one statement.
// Execution outcomes, success or failure, are recorded in the session's
// context history; connection-level failures are not.
func (s ExecuteService) Execute(ctx domain.Context, sessionID, sqlText string, opts domain.ExecuteOptions) (*domain.ExecuteResponse, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, fmt.Errorf("%w: sql is blank", domain.ErrInvalidArgument)
	}
	sess, pool, err := resolvePool(ctx, s.Sessions, s.Pools, sessionID)
	if err != nil {
		return nil, err
	}

	resp, err := s.Exec.ExecAdHoc(ctx, pool, sqlText, opts)
	if err != nil {
		if s.Contexts != nil {
			s.Contexts.RecordExecuteError(sess.ID, sqlText, err)
		}
		return nil, err
	}
	if s.Contexts != nil {
		s.Contexts.RecordExecute(sess.ID, sqlText, resp)
	}
	return resp, nil
}
