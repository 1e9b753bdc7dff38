package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kamusis/swissql-sub000/internal/adapter/ai"
	"github.com/kamusis/swissql-sub000/internal/adapter/ai/tokencount"
	"github.com/kamusis/swissql-sub000/internal/adapter/database"
	"github.com/kamusis/swissql-sub000/internal/domain"
)

// Context modes for AI generation.
const (
	ContextModeOff    = "off"
	ContextModeAuto   = "auto"
	ContextModeRecent = "recent"
)

// Default context item counts per mode when the caller gives no limit.
const (
	autoContextItems   = 5
	recentContextItems = 10
)

// GenerateService turns natural-language prompts into dialect-specific SQL
// through the upstream AI gateway, enriched with per-session execution
// history and a caller-supplied schema snippet.
type GenerateService struct {
	Log          *slog.Logger
	AI           domain.AIClient
	Sessions     Sessions
	Contexts     ContextStore
	Cache        *ai.GenerationCache
	Tokens       TokenBudget
	SchemaTokens int
}

// NewGenerateService constructs a GenerateService with its dependencies.
// schemaTokens bounds the schema context appended to prompts.
func NewGenerateService(log *slog.Logger, client domain.AIClient, sessions Sessions, contexts ContextStore, cache *ai.GenerationCache, tokens TokenBudget, schemaTokens int) GenerateService {
	return GenerateService{Log: log, AI: client, Sessions: sessions, Contexts: contexts, Cache: cache, Tokens: tokens, SchemaTokens: schemaTokens}
}

// GenerateInput carries one generation request.
type GenerateInput struct {
	Prompt        string
	DBType        string
	SessionID     string
	ContextMode   string
	ContextLimit  int
	SchemaContext string
}

// GenerateOutput is the validated generation result.
type GenerateOutput struct {
	Statements []string          `json:"statements"`
	DBType     string            `json:"db_type"`
	Model      string            `json:"model"`
	Cached     bool              `json:"cached"`
	Warnings   []string          `json:"warnings,omitempty"`
	Usage      *tokencount.Usage `json:"usage,omitempty"`
}

// Generate asks the gateway model for SQL matching the prompt. The model's
// reply must be the strict {"statements": […]} contract; anything else is
// an upstream error. Replies produced without session context are cached
// by (dialect, model, prompt, schema) so repeated prompts skip the gateway.
func (s GenerateService) Generate(ctx domain.Context, in GenerateInput) (*GenerateOutput, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt required", domain.ErrInvalidArgument)
	}
	if s.AI == nil || !s.AI.Enabled() {
		return nil, fmt.Errorf("%w: portkey gateway not configured", domain.ErrAIDisabled)
	}

	mode := in.ContextMode
	if mode == "" {
		mode = ContextModeAuto
	}
	switch mode {
	case ContextModeOff, ContextModeAuto, ContextModeRecent:
	default:
		return nil, fmt.Errorf("%w: context_mode must be off, auto, or recent", domain.ErrInvalidArgument)
	}

	var warnings []string
	var sess domain.Session
	haveSession := false
	dialect := strings.TrimSpace(in.DBType)
	if in.SessionID != "" {
		got, err := s.Sessions.Get(in.SessionID)
		if err != nil {
			if dialect == "" {
				return nil, err
			}
			warnings = append(warnings, "session not found; proceeding without session context")
		} else {
			sess = got
			haveSession = true
		}
	}
	if dialect == "" {
		if !haveSession {
			return nil, fmt.Errorf("%w: db_type required when no session_id is given", domain.ErrInvalidArgument)
		}
		dialect = sess.DBType
	} else {
		normalized, err := database.NormalizeDBType(dialect)
		if err != nil {
			return nil, err
		}
		dialect = normalized
	}

	model := s.AI.Model()

	schema := strings.TrimSpace(in.SchemaContext)
	if schema != "" && s.Tokens != nil && s.SchemaTokens > 0 {
		trimmed := s.Tokens.Truncate(schema, model, s.SchemaTokens)
		if len(trimmed) < len(schema) {
			warnings = append(warnings, fmt.Sprintf("schema_context truncated to %d tokens", s.SchemaTokens))
			schema = trimmed
		}
	}

	var items []domain.ContextItem
	if mode != ContextModeOff && haveSession && s.Contexts != nil {
		limit := in.ContextLimit
		if limit <= 0 {
			limit = autoContextItems
			if mode == ContextModeRecent {
				limit = recentContextItems
			}
		}
		items = s.Contexts.Recent(sess.ID, limit)
	}

	// Replies that folded in session history depend on transient state and
	// are never cached.
	cacheable := len(items) == 0
	key := ai.Key(dialect, model, prompt, schema)
	if cacheable {
		if stmts, ok := s.Cache.Get(key); ok {
			s.Log.Debug("generation cache hit", slog.String("db_type", dialect))
			return &GenerateOutput{Statements: stmts, DBType: dialect, Model: model, Cached: true, Warnings: warnings}, nil
		}
	}

	system := systemPrompt(dialect)
	user := userPrompt(prompt, schema, items)

	start := time.Now()
	reply, err := s.AI.ChatJSON(ctx, system, user)
	if err != nil {
		return nil, err
	}
	stmts, _, err := ai.ParseStatements(reply)
	if err != nil {
		s.Log.Warn("model reply rejected",
			slog.String("model", model),
			slog.Any("error", err))
		return nil, err
	}
	if cacheable {
		s.Cache.Add(key, stmts)
	}

	out := &GenerateOutput{Statements: stmts, DBType: dialect, Model: model, Warnings: warnings}
	if s.Tokens != nil {
		out.Usage = s.Tokens.CalculateUsage(system, user, reply, model)
	}
	s.Log.Info("sql generated",
		slog.String("db_type", dialect),
		slog.String("model", model),
		slog.Int("statements", len(stmts)),
		slog.Duration("elapsed", time.Since(start)))
	return out, nil
}

// RecentContext returns the session's sanitized execution history, most
// recent first.
func (s GenerateService) RecentContext(_ domain.Context, sessionID string, limit int) ([]domain.ContextItem, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session_id required", domain.ErrInvalidArgument)
	}
	if _, err := s.Sessions.Get(sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = recentContextItems
	}
	return s.Contexts.Recent(sessionID, limit), nil
}

// ClearContext drops the session's execution history.
func (s GenerateService) ClearContext(_ domain.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session_id required", domain.ErrInvalidArgument)
	}
	if _, err := s.Sessions.Get(sessionID); err != nil {
		return err
	}
	s.Contexts.Clear(sessionID)
	s.Log.Info("ai context cleared", slog.String("session_id", sessionID))
	return nil
}

func systemPrompt(dialect string) string {
	name := dialectTitle(dialect)
	return fmt.Sprintf(`You are an expert %s engineer. Generate SQL for the %s dialect only.
Respond with exactly one JSON object of the form {"statements": ["..."]} where each element is one executable SQL statement.
No trailing semicolons, no markdown fences, no prose outside the JSON object.`, name, name)
}

func userPrompt(prompt, schema string, items []domain.ContextItem) string {
	var b strings.Builder
	b.WriteString("Request:\n")
	b.WriteString(prompt)
	if schema != "" {
		b.WriteString("\n\nSchema:\n")
		b.WriteString(schema)
	}
	if len(items) > 0 {
		if enc, err := json.Marshal(items); err == nil {
			b.WriteString("\n\nRecent statements in this session, most recent first:\n")
			b.Write(enc)
		}
	}
	return b.String()
}

func dialectTitle(dbType string) string {
	switch dbType {
	case domain.DBTypeOracle:
		return "Oracle"
	case domain.DBTypePostgres:
		return "PostgreSQL"
	case domain.DBTypeMySQL:
		return "MySQL"
	case domain.DBTypeSQLServer:
		return "SQL Server"
	}
	return dbType
}
