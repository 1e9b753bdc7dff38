package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrSessionNotFound    = errors.New("session not found")
	ErrCollectorNotFound  = errors.New("collector not found")
	ErrCollectorAmbiguous = errors.New("collector ambiguous")
	ErrQueryNotFound      = errors.New("query not found")
	ErrSamplerNotFound    = errors.New("sampler not found")
	ErrConnectionFailure  = errors.New("connection failure")
	ErrExecution          = errors.New("execution error")
	ErrUpstream           = errors.New("upstream error")
	ErrAIDisabled         = errors.New("ai disabled")
	ErrInternal           = errors.New("internal error")
)

// Canonical dialect tags. Connect normalizes vendor aliases onto these.
const (
	DBTypeOracle    = "oracle"
	DBTypePostgres  = "postgres"
	DBTypeMySQL     = "mysql"
	DBTypeSQLServer = "sqlserver"
)

// Session lifetime policy. A session is live while both boundaries hold;
// the sweeper enforces them every SessionSweepInterval.
const (
	SessionIdleTimeout   = 30 * time.Minute
	SessionMaxLifetime   = 24 * time.Hour
	SessionSweepInterval = 5 * time.Minute
)

// ConnectOptions carries per-session connection behavior requested at connect.
type ConnectOptions struct {
	ReadOnly            bool
	UseMCP              bool
	ConnectionTimeoutMS int
}

// Session is a named, expiring handle onto one database. The pool for it is
// owned by the pool manager and keyed by ID; no pool outlives its session.
type Session struct {
	ID             string
	DSN            string
	DBType         string
	Options        ConnectOptions
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
}

// Live reports whether the session is within both its idle and lifetime
// boundaries at now.
func (s Session) Live(now time.Time) bool {
	return s.LastAccessedAt.Add(SessionIdleTimeout).After(now) && s.ExpiresAt.After(now)
}

// ExecuteOptions tunes a single ad-hoc statement.
type ExecuteOptions struct {
	// Limit caps returned rows; 0 means unlimited.
	Limit int
	// FetchSize is a driver hint only; database/sql drivers own fetching.
	FetchSize int
	// QueryTimeoutMS bounds statement execution; 0 means no limit.
	QueryTimeoutMS int
}

// Result shape tags for ExecuteResponse.Type.
const (
	ResultTypeTabular = "tabular"
	ResultTypeText    = "text"
	ResultTypeFile    = "file"
)

// Column describes one result-set column.
type Column struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name,omitempty"`
}

// Row is one result row keyed by column name. Column order travels separately
// in ExecuteResponse.Data.Columns.
type Row = map[string]any

// ResponseData is the payload side of an ExecuteResponse.
type ResponseData struct {
	Columns     []Column `json:"columns,omitempty"`
	Rows        []Row    `json:"rows,omitempty"`
	TextContent string   `json:"text_content,omitempty"`
	FileURL     string   `json:"file_url,omitempty"`
}

// ResponseMetadata carries execution accounting for an ExecuteResponse.
type ResponseMetadata struct {
	Truncated     bool   `json:"truncated"`
	RowsAffected  int64  `json:"rows_affected"`
	DurationMS    int64  `json:"duration_ms"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// ExecuteResponse is the uniform answer to any statement execution.
type ExecuteResponse struct {
	Type     string           `json:"type"`
	Data     ResponseData     `json:"data"`
	Metadata ResponseMetadata `json:"metadata"`
}

// ConnInfo summarizes the driver and server behind a session.
type ConnInfo struct {
	SessionID       string `json:"session_id"`
	DBType          string `json:"db_type"`
	DriverName      string `json:"driver_name"`
	ServerVersion   string `json:"server_version"`
	VersionNumber   string `json:"version_number,omitempty"`
	CurrentUser     string `json:"current_user,omitempty"`
	CurrentDatabase string `json:"current_database,omitempty"`
	ReadOnly        bool   `json:"read_only"`
}

// AIClient is the port onto the upstream OpenAI-compatible gateway.
type AIClient interface {
	// ChatJSON sends a system+user prompt pair and returns the model's
	// textual reply. Enabled gates whether calls may be attempted at all.
	ChatJSON(ctx Context, systemPrompt, userPrompt string) (string, error)
	Enabled() bool
	Model() string
}

// Context aliases the standard context so entity-level signatures stay
// decoupled from net/http plumbing; adapters pass context.Context through.
type Context = context.Context
