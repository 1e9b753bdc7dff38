package domain

import "time"

// Overlap policies for sampler ticks.
const (
	OverlapSkip  = "skip"
	OverlapQueue = "queue"
)

// Sampler lifecycle states as reported by status queries.
const (
	SamplerStateRunning = "RUNNING"
	SamplerStateStopped = "STOPPED"
)

// SamplerSchedule fixes the tick rate. IntervalSec must be positive.
type SamplerSchedule struct {
	IntervalSec int `json:"interval_sec"`
}

// SamplerRunPolicy controls tick behavior; OnOverlap defaults to skip.
type SamplerRunPolicy struct {
	OnOverlap string `json:"on_overlap,omitempty"`
}

// SamplerTarget points a sampler at a collector, by bare id or by
// fully-qualified "<pack_id>:<collector_id>" reference.
type SamplerTarget struct {
	CollectorID  string `json:"collector_id,omitempty"`
	CollectorRef string `json:"collector_ref,omitempty"`
}

// SamplerDefinition is the immutable configuration of one sampler. Upsert
// merges caller fields over the default definition; nil pointers mean
// "keep the default".
type SamplerDefinition struct {
	SamplerID    string            `json:"sampler_id"`
	Enabled      *bool             `json:"enabled,omitempty"`
	Schedule     *SamplerSchedule  `json:"schedule,omitempty"`
	RunPolicy    *SamplerRunPolicy `json:"run_policy,omitempty"`
	ResultPolicy map[string]any    `json:"result_policy,omitempty"`
	Target       *SamplerTarget    `json:"target,omitempty"`
}

// IsEnabled treats a nil Enabled as true: a merged definition only pauses a
// sampler when the caller says so explicitly.
func (d SamplerDefinition) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

// IntervalSec returns the schedule interval, or 0 when unset.
func (d SamplerDefinition) IntervalSec() int {
	if d.Schedule == nil {
		return 0
	}
	return d.Schedule.IntervalSec
}

// OnOverlap returns the effective overlap policy, defaulting to skip.
func (d SamplerDefinition) OnOverlap() string {
	if d.RunPolicy == nil || d.RunPolicy.OnOverlap == "" {
		return OverlapSkip
	}
	return d.RunPolicy.OnOverlap
}

// Merge overlays caller fields onto d and returns the merged definition.
// Set fields of the caller win; unset (nil) fields keep d's values.
func (d SamplerDefinition) Merge(over SamplerDefinition) SamplerDefinition {
	out := d
	if over.SamplerID != "" {
		out.SamplerID = over.SamplerID
	}
	if over.Enabled != nil {
		out.Enabled = over.Enabled
	}
	if over.Schedule != nil {
		out.Schedule = over.Schedule
	}
	if over.RunPolicy != nil {
		out.RunPolicy = over.RunPolicy
	}
	if over.ResultPolicy != nil {
		out.ResultPolicy = over.ResultPolicy
	}
	if over.Target != nil {
		out.Target = over.Target
	}
	return out
}

// SamplerStatus is the read-only view served by status queries.
type SamplerStatus struct {
	SessionID   string    `json:"session_id"`
	SamplerID   string    `json:"sampler_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Collecting  bool      `json:"collecting"`
	IntervalSec int       `json:"interval_sec,omitempty"`
	LastRunAt   time.Time `json:"last_run_at,omitempty"`
}

// ContextItem is a sanitized summary of one executed statement kept for AI
// prompt enrichment. All string payloads are redacted and bounded before an
// item is stored.
type ContextItem struct {
	SQL          string    `json:"sql"`
	ExecutedAt   time.Time `json:"executed_at"`
	Type         string    `json:"type"`
	Error        string    `json:"error,omitempty"`
	Columns      []string  `json:"columns,omitempty"`
	SampleRows   []Row     `json:"sample_rows,omitempty"`
	Truncated    bool      `json:"truncated"`
	RowsAffected int64     `json:"rows_affected"`
	DurationMS   int64     `json:"duration_ms"`
}
