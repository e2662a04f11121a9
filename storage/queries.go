package storage

import (
	"time"

	"github.com/google/uuid"
)

// MemoryQuery filters a GetMemories call.
type MemoryQuery struct {
	AgentID  *uuid.UUID
	RoomID   *uuid.UUID
	EntityID *uuid.UUID
	WorldID  *uuid.UUID
	Unique   *bool
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// EmbeddingSearchParams parameterizes a vector similarity search.
type EmbeddingSearchParams struct {
	AgentID     uuid.UUID
	RoomID      *uuid.UUID
	Embedding   []float32
	MatchCount  int
	MinSimilarity float32
}

// LogQuery filters a GetLogs call.
type LogQuery struct {
	EntityID *uuid.UUID
	RoomID   *uuid.UUID
	Type     string
	Since    *time.Time
	Limit    int
}

// RunSummaryQuery filters a GetAgentRunSummaries call.
type RunSummaryQuery struct {
	AgentID        *uuid.UUID
	ConversationID string
	Since          *time.Time
	Until          *time.Time
	Limit          int
}

// RunSummary aggregates LLMCostRecord rows over a window.
type RunSummary struct {
	AgentID          uuid.UUID `json:"agent_id"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	CallCount        int       `json:"call_count"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalCostUSD     float64   `json:"total_cost_usd"`
	AvgLatencyMS     float64   `json:"avg_latency_ms"`
	FailureCount     int       `json:"failure_count"`
}

// MigrationFragment is one plugin-supplied schema change.
type MigrationFragment struct {
	Plugin string
	Name   string
	SQL    string // used by SQL backends
	YAML   string // used by non-SQL backends that describe index/collection shape
}

// MigrationSet is an ordered batch of fragments from one or more plugins.
type MigrationSet struct {
	Fragments []MigrationFragment
	DryRun    bool
}

// MigrationPlan reports what a dry-run would have done, or what actually
// happened for a non-dry-run.
type MigrationPlan struct {
	Applied []string
	Skipped []string
	Errors  []string
}
