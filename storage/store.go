package storage

import (
	"context"

	"github.com/google/uuid"
)

// Config is backend-agnostic connection configuration. Backends read the
// fields relevant to them and ignore the rest.
type Config struct {
	DSN               string
	TableOrCollection string
	EmbeddingDim      int
}

// Store is the single contract satisfied by every persistence backend
// (embedded SQL, server SQL, document store, managed REST facade). All
// operations are safe for concurrent use and fail with a *storage.Error.
type Store interface {
	// Lifecycle

	Initialize(ctx context.Context, cfg Config) error
	IsReady(ctx context.Context) bool
	Close(ctx context.Context) error
	RunPluginMigrations(ctx context.Context, set MigrationSet) (MigrationPlan, error)
	EnsureEmbeddingDimension(ctx context.Context, dim int) error

	// Agents

	GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error)
	GetAgents(ctx context.Context) ([]*Agent, error)
	CreateAgent(ctx context.Context, a *Agent) error
	UpdateAgent(ctx context.Context, a *Agent) error
	DeleteAgent(ctx context.Context, id uuid.UUID) error

	// Entities

	GetEntityByID(ctx context.Context, id uuid.UUID) (*Entity, error)
	GetEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*Entity, error)
	GetEntitiesForRoom(ctx context.Context, roomID uuid.UUID, includeComponents bool) ([]*Entity, error)
	CreateEntities(ctx context.Context, entities []*Entity) error
	UpdateEntity(ctx context.Context, e *Entity) error

	// Components

	GetComponent(ctx context.Context, id uuid.UUID) (*Component, error)
	GetComponents(ctx context.Context, entityID uuid.UUID, worldID uuid.UUID, viewerRole WorldRole) ([]*Component, error)
	CreateComponent(ctx context.Context, c *Component) error
	UpdateComponent(ctx context.Context, c *Component) error
	DeleteComponent(ctx context.Context, id uuid.UUID) error

	// Memories

	CreateMemory(ctx context.Context, m *Memory, tableName string) (uuid.UUID, error)
	GetMemories(ctx context.Context, q MemoryQuery) ([]*Memory, error)
	SearchMemoriesByEmbedding(ctx context.Context, p EmbeddingSearchParams) ([]*Memory, error)
	GetCachedEmbeddings(ctx context.Context, q MemoryQuery) ([]*Memory, error)
	UpdateMemory(ctx context.Context, m *Memory) error
	RemoveMemory(ctx context.Context, id uuid.UUID) error
	RemoveAllMemories(ctx context.Context, roomID uuid.UUID) error
	CountMemories(ctx context.Context, q MemoryQuery) (int, error)

	// Worlds / Rooms / Participants

	CreateWorld(ctx context.Context, w *World) error
	GetWorld(ctx context.Context, id uuid.UUID) (*World, error)
	CreateRoom(ctx context.Context, r *Room) error
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	AddParticipant(ctx context.Context, p *Participant) error
	GetParticipants(ctx context.Context, roomID uuid.UUID) ([]*Participant, error)

	// Relationships

	CreateRelationship(ctx context.Context, r *Relationship) error
	GetRelationship(ctx context.Context, a, b uuid.UUID, relType string) (*Relationship, error)

	// Tasks

	CreateTask(ctx context.Context, t *Task) error
	UpdateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	GetPendingTasks(ctx context.Context, agentID uuid.UUID, limit int) ([]*Task, error)

	// Logs

	Log(ctx context.Context, l *Log) error
	GetLogs(ctx context.Context, q LogQuery) ([]*Log, error)

	// Cost

	PersistLLMCost(ctx context.Context, r *LLMCostRecord) error
	GetAgentRunSummaries(ctx context.Context, q RunSummaryQuery) ([]*RunSummary, error)
}
