package storage

import (
	"time"

	"github.com/google/uuid"
)

// Metadata is a free-form string-to-JSON mapping attached to most entities.
type Metadata map[string]any

// ChannelType enumerates the kinds of conversational channel a Room can
// represent.
type ChannelType string

const (
	ChannelDM       ChannelType = "dm"
	ChannelVoiceDM  ChannelType = "voice_dm"
	ChannelGroupDM  ChannelType = "group_dm"
	ChannelGuild    ChannelType = "guild_text"
	ChannelGuildVC  ChannelType = "guild_voice"
	ChannelThread   ChannelType = "thread"
	ChannelFeed     ChannelType = "feed"
	ChannelSelf     ChannelType = "self"
	ChannelAPI      ChannelType = "api"
	ChannelWorld    ChannelType = "world"
	ChannelUnknown  ChannelType = "unknown"
)

// WorldRole gates Component visibility by the role of the source entity
// within a World.
type WorldRole string

const (
	RoleOwner     WorldRole = "owner"
	RoleAdmin     WorldRole = "admin"
	RoleModerator WorldRole = "moderator"
	RoleMember    WorldRole = "member"
	RoleNone      WorldRole = "none"
)

// TaskStatus enumerates the lifecycle states of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Character is the structured persona/configuration owned by an Agent.
type Character struct {
	Name             string         `json:"name"`
	Persona          string         `json:"persona"`
	Topics           []string       `json:"topics"`
	ExampleMessages  []string       `json:"example_messages"`
	Plugins          []string       `json:"plugins"`
	Clients          []string       `json:"clients"`
	ModelProvider    string         `json:"model_provider"`
	Settings         map[string]any `json:"settings"`
}

// Agent is the long-lived principal with a character and owned state.
type Agent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Character Character `json:"character"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entity represents a principal (human user or the agent itself) scoped to
// an agent.
type Entity struct {
	ID        uuid.UUID `json:"id"`
	AgentID   uuid.UUID `json:"agent_id"`
	Name      string    `json:"name,omitempty"`
	Username  string    `json:"username,omitempty"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// World is a top-level grouping of rooms under a common administrative
// scope (e.g. a guild or tenant).
type World struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	AgentID  uuid.UUID `json:"agent_id"`
	ServerID string    `json:"server_id,omitempty"`
	Metadata Metadata  `json:"metadata,omitempty"`
}

// Room is a conversational channel, possibly derived from an external chat
// channel.
type Room struct {
	ID          uuid.UUID   `json:"id"`
	AgentID     *uuid.UUID  `json:"agent_id,omitempty"`
	Name        string      `json:"name"`
	Source      string      `json:"source"`
	ChannelType ChannelType `json:"channel_type"`
	ChannelID   string      `json:"channel_id,omitempty"`
	ServerID    string      `json:"server_id,omitempty"`
	WorldID     *uuid.UUID  `json:"world_id,omitempty"`
	Metadata    Metadata    `json:"metadata,omitempty"`
}

// MemoryContent is the payload carried by a Memory.
type MemoryContent struct {
	Text        string         `json:"text"`
	Source      string         `json:"source,omitempty"`
	Thought     string         `json:"thought,omitempty"`
	ChannelType ChannelType    `json:"channel_type,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Memory is a durable record of a turn (inbound or outbound) with an
// optional embedding.
type Memory struct {
	ID         uuid.UUID     `json:"id"`
	EntityID   uuid.UUID     `json:"entity_id"`
	AgentID    uuid.UUID     `json:"agent_id"`
	RoomID     uuid.UUID     `json:"room_id"`
	Content    MemoryContent `json:"content"`
	Embedding  []float32     `json:"embedding,omitempty"`
	Metadata   Metadata      `json:"metadata,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Unique     bool          `json:"unique,omitempty"`
	Similarity float32       `json:"similarity,omitempty"`
}

// Participant links an Entity to a Room.
type Participant struct {
	EntityID uuid.UUID `json:"entity_id"`
	RoomID   uuid.UUID `json:"room_id"`
	JoinedAt time.Time `json:"joined_at"`
	Metadata Metadata  `json:"metadata,omitempty"`
}

// Relationship is a symmetric link between two entities, scoped to an agent.
type Relationship struct {
	EntityIDA uuid.UUID `json:"entity_id_a"`
	EntityIDB uuid.UUID `json:"entity_id_b"`
	Type      string    `json:"type"`
	AgentID   uuid.UUID `json:"agent_id"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Component is a source-scoped fact attached to an entity within a world.
type Component struct {
	ID             uuid.UUID      `json:"id"`
	EntityID       uuid.UUID      `json:"entity_id"`
	WorldID        uuid.UUID      `json:"world_id"`
	SourceEntityID *uuid.UUID     `json:"source_entity_id,omitempty"`
	Type           string         `json:"type"`
	Data           map[string]any `json:"data"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Task is a scheduled unit of agent work.
type Task struct {
	ID           uuid.UUID      `json:"id"`
	AgentID      uuid.UUID      `json:"agent_id"`
	TaskType     string         `json:"task_type"`
	Data         map[string]any `json:"data"`
	Status       TaskStatus     `json:"status"`
	Priority     int            `json:"priority"`
	ScheduledAt  time.Time      `json:"scheduled_at"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Log is a free-form audit/debug record.
type Log struct {
	ID        uuid.UUID  `json:"id,omitempty"`
	EntityID  uuid.UUID  `json:"entity_id"`
	RoomID    *uuid.UUID `json:"room_id,omitempty"`
	Body      string     `json:"body"`
	Type      string     `json:"type"`
	CreatedAt time.Time  `json:"created_at"`
}

// LLMCostRecord is an immutable per-call cost/latency record.
type LLMCostRecord struct {
	ID               uuid.UUID `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	AgentID          uuid.UUID `json:"agent_id"`
	UserID           string    `json:"user_id,omitempty"`
	ConversationID   string    `json:"conversation_id"`
	ActionName       string    `json:"action_name,omitempty"`
	EvaluatorName    string    `json:"evaluator_name,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Temperature      float32   `json:"temperature"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CachedTokens     int       `json:"cached_tokens,omitempty"`
	InputCostUSD     float64   `json:"input_cost_usd"`
	OutputCostUSD    float64   `json:"output_cost_usd"`
	TotalCostUSD     float64   `json:"total_cost_usd"`
	LatencyMS        int64     `json:"latency_ms"`
	TTFTMS           int64     `json:"ttft_ms,omitempty"`
	Success          bool      `json:"success"`
	Error            string    `json:"error,omitempty"`
	PromptHash       string    `json:"prompt_hash,omitempty"`
	PromptPreview    string    `json:"prompt_preview,omitempty"`
}

// DeterministicEntityID computes the stable UUIDv5 for an external
// principal, per spec §3: uuid5(namespace, "<scheme>-user-<external_id>").
func DeterministicEntityID(namespace uuid.UUID, scheme, externalID string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(scheme+"-user-"+externalID))
}

// DeterministicRoomID computes the stable UUIDv5 for an external channel,
// per spec §3: uuid5(namespace, "<scheme>-room-<channel_id>").
func DeterministicRoomID(namespace uuid.UUID, scheme, channelID string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(scheme+"-room-"+channelID))
}
