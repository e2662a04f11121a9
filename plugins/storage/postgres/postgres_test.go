package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

// newTestStore requires a live PostgreSQL instance with the pgvector
// extension available, pointed to by POSTGRES_TEST_DSN. Unlike the embedded
// backend's ":memory:" SQLite mode, there is no in-process pgvector, so
// these tests skip rather than fake the server.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping postgres backend tests")
	}
	s, err := New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestAgentCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := &storage.Agent{Name: "zoey", Character: storage.Character{Name: "zoey", Persona: "helpful"}}
	require.NoError(t, s.CreateAgent(ctx, a))
	require.NotEqual(t, uuid.Nil, a.ID)

	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "zoey", got.Name)
	require.Equal(t, "helpful", got.Character.Persona)

	got.Name = "zoey-renamed"
	require.NoError(t, s.UpdateAgent(ctx, got))

	again, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "zoey-renamed", again.Name)

	require.NoError(t, s.DeleteAgent(ctx, a.ID))
	_, err = s.GetAgent(ctx, a.ID)
	require.Error(t, err)
	require.True(t, storage.IsNotFound(err))
}

func TestEntityAndRoomParticipants(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	agent := &storage.Agent{Name: "zoey"}
	require.NoError(t, s.CreateAgent(ctx, agent))

	room := &storage.Room{AgentID: &agent.ID, Name: "general", ChannelType: storage.ChannelGuild}
	require.NoError(t, s.CreateRoom(ctx, room))

	entity := &storage.Entity{AgentID: agent.ID, Name: "nova", Metadata: storage.Metadata{"k": "v"}}
	require.NoError(t, s.CreateEntities(ctx, []*storage.Entity{entity}))

	require.NoError(t, s.AddParticipant(ctx, &storage.Participant{EntityID: entity.ID, RoomID: room.ID}))

	entities, err := s.GetEntitiesForRoom(ctx, room.ID, false)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Equal(t, "nova", entities[0].Name)
	require.Equal(t, "v", entities[0].Metadata["k"])
}

func TestMemorySearchByEmbeddingRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureEmbeddingDimension(ctx, 3))

	agent := &storage.Agent{Name: "zoey"}
	require.NoError(t, s.CreateAgent(ctx, agent))
	room := &storage.Room{AgentID: &agent.ID, Name: "general"}
	require.NoError(t, s.CreateRoom(ctx, room))
	entity := &storage.Entity{AgentID: agent.ID}
	require.NoError(t, s.CreateEntities(ctx, []*storage.Entity{entity}))

	near := &storage.Memory{EntityID: entity.ID, AgentID: agent.ID, RoomID: room.ID,
		Content: storage.MemoryContent{Text: "near"}, Embedding: []float32{1, 0, 0}}
	far := &storage.Memory{EntityID: entity.ID, AgentID: agent.ID, RoomID: room.ID,
		Content: storage.MemoryContent{Text: "far"}, Embedding: []float32{0, 1, 0}}
	_, err := s.CreateMemory(ctx, near, "")
	require.NoError(t, err)
	_, err = s.CreateMemory(ctx, far, "")
	require.NoError(t, err)

	results, err := s.SearchMemoriesByEmbedding(ctx, storage.EmbeddingSearchParams{
		AgentID: agent.ID, Embedding: []float32{1, 0, 0}, MatchCount: 5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "near", results[0].Content.Text)
	require.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestMemoryEmbeddingDimensionMismatchRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureEmbeddingDimension(ctx, 3))

	agent := &storage.Agent{Name: "zoey"}
	require.NoError(t, s.CreateAgent(ctx, agent))
	room := &storage.Room{AgentID: &agent.ID, Name: "general"}
	require.NoError(t, s.CreateRoom(ctx, room))
	entity := &storage.Entity{AgentID: agent.ID}
	require.NoError(t, s.CreateEntities(ctx, []*storage.Entity{entity}))

	bad := &storage.Memory{EntityID: entity.ID, AgentID: agent.ID, RoomID: room.ID,
		Content: storage.MemoryContent{Text: "bad"}, Embedding: []float32{1, 0}}
	_, err := s.CreateMemory(ctx, bad, "")
	require.Error(t, err)

	var sErr *storage.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, storage.KindInvalidArgument, sErr.Kind)
}

func TestEnsureEmbeddingDimensionRejectsRedefinition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureEmbeddingDimension(ctx, 3))
	err := s.EnsureEmbeddingDimension(ctx, 4)
	require.Error(t, err)

	var sErr *storage.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, storage.KindInvalidArgument, sErr.Kind)
}

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	agent := &storage.Agent{Name: "zoey"}
	require.NoError(t, s.CreateAgent(ctx, agent))

	task := &storage.Task{AgentID: agent.ID, TaskType: "reminder", ScheduledAt: time.Now()}
	require.NoError(t, s.CreateTask(ctx, task))

	pending, err := s.GetPendingTasks(ctx, agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	task.Status = storage.TaskCompleted
	require.NoError(t, s.UpdateTask(ctx, task))

	pending, err = s.GetPendingTasks(ctx, agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 0)
}

func TestLLMCostPersistAndSummarize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	agent := &storage.Agent{Name: "zoey"}
	require.NoError(t, s.CreateAgent(ctx, agent))

	rec := &storage.LLMCostRecord{
		Timestamp: time.Now(), AgentID: agent.ID, ConversationID: "conv-1",
		Provider: "openai", Model: "gpt-4o", PromptTokens: 100, CompletionTokens: 50,
		TotalCostUSD: 0.01, LatencyMS: 250, Success: true,
	}
	require.NoError(t, s.PersistLLMCost(ctx, rec))

	summaries, err := s.GetAgentRunSummaries(ctx, storage.RunSummaryQuery{AgentID: &agent.ID})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "conv-1", summaries[0].ConversationID)
	require.Equal(t, 1, summaries[0].CallCount)
}
