// Package restfacade implements storage.Store by calling a configured
// managed-storage HTTP service rather than speaking to a database directly.
// It exists for managed backends (e.g. a hosted memory API) whose wire
// format is out of scope for this module; the facade owns only the mapping
// from Store operations to JSON-over-HTTP requests and back, following the
// same client shape as plugins/provider/internal/openaicompat.Client (base
// URL + bearer auth + bounded response read + status-to-error-kind
// classification), generalized from chat completions to CRUD resources.
package restfacade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

const backendName = "restfacade"

const defaultMaxResponseBytes = 4 << 20 // 4 MiB
const defaultTimeout = 30 * time.Second

// Store is a generic HTTP client implementing storage.Store against a
// managed REST service at BaseURL.
type Store struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	MaxRespBytes int64
}

// New builds a Store pointed at baseURL, authenticating with apiKey via a
// bearer token when non-empty.
func New(baseURL, apiKey string) *Store {
	return &Store{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		APIKey:       apiKey,
		HTTPClient:   &http.Client{Timeout: defaultTimeout},
		MaxRespBytes: defaultMaxResponseBytes,
	}
}

func (s *Store) do(ctx context.Context, method, path string, body any, out any) error {
	op := method + " " + path
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return storage.NewError(storage.KindInvalidArgument, backendName, op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, reader)
	if err != nil {
		return storage.NewError(storage.KindInvalidArgument, backendName, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.MaxRespBytes+1))
	if err != nil {
		return storage.NewError(storage.KindInternal, backendName, op, err)
	}
	if int64(len(raw)) > s.MaxRespBytes {
		return storage.NewError(storage.KindInternal, backendName, op,
			fmt.Errorf("response exceeds %d bytes", s.MaxRespBytes))
	}

	if resp.StatusCode == http.StatusNoContent || (resp.StatusCode/100 == 2 && len(raw) == 0) {
		return nil
	}
	if resp.StatusCode/100 != 2 {
		return classifyStatusError(op, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return storage.NewError(storage.KindInternal, backendName, op, err)
	}
	return nil
}

func classifyTransportError(op string, err error) error {
	return storage.NewError(storage.KindBackendUnavailable, backendName, op, err)
}

func classifyStatusError(op string, status int, body []byte) error {
	msg := fmt.Errorf("http %d: %s", status, truncate(string(body), 512))
	switch status {
	case http.StatusNotFound:
		return storage.NewError(storage.KindNotFound, backendName, op, msg)
	case http.StatusConflict:
		return storage.NewError(storage.KindConflict, backendName, op, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return storage.NewError(storage.KindInvalidArgument, backendName, op, msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return storage.NewError(storage.KindBackendUnavailable, backendName, op, msg)
	default:
		return storage.NewError(storage.KindInternal, backendName, op, msg)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// Initialize implements storage.Store; the managed service owns its own
// schema, so this only records the expected embedding dimension.
func (s *Store) Initialize(ctx context.Context, cfg storage.Config) error {
	if cfg.EmbeddingDim > 0 {
		return s.EnsureEmbeddingDimension(ctx, cfg.EmbeddingDim)
	}
	return nil
}

// IsReady implements storage.Store by polling the service's health path.
func (s *Store) IsReady(ctx context.Context) bool {
	return s.do(ctx, http.MethodGet, "/healthz", nil, nil) == nil
}

// Close implements storage.Store; the facade holds no persistent
// connection to release.
func (s *Store) Close(ctx context.Context) error { return nil }

// RunPluginMigrations implements storage.Store by POSTing the whole
// MigrationSet (SQL and YAML fragments alike, plus DryRun) to the managed
// service's migration endpoint.
func (s *Store) RunPluginMigrations(ctx context.Context, set storage.MigrationSet) (storage.MigrationPlan, error) {
	var plan storage.MigrationPlan
	err := s.do(ctx, http.MethodPost, "/migrations", set, &plan)
	return plan, err
}

// EnsureEmbeddingDimension implements storage.Store.
func (s *Store) EnsureEmbeddingDimension(ctx context.Context, dim int) error {
	return s.do(ctx, http.MethodPost, "/memories/embedding-dimension", map[string]int{"dimension": dim}, nil)
}

// --- Agents ------------------------------------------------------------

func (s *Store) CreateAgent(ctx context.Context, a *storage.Agent) error {
	return s.do(ctx, http.MethodPost, "/agents", a, a)
}

func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*storage.Agent, error) {
	var a storage.Agent
	if err := s.do(ctx, http.MethodGet, "/agents/"+id.String(), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAgents(ctx context.Context) ([]*storage.Agent, error) {
	var agents []*storage.Agent
	if err := s.do(ctx, http.MethodGet, "/agents", nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (s *Store) UpdateAgent(ctx context.Context, a *storage.Agent) error {
	return s.do(ctx, http.MethodPut, "/agents/"+a.ID.String(), a, a)
}

func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	return s.do(ctx, http.MethodDelete, "/agents/"+id.String(), nil, nil)
}

// --- Entities ------------------------------------------------------------

func (s *Store) CreateEntities(ctx context.Context, entities []*storage.Entity) error {
	var created []*storage.Entity
	if err := s.do(ctx, http.MethodPost, "/entities", map[string]any{"entities": entities}, &created); err != nil {
		return err
	}
	for i, e := range created {
		if i < len(entities) {
			*entities[i] = *e
		}
	}
	return nil
}

func (s *Store) GetEntityByID(ctx context.Context, id uuid.UUID) (*storage.Entity, error) {
	var e storage.Entity
	if err := s.do(ctx, http.MethodGet, "/entities/"+id.String(), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*storage.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}
	q := url.Values{"ids": idStrs}
	var entities []*storage.Entity
	if err := s.do(ctx, http.MethodGet, "/entities?"+q.Encode(), nil, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (s *Store) GetEntitiesForRoom(ctx context.Context, roomID uuid.UUID, includeComponents bool) ([]*storage.Entity, error) {
	path := fmt.Sprintf("/rooms/%s/entities?include_components=%s", roomID, strconv.FormatBool(includeComponents))
	var entities []*storage.Entity
	if err := s.do(ctx, http.MethodGet, path, nil, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (s *Store) UpdateEntity(ctx context.Context, e *storage.Entity) error {
	return s.do(ctx, http.MethodPut, "/entities/"+e.ID.String(), e, e)
}

// --- Components -------------------------------------------------------------

func (s *Store) CreateComponent(ctx context.Context, c *storage.Component) error {
	return s.do(ctx, http.MethodPost, "/components", c, c)
}

func (s *Store) GetComponent(ctx context.Context, id uuid.UUID) (*storage.Component, error) {
	var c storage.Component
	if err := s.do(ctx, http.MethodGet, "/components/"+id.String(), nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetComponents(ctx context.Context, entityID, worldID uuid.UUID, viewerRole storage.WorldRole) ([]*storage.Component, error) {
	path := fmt.Sprintf("/entities/%s/components?world_id=%s&viewer_role=%s", entityID, worldID, url.QueryEscape(string(viewerRole)))
	var components []*storage.Component
	if err := s.do(ctx, http.MethodGet, path, nil, &components); err != nil {
		return nil, err
	}
	return components, nil
}

func (s *Store) UpdateComponent(ctx context.Context, c *storage.Component) error {
	return s.do(ctx, http.MethodPut, "/components/"+c.ID.String(), c, c)
}

func (s *Store) DeleteComponent(ctx context.Context, id uuid.UUID) error {
	return s.do(ctx, http.MethodDelete, "/components/"+id.String(), nil, nil)
}

// --- Memories ---------------------------------------------------------------

func (s *Store) CreateMemory(ctx context.Context, m *storage.Memory, tableName string) (uuid.UUID, error) {
	path := "/memories"
	if tableName != "" {
		path += "?table=" + url.QueryEscape(tableName)
	}
	var created storage.Memory
	if err := s.do(ctx, http.MethodPost, path, m, &created); err != nil {
		return uuid.Nil, err
	}
	*m = created
	return m.ID, nil
}

func (s *Store) GetMemories(ctx context.Context, q storage.MemoryQuery) ([]*storage.Memory, error) {
	var memories []*storage.Memory
	if err := s.do(ctx, http.MethodPost, "/memories/query", q, &memories); err != nil {
		return nil, err
	}
	return memories, nil
}

func (s *Store) SearchMemoriesByEmbedding(ctx context.Context, p storage.EmbeddingSearchParams) ([]*storage.Memory, error) {
	var memories []*storage.Memory
	if err := s.do(ctx, http.MethodPost, "/memories/search", p, &memories); err != nil {
		return nil, err
	}
	return memories, nil
}

func (s *Store) GetCachedEmbeddings(ctx context.Context, q storage.MemoryQuery) ([]*storage.Memory, error) {
	var memories []*storage.Memory
	if err := s.do(ctx, http.MethodPost, "/memories/cached-embeddings", q, &memories); err != nil {
		return nil, err
	}
	return memories, nil
}

func (s *Store) UpdateMemory(ctx context.Context, m *storage.Memory) error {
	return s.do(ctx, http.MethodPut, "/memories/"+m.ID.String(), m, m)
}

func (s *Store) RemoveMemory(ctx context.Context, id uuid.UUID) error {
	return s.do(ctx, http.MethodDelete, "/memories/"+id.String(), nil, nil)
}

func (s *Store) RemoveAllMemories(ctx context.Context, roomID uuid.UUID) error {
	return s.do(ctx, http.MethodDelete, "/rooms/"+roomID.String()+"/memories", nil, nil)
}

func (s *Store) CountMemories(ctx context.Context, q storage.MemoryQuery) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	if err := s.do(ctx, http.MethodPost, "/memories/count", q, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// --- Worlds / Rooms / Participants ----------------------------------------

func (s *Store) CreateWorld(ctx context.Context, w *storage.World) error {
	return s.do(ctx, http.MethodPost, "/worlds", w, w)
}

func (s *Store) GetWorld(ctx context.Context, id uuid.UUID) (*storage.World, error) {
	var w storage.World
	if err := s.do(ctx, http.MethodGet, "/worlds/"+id.String(), nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) CreateRoom(ctx context.Context, r *storage.Room) error {
	return s.do(ctx, http.MethodPost, "/rooms", r, r)
}

func (s *Store) GetRoom(ctx context.Context, id uuid.UUID) (*storage.Room, error) {
	var r storage.Room
	if err := s.do(ctx, http.MethodGet, "/rooms/"+id.String(), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) AddParticipant(ctx context.Context, p *storage.Participant) error {
	return s.do(ctx, http.MethodPost, "/rooms/"+p.RoomID.String()+"/participants", p, p)
}

func (s *Store) GetParticipants(ctx context.Context, roomID uuid.UUID) ([]*storage.Participant, error) {
	var participants []*storage.Participant
	if err := s.do(ctx, http.MethodGet, "/rooms/"+roomID.String()+"/participants", nil, &participants); err != nil {
		return nil, err
	}
	return participants, nil
}

// --- Relationships ---------------------------------------------------------

func (s *Store) CreateRelationship(ctx context.Context, r *storage.Relationship) error {
	return s.do(ctx, http.MethodPost, "/relationships", r, r)
}

func (s *Store) GetRelationship(ctx context.Context, a, b uuid.UUID, relType string) (*storage.Relationship, error) {
	path := fmt.Sprintf("/relationships?a=%s&b=%s&type=%s", a, b, url.QueryEscape(relType))
	var r storage.Relationship
	if err := s.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Tasks ------------------------------------------------------------------

func (s *Store) CreateTask(ctx context.Context, t *storage.Task) error {
	return s.do(ctx, http.MethodPost, "/tasks", t, t)
}

func (s *Store) UpdateTask(ctx context.Context, t *storage.Task) error {
	return s.do(ctx, http.MethodPut, "/tasks/"+t.ID.String(), t, t)
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*storage.Task, error) {
	var t storage.Task
	if err := s.do(ctx, http.MethodGet, "/tasks/"+id.String(), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetPendingTasks(ctx context.Context, agentID uuid.UUID, limit int) ([]*storage.Task, error) {
	path := fmt.Sprintf("/agents/%s/tasks/pending?limit=%d", agentID, limit)
	var tasks []*storage.Task
	if err := s.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// --- Logs --------------------------------------------------------------

func (s *Store) Log(ctx context.Context, l *storage.Log) error {
	return s.do(ctx, http.MethodPost, "/logs", l, l)
}

func (s *Store) GetLogs(ctx context.Context, q storage.LogQuery) ([]*storage.Log, error) {
	var logs []*storage.Log
	if err := s.do(ctx, http.MethodPost, "/logs/query", q, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// --- Cost -----------------------------------------------------------------

func (s *Store) PersistLLMCost(ctx context.Context, r *storage.LLMCostRecord) error {
	return s.do(ctx, http.MethodPost, "/llm-costs", r, r)
}

func (s *Store) GetAgentRunSummaries(ctx context.Context, q storage.RunSummaryQuery) ([]*storage.RunSummary, error) {
	var summaries []*storage.RunSummary
	if err := s.do(ctx, http.MethodPost, "/llm-costs/summaries", q, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}
