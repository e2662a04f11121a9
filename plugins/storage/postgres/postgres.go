// Package postgres implements storage.Store over PostgreSQL with the
// pgvector extension, for deployments that want a real ANN index instead of
// the embedded backend's in-process cosine fallback. Grounded on the
// teacher's PgVectorMemory (internal/memory/pgvector_memory.go): pgxpool
// connection management, CREATE EXTENSION IF NOT EXISTS vector, and an HNSW
// index over the embedding column, generalized from a single flat
// id/embedding/metadata table to the full storage.Store schema.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

//go:embed schema.sql
var schema string

const backendName = "postgres"

// Store implements storage.Store over a pgxpool-managed PostgreSQL
// connection pool with the pgvector extension for embedding search.
type Store struct {
	pool         *pgxpool.Pool
	embeddingDim int
}

// New connects to dsn and applies the base schema (idempotent).
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, wrap("ParseConfig", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, wrap("Connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap("Ping", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, wrap("Schema", err)
	}
	return &Store{pool: pool}, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := storage.KindInternal
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		kind = storage.KindNotFound
	case isUniqueViolation(err):
		kind = storage.KindConflict
	}
	return storage.NewError(kind, backendName, op, err)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func checkAffected(tag pgconnTag, op string) error {
	if tag.RowsAffected() == 0 {
		return storage.NewError(storage.KindNotFound, backendName, op, errors.New("no rows affected"))
	}
	return nil
}

// pgconnTag narrows pgconn.CommandTag's exported surface to what this
// package needs, so callers don't have to import pgconn directly.
type pgconnTag interface {
	RowsAffected() int64
}

// Initialize implements storage.Store.
func (s *Store) Initialize(ctx context.Context, cfg storage.Config) error {
	if cfg.EmbeddingDim > 0 {
		return s.EnsureEmbeddingDimension(ctx, cfg.EmbeddingDim)
	}
	return nil
}

// IsReady implements storage.Store.
func (s *Store) IsReady(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}

// Close implements storage.Store.
func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

// EnsureEmbeddingDimension fixes the (initially unconstrained) memories
// embedding column to a concrete dimension and builds an HNSW cosine index
// over it, mirroring the teacher's ensureTableExists. Subsequent calls with
// a different dimension fail.
func (s *Store) EnsureEmbeddingDimension(ctx context.Context, dim int) error {
	if s.embeddingDim != 0 {
		if s.embeddingDim != dim {
			return storage.NewError(storage.KindInvalidArgument, backendName, "EnsureEmbeddingDimension",
				fmt.Errorf("embedding dimension already fixed at %d, got %d", s.embeddingDim, dim))
		}
		return nil
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`ALTER TABLE memories ALTER COLUMN embedding TYPE VECTOR(%d)`, dim)); err != nil {
		return wrap("EnsureEmbeddingDimension", err)
	}
	if _, err := s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_memories_embedding_hnsw ON memories USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)`,
	); err != nil {
		return wrap("EnsureEmbeddingDimension", err)
	}
	s.embeddingDim = dim
	return nil
}

// RunPluginMigrations implements storage.Store.
func (s *Store) RunPluginMigrations(ctx context.Context, set storage.MigrationSet) (storage.MigrationPlan, error) {
	plan := storage.MigrationPlan{}
	for _, frag := range set.Fragments {
		if frag.SQL == "" {
			plan.Skipped = append(plan.Skipped, frag.Name)
			continue
		}
		if set.DryRun {
			plan.Applied = append(plan.Applied, frag.Name)
			continue
		}
		if _, err := s.pool.Exec(ctx, frag.SQL); err != nil {
			plan.Errors = append(plan.Errors, fmt.Sprintf("%s: %v", frag.Name, err))
			return plan, wrap("RunPluginMigrations", fmt.Errorf("fragment %q: %w", frag.Name, err))
		}
		plan.Applied = append(plan.Applied, frag.Name)
	}
	return plan, nil
}

// --- Agents ------------------------------------------------------------

func (s *Store) CreateAgent(ctx context.Context, a *storage.Agent) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	charJSON, err := json.Marshal(a.Character)
	if err != nil {
		return wrap("CreateAgent", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agents (id, name, character, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Name, charJSON, a.CreatedAt, a.UpdatedAt)
	return wrap("CreateAgent", err)
}

func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*storage.Agent, error) {
	var a storage.Agent
	a.ID = id
	var charJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT name, character, created_at, updated_at FROM agents WHERE id = $1`, id).
		Scan(&a.Name, &charJSON, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, wrap("GetAgent", err)
	}
	if err := json.Unmarshal(charJSON, &a.Character); err != nil {
		return nil, wrap("GetAgent", err)
	}
	return &a, nil
}

func (s *Store) GetAgents(ctx context.Context) ([]*storage.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, character, created_at, updated_at FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, wrap("GetAgents", err)
	}
	defer rows.Close()

	var out []*storage.Agent
	for rows.Next() {
		var a storage.Agent
		var charJSON []byte
		if err := rows.Scan(&a.ID, &a.Name, &charJSON, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, wrap("GetAgents", err)
		}
		_ = json.Unmarshal(charJSON, &a.Character)
		out = append(out, &a)
	}
	return out, wrap("GetAgents", rows.Err())
}

func (s *Store) UpdateAgent(ctx context.Context, a *storage.Agent) error {
	a.UpdatedAt = time.Now()
	charJSON, err := json.Marshal(a.Character)
	if err != nil {
		return wrap("UpdateAgent", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET name = $1, character = $2, updated_at = $3 WHERE id = $4`,
		a.Name, charJSON, a.UpdatedAt, a.ID)
	if err != nil {
		return wrap("UpdateAgent", err)
	}
	return checkAffected(tag, "UpdateAgent")
}

func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return wrap("DeleteAgent", err)
	}
	return checkAffected(tag, "DeleteAgent")
}

// --- Entities ------------------------------------------------------------

func (s *Store) CreateEntities(ctx context.Context, entities []*storage.Entity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrap("CreateEntities", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entities {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		metaJSON, merr := json.Marshal(e.Metadata)
		if merr != nil {
			return wrap("CreateEntities", merr)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO entities (id, agent_id, name, username, email, avatar_url, metadata) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.AgentID, e.Name, e.Username, e.Email, e.AvatarURL, metaJSON)
		if err != nil {
			return wrap("CreateEntities", err)
		}
	}
	return wrap("CreateEntities", tx.Commit(ctx))
}

func scanEntityRow(scan func(dest ...any) error) (*storage.Entity, error) {
	var e storage.Entity
	var metaJSON []byte
	if err := scan(&e.ID, &e.AgentID, &e.Name, &e.Username, &e.Email, &e.AvatarURL, &metaJSON); err != nil {
		return nil, err
	}
	_ = json.Unmarshal(metaJSON, &e.Metadata)
	return &e, nil
}

func (s *Store) GetEntityByID(ctx context.Context, id uuid.UUID) (*storage.Entity, error) {
	var metaJSON []byte
	e := storage.Entity{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, name, username, email, avatar_url, metadata FROM entities WHERE id = $1`, id).
		Scan(&e.AgentID, &e.Name, &e.Username, &e.Email, &e.AvatarURL, &metaJSON)
	if err != nil {
		return nil, wrap("GetEntityByID", err)
	}
	_ = json.Unmarshal(metaJSON, &e.Metadata)
	return &e, nil
}

func (s *Store) GetEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*storage.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, name, username, email, avatar_url, metadata FROM entities WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, wrap("GetEntitiesByIDs", err)
	}
	defer rows.Close()

	var out []*storage.Entity
	for rows.Next() {
		e, err := scanEntityRow(rows.Scan)
		if err != nil {
			return nil, wrap("GetEntitiesByIDs", err)
		}
		out = append(out, e)
	}
	return out, wrap("GetEntitiesByIDs", rows.Err())
}

func (s *Store) GetEntitiesForRoom(ctx context.Context, roomID uuid.UUID, includeComponents bool) ([]*storage.Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.agent_id, e.name, e.username, e.email, e.avatar_url, e.metadata
		FROM entities e
		JOIN participants p ON p.entity_id = e.id
		WHERE p.room_id = $1`, roomID)
	if err != nil {
		return nil, wrap("GetEntitiesForRoom", err)
	}
	defer rows.Close()

	var out []*storage.Entity
	for rows.Next() {
		e, err := scanEntityRow(rows.Scan)
		if err != nil {
			return nil, wrap("GetEntitiesForRoom", err)
		}
		out = append(out, e)
	}
	_ = includeComponents // component hydration is a Get/GetComponents concern; caller composes
	return out, wrap("GetEntitiesForRoom", rows.Err())
}

func (s *Store) UpdateEntity(ctx context.Context, e *storage.Entity) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return wrap("UpdateEntity", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET name=$1, username=$2, email=$3, avatar_url=$4, metadata=$5 WHERE id=$6`,
		e.Name, e.Username, e.Email, e.AvatarURL, metaJSON, e.ID)
	if err != nil {
		return wrap("UpdateEntity", err)
	}
	return checkAffected(tag, "UpdateEntity")
}

// --- Worlds / Rooms / Participants ----------------------------------------

func (s *Store) CreateWorld(ctx context.Context, w *storage.World) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	metaJSON, err := json.Marshal(w.Metadata)
	if err != nil {
		return wrap("CreateWorld", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO worlds (id, name, agent_id, server_id, metadata) VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.Name, w.AgentID, w.ServerID, metaJSON)
	return wrap("CreateWorld", err)
}

func (s *Store) GetWorld(ctx context.Context, id uuid.UUID) (*storage.World, error) {
	w := storage.World{ID: id}
	var metaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT name, agent_id, server_id, metadata FROM worlds WHERE id = $1`, id).
		Scan(&w.Name, &w.AgentID, &w.ServerID, &metaJSON)
	if err != nil {
		return nil, wrap("GetWorld", err)
	}
	_ = json.Unmarshal(metaJSON, &w.Metadata)
	return &w, nil
}

func (s *Store) CreateRoom(ctx context.Context, r *storage.Room) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	metaJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return wrap("CreateRoom", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rooms (id, agent_id, name, source, channel_type, channel_id, server_id, world_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.AgentID, r.Name, r.Source, string(r.ChannelType), r.ChannelID, r.ServerID, r.WorldID, metaJSON)
	return wrap("CreateRoom", err)
}

func (s *Store) GetRoom(ctx context.Context, id uuid.UUID) (*storage.Room, error) {
	r := storage.Room{ID: id}
	var channelType string
	var metaJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT agent_id, name, source, channel_type, channel_id, server_id, world_id, metadata
		FROM rooms WHERE id = $1`, id).
		Scan(&r.AgentID, &r.Name, &r.Source, &channelType, &r.ChannelID, &r.ServerID, &r.WorldID, &metaJSON)
	if err != nil {
		return nil, wrap("GetRoom", err)
	}
	r.ChannelType = storage.ChannelType(channelType)
	_ = json.Unmarshal(metaJSON, &r.Metadata)
	return &r, nil
}

func (s *Store) AddParticipant(ctx context.Context, p *storage.Participant) error {
	p.JoinedAt = time.Now()
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return wrap("AddParticipant", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO participants (entity_id, room_id, joined_at, metadata) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (entity_id, room_id) DO UPDATE SET metadata = EXCLUDED.metadata`,
		p.EntityID, p.RoomID, p.JoinedAt, metaJSON)
	return wrap("AddParticipant", err)
}

func (s *Store) GetParticipants(ctx context.Context, roomID uuid.UUID) ([]*storage.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entity_id, room_id, joined_at, metadata FROM participants WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, wrap("GetParticipants", err)
	}
	defer rows.Close()

	var out []*storage.Participant
	for rows.Next() {
		var p storage.Participant
		var metaJSON []byte
		if err := rows.Scan(&p.EntityID, &p.RoomID, &p.JoinedAt, &metaJSON); err != nil {
			return nil, wrap("GetParticipants", err)
		}
		_ = json.Unmarshal(metaJSON, &p.Metadata)
		out = append(out, &p)
	}
	return out, wrap("GetParticipants", rows.Err())
}

// --- Relationships ---------------------------------------------------------

func (s *Store) CreateRelationship(ctx context.Context, r *storage.Relationship) error {
	r.CreatedAt = time.Now()
	metaJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return wrap("CreateRelationship", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO relationships (entity_id_a, entity_id_b, type, agent_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.EntityIDA, r.EntityIDB, r.Type, r.AgentID, metaJSON, r.CreatedAt)
	return wrap("CreateRelationship", err)
}

func (s *Store) GetRelationship(ctx context.Context, a, b uuid.UUID, relType string) (*storage.Relationship, error) {
	var r storage.Relationship
	var metaJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT entity_id_a, entity_id_b, type, agent_id, metadata, created_at
		FROM relationships
		WHERE type = $1 AND ((entity_id_a = $2 AND entity_id_b = $3) OR (entity_id_a = $3 AND entity_id_b = $2))
		LIMIT 1`, relType, a, b).
		Scan(&r.EntityIDA, &r.EntityIDB, &r.Type, &r.AgentID, &metaJSON, &r.CreatedAt)
	if err != nil {
		return nil, wrap("GetRelationship", err)
	}
	_ = json.Unmarshal(metaJSON, &r.Metadata)
	return &r, nil
}

// --- Components -------------------------------------------------------------

func (s *Store) CreateComponent(ctx context.Context, c *storage.Component) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	dataJSON, err := json.Marshal(c.Data)
	if err != nil {
		return wrap("CreateComponent", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO components (id, entity_id, world_id, source_entity_id, type, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.EntityID, c.WorldID, c.SourceEntityID, c.Type, dataJSON, c.CreatedAt, c.UpdatedAt)
	return wrap("CreateComponent", err)
}

func (s *Store) GetComponent(ctx context.Context, id uuid.UUID) (*storage.Component, error) {
	c := storage.Component{ID: id}
	var dataJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT entity_id, world_id, source_entity_id, type, data, created_at, updated_at
		FROM components WHERE id = $1`, id).
		Scan(&c.EntityID, &c.WorldID, &c.SourceEntityID, &c.Type, &dataJSON, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, wrap("GetComponent", err)
	}
	_ = json.Unmarshal(dataJSON, &c.Data)
	return &c, nil
}

// worldRoleRank mirrors the embedded backend's role hierarchy (spec §3).
func worldRoleRank(r storage.WorldRole) int {
	switch r {
	case storage.RoleOwner:
		return 4
	case storage.RoleAdmin:
		return 3
	case storage.RoleModerator:
		return 2
	case storage.RoleMember:
		return 1
	default:
		return 0
	}
}

func (s *Store) GetComponents(ctx context.Context, entityID uuid.UUID, worldID uuid.UUID, viewerRole storage.WorldRole) ([]*storage.Component, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_id, world_id, source_entity_id, type, data, created_at, updated_at
		FROM components WHERE entity_id = $1 AND world_id = $2`, entityID, worldID)
	if err != nil {
		return nil, wrap("GetComponents", err)
	}
	defer rows.Close()

	viewerRank := worldRoleRank(viewerRole)
	var out []*storage.Component
	for rows.Next() {
		var c storage.Component
		var dataJSON []byte
		if err := rows.Scan(&c.ID, &c.EntityID, &c.WorldID, &c.SourceEntityID, &c.Type, &dataJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, wrap("GetComponents", err)
		}
		if c.SourceEntityID == nil && viewerRank < worldRoleRank(storage.RoleMember) {
			continue
		}
		_ = json.Unmarshal(dataJSON, &c.Data)
		out = append(out, &c)
	}
	return out, wrap("GetComponents", rows.Err())
}

func (s *Store) UpdateComponent(ctx context.Context, c *storage.Component) error {
	c.UpdatedAt = time.Now()
	dataJSON, err := json.Marshal(c.Data)
	if err != nil {
		return wrap("UpdateComponent", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE components SET data = $1, updated_at = $2 WHERE id = $3`,
		dataJSON, c.UpdatedAt, c.ID)
	if err != nil {
		return wrap("UpdateComponent", err)
	}
	return checkAffected(tag, "UpdateComponent")
}

func (s *Store) DeleteComponent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM components WHERE id = $1`, id)
	if err != nil {
		return wrap("DeleteComponent", err)
	}
	return checkAffected(tag, "DeleteComponent")
}

// --- Memories ---------------------------------------------------------------

func (s *Store) CreateMemory(ctx context.Context, m *storage.Memory, tableName string) (uuid.UUID, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if s.embeddingDim > 0 && len(m.Embedding) > 0 && len(m.Embedding) != s.embeddingDim {
		return uuid.Nil, storage.NewError(storage.KindInvalidArgument, backendName, "CreateMemory",
			fmt.Errorf("embedding dimension %d does not match configured %d", len(m.Embedding), s.embeddingDim))
	}
	m.CreatedAt = time.Now()

	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return uuid.Nil, wrap("CreateMemory", err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return uuid.Nil, wrap("CreateMemory", err)
	}
	var embeddingArg any
	if len(m.Embedding) > 0 {
		embeddingArg = pgvector.NewVector(m.Embedding)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO memories (id, entity_id, agent_id, room_id, content, embedding, metadata, created_at, is_unique)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.EntityID, m.AgentID, m.RoomID, contentJSON, embeddingArg, metaJSON, m.CreatedAt, m.Unique)
	if err != nil {
		return uuid.Nil, wrap("CreateMemory", err)
	}
	return m.ID, nil
}

func scanMemoryRow(scan func(dest ...any) error) (*storage.Memory, error) {
	var m storage.Memory
	var contentJSON, metaJSON []byte
	var embedding *pgvector.Vector
	if err := scan(&m.ID, &m.EntityID, &m.AgentID, &m.RoomID, &contentJSON, &embedding, &metaJSON, &m.CreatedAt, &m.Unique); err != nil {
		return nil, err
	}
	_ = json.Unmarshal(contentJSON, &m.Content)
	_ = json.Unmarshal(metaJSON, &m.Metadata)
	if embedding != nil {
		m.Embedding = embedding.Slice()
	}
	return &m, nil
}

func (s *Store) GetMemories(ctx context.Context, q storage.MemoryQuery) ([]*storage.Memory, error) {
	where, args := memoryWhere(q)
	query := `SELECT id, entity_id, agent_id, room_id, content, embedding, metadata, created_at, is_unique FROM memories` + where + ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("GetMemories", err)
	}
	defer rows.Close()

	var out []*storage.Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows.Scan)
		if err != nil {
			return nil, wrap("GetMemories", err)
		}
		out = append(out, m)
	}
	return out, wrap("GetMemories", rows.Err())
}

func memoryWhere(q storage.MemoryQuery) (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	n := 0
	next := func() string { n++; return fmt.Sprintf("$%d", n) }
	if q.AgentID != nil {
		clauses = append(clauses, "agent_id = "+next())
		args = append(args, *q.AgentID)
	}
	if q.RoomID != nil {
		clauses = append(clauses, "room_id = "+next())
		args = append(args, *q.RoomID)
	}
	if q.EntityID != nil {
		clauses = append(clauses, "entity_id = "+next())
		args = append(args, *q.EntityID)
	}
	if q.Unique != nil {
		clauses = append(clauses, "is_unique = "+next())
		args = append(args, *q.Unique)
	}
	if q.Since != nil {
		clauses = append(clauses, "created_at >= "+next())
		args = append(args, *q.Since)
	}
	if q.Until != nil {
		clauses = append(clauses, "created_at <= "+next())
		args = append(args, *q.Until)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// SearchMemoriesByEmbedding delegates ranking to pgvector's HNSW index via
// the cosine-distance operator, unlike the embedded backend's in-process
// fallback. Results are always fully ranked by the index, never mixed with
// unranked rows.
func (s *Store) SearchMemoriesByEmbedding(ctx context.Context, p storage.EmbeddingSearchParams) ([]*storage.Memory, error) {
	limit := p.MatchCount
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(p.Embedding)
	query := `
		SELECT id, entity_id, agent_id, room_id, content, embedding, metadata, created_at, is_unique,
		       1 - (embedding <=> $1) AS similarity
		FROM memories
		WHERE agent_id = $2 AND embedding IS NOT NULL`
	args := []any{vec, p.AgentID}
	if p.RoomID != nil {
		query += " AND room_id = $3"
		args = append(args, *p.RoomID)
	}
	query += fmt.Sprintf(" AND 1 - (embedding <=> $1) >= %f ORDER BY embedding <=> $1 LIMIT %d", p.MinSimilarity, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("SearchMemoriesByEmbedding", err)
	}
	defer rows.Close()

	var out []*storage.Memory
	for rows.Next() {
		var m storage.Memory
		var contentJSON, metaJSON []byte
		var embedding *pgvector.Vector
		if err := rows.Scan(&m.ID, &m.EntityID, &m.AgentID, &m.RoomID, &contentJSON, &embedding, &metaJSON, &m.CreatedAt, &m.Unique, &m.Similarity); err != nil {
			return nil, wrap("SearchMemoriesByEmbedding", err)
		}
		_ = json.Unmarshal(contentJSON, &m.Content)
		_ = json.Unmarshal(metaJSON, &m.Metadata)
		if embedding != nil {
			m.Embedding = embedding.Slice()
		}
		out = append(out, &m)
	}
	return out, wrap("SearchMemoriesByEmbedding", rows.Err())
}

func (s *Store) GetCachedEmbeddings(ctx context.Context, q storage.MemoryQuery) ([]*storage.Memory, error) {
	all, err := s.GetMemories(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []*storage.Memory
	for _, m := range all {
		if len(m.Embedding) > 0 {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) UpdateMemory(ctx context.Context, m *storage.Memory) error {
	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return wrap("UpdateMemory", err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return wrap("UpdateMemory", err)
	}
	var embeddingArg any
	if len(m.Embedding) > 0 {
		embeddingArg = pgvector.NewVector(m.Embedding)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET content = $1, embedding = $2, metadata = $3 WHERE id = $4`,
		contentJSON, embeddingArg, metaJSON, m.ID)
	if err != nil {
		return wrap("UpdateMemory", err)
	}
	return checkAffected(tag, "UpdateMemory")
}

func (s *Store) RemoveMemory(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return wrap("RemoveMemory", err)
	}
	return checkAffected(tag, "RemoveMemory")
}

func (s *Store) RemoveAllMemories(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE room_id = $1`, roomID)
	return wrap("RemoveAllMemories", err)
}

func (s *Store) CountMemories(ctx context.Context, q storage.MemoryQuery) (int, error) {
	where, args := memoryWhere(q)
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories`+where, args...).Scan(&count)
	return count, wrap("CountMemories", err)
}

// --- Tasks ------------------------------------------------------------------

func (s *Store) CreateTask(ctx context.Context, t *storage.Task) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = storage.TaskPending
	}
	dataJSON, err := json.Marshal(t.Data)
	if err != nil {
		return wrap("CreateTask", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, agent_id, task_type, data, status, priority, scheduled_at, retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.AgentID, t.TaskType, dataJSON, string(t.Status), t.Priority,
		t.ScheduledAt, t.RetryCount, t.MaxRetries, t.CreatedAt, t.UpdatedAt)
	return wrap("CreateTask", err)
}

func (s *Store) UpdateTask(ctx context.Context, t *storage.Task) error {
	t.UpdatedAt = time.Now()
	dataJSON, err := json.Marshal(t.Data)
	if err != nil {
		return wrap("UpdateTask", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status=$1, data=$2, executed_at=$3, retry_count=$4, error=$5, updated_at=$6 WHERE id = $7`,
		string(t.Status), dataJSON, t.ExecutedAt, t.RetryCount, t.Error, t.UpdatedAt, t.ID)
	if err != nil {
		return wrap("UpdateTask", err)
	}
	return checkAffected(tag, "UpdateTask")
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*storage.Task, error) {
	t := storage.Task{ID: id}
	var status string
	var dataJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT agent_id, task_type, data, status, priority, scheduled_at, executed_at, retry_count, max_retries, error, created_at, updated_at
		FROM tasks WHERE id = $1`, id).
		Scan(&t.AgentID, &t.TaskType, &dataJSON, &status, &t.Priority, &t.ScheduledAt,
			&t.ExecutedAt, &t.RetryCount, &t.MaxRetries, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, wrap("GetTask", err)
	}
	t.Status = storage.TaskStatus(status)
	_ = json.Unmarshal(dataJSON, &t.Data)
	return &t, nil
}

func (s *Store) GetPendingTasks(ctx context.Context, agentID uuid.UUID, limit int) ([]*storage.Task, error) {
	query := `
		SELECT id, agent_id, task_type, data, status, priority, scheduled_at, executed_at, retry_count, max_retries, error, created_at, updated_at
		FROM tasks WHERE agent_id = $1 AND status = $2 ORDER BY scheduled_at ASC, created_at ASC`
	args := []any{agentID, string(storage.TaskPending)}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("GetPendingTasks", err)
	}
	defer rows.Close()

	var out []*storage.Task
	for rows.Next() {
		var t storage.Task
		var status string
		var dataJSON []byte
		if err := rows.Scan(&t.ID, &t.AgentID, &t.TaskType, &dataJSON, &status, &t.Priority, &t.ScheduledAt,
			&t.ExecutedAt, &t.RetryCount, &t.MaxRetries, &t.Error, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, wrap("GetPendingTasks", err)
		}
		t.Status = storage.TaskStatus(status)
		_ = json.Unmarshal(dataJSON, &t.Data)
		out = append(out, &t)
	}
	return out, wrap("GetPendingTasks", rows.Err())
}

// --- Logs --------------------------------------------------------------

func (s *Store) Log(ctx context.Context, l *storage.Log) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO logs (id, entity_id, room_id, body, type, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.EntityID, l.RoomID, l.Body, l.Type, l.CreatedAt)
	return wrap("Log", err)
}

func (s *Store) GetLogs(ctx context.Context, q storage.LogQuery) ([]*storage.Log, error) {
	clauses := []string{"1=1"}
	var args []any
	n := 0
	next := func() string { n++; return fmt.Sprintf("$%d", n) }
	if q.EntityID != nil {
		clauses = append(clauses, "entity_id = "+next())
		args = append(args, *q.EntityID)
	}
	if q.RoomID != nil {
		clauses = append(clauses, "room_id = "+next())
		args = append(args, *q.RoomID)
	}
	if q.Type != "" {
		clauses = append(clauses, "type = "+next())
		args = append(args, q.Type)
	}
	if q.Since != nil {
		clauses = append(clauses, "created_at >= "+next())
		args = append(args, *q.Since)
	}
	query := `SELECT id, entity_id, room_id, body, type, created_at FROM logs WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("GetLogs", err)
	}
	defer rows.Close()

	var out []*storage.Log
	for rows.Next() {
		var l storage.Log
		if err := rows.Scan(&l.ID, &l.EntityID, &l.RoomID, &l.Body, &l.Type, &l.CreatedAt); err != nil {
			return nil, wrap("GetLogs", err)
		}
		out = append(out, &l)
	}
	return out, wrap("GetLogs", rows.Err())
}

// --- Cost -----------------------------------------------------------------

func (s *Store) PersistLLMCost(ctx context.Context, r *storage.LLMCostRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO llm_costs (
			id, timestamp, agent_id, user_id, conversation_id, action_name, evaluator_name,
			provider, model, temperature, prompt_tokens, completion_tokens, total_tokens, cached_tokens,
			input_cost_usd, output_cost_usd, total_cost_usd, latency_ms, ttft_ms, success, error,
			prompt_hash, prompt_preview
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		r.ID, r.Timestamp, r.AgentID, r.UserID, r.ConversationID, r.ActionName, r.EvaluatorName,
		r.Provider, r.Model, r.Temperature, r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.CachedTokens,
		r.InputCostUSD, r.OutputCostUSD, r.TotalCostUSD, r.LatencyMS, r.TTFTMS, r.Success, r.Error,
		r.PromptHash, r.PromptPreview)
	return wrap("PersistLLMCost", err)
}

func (s *Store) GetAgentRunSummaries(ctx context.Context, q storage.RunSummaryQuery) ([]*storage.RunSummary, error) {
	clauses := []string{"1=1"}
	var args []any
	n := 0
	next := func() string { n++; return fmt.Sprintf("$%d", n) }
	if q.AgentID != nil {
		clauses = append(clauses, "agent_id = "+next())
		args = append(args, *q.AgentID)
	}
	if q.ConversationID != "" {
		clauses = append(clauses, "conversation_id = "+next())
		args = append(args, q.ConversationID)
	}
	if q.Since != nil {
		clauses = append(clauses, "timestamp >= "+next())
		args = append(args, *q.Since)
	}
	query := fmt.Sprintf(`
		SELECT agent_id, conversation_id, COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0),
		       COALESCE(SUM(total_cost_usd),0), COALESCE(AVG(latency_ms),0), COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END),0)
		FROM llm_costs WHERE %s GROUP BY agent_id, conversation_id`, strings.Join(clauses, " AND "))
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("GetAgentRunSummaries", err)
	}
	defer rows.Close()

	var out []*storage.RunSummary
	for rows.Next() {
		var rs storage.RunSummary
		if err := rows.Scan(&rs.AgentID, &rs.ConversationID, &rs.CallCount, &rs.PromptTokens, &rs.CompletionTokens,
			&rs.TotalCostUSD, &rs.AvgLatencyMS, &rs.FailureCount); err != nil {
			return nil, wrap("GetAgentRunSummaries", err)
		}
		out = append(out, &rs)
	}
	return out, wrap("GetAgentRunSummaries", rows.Err())
}
