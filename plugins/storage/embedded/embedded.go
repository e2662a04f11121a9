// Package embedded implements storage.Store over a single-file or in-memory
// SQLite database, for deployments that want zero external dependencies.
package embedded

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

//go:embed schema.sql
var schema string

const backendName = "embedded"

// Store implements storage.Store using a pure-Go SQLite driver.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (creating if absent) a SQLite database at path. Use ":memory:"
// for an ephemeral in-memory instance.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("Open", err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers better with one connection

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, wrap("Pragma", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, wrap("Schema", err)
	}

	return &Store{db: db}, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := storage.KindInternal
	switch {
	case errors.Is(err, sql.ErrNoRows):
		kind = storage.KindNotFound
	case isUniqueConstraint(err):
		kind = storage.KindConflict
	}
	return storage.NewError(kind, backendName, op, err)
}

func isUniqueConstraint(err error) bool {
	return err != nil && (containsFold(err.Error(), "UNIQUE constraint") || containsFold(err.Error(), "PRIMARY KEY constraint"))
}

func containsFold(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

func indexFold(s, substr string) int {
	// simple ASCII-ish case-insensitive search, errors are always ASCII here
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
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
	return s.db.PingContext(ctx) == nil
}

// Close implements storage.Store.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// EnsureEmbeddingDimension implements storage.Store. Subsequent inserts with
// a different dimension fail with InvalidArgument.
func (s *Store) EnsureEmbeddingDimension(ctx context.Context, dim int) error {
	if s.embeddingDim != 0 && s.embeddingDim != dim {
		return storage.NewError(storage.KindInvalidArgument, backendName, "EnsureEmbeddingDimension",
			fmt.Errorf("embedding dimension already fixed at %d, got %d", s.embeddingDim, dim))
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
		if _, err := s.db.ExecContext(ctx, frag.SQL); err != nil {
			plan.Errors = append(plan.Errors, fmt.Sprintf("%s: %v", frag.Name, err))
			return plan, wrap("RunPluginMigrations", fmt.Errorf("fragment %q: %w", frag.Name, err))
		}
		plan.Applied = append(plan.Applied, frag.Name)
	}
	return plan, nil
}

// --- Agents ---------------------------------------------------------------

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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, character, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID.String(), a.Name, string(charJSON), a.CreatedAt, a.UpdatedAt)
	return wrap("CreateAgent", err)
}

func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*storage.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, character, created_at, updated_at FROM agents WHERE id = ?`, id.String())
	return scanAgent(row)
}

func scanAgent(row *sql.Row) (*storage.Agent, error) {
	var a storage.Agent
	var idStr, charJSON string
	if err := row.Scan(&idStr, &a.Name, &charJSON, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, wrap("GetAgent", err)
	}
	a.ID = uuid.MustParse(idStr)
	if err := json.Unmarshal([]byte(charJSON), &a.Character); err != nil {
		return nil, wrap("GetAgent", err)
	}
	return &a, nil
}

func (s *Store) GetAgents(ctx context.Context) ([]*storage.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, character, created_at, updated_at FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, wrap("GetAgents", err)
	}
	defer rows.Close()

	var out []*storage.Agent
	for rows.Next() {
		var a storage.Agent
		var idStr, charJSON string
		if err := rows.Scan(&idStr, &a.Name, &charJSON, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, wrap("GetAgents", err)
		}
		a.ID = uuid.MustParse(idStr)
		if err := json.Unmarshal([]byte(charJSON), &a.Character); err != nil {
			return nil, wrap("GetAgents", err)
		}
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name = ?, character = ?, updated_at = ? WHERE id = ?`,
		a.Name, string(charJSON), a.UpdatedAt, a.ID.String())
	if err != nil {
		return wrap("UpdateAgent", err)
	}
	return checkAffected(res, "UpdateAgent")
}

func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id.String())
	if err != nil {
		return wrap("DeleteAgent", err)
	}
	return checkAffected(res, "DeleteAgent")
}

func checkAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return storage.NewError(storage.KindNotFound, backendName, op, errors.New("no rows affected"))
	}
	return nil
}

// --- Entities ---------------------------------------------------------------

func (s *Store) CreateEntities(ctx context.Context, entities []*storage.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("CreateEntities", err)
	}
	defer tx.Rollback()

	for _, e := range entities {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return wrap("CreateEntities", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO entities (id, agent_id, name, username, email, avatar_url, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), e.AgentID.String(), e.Name, e.Username, e.Email, e.AvatarURL, string(metaJSON))
		if err != nil {
			return wrap("CreateEntities", err)
		}
	}
	return wrap("CreateEntities", tx.Commit())
}

func scanEntityRow(scan func(dest ...any) error) (*storage.Entity, error) {
	var e storage.Entity
	var idStr, agentStr, metaJSON string
	var name, username, email, avatar sql.NullString
	if err := scan(&idStr, &agentStr, &name, &username, &email, &avatar, &metaJSON); err != nil {
		return nil, err
	}
	e.ID = uuid.MustParse(idStr)
	e.AgentID = uuid.MustParse(agentStr)
	e.Name, e.Username, e.Email, e.AvatarURL = name.String, username.String, email.String, avatar.String
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
	}
	return &e, nil
}

func (s *Store) GetEntityByID(ctx context.Context, id uuid.UUID) (*storage.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, name, username, email, avatar_url, metadata FROM entities WHERE id = ?`, id.String())
	e, err := scanEntityRow(row.Scan)
	if err != nil {
		return nil, wrap("GetEntityByID", err)
	}
	return e, nil
}

func (s *Store) GetEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*storage.Entity, error) {
	var out []*storage.Entity
	for _, id := range ids {
		e, err := s.GetEntityByID(ctx, id)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) GetEntitiesForRoom(ctx context.Context, roomID uuid.UUID, includeComponents bool) ([]*storage.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.agent_id, e.name, e.username, e.email, e.avatar_url, e.metadata
		FROM entities e
		JOIN participants p ON p.entity_id = e.id
		WHERE p.room_id = ?`, roomID.String())
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET name=?, username=?, email=?, avatar_url=?, metadata=? WHERE id=?`,
		e.Name, e.Username, e.Email, e.AvatarURL, string(metaJSON), e.ID.String())
	if err != nil {
		return wrap("UpdateEntity", err)
	}
	return checkAffected(res, "UpdateEntity")
}

// --- Worlds / Rooms / Participants ------------------------------------------

func (s *Store) CreateWorld(ctx context.Context, w *storage.World) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	metaJSON, _ := json.Marshal(w.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO worlds (id, name, agent_id, server_id, metadata) VALUES (?, ?, ?, ?, ?)`,
		w.ID.String(), w.Name, w.AgentID.String(), w.ServerID, string(metaJSON))
	return wrap("CreateWorld", err)
}

func (s *Store) GetWorld(ctx context.Context, id uuid.UUID) (*storage.World, error) {
	var w storage.World
	var idStr, agentStr, metaJSON string
	var serverID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, agent_id, server_id, metadata FROM worlds WHERE id = ?`, id.String()).
		Scan(&idStr, &w.Name, &agentStr, &serverID, &metaJSON)
	if err != nil {
		return nil, wrap("GetWorld", err)
	}
	w.ID, w.AgentID, w.ServerID = uuid.MustParse(idStr), uuid.MustParse(agentStr), serverID.String
	_ = json.Unmarshal([]byte(metaJSON), &w.Metadata)
	return &w, nil
}

func (s *Store) CreateRoom(ctx context.Context, r *storage.Room) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	metaJSON, _ := json.Marshal(r.Metadata)
	var agentID, worldID any
	if r.AgentID != nil {
		agentID = r.AgentID.String()
	}
	if r.WorldID != nil {
		worldID = r.WorldID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, agent_id, name, source, channel_type, channel_id, server_id, world_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), agentID, r.Name, r.Source, string(r.ChannelType), r.ChannelID, r.ServerID, worldID, string(metaJSON))
	return wrap("CreateRoom", err)
}

func (s *Store) GetRoom(ctx context.Context, id uuid.UUID) (*storage.Room, error) {
	var r storage.Room
	var idStr string
	var agentID, worldID sql.NullString
	var channelType, metaJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, name, source, channel_type, channel_id, server_id, world_id, metadata
		FROM rooms WHERE id = ?`, id.String()).
		Scan(&idStr, &agentID, &r.Name, &r.Source, &channelType, &r.ChannelID, &r.ServerID, &worldID, &metaJSON)
	if err != nil {
		return nil, wrap("GetRoom", err)
	}
	r.ID = uuid.MustParse(idStr)
	r.ChannelType = storage.ChannelType(channelType)
	if agentID.Valid {
		id := uuid.MustParse(agentID.String)
		r.AgentID = &id
	}
	if worldID.Valid {
		id := uuid.MustParse(worldID.String)
		r.WorldID = &id
	}
	_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
	return &r, nil
}

func (s *Store) AddParticipant(ctx context.Context, p *storage.Participant) error {
	p.JoinedAt = time.Now()
	metaJSON, _ := json.Marshal(p.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (entity_id, room_id, joined_at, metadata) VALUES (?, ?, ?, ?)`,
		p.EntityID.String(), p.RoomID.String(), p.JoinedAt, string(metaJSON))
	return wrap("AddParticipant", err)
}

func (s *Store) GetParticipants(ctx context.Context, roomID uuid.UUID) ([]*storage.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, room_id, joined_at, metadata FROM participants WHERE room_id = ?`, roomID.String())
	if err != nil {
		return nil, wrap("GetParticipants", err)
	}
	defer rows.Close()

	var out []*storage.Participant
	for rows.Next() {
		var p storage.Participant
		var entityStr, roomStr, metaJSON string
		if err := rows.Scan(&entityStr, &roomStr, &p.JoinedAt, &metaJSON); err != nil {
			return nil, wrap("GetParticipants", err)
		}
		p.EntityID, p.RoomID = uuid.MustParse(entityStr), uuid.MustParse(roomStr)
		_ = json.Unmarshal([]byte(metaJSON), &p.Metadata)
		out = append(out, &p)
	}
	return out, wrap("GetParticipants", rows.Err())
}

// --- Relationships -----------------------------------------------------------

func (s *Store) CreateRelationship(ctx context.Context, r *storage.Relationship) error {
	r.CreatedAt = time.Now()
	metaJSON, _ := json.Marshal(r.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (entity_id_a, entity_id_b, type, agent_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.EntityIDA.String(), r.EntityIDB.String(), r.Type, r.AgentID.String(), string(metaJSON), r.CreatedAt)
	return wrap("CreateRelationship", err)
}

func (s *Store) GetRelationship(ctx context.Context, a, b uuid.UUID, relType string) (*storage.Relationship, error) {
	var r storage.Relationship
	var aStr, bStr, agentStr, metaJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id_a, entity_id_b, type, agent_id, metadata, created_at
		FROM relationships
		WHERE type = ? AND ((entity_id_a = ? AND entity_id_b = ?) OR (entity_id_a = ? AND entity_id_b = ?))
		LIMIT 1`,
		relType, a.String(), b.String(), b.String(), a.String()).
		Scan(&aStr, &bStr, &r.Type, &agentStr, &metaJSON, &r.CreatedAt)
	if err != nil {
		return nil, wrap("GetRelationship", err)
	}
	r.EntityIDA, r.EntityIDB, r.AgentID = uuid.MustParse(aStr), uuid.MustParse(bStr), uuid.MustParse(agentStr)
	_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
	return &r, nil
}

// --- Components ---------------------------------------------------------------

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
	var sourceID any
	if c.SourceEntityID != nil {
		sourceID = c.SourceEntityID.String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO components (id, entity_id, world_id, source_entity_id, type, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.EntityID.String(), c.WorldID.String(), sourceID, c.Type, string(dataJSON), c.CreatedAt, c.UpdatedAt)
	return wrap("CreateComponent", err)
}

func (s *Store) GetComponent(ctx context.Context, id uuid.UUID) (*storage.Component, error) {
	var c storage.Component
	var idStr, entityStr, worldStr, dataJSON string
	var sourceStr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, entity_id, world_id, source_entity_id, type, data, created_at, updated_at
		FROM components WHERE id = ?`, id.String()).
		Scan(&idStr, &entityStr, &worldStr, &sourceStr, &c.Type, &dataJSON, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, wrap("GetComponent", err)
	}
	c.ID, c.EntityID, c.WorldID = uuid.MustParse(idStr), uuid.MustParse(entityStr), uuid.MustParse(worldStr)
	if sourceStr.Valid {
		id := uuid.MustParse(sourceStr.String)
		c.SourceEntityID = &id
	}
	_ = json.Unmarshal([]byte(dataJSON), &c.Data)
	return &c, nil
}

// worldRoleRank gives a total order so "gated by at least role X" comparisons
// are a single integer comparison, mirroring spec §3's role hierarchy.
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

// GetComponents returns components visible to a viewer holding viewerRole,
// gated by the world role of each component's source entity (spec §3).
func (s *Store) GetComponents(ctx context.Context, entityID uuid.UUID, worldID uuid.UUID, viewerRole storage.WorldRole) ([]*storage.Component, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, world_id, source_entity_id, type, data, created_at, updated_at
		FROM components WHERE entity_id = ? AND world_id = ?`, entityID.String(), worldID.String())
	if err != nil {
		return nil, wrap("GetComponents", err)
	}
	defer rows.Close()

	viewerRank := worldRoleRank(viewerRole)
	var out []*storage.Component
	for rows.Next() {
		var c storage.Component
		var idStr, entityStr, worldStr, dataJSON string
		var sourceStr sql.NullString
		if err := rows.Scan(&idStr, &entityStr, &worldStr, &sourceStr, &c.Type, &dataJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, wrap("GetComponents", err)
		}
		if !sourceStr.Valid && viewerRank < worldRoleRank(storage.RoleMember) {
			continue // components without a source entity require at least Member visibility
		}
		c.ID, c.EntityID, c.WorldID = uuid.MustParse(idStr), uuid.MustParse(entityStr), uuid.MustParse(worldStr)
		if sourceStr.Valid {
			id := uuid.MustParse(sourceStr.String)
			c.SourceEntityID = &id
		}
		_ = json.Unmarshal([]byte(dataJSON), &c.Data)
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
	res, err := s.db.ExecContext(ctx, `UPDATE components SET data = ?, updated_at = ? WHERE id = ?`,
		string(dataJSON), c.UpdatedAt, c.ID.String())
	if err != nil {
		return wrap("UpdateComponent", err)
	}
	return checkAffected(res, "UpdateComponent")
}

func (s *Store) DeleteComponent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM components WHERE id = ?`, id.String())
	if err != nil {
		return wrap("DeleteComponent", err)
	}
	return checkAffected(res, "DeleteComponent")
}

// --- Memories -----------------------------------------------------------------

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

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
	metaJSON, _ := json.Marshal(m.Metadata)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, entity_id, agent_id, room_id, content, embedding, metadata, created_at, is_unique)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.EntityID.String(), m.AgentID.String(), m.RoomID.String(),
		string(contentJSON), encodeEmbedding(m.Embedding), string(metaJSON), m.CreatedAt, boolToInt(m.Unique))
	if err != nil {
		return uuid.Nil, wrap("CreateMemory", err)
	}
	return m.ID, nil
}

func scanMemoryRow(scan func(dest ...any) error) (*storage.Memory, error) {
	var m storage.Memory
	var idStr, entityStr, agentStr, roomStr, contentJSON, metaJSON string
	var embeddingBlob []byte
	var isUnique int
	if err := scan(&idStr, &entityStr, &agentStr, &roomStr, &contentJSON, &embeddingBlob, &metaJSON, &m.CreatedAt, &isUnique); err != nil {
		return nil, err
	}
	m.ID, m.EntityID, m.AgentID, m.RoomID = uuid.MustParse(idStr), uuid.MustParse(entityStr), uuid.MustParse(agentStr), uuid.MustParse(roomStr)
	_ = json.Unmarshal([]byte(contentJSON), &m.Content)
	_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
	m.Embedding = decodeEmbedding(embeddingBlob)
	m.Unique = isUnique != 0
	return &m, nil
}

func (s *Store) GetMemories(ctx context.Context, q storage.MemoryQuery) ([]*storage.Memory, error) {
	where, args := memoryWhere(q)
	query := `SELECT id, entity_id, agent_id, room_id, content, embedding, metadata, created_at, is_unique FROM memories` + where + ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	if q.AgentID != nil {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, q.AgentID.String())
	}
	if q.RoomID != nil {
		clauses = append(clauses, "room_id = ?")
		args = append(args, q.RoomID.String())
	}
	if q.EntityID != nil {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, q.EntityID.String())
	}
	if q.Unique != nil {
		clauses = append(clauses, "is_unique = ?")
		args = append(args, boolToInt(*q.Unique))
	}
	if q.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *q.Since)
	}
	if q.Until != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, *q.Until)
	}
	return " WHERE " + join(clauses, " AND "), args
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// SearchMemoriesByEmbedding ranks by cosine similarity descending, computed
// in-process since the pure-Go SQLite driver carries no vector extension;
// results are always fully ranked (never mixed with unranked rows).
func (s *Store) SearchMemoriesByEmbedding(ctx context.Context, p storage.EmbeddingSearchParams) ([]*storage.Memory, error) {
	where, args := memoryWhere(storage.MemoryQuery{AgentID: &p.AgentID, RoomID: p.RoomID})
	query := `SELECT id, entity_id, agent_id, room_id, content, embedding, metadata, created_at, is_unique FROM memories` + where
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("SearchMemoriesByEmbedding", err)
	}
	defer rows.Close()

	var candidates []*storage.Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows.Scan)
		if err != nil {
			return nil, wrap("SearchMemoriesByEmbedding", err)
		}
		if len(m.Embedding) == 0 {
			continue
		}
		m.Similarity = cosineSimilarity(m.Embedding, p.Embedding)
		if m.Similarity >= p.MinSimilarity {
			candidates = append(candidates, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("SearchMemoriesByEmbedding", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })
	if p.MatchCount > 0 && len(candidates) > p.MatchCount {
		candidates = candidates[:p.MatchCount]
	}
	return candidates, nil
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
	metaJSON, _ := json.Marshal(m.Metadata)
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ?, embedding = ?, metadata = ? WHERE id = ?`,
		string(contentJSON), encodeEmbedding(m.Embedding), string(metaJSON), m.ID.String())
	if err != nil {
		return wrap("UpdateMemory", err)
	}
	return checkAffected(res, "UpdateMemory")
}

func (s *Store) RemoveMemory(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id.String())
	if err != nil {
		return wrap("RemoveMemory", err)
	}
	return checkAffected(res, "RemoveMemory")
}

func (s *Store) RemoveAllMemories(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE room_id = ?`, roomID.String())
	return wrap("RemoveAllMemories", err)
}

func (s *Store) CountMemories(ctx context.Context, q storage.MemoryQuery) (int, error) {
	where, args := memoryWhere(q)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`+where, args...).Scan(&count)
	return count, wrap("CountMemories", err)
}

// --- Tasks ----------------------------------------------------------------

func (s *Store) CreateTask(ctx context.Context, t *storage.Task) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = storage.TaskPending
	}
	dataJSON, _ := json.Marshal(t.Data)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, agent_id, task_type, data, status, priority, scheduled_at, retry_count, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.AgentID.String(), t.TaskType, string(dataJSON), string(t.Status), t.Priority,
		t.ScheduledAt, t.RetryCount, t.MaxRetries, t.CreatedAt, t.UpdatedAt)
	return wrap("CreateTask", err)
}

func (s *Store) UpdateTask(ctx context.Context, t *storage.Task) error {
	t.UpdatedAt = time.Now()
	dataJSON, _ := json.Marshal(t.Data)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status=?, data=?, executed_at=?, retry_count=?, error=?, updated_at=? WHERE id = ?`,
		string(t.Status), string(dataJSON), t.ExecutedAt, t.RetryCount, t.Error, t.UpdatedAt, t.ID.String())
	if err != nil {
		return wrap("UpdateTask", err)
	}
	return checkAffected(res, "UpdateTask")
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*storage.Task, error) {
	t, err := scanTaskRow(s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, task_type, data, status, priority, scheduled_at, executed_at, retry_count, max_retries, error, created_at, updated_at
		FROM tasks WHERE id = ?`, id.String()).Scan)
	if err != nil {
		return nil, wrap("GetTask", err)
	}
	return t, nil
}

func scanTaskRow(scan func(dest ...any) error) (*storage.Task, error) {
	var t storage.Task
	var idStr, agentStr, dataJSON, status string
	var executedAt sql.NullTime
	var errStr sql.NullString
	if err := scan(&idStr, &agentStr, &t.TaskType, &dataJSON, &status, &t.Priority, &t.ScheduledAt,
		&executedAt, &t.RetryCount, &t.MaxRetries, &errStr, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ID, t.AgentID, t.Status = uuid.MustParse(idStr), uuid.MustParse(agentStr), storage.TaskStatus(status)
	_ = json.Unmarshal([]byte(dataJSON), &t.Data)
	if executedAt.Valid {
		t.ExecutedAt = &executedAt.Time
	}
	t.Error = errStr.String
	return &t, nil
}

func (s *Store) GetPendingTasks(ctx context.Context, agentID uuid.UUID, limit int) ([]*storage.Task, error) {
	query := `
		SELECT id, agent_id, task_type, data, status, priority, scheduled_at, executed_at, retry_count, max_retries, error, created_at, updated_at
		FROM tasks WHERE agent_id = ? AND status = ? ORDER BY scheduled_at ASC, created_at ASC`
	args := []any{agentID.String(), string(storage.TaskPending)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("GetPendingTasks", err)
	}
	defer rows.Close()

	var out []*storage.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, wrap("GetPendingTasks", err)
		}
		out = append(out, t)
	}
	return out, wrap("GetPendingTasks", rows.Err())
}

// --- Logs -------------------------------------------------------------------

func (s *Store) Log(ctx context.Context, l *storage.Log) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = time.Now()
	var roomID any
	if l.RoomID != nil {
		roomID = l.RoomID.String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (id, entity_id, room_id, body, type, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.EntityID.String(), roomID, l.Body, l.Type, l.CreatedAt)
	return wrap("Log", err)
}

func (s *Store) GetLogs(ctx context.Context, q storage.LogQuery) ([]*storage.Log, error) {
	clauses := []string{"1=1"}
	var args []any
	if q.EntityID != nil {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, q.EntityID.String())
	}
	if q.RoomID != nil {
		clauses = append(clauses, "room_id = ?")
		args = append(args, q.RoomID.String())
	}
	if q.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, q.Type)
	}
	if q.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *q.Since)
	}
	query := `SELECT id, entity_id, room_id, body, type, created_at FROM logs WHERE ` + join(clauses, " AND ") + ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("GetLogs", err)
	}
	defer rows.Close()

	var out []*storage.Log
	for rows.Next() {
		var l storage.Log
		var idStr, entityStr string
		var roomStr sql.NullString
		if err := rows.Scan(&idStr, &entityStr, &roomStr, &l.Body, &l.Type, &l.CreatedAt); err != nil {
			return nil, wrap("GetLogs", err)
		}
		l.ID, l.EntityID = uuid.MustParse(idStr), uuid.MustParse(entityStr)
		if roomStr.Valid {
			rid := uuid.MustParse(roomStr.String)
			l.RoomID = &rid
		}
		out = append(out, &l)
	}
	return out, wrap("GetLogs", rows.Err())
}

// --- Cost ---------------------------------------------------------------

func (s *Store) PersistLLMCost(ctx context.Context, r *storage.LLMCostRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_costs (
			id, timestamp, agent_id, user_id, conversation_id, action_name, evaluator_name,
			provider, model, temperature, prompt_tokens, completion_tokens, total_tokens, cached_tokens,
			input_cost_usd, output_cost_usd, total_cost_usd, latency_ms, ttft_ms, success, error,
			prompt_hash, prompt_preview
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Timestamp, r.AgentID.String(), r.UserID, r.ConversationID, r.ActionName, r.EvaluatorName,
		r.Provider, r.Model, r.Temperature, r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.CachedTokens,
		r.InputCostUSD, r.OutputCostUSD, r.TotalCostUSD, r.LatencyMS, r.TTFTMS, boolToInt(r.Success), r.Error,
		r.PromptHash, r.PromptPreview)
	return wrap("PersistLLMCost", err)
}

func (s *Store) GetAgentRunSummaries(ctx context.Context, q storage.RunSummaryQuery) ([]*storage.RunSummary, error) {
	clauses := []string{"1=1"}
	var args []any
	if q.AgentID != nil {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, q.AgentID.String())
	}
	if q.ConversationID != "" {
		clauses = append(clauses, "conversation_id = ?")
		args = append(args, q.ConversationID)
	}
	if q.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *q.Since)
	}
	query := fmt.Sprintf(`
		SELECT agent_id, conversation_id, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens),
		       SUM(total_cost_usd), AVG(latency_ms), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END)
		FROM llm_costs WHERE %s GROUP BY agent_id, conversation_id`, join(clauses, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("GetAgentRunSummaries", err)
	}
	defer rows.Close()

	var out []*storage.RunSummary
	for rows.Next() {
		var rs storage.RunSummary
		var agentStr string
		if err := rows.Scan(&agentStr, &rs.ConversationID, &rs.CallCount, &rs.PromptTokens, &rs.CompletionTokens,
			&rs.TotalCostUSD, &rs.AvgLatencyMS, &rs.FailureCount); err != nil {
			return nil, wrap("GetAgentRunSummaries", err)
		}
		rs.AgentID = uuid.MustParse(agentStr)
		out = append(out, &rs)
	}
	return out, wrap("GetAgentRunSummaries", rows.Err())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
