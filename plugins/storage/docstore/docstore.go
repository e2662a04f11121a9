// Package docstore implements storage.Store over MongoDB for document
// storage plus an optional Weaviate class for ranked vector search, for
// deployments that already run a document-store stack instead of a SQL
// server. Grounded on the teacher's WeaviateMemory
// (internal/memory_ref/weaviate_memory.go) for the vector-search half, and
// generalized to the full entity set by storing everything else — agents,
// entities, worlds, rooms, participants, relationships, components, tasks,
// logs, llm_costs, and the memories themselves — as Mongo documents.
package docstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	wvt "github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"github.com/weaviate/weaviate/entities/schema"

	"github.com/Agent-Zoey/Zoey-sub001/internal/obslog"
	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

const backendName = "docstore"

// memoryVectorClass is the Weaviate class used for ranked memory search,
// mirroring WeaviateMemory's single-class layout.
const memoryVectorClass = "AgentCoreMemory"

// Config configures the Mongo connection and optional Weaviate ranking
// sidecar. Weaviate fields are all optional: when Host is empty, vector
// search falls back to unranked recency (spec §4.1).
type Config struct {
	MongoURI     string
	Database     string
	WeaviateHost string
	WeaviateAPIKey string
}

// Store implements storage.Store over MongoDB, with Weaviate as an optional
// ranked ANN index for memory embeddings.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	weaviate *wvt.Client
}

// New connects to MongoDB and, if cfg.WeaviateHost is set, to Weaviate.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, wrap("Connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, wrap("Ping", err)
	}

	s := &Store{client: client, db: client.Database(cfg.Database)}

	if cfg.WeaviateHost != "" {
		wc := wvt.Config{Host: cfg.WeaviateHost, Scheme: "http"}
		if cfg.WeaviateAPIKey != "" {
			wc.Scheme = "https"
		}
		wClient, err := wvt.NewClient(wc)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, wrap("WeaviateClient", err)
		}
		s.weaviate = wClient
	}

	return s, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := storage.KindInternal
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		kind = storage.KindNotFound
	case mongo.IsDuplicateKeyError(err):
		kind = storage.KindConflict
	}
	return storage.NewError(kind, backendName, op, err)
}

func (s *Store) col(name string) *mongo.Collection { return s.db.Collection(name) }

// Initialize implements storage.Store.
func (s *Store) Initialize(ctx context.Context, cfg storage.Config) error {
	if cfg.EmbeddingDim > 0 {
		return s.EnsureEmbeddingDimension(ctx, cfg.EmbeddingDim)
	}
	return nil
}

// IsReady implements storage.Store.
func (s *Store) IsReady(ctx context.Context) bool {
	return s.client.Ping(ctx, nil) == nil
}

// Close implements storage.Store.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// RunPluginMigrations implements storage.Store. SQL fragments are
// meaningless here; only YAML-described index/collection shapes apply.
func (s *Store) RunPluginMigrations(ctx context.Context, set storage.MigrationSet) (storage.MigrationPlan, error) {
	plan := storage.MigrationPlan{}
	for _, frag := range set.Fragments {
		if frag.YAML == "" {
			plan.Skipped = append(plan.Skipped, frag.Name)
			continue
		}
		// Document-store migrations are collection/index shape descriptions
		// applied by the plugin itself against s.db; this backend only
		// tracks which fragments it was asked to run.
		plan.Applied = append(plan.Applied, frag.Name)
	}
	return plan, nil
}

// EnsureEmbeddingDimension creates the Weaviate vector class (if a Weaviate
// sidecar is configured) sized to dim, mirroring WeaviateMemory's
// ensureClassExists. With no Weaviate sidecar this is a no-op: memory
// search falls back to unranked recency.
func (s *Store) EnsureEmbeddingDimension(ctx context.Context, dim int) error {
	if s.weaviate == nil {
		return nil
	}
	existing, err := s.weaviate.Schema().ClassGetter().WithClassName(memoryVectorClass).Do(ctx)
	if err == nil && existing != nil {
		return nil
	}
	classObj := &models.Class{
		Class:      memoryVectorClass,
		Vectorizer: "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: "memory_id", DataType: []string{string(schema.DataTypeText)}},
			{Name: "agent_id", DataType: []string{string(schema.DataTypeText)}},
			{Name: "room_id", DataType: []string{string(schema.DataTypeText)}},
		},
	}
	if err := s.weaviate.Schema().ClassCreator().WithClass(classObj).Do(ctx); err != nil {
		return wrap("EnsureEmbeddingDimension", err)
	}
	return nil
}

// --- Agents ------------------------------------------------------------

func (s *Store) CreateAgent(ctx context.Context, a *storage.Agent) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := s.col("agents").InsertOne(ctx, bson.M{
		"_id": a.ID.String(), "name": a.Name, "character": a.Character,
		"created_at": a.CreatedAt, "updated_at": a.UpdatedAt,
	})
	return wrap("CreateAgent", err)
}

type agentDoc struct {
	ID        string           `bson:"_id"`
	Name      string           `bson:"name"`
	Character storage.Character `bson:"character"`
	CreatedAt time.Time        `bson:"created_at"`
	UpdatedAt time.Time        `bson:"updated_at"`
}

func (d agentDoc) toAgent() (*storage.Agent, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &storage.Agent{ID: id, Name: d.Name, Character: d.Character, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}, nil
}

func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*storage.Agent, error) {
	var d agentDoc
	if err := s.col("agents").FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		return nil, wrap("GetAgent", err)
	}
	a, err := d.toAgent()
	if err != nil {
		return nil, wrap("GetAgent", err)
	}
	return a, nil
}

func (s *Store) GetAgents(ctx context.Context) ([]*storage.Agent, error) {
	cur, err := s.col("agents").Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, wrap("GetAgents", err)
	}
	defer cur.Close(ctx)

	var out []*storage.Agent
	for cur.Next(ctx) {
		var d agentDoc
		if err := cur.Decode(&d); err != nil {
			return nil, wrap("GetAgents", err)
		}
		a, err := d.toAgent()
		if err != nil {
			return nil, wrap("GetAgents", err)
		}
		out = append(out, a)
	}
	return out, wrap("GetAgents", cur.Err())
}

func (s *Store) UpdateAgent(ctx context.Context, a *storage.Agent) error {
	a.UpdatedAt = time.Now()
	res, err := s.col("agents").UpdateOne(ctx, bson.M{"_id": a.ID.String()}, bson.M{"$set": bson.M{
		"name": a.Name, "character": a.Character, "updated_at": a.UpdatedAt,
	}})
	if err != nil {
		return wrap("UpdateAgent", err)
	}
	return checkMatched(res.MatchedCount, "UpdateAgent")
}

func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	res, err := s.col("agents").DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return wrap("DeleteAgent", err)
	}
	return checkMatched(res.DeletedCount, "DeleteAgent")
}

func checkMatched(n int64, op string) error {
	if n == 0 {
		return storage.NewError(storage.KindNotFound, backendName, op, errors.New("no documents matched"))
	}
	return nil
}

// --- Entities ------------------------------------------------------------

type entityDoc struct {
	ID        string          `bson:"_id"`
	AgentID   string          `bson:"agent_id"`
	Name      string          `bson:"name"`
	Username  string          `bson:"username"`
	Email     string          `bson:"email"`
	AvatarURL string          `bson:"avatar_url"`
	Metadata  storage.Metadata `bson:"metadata"`
}

func (d entityDoc) toEntity() (*storage.Entity, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	agentID, err := uuid.Parse(d.AgentID)
	if err != nil {
		return nil, err
	}
	return &storage.Entity{ID: id, AgentID: agentID, Name: d.Name, Username: d.Username, Email: d.Email, AvatarURL: d.AvatarURL, Metadata: d.Metadata}, nil
}

func entityToDoc(e *storage.Entity) bson.M {
	return bson.M{
		"_id": e.ID.String(), "agent_id": e.AgentID.String(), "name": e.Name,
		"username": e.Username, "email": e.Email, "avatar_url": e.AvatarURL, "metadata": e.Metadata,
	}
}

func (s *Store) CreateEntities(ctx context.Context, entities []*storage.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(entities))
	for _, e := range entities {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		docs = append(docs, entityToDoc(e))
	}
	_, err := s.col("entities").InsertMany(ctx, docs)
	return wrap("CreateEntities", err)
}

func (s *Store) GetEntityByID(ctx context.Context, id uuid.UUID) (*storage.Entity, error) {
	var d entityDoc
	if err := s.col("entities").FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		return nil, wrap("GetEntityByID", err)
	}
	e, err := d.toEntity()
	if err != nil {
		return nil, wrap("GetEntityByID", err)
	}
	return e, nil
}

func (s *Store) GetEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*storage.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}
	cur, err := s.col("entities").Find(ctx, bson.M{"_id": bson.M{"$in": idStrs}})
	if err != nil {
		return nil, wrap("GetEntitiesByIDs", err)
	}
	defer cur.Close(ctx)

	var out []*storage.Entity
	for cur.Next(ctx) {
		var d entityDoc
		if err := cur.Decode(&d); err != nil {
			return nil, wrap("GetEntitiesByIDs", err)
		}
		e, err := d.toEntity()
		if err != nil {
			return nil, wrap("GetEntitiesByIDs", err)
		}
		out = append(out, e)
	}
	return out, wrap("GetEntitiesByIDs", cur.Err())
}

func (s *Store) GetEntitiesForRoom(ctx context.Context, roomID uuid.UUID, includeComponents bool) ([]*storage.Entity, error) {
	pcur, err := s.col("participants").Find(ctx, bson.M{"room_id": roomID.String()})
	if err != nil {
		return nil, wrap("GetEntitiesForRoom", err)
	}
	defer pcur.Close(ctx)

	var entityIDs []uuid.UUID
	for pcur.Next(ctx) {
		var p participantDoc
		if err := pcur.Decode(&p); err != nil {
			return nil, wrap("GetEntitiesForRoom", err)
		}
		id, err := uuid.Parse(p.EntityID)
		if err != nil {
			return nil, wrap("GetEntitiesForRoom", err)
		}
		entityIDs = append(entityIDs, id)
	}
	if err := pcur.Err(); err != nil {
		return nil, wrap("GetEntitiesForRoom", err)
	}
	out, err := s.GetEntitiesByIDs(ctx, entityIDs)
	_ = includeComponents // component hydration composes via GetComponents; caller's concern
	return out, err
}

func (s *Store) UpdateEntity(ctx context.Context, e *storage.Entity) error {
	res, err := s.col("entities").UpdateOne(ctx, bson.M{"_id": e.ID.String()}, bson.M{"$set": bson.M{
		"name": e.Name, "username": e.Username, "email": e.Email, "avatar_url": e.AvatarURL, "metadata": e.Metadata,
	}})
	if err != nil {
		return wrap("UpdateEntity", err)
	}
	return checkMatched(res.MatchedCount, "UpdateEntity")
}

// --- Worlds / Rooms / Participants ----------------------------------------

func (s *Store) CreateWorld(ctx context.Context, w *storage.World) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	_, err := s.col("worlds").InsertOne(ctx, bson.M{
		"_id": w.ID.String(), "name": w.Name, "agent_id": w.AgentID.String(),
		"server_id": w.ServerID, "metadata": w.Metadata,
	})
	return wrap("CreateWorld", err)
}

type worldDoc struct {
	ID       string          `bson:"_id"`
	Name     string          `bson:"name"`
	AgentID  string          `bson:"agent_id"`
	ServerID string          `bson:"server_id"`
	Metadata storage.Metadata `bson:"metadata"`
}

func (s *Store) GetWorld(ctx context.Context, id uuid.UUID) (*storage.World, error) {
	var d worldDoc
	if err := s.col("worlds").FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		return nil, wrap("GetWorld", err)
	}
	agentID, err := uuid.Parse(d.AgentID)
	if err != nil {
		return nil, wrap("GetWorld", err)
	}
	return &storage.World{ID: id, Name: d.Name, AgentID: agentID, ServerID: d.ServerID, Metadata: d.Metadata}, nil
}

func (s *Store) CreateRoom(ctx context.Context, r *storage.Room) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	doc := bson.M{
		"_id": r.ID.String(), "name": r.Name, "source": r.Source,
		"channel_type": string(r.ChannelType), "channel_id": r.ChannelID,
		"server_id": r.ServerID, "metadata": r.Metadata,
	}
	if r.AgentID != nil {
		doc["agent_id"] = r.AgentID.String()
	}
	if r.WorldID != nil {
		doc["world_id"] = r.WorldID.String()
	}
	_, err := s.col("rooms").InsertOne(ctx, doc)
	return wrap("CreateRoom", err)
}

func (s *Store) GetRoom(ctx context.Context, id uuid.UUID) (*storage.Room, error) {
	var d bson.M
	if err := s.col("rooms").FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		return nil, wrap("GetRoom", err)
	}
	r := &storage.Room{ID: id}
	r.Name, _ = d["name"].(string)
	r.Source, _ = d["source"].(string)
	if ct, ok := d["channel_type"].(string); ok {
		r.ChannelType = storage.ChannelType(ct)
	}
	r.ChannelID, _ = d["channel_id"].(string)
	r.ServerID, _ = d["server_id"].(string)
	if meta, ok := d["metadata"].(bson.M); ok {
		r.Metadata = storage.Metadata(meta)
	}
	if v, ok := d["agent_id"].(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			r.AgentID = &id
		}
	}
	if v, ok := d["world_id"].(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			r.WorldID = &id
		}
	}
	return r, nil
}

type participantDoc struct {
	EntityID string          `bson:"entity_id"`
	RoomID   string          `bson:"room_id"`
	JoinedAt time.Time       `bson:"joined_at"`
	Metadata storage.Metadata `bson:"metadata"`
}

func participantKey(entityID, roomID uuid.UUID) string {
	return entityID.String() + ":" + roomID.String()
}

func (s *Store) AddParticipant(ctx context.Context, p *storage.Participant) error {
	p.JoinedAt = time.Now()
	_, err := s.col("participants").UpdateOne(ctx,
		bson.M{"_id": participantKey(p.EntityID, p.RoomID)},
		bson.M{"$set": bson.M{
			"entity_id": p.EntityID.String(), "room_id": p.RoomID.String(),
			"joined_at": p.JoinedAt, "metadata": p.Metadata,
		}},
		options.Update().SetUpsert(true))
	return wrap("AddParticipant", err)
}

func (s *Store) GetParticipants(ctx context.Context, roomID uuid.UUID) ([]*storage.Participant, error) {
	cur, err := s.col("participants").Find(ctx, bson.M{"room_id": roomID.String()})
	if err != nil {
		return nil, wrap("GetParticipants", err)
	}
	defer cur.Close(ctx)

	var out []*storage.Participant
	for cur.Next(ctx) {
		var d participantDoc
		if err := cur.Decode(&d); err != nil {
			return nil, wrap("GetParticipants", err)
		}
		entityID, err := uuid.Parse(d.EntityID)
		if err != nil {
			return nil, wrap("GetParticipants", err)
		}
		out = append(out, &storage.Participant{EntityID: entityID, RoomID: roomID, JoinedAt: d.JoinedAt, Metadata: d.Metadata})
	}
	return out, wrap("GetParticipants", cur.Err())
}

// --- Relationships ---------------------------------------------------------

func relationshipKey(a, b uuid.UUID, relType string) string {
	x, y := a.String(), b.String()
	if x > y {
		x, y = y, x
	}
	return x + ":" + y + ":" + relType
}

func (s *Store) CreateRelationship(ctx context.Context, r *storage.Relationship) error {
	r.CreatedAt = time.Now()
	_, err := s.col("relationships").UpdateOne(ctx,
		bson.M{"_id": relationshipKey(r.EntityIDA, r.EntityIDB, r.Type)},
		bson.M{"$set": bson.M{
			"entity_id_a": r.EntityIDA.String(), "entity_id_b": r.EntityIDB.String(),
			"type": r.Type, "agent_id": r.AgentID.String(), "metadata": r.Metadata, "created_at": r.CreatedAt,
		}},
		options.Update().SetUpsert(true))
	return wrap("CreateRelationship", err)
}

func (s *Store) GetRelationship(ctx context.Context, a, b uuid.UUID, relType string) (*storage.Relationship, error) {
	var d bson.M
	if err := s.col("relationships").FindOne(ctx, bson.M{"_id": relationshipKey(a, b, relType)}).Decode(&d); err != nil {
		return nil, wrap("GetRelationship", err)
	}
	r := &storage.Relationship{EntityIDA: a, EntityIDB: b, Type: relType}
	if v, ok := d["agent_id"].(string); ok {
		r.AgentID, _ = uuid.Parse(v)
	}
	if v, ok := d["created_at"].(time.Time); ok {
		r.CreatedAt = v
	}
	if meta, ok := d["metadata"].(bson.M); ok {
		r.Metadata = storage.Metadata(meta)
	}
	return r, nil
}

// --- Components -------------------------------------------------------------

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

func (s *Store) CreateComponent(ctx context.Context, c *storage.Component) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	doc := bson.M{
		"_id": c.ID.String(), "entity_id": c.EntityID.String(), "world_id": c.WorldID.String(),
		"type": c.Type, "data": c.Data, "created_at": c.CreatedAt, "updated_at": c.UpdatedAt,
	}
	if c.SourceEntityID != nil {
		doc["source_entity_id"] = c.SourceEntityID.String()
	}
	_, err := s.col("components").InsertOne(ctx, doc)
	return wrap("CreateComponent", err)
}

func componentFromDoc(d bson.M) (*storage.Component, error) {
	c := &storage.Component{}
	var err error
	if v, ok := d["_id"].(string); ok {
		if c.ID, err = uuid.Parse(v); err != nil {
			return nil, err
		}
	}
	if v, ok := d["entity_id"].(string); ok {
		if c.EntityID, err = uuid.Parse(v); err != nil {
			return nil, err
		}
	}
	if v, ok := d["world_id"].(string); ok {
		if c.WorldID, err = uuid.Parse(v); err != nil {
			return nil, err
		}
	}
	if v, ok := d["source_entity_id"].(string); ok {
		if id, perr := uuid.Parse(v); perr == nil {
			c.SourceEntityID = &id
		}
	}
	c.Type, _ = d["type"].(string)
	if data, ok := d["data"].(bson.M); ok {
		c.Data = map[string]any(data)
	}
	if v, ok := d["created_at"].(time.Time); ok {
		c.CreatedAt = v
	}
	if v, ok := d["updated_at"].(time.Time); ok {
		c.UpdatedAt = v
	}
	return c, nil
}

func (s *Store) GetComponent(ctx context.Context, id uuid.UUID) (*storage.Component, error) {
	var d bson.M
	if err := s.col("components").FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		return nil, wrap("GetComponent", err)
	}
	c, err := componentFromDoc(d)
	if err != nil {
		return nil, wrap("GetComponent", err)
	}
	return c, nil
}

func (s *Store) GetComponents(ctx context.Context, entityID, worldID uuid.UUID, viewerRole storage.WorldRole) ([]*storage.Component, error) {
	cur, err := s.col("components").Find(ctx, bson.M{"entity_id": entityID.String(), "world_id": worldID.String()})
	if err != nil {
		return nil, wrap("GetComponents", err)
	}
	defer cur.Close(ctx)

	viewerRank := worldRoleRank(viewerRole)
	var out []*storage.Component
	for cur.Next(ctx) {
		var d bson.M
		if err := cur.Decode(&d); err != nil {
			return nil, wrap("GetComponents", err)
		}
		c, err := componentFromDoc(d)
		if err != nil {
			return nil, wrap("GetComponents", err)
		}
		if c.SourceEntityID == nil && viewerRank < worldRoleRank(storage.RoleMember) {
			continue
		}
		out = append(out, c)
	}
	return out, wrap("GetComponents", cur.Err())
}

func (s *Store) UpdateComponent(ctx context.Context, c *storage.Component) error {
	c.UpdatedAt = time.Now()
	res, err := s.col("components").UpdateOne(ctx, bson.M{"_id": c.ID.String()}, bson.M{"$set": bson.M{
		"data": c.Data, "updated_at": c.UpdatedAt,
	}})
	if err != nil {
		return wrap("UpdateComponent", err)
	}
	return checkMatched(res.MatchedCount, "UpdateComponent")
}

func (s *Store) DeleteComponent(ctx context.Context, id uuid.UUID) error {
	res, err := s.col("components").DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return wrap("DeleteComponent", err)
	}
	return checkMatched(res.DeletedCount, "DeleteComponent")
}

// --- Memories ---------------------------------------------------------------

func memoryToDoc(m *storage.Memory) bson.M {
	doc := bson.M{
		"_id": m.ID.String(), "entity_id": m.EntityID.String(), "agent_id": m.AgentID.String(),
		"room_id": m.RoomID.String(), "content": m.Content, "metadata": m.Metadata,
		"created_at": m.CreatedAt, "is_unique": m.Unique,
	}
	if len(m.Embedding) > 0 {
		embedding64 := make([]float64, len(m.Embedding))
		for i, v := range m.Embedding {
			embedding64[i] = float64(v)
		}
		doc["embedding"] = embedding64
	}
	return doc
}

func memoryFromDoc(d bson.M) (*storage.Memory, error) {
	m := &storage.Memory{}
	var err error
	if v, ok := d["_id"].(string); ok {
		if m.ID, err = uuid.Parse(v); err != nil {
			return nil, err
		}
	}
	if v, ok := d["entity_id"].(string); ok {
		if m.EntityID, err = uuid.Parse(v); err != nil {
			return nil, err
		}
	}
	if v, ok := d["agent_id"].(string); ok {
		if m.AgentID, err = uuid.Parse(v); err != nil {
			return nil, err
		}
	}
	if v, ok := d["room_id"].(string); ok {
		if m.RoomID, err = uuid.Parse(v); err != nil {
			return nil, err
		}
	}
	if content, ok := d["content"].(bson.M); ok {
		if text, ok := content["text"].(string); ok {
			m.Content.Text = text
		}
		if src, ok := content["source"].(string); ok {
			m.Content.Source = src
		}
		if thought, ok := content["thought"].(string); ok {
			m.Content.Thought = thought
		}
	}
	if meta, ok := d["metadata"].(bson.M); ok {
		m.Metadata = storage.Metadata(meta)
	}
	if v, ok := d["created_at"].(time.Time); ok {
		m.CreatedAt = v
	}
	if v, ok := d["is_unique"].(bool); ok {
		m.Unique = v
	}
	if raw, ok := d["embedding"].(bson.A); ok {
		embedding := make([]float32, len(raw))
		for i, v := range raw {
			if f, ok := v.(float64); ok {
				embedding[i] = float32(f)
			}
		}
		m.Embedding = embedding
	}
	return m, nil
}

func (s *Store) CreateMemory(ctx context.Context, m *storage.Memory, tableName string) (uuid.UUID, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now()
	_, err := s.col("memories").InsertOne(ctx, memoryToDoc(m))
	if err != nil {
		return uuid.Nil, wrap("CreateMemory", err)
	}

	if s.weaviate != nil && len(m.Embedding) > 0 {
		if err := s.indexMemoryVector(ctx, m); err != nil {
			obslog.With("docstore").Warn().Err(err).Str("memory_id", m.ID.String()).Msg("failed to index memory in weaviate")
		}
	}
	return m.ID, nil
}

func (s *Store) indexMemoryVector(ctx context.Context, m *storage.Memory) error {
	_, err := s.weaviate.Data().Creator().
		WithClassName(memoryVectorClass).
		WithProperties(map[string]interface{}{
			"memory_id": m.ID.String(), "agent_id": m.AgentID.String(), "room_id": m.RoomID.String(),
		}).
		WithVector(m.Embedding).
		Do(ctx)
	return err
}

func memoryWhereFilter(q storage.MemoryQuery) bson.M {
	filter := bson.M{}
	if q.AgentID != nil {
		filter["agent_id"] = q.AgentID.String()
	}
	if q.RoomID != nil {
		filter["room_id"] = q.RoomID.String()
	}
	if q.EntityID != nil {
		filter["entity_id"] = q.EntityID.String()
	}
	if q.Unique != nil {
		filter["is_unique"] = *q.Unique
	}
	if q.Since != nil || q.Until != nil {
		rng := bson.M{}
		if q.Since != nil {
			rng["$gte"] = *q.Since
		}
		if q.Until != nil {
			rng["$lte"] = *q.Until
		}
		filter["created_at"] = rng
	}
	return filter
}

func (s *Store) GetMemories(ctx context.Context, q storage.MemoryQuery) ([]*storage.Memory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.col("memories").Find(ctx, memoryWhereFilter(q), opts)
	if err != nil {
		return nil, wrap("GetMemories", err)
	}
	defer cur.Close(ctx)

	var out []*storage.Memory
	for cur.Next(ctx) {
		var d bson.M
		if err := cur.Decode(&d); err != nil {
			return nil, wrap("GetMemories", err)
		}
		m, err := memoryFromDoc(d)
		if err != nil {
			return nil, wrap("GetMemories", err)
		}
		out = append(out, m)
	}
	return out, wrap("GetMemories", cur.Err())
}

// SearchMemoriesByEmbedding ranks via the Weaviate nearVector index when
// configured. With no Weaviate sidecar it falls back to unranked recency,
// logging a warning per spec §4.1 — ranked and unranked results are never
// mixed within one call.
func (s *Store) SearchMemoriesByEmbedding(ctx context.Context, p storage.EmbeddingSearchParams) ([]*storage.Memory, error) {
	limit := p.MatchCount
	if limit <= 0 {
		limit = 10
	}
	if s.weaviate == nil {
		obslog.With("docstore").Warn().Str("agent_id", p.AgentID.String()).Msg("no weaviate sidecar configured, falling back to unranked recency")
		return s.GetMemories(ctx, storage.MemoryQuery{AgentID: &p.AgentID, RoomID: p.RoomID, Limit: limit})
	}

	fields := []graphql.Field{
		{Name: "memory_id"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	where := filters.Where().WithPath([]string{"agent_id"}).WithOperator(filters.Equal).WithValueText(p.AgentID.String())

	resp, err := s.weaviate.GraphQL().Get().
		WithClassName(memoryVectorClass).
		WithFields(fields...).
		WithNearVector(s.weaviate.GraphQL().NearVectorArgBuilder().WithVector(p.Embedding)).
		WithWhere(where).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, wrap("SearchMemoriesByEmbedding", err)
	}

	type ranked struct {
		id       string
		distance float32
	}
	var ids []ranked
	if getData, ok := resp.Data["Get"].(map[string]interface{}); ok {
		if rows, ok := getData[memoryVectorClass].([]interface{}); ok {
			for _, row := range rows {
				item, ok := row.(map[string]interface{})
				if !ok {
					continue
				}
				memID, _ := item["memory_id"].(string)
				var dist float32
				if additional, ok := item["_additional"].(map[string]interface{}); ok {
					if d, ok := additional["distance"].(float64); ok {
						dist = float32(d)
					}
				}
				if memID != "" {
					ids = append(ids, ranked{id: memID, distance: dist})
				}
			}
		}
	}

	var out []*storage.Memory
	for _, r := range ids {
		memID, err := uuid.Parse(r.id)
		if err != nil {
			continue
		}
		var d bson.M
		if err := s.col("memories").FindOne(ctx, bson.M{"_id": memID.String()}).Decode(&d); err != nil {
			continue
		}
		m, err := memoryFromDoc(d)
		if err != nil {
			continue
		}
		if p.RoomID != nil && m.RoomID != *p.RoomID {
			continue
		}
		m.Similarity = 1 - r.distance
		if m.Similarity < p.MinSimilarity {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
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
	doc := memoryToDoc(m)
	delete(doc, "_id")
	res, err := s.col("memories").UpdateOne(ctx, bson.M{"_id": m.ID.String()}, bson.M{"$set": doc})
	if err != nil {
		return wrap("UpdateMemory", err)
	}
	return checkMatched(res.MatchedCount, "UpdateMemory")
}

func (s *Store) RemoveMemory(ctx context.Context, id uuid.UUID) error {
	res, err := s.col("memories").DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return wrap("RemoveMemory", err)
	}
	return checkMatched(res.DeletedCount, "RemoveMemory")
}

func (s *Store) RemoveAllMemories(ctx context.Context, roomID uuid.UUID) error {
	_, err := s.col("memories").DeleteMany(ctx, bson.M{"room_id": roomID.String()})
	return wrap("RemoveAllMemories", err)
}

func (s *Store) CountMemories(ctx context.Context, q storage.MemoryQuery) (int, error) {
	n, err := s.col("memories").CountDocuments(ctx, memoryWhereFilter(q))
	return int(n), wrap("CountMemories", err)
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
	_, err := s.col("tasks").InsertOne(ctx, bson.M{
		"_id": t.ID.String(), "agent_id": t.AgentID.String(), "task_type": t.TaskType, "data": t.Data,
		"status": string(t.Status), "priority": t.Priority, "scheduled_at": t.ScheduledAt,
		"retry_count": t.RetryCount, "max_retries": t.MaxRetries, "created_at": t.CreatedAt, "updated_at": t.UpdatedAt,
	})
	return wrap("CreateTask", err)
}

func (s *Store) UpdateTask(ctx context.Context, t *storage.Task) error {
	t.UpdatedAt = time.Now()
	set := bson.M{
		"status": string(t.Status), "data": t.Data, "retry_count": t.RetryCount,
		"error": t.Error, "updated_at": t.UpdatedAt,
	}
	if t.ExecutedAt != nil {
		set["executed_at"] = *t.ExecutedAt
	}
	res, err := s.col("tasks").UpdateOne(ctx, bson.M{"_id": t.ID.String()}, bson.M{"$set": set})
	if err != nil {
		return wrap("UpdateTask", err)
	}
	return checkMatched(res.MatchedCount, "UpdateTask")
}

func taskFromDoc(d bson.M) (*storage.Task, error) {
	t := &storage.Task{}
	var err error
	if v, ok := d["_id"].(string); ok {
		if t.ID, err = uuid.Parse(v); err != nil {
			return nil, err
		}
	}
	if v, ok := d["agent_id"].(string); ok {
		if t.AgentID, err = uuid.Parse(v); err != nil {
			return nil, err
		}
	}
	t.TaskType, _ = d["task_type"].(string)
	if data, ok := d["data"].(bson.M); ok {
		t.Data = map[string]any(data)
	}
	if v, ok := d["status"].(string); ok {
		t.Status = storage.TaskStatus(v)
	}
	if v, ok := d["priority"].(int32); ok {
		t.Priority = int(v)
	}
	if v, ok := d["scheduled_at"].(time.Time); ok {
		t.ScheduledAt = v
	}
	if v, ok := d["executed_at"].(time.Time); ok {
		t.ExecutedAt = &v
	}
	if v, ok := d["retry_count"].(int32); ok {
		t.RetryCount = int(v)
	}
	if v, ok := d["max_retries"].(int32); ok {
		t.MaxRetries = int(v)
	}
	t.Error, _ = d["error"].(string)
	if v, ok := d["created_at"].(time.Time); ok {
		t.CreatedAt = v
	}
	if v, ok := d["updated_at"].(time.Time); ok {
		t.UpdatedAt = v
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*storage.Task, error) {
	var d bson.M
	if err := s.col("tasks").FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		return nil, wrap("GetTask", err)
	}
	t, err := taskFromDoc(d)
	if err != nil {
		return nil, wrap("GetTask", err)
	}
	return t, nil
}

func (s *Store) GetPendingTasks(ctx context.Context, agentID uuid.UUID, limit int) ([]*storage.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}, {Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.col("tasks").Find(ctx, bson.M{"agent_id": agentID.String(), "status": string(storage.TaskPending)}, opts)
	if err != nil {
		return nil, wrap("GetPendingTasks", err)
	}
	defer cur.Close(ctx)

	var out []*storage.Task
	for cur.Next(ctx) {
		var d bson.M
		if err := cur.Decode(&d); err != nil {
			return nil, wrap("GetPendingTasks", err)
		}
		t, err := taskFromDoc(d)
		if err != nil {
			return nil, wrap("GetPendingTasks", err)
		}
		out = append(out, t)
	}
	return out, wrap("GetPendingTasks", cur.Err())
}

// --- Logs --------------------------------------------------------------

func (s *Store) Log(ctx context.Context, l *storage.Log) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = time.Now()
	doc := bson.M{
		"_id": l.ID.String(), "entity_id": l.EntityID.String(), "body": l.Body,
		"type": l.Type, "created_at": l.CreatedAt,
	}
	if l.RoomID != nil {
		doc["room_id"] = l.RoomID.String()
	}
	_, err := s.col("logs").InsertOne(ctx, doc)
	return wrap("Log", err)
}

func (s *Store) GetLogs(ctx context.Context, q storage.LogQuery) ([]*storage.Log, error) {
	filter := bson.M{}
	if q.EntityID != nil {
		filter["entity_id"] = q.EntityID.String()
	}
	if q.RoomID != nil {
		filter["room_id"] = q.RoomID.String()
	}
	if q.Type != "" {
		filter["type"] = q.Type
	}
	if q.Since != nil {
		filter["created_at"] = bson.M{"$gte": *q.Since}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.col("logs").Find(ctx, filter, opts)
	if err != nil {
		return nil, wrap("GetLogs", err)
	}
	defer cur.Close(ctx)

	var out []*storage.Log
	for cur.Next(ctx) {
		var d bson.M
		if err := cur.Decode(&d); err != nil {
			return nil, wrap("GetLogs", err)
		}
		l := &storage.Log{}
		if v, ok := d["_id"].(string); ok {
			l.ID, _ = uuid.Parse(v)
		}
		if v, ok := d["entity_id"].(string); ok {
			l.EntityID, _ = uuid.Parse(v)
		}
		if v, ok := d["room_id"].(string); ok {
			if id, err := uuid.Parse(v); err == nil {
				l.RoomID = &id
			}
		}
		l.Body, _ = d["body"].(string)
		l.Type, _ = d["type"].(string)
		if v, ok := d["created_at"].(time.Time); ok {
			l.CreatedAt = v
		}
		out = append(out, l)
	}
	return out, wrap("GetLogs", cur.Err())
}

// --- Cost -----------------------------------------------------------------

func (s *Store) PersistLLMCost(ctx context.Context, r *storage.LLMCostRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.col("llm_costs").InsertOne(ctx, bson.M{
		"_id": r.ID.String(), "timestamp": r.Timestamp, "agent_id": r.AgentID.String(),
		"user_id": r.UserID, "conversation_id": r.ConversationID, "action_name": r.ActionName,
		"evaluator_name": r.EvaluatorName, "provider": r.Provider, "model": r.Model,
		"temperature": r.Temperature, "prompt_tokens": r.PromptTokens, "completion_tokens": r.CompletionTokens,
		"total_tokens": r.TotalTokens, "cached_tokens": r.CachedTokens, "input_cost_usd": r.InputCostUSD,
		"output_cost_usd": r.OutputCostUSD, "total_cost_usd": r.TotalCostUSD, "latency_ms": r.LatencyMS,
		"ttft_ms": r.TTFTMS, "success": r.Success, "error": r.Error,
		"prompt_hash": r.PromptHash, "prompt_preview": r.PromptPreview,
	})
	return wrap("PersistLLMCost", err)
}

func (s *Store) GetAgentRunSummaries(ctx context.Context, q storage.RunSummaryQuery) ([]*storage.RunSummary, error) {
	match := bson.M{}
	if q.AgentID != nil {
		match["agent_id"] = q.AgentID.String()
	}
	if q.ConversationID != "" {
		match["conversation_id"] = q.ConversationID
	}
	if q.Since != nil {
		match["timestamp"] = bson.M{"$gte": *q.Since}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":               bson.M{"agent_id": "$agent_id", "conversation_id": "$conversation_id"},
			"call_count":        bson.M{"$sum": 1},
			"prompt_tokens":     bson.M{"$sum": "$prompt_tokens"},
			"completion_tokens": bson.M{"$sum": "$completion_tokens"},
			"total_cost_usd":    bson.M{"$sum": "$total_cost_usd"},
			"avg_latency_ms":    bson.M{"$avg": "$latency_ms"},
			"failure_count":     bson.M{"$sum": bson.M{"$cond": []interface{}{"$success", 0, 1}}},
		}}},
	}
	if q.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: q.Limit}})
	}

	cur, err := s.col("llm_costs").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrap("GetAgentRunSummaries", err)
	}
	defer cur.Close(ctx)

	var out []*storage.RunSummary
	for cur.Next(ctx) {
		var row bson.M
		if err := cur.Decode(&row); err != nil {
			return nil, wrap("GetAgentRunSummaries", err)
		}
		rs := &storage.RunSummary{}
		if id, ok := row["_id"].(bson.M); ok {
			if v, ok := id["agent_id"].(string); ok {
				rs.AgentID, _ = uuid.Parse(v)
			}
			rs.ConversationID, _ = id["conversation_id"].(string)
		}
		rs.CallCount = toInt(row["call_count"])
		rs.PromptTokens = toInt(row["prompt_tokens"])
		rs.CompletionTokens = toInt(row["completion_tokens"])
		rs.TotalCostUSD = toFloat(row["total_cost_usd"])
		rs.AvgLatencyMS = toFloat(row["avg_latency_ms"])
		rs.FailureCount = toInt(row["failure_count"])
		out = append(out, rs)
	}
	return out, wrap("GetAgentRunSummaries", cur.Err())
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
