package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

// ResolveRoomAndEntity implements the Accepted transition's "resolve
// room/entity (deterministic UUIDs)" step: derive the stable IDs from the
// message's source/chat/user, then get-or-create both rows.
func ResolveRoomAndEntity(ctx context.Context, store storage.Store, namespace uuid.UUID, agentID uuid.UUID, msg InboundMessage) (*storage.Entity, *storage.Room, error) {
	entityID := storage.DeterministicEntityID(namespace, msg.Source, msg.UserExternalID)
	roomID := storage.DeterministicRoomID(namespace, msg.Source, msg.ChatID)

	entity, err := store.GetEntityByID(ctx, entityID)
	if err != nil {
		if !storage.IsNotFound(err) {
			return nil, nil, err
		}
		entity = &storage.Entity{ID: entityID, AgentID: agentID, Username: msg.UserExternalID}
		if err := store.CreateEntities(ctx, []*storage.Entity{entity}); err != nil {
			return nil, nil, err
		}
	}

	room, err := store.GetRoom(ctx, roomID)
	if err != nil {
		if !storage.IsNotFound(err) {
			return nil, nil, err
		}
		channelType := storage.ChannelGuild
		if msg.IsPrivate {
			channelType = storage.ChannelDM
		}
		room = &storage.Room{ID: roomID, AgentID: &agentID, Name: msg.ChatID, Source: msg.Source, ChannelType: channelType, ChannelID: msg.ChatID}
		if err := store.CreateRoom(ctx, room); err != nil {
			return nil, nil, err
		}
	}

	return entity, room, nil
}
