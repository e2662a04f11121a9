package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Zoey/Zoey-sub001/plugins/storage/embedded"
)

func TestResolveRoomAndEntityCreatesThenReuses(t *testing.T) {
	ctx := context.Background()
	store, err := embedded.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(ctx) })

	agentID := uuid.New()
	namespace := uuid.New()
	msg := InboundMessage{Source: "telegram", ChatID: "chat-1", UserExternalID: "user-1"}

	entity1, room1, err := ResolveRoomAndEntity(ctx, store, namespace, agentID, msg)
	require.NoError(t, err)
	require.NotNil(t, entity1)
	require.NotNil(t, room1)

	entity2, room2, err := ResolveRoomAndEntity(ctx, store, namespace, agentID, msg)
	require.NoError(t, err)
	require.Equal(t, entity1.ID, entity2.ID)
	require.Equal(t, room1.ID, room2.ID)
}
