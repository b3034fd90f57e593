package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

func TestApplyUpdateUnknownMessage(t *testing.T) {
	reg, _ := newTestCore(t)
	prop := NewPropagator(reg, NewSynchronizer(reg, ""))

	_, err := prop.ApplyUpdate(context.Background(), "alice", models.Message{ID: "ghost"})
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestApplyUpdatePushesToOnlineCounterpart(t *testing.T) {
	reg, pipe := newTestCore(t)
	prop := NewPropagator(reg, NewSynchronizer(reg, ""))
	alice := &fakeConn{}
	reg.Register("alice", alice)

	msg, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "hi")
	require.NoError(t, err)
	pushedBefore := alice.countOf(models.EvMessageUpdate)

	msg.Reactions = []models.Reaction{{UserID: "bob", Type: "like"}}
	updated, err := prop.ApplyUpdate(context.Background(), "bob", msg)
	require.NoError(t, err)
	require.Len(t, updated.Reactions, 1)

	require.Equal(t, pushedBefore+1, alice.countOf(models.EvMessageUpdate))
	updates, _, err := store.ListSyncUpdates("alice")
	require.NoError(t, err)
	require.Empty(t, updates, "live push must not queue a sync entry")
}

func TestApplyUpdateQueuesForOfflineCounterpart(t *testing.T) {
	reg, pipe := newTestCore(t)
	prop := NewPropagator(reg, NewSynchronizer(reg, ""))

	msg, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "hi")
	require.NoError(t, err)

	msg.Read = models.Flag{Flag: true, At: msg.CreatedTS + 1}
	_, err = prop.ApplyUpdate(context.Background(), "bob", msg)
	require.NoError(t, err)

	updates, _, err := store.ListSyncUpdates("alice")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, msg.ID, updates[0].Message.ID)
}

func TestApplyUpdateReplacesReaction(t *testing.T) {
	reg, pipe := newTestCore(t)
	prop := NewPropagator(reg, NewSynchronizer(reg, ""))

	msg, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "hi")
	require.NoError(t, err)

	msg.Reactions = []models.Reaction{{UserID: "bob", Type: "like"}}
	_, err = prop.ApplyUpdate(context.Background(), "bob", msg)
	require.NoError(t, err)

	msg.Reactions = []models.Reaction{{UserID: "bob", Type: "like"}, {UserID: "bob", Type: "heart"}}
	updated, err := prop.ApplyUpdate(context.Background(), "bob", msg)
	require.NoError(t, err)
	require.Len(t, updated.Reactions, 1, "one reaction per user")
	require.Equal(t, "heart", updated.Reactions[0].Type)

	// empty type removes
	msg.Reactions = []models.Reaction{{UserID: "bob", Type: ""}}
	updated, err = prop.ApplyUpdate(context.Background(), "bob", msg)
	require.NoError(t, err)
	require.Empty(t, updated.Reactions)
}

func TestApplyUpdateKeepsMonotonicFlags(t *testing.T) {
	reg, pipe := newTestCore(t)
	prop := NewPropagator(reg, NewSynchronizer(reg, ""))

	msg, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "hi")
	require.NoError(t, err)
	_, err = pipe.Ack(context.Background(), "bob", msg.ID)
	require.NoError(t, err)

	// stale snapshot without the delivered flag
	stale := msg
	stale.Delivered = models.Flag{}
	updated, err := prop.ApplyUpdate(context.Background(), "bob", stale)
	require.NoError(t, err)
	require.True(t, updated.Delivered.Flag)
}
