package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

func TestSummaryUnreadSkippedForActiveChat(t *testing.T) {
	reg, pipe := newTestCore(t)
	bob := &fakeConn{}
	reg.Register("bob", bob)
	reg.SetActiveChat("bob", models.ChatID("alice", "bob"))

	msg, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "hi")
	require.NoError(t, err)

	sum, err := store.GetSummary("bob", msg.ChatID)
	require.NoError(t, err)
	require.False(t, sum.Unread, "viewing the chat suppresses the unread flag")

	// a different active chat still goes unread
	reg.SetActiveChat("bob", "bob--carol")
	msg2, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "again")
	require.NoError(t, err)
	sum, err = store.GetSummary("bob", msg2.ChatID)
	require.NoError(t, err)
	require.True(t, sum.Unread)
}

func TestSenderSummaryNeverUnread(t *testing.T) {
	_, pipe := newTestCore(t)

	msg, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "hi")
	require.NoError(t, err)

	sum, err := store.GetSummary("alice", msg.ChatID)
	require.NoError(t, err)
	require.False(t, sum.Unread)
	require.Equal(t, "bob", sum.PeerID)
}

func TestMarkRead(t *testing.T) {
	reg, pipe := newTestCore(t)
	sum := NewSynchronizer(reg, "")

	msg, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "hi")
	require.NoError(t, err)

	require.NoError(t, sum.MarkRead("bob", msg.ChatID))
	got, err := store.GetSummary("bob", msg.ChatID)
	require.NoError(t, err)
	require.False(t, got.Unread)

	// repeated and unknown-chat calls are no-ops
	require.NoError(t, sum.MarkRead("bob", msg.ChatID))
	require.NoError(t, sum.MarkRead("bob", "no--chat"))
}

func TestDeleteChatIsOneSided(t *testing.T) {
	reg, pipe := newTestCore(t)
	sum := NewSynchronizer(reg, "")
	bob := &fakeConn{}
	reg.Register("bob", bob)

	msg, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "hi")
	require.NoError(t, err)

	require.NoError(t, sum.DeleteChat("alice", msg.ChatID))

	_, err = store.GetSummary("alice", msg.ChatID)
	require.ErrorIs(t, err, store.ErrNotFound)

	// bob keeps his copy and gets told
	_, err = store.GetSummary("bob", msg.ChatID)
	require.NoError(t, err)
	require.Equal(t, 1, bob.countOf(models.EvChatDeleted))
}

func TestDeleteForEveryoneRewritesPreview(t *testing.T) {
	reg, pipe := newTestCore(t)
	prop := NewPropagator(reg, NewSynchronizer(reg, ""))

	msg, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "secret")
	require.NoError(t, err)

	msg.DeletedBy = "alice"
	msg.DeletedFor = []string{"alice", "bob"}
	_, err = prop.ApplyUpdate(context.Background(), "alice", msg)
	require.NoError(t, err)

	for _, owner := range []string{"alice", "bob"} {
		got, err := store.GetSummary(owner, msg.ChatID)
		require.NoError(t, err)
		require.Equal(t, DefaultDeletedPreview, got.Preview, "owner %s", owner)
	}
}

func TestDeleteForEveryoneKeepsNewerPreview(t *testing.T) {
	reg, pipe := newTestCore(t)
	prop := NewPropagator(reg, NewSynchronizer(reg, ""))

	old, err := pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "old")
	require.NoError(t, err)
	_, err = pipe.Submit(context.Background(), "alice", "bob", models.TypeText, "new")
	require.NoError(t, err)

	old.DeletedBy = "alice"
	old.DeletedFor = []string{"alice", "bob"}
	_, err = prop.ApplyUpdate(context.Background(), "alice", old)
	require.NoError(t, err)

	got, err := store.GetSummary("bob", old.ChatID)
	require.NoError(t, err)
	require.Equal(t, "new", got.Preview, "deleting an older message must not clobber the preview")
}
