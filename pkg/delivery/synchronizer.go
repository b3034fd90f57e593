package delivery

import (
	"errors"
	"strings"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/store"
)

// DefaultDeletedPreview replaces the chat-list preview when the last
// message of a chat is deleted for everyone.
const DefaultDeletedPreview = "This message was deleted"

// Synchronizer keeps each user's ordered chat summaries consistent with
// the message flow. Summaries are per-owner copies: mutating or deleting
// one side never touches the peer's.
type Synchronizer struct {
	reg            *presence.Registry
	deletedPreview string
}

func NewSynchronizer(reg *presence.Registry, deletedPreview string) *Synchronizer {
	if deletedPreview == "" {
		deletedPreview = DefaultDeletedPreview
	}
	return &Synchronizer{reg: reg, deletedPreview: deletedPreview}
}

// OnMessage upserts both participants' summaries for a new message. The
// receiver's copy goes unread unless their client is viewing that exact
// chat right now.
func (s *Synchronizer) OnMessage(msg models.Message) {
	now := time.Now().UTC().UnixNano()

	unread := s.reg.ActiveChat(msg.ReceiverID) != msg.ChatID
	s.upsert(msg.ReceiverID, msg.SenderID, msg, now, unread)
	s.upsert(msg.SenderID, msg.ReceiverID, msg, now, false)
}

func (s *Synchronizer) upsert(ownerID, peerID string, msg models.Message, now int64, unread bool) {
	sum, err := store.GetSummary(ownerID, msg.ChatID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error("summary_load_failed", "owner", ownerID, "chat", msg.ChatID, "error", err)
			return
		}
		sum = models.ChatSummary{ChatID: msg.ChatID, OwnerID: ownerID, PeerID: peerID}
	}
	sum.PeerID = peerID
	sum.LastMessageID = msg.ID
	sum.Preview = msg.Preview()
	sum.UpdatedTS = now
	sum.Unread = unread
	if err := store.SaveSummary(sum); err != nil {
		logger.Error("summary_save_failed", "owner", ownerID, "chat", msg.ChatID, "error", err)
		return
	}
	s.push(ownerID, sum)
}

func (s *Synchronizer) push(ownerID string, sum models.ChatSummary) {
	if c, ok := s.reg.Resolve(ownerID); ok {
		if err := c.Send(models.EvSummaryUpdate, sum); err != nil {
			logger.Warn("summary_push_dropped", "owner", ownerID, "chat", sum.ChatID)
		}
	}
}

// MarkRead clears the unread flag on one summary. Idempotent; a missing
// entry is a no-op.
func (s *Synchronizer) MarkRead(userID, chatID string) error {
	sum, err := store.GetSummary(userID, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if !sum.Unread {
		return nil
	}
	sum.Unread = false
	return store.SaveSummary(sum)
}

// DeleteChat removes the summary from userID's list only. The peer keeps
// theirs and, when online, is told the other side deleted the chat.
func (s *Synchronizer) DeleteChat(userID, chatID string) error {
	peerID := ""
	if sum, err := store.GetSummary(userID, chatID); err == nil {
		peerID = sum.PeerID
	}
	if err := store.DeleteSummary(userID, chatID); err != nil {
		return err
	}
	if peerID == "" {
		peerID = peerFromChatID(chatID, userID)
	}
	if peerID != "" {
		if c, ok := s.reg.Resolve(peerID); ok {
			_ = c.Send(models.EvChatDeleted, map[string]string{"chat_id": chatID, "deleted_by": userID})
		}
	}
	logger.Info("chat_deleted", "user", userID, "chat", chatID)
	return nil
}

// OnDeleteForEveryone rewrites both participants' previews when the
// deleted message was each side's most recent one.
func (s *Synchronizer) OnDeleteForEveryone(msg models.Message) {
	now := time.Now().UTC().UnixNano()
	for _, ownerID := range []string{msg.SenderID, msg.ReceiverID} {
		sum, err := store.GetSummary(ownerID, msg.ChatID)
		if err != nil {
			continue
		}
		if sum.LastMessageID != msg.ID {
			continue
		}
		sum.Preview = s.deletedPreview
		sum.UpdatedTS = now
		if err := store.SaveSummary(sum); err != nil {
			logger.Error("summary_save_failed", "owner", ownerID, "chat", msg.ChatID, "error", err)
			continue
		}
		s.push(ownerID, sum)
	}
}

// peerFromChatID recovers the counterpart id from the symmetric chat id
// when no summary survives to tell us. Best effort.
func peerFromChatID(chatID, userID string) string {
	parts := strings.SplitN(chatID, "--", 2)
	if len(parts) != 2 {
		return ""
	}
	if parts[0] == userID {
		return parts[1]
	}
	if parts[1] == userID {
		return parts[0]
	}
	return ""
}
