// Package delivery implements the message routing core: the submit
// pipeline, offline mailbox flush, the update propagator and the chat
// summary synchronizer.
package delivery

import (
	"context"
	"fmt"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/utils"
)

// Pipeline accepts outbound messages, persists them and routes them to
// the recipient: a live push when the receiver is online, a mailbox
// entry otherwise. Delivery is at-least-once; clients de-duplicate by
// message id.
type Pipeline struct {
	reg *presence.Registry
	sum *Synchronizer
}

func NewPipeline(reg *presence.Registry, sum *Synchronizer) *Pipeline {
	return &Pipeline{reg: reg, sum: sum}
}

// Submit persists and routes one message. A persistence failure aborts
// before any routing; the caller surfaces it to the sender with the
// original payload attached so the client can retry.
//
// The message is not marked delivered on a live push: delivered means
// the receiving client acknowledged it (see Ack), not that the server
// handed bytes to a socket.
func (p *Pipeline) Submit(ctx context.Context, senderID, receiverID string, typ models.MessageType, body string) (models.Message, error) {
	now := time.Now().UTC()
	msg := models.Message{
		ID:         utils.GenID(),
		ChatID:     models.ChatID(senderID, receiverID),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Type:       typ,
		Body:       body,
		Sent:       models.Flag{Flag: true, At: now.UnixNano()},
		CreatedTS:  now.UnixNano(),
	}
	if err := store.SaveMessage(msg); err != nil {
		return msg, fmt.Errorf("persist message: %w", err)
	}
	telemetry.MessagesSubmitted.Inc()

	if c, ok := p.reg.Resolve(receiverID); ok {
		if err := c.Send(models.EvMessage, msg); err != nil {
			// slow consumer; fall back to the mailbox rather than lose it
			logger.Warn("live_push_dropped", "user", receiverID, "msg", msg.ID)
			if qerr := store.AppendMailbox(receiverID, msg.ID); qerr != nil {
				logger.Error("mailbox_fallback_failed", "user", receiverID, "msg", msg.ID, "error", qerr)
			} else {
				telemetry.MailboxEnqueued.Inc()
			}
		}
	} else {
		if err := store.AppendMailbox(receiverID, msg.ID); err != nil {
			return msg, fmt.Errorf("enqueue mailbox: %w", err)
		}
		telemetry.MailboxEnqueued.Inc()
	}

	// sent confirmation back to the sender's own connection so the
	// client can reconcile its optimistic echo with the durable id
	if c, ok := p.reg.Resolve(senderID); ok {
		_ = c.Send(models.EvMessageSent, msg)
	}

	p.sum.OnMessage(msg)
	return msg, nil
}

// Ack handles the receiver's explicit receive-acknowledgement: marks the
// message delivered and forwards the delivery status to the sender if
// they are online. Idempotent by message id.
func (p *Pipeline) Ack(ctx context.Context, userID, msgID string) (models.Message, error) {
	msg, err := store.MarkDelivered(msgID, time.Now())
	if err != nil {
		return msg, err
	}
	telemetry.MessagesDelivered.Inc()
	if c, ok := p.reg.Resolve(msg.SenderID); ok && msg.SenderID != userID {
		_ = c.Send(models.EvMessageUpdate, msg)
	}
	return msg, nil
}

// FlushMailbox drains a reconnecting user's offline mailbox: each
// pending message is pushed, marked delivered and the sender notified.
// The mailbox is cleared only after the full batch was dispatched, so a
// crash mid-flush re-delivers on the next reconnect.
func (p *Pipeline) FlushMailbox(ctx context.Context, userID string, c presence.Conn) error {
	ids, err := store.ListMailbox(userID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := store.GetMessage(id)
		if err != nil {
			logger.Error("mailbox_entry_missing", "user", userID, "msg", id, "error", err)
			continue
		}
		if err := c.Send(models.EvMessage, msg); err != nil {
			// connection went away mid-flush; keep the mailbox intact
			return fmt.Errorf("mailbox push failed: %w", err)
		}
		msg, err = store.MarkDelivered(id, time.Now())
		if err != nil {
			return err
		}
		telemetry.MessagesDelivered.Inc()
		telemetry.MailboxFlushed.Inc()
		if sc, ok := p.reg.Resolve(msg.SenderID); ok {
			_ = sc.Send(models.EvMessageUpdate, msg)
		}
	}
	if err := store.ClearMailbox(userID); err != nil {
		return err
	}
	logger.Info("mailbox_flushed", "user", userID, "count", len(ids))
	return nil
}

// FlushSyncUpdates pushes queued update notifications (reads, reactions,
// deletions that happened while the user was away) in creation order.
// Entries are deleted per dispatch; a crash re-sends, and clients apply
// snapshots idempotently by message id.
func (p *Pipeline) FlushSyncUpdates(ctx context.Context, userID string, c presence.Conn) error {
	updates, keys, err := store.ListSyncUpdates(userID)
	if err != nil {
		return err
	}
	for i, u := range updates {
		if err := ctx.Err(); err != nil {
			return err
		}
		// re-read the canonical document: it may have mutated again
		// after this entry was queued
		msg := u.Message
		if cur, err := store.GetMessage(u.Message.ID); err == nil {
			msg = cur
		}
		if err := c.Send(models.EvMessageUpdate, msg); err != nil {
			return fmt.Errorf("sync push failed: %w", err)
		}
		if err := store.DeleteKey(keys[i]); err != nil {
			return err
		}
		telemetry.SyncUpdatesFlushed.Inc()
	}
	if len(updates) > 0 {
		logger.Info("sync_updates_flushed", "user", userID, "count", len(updates))
	}
	return nil
}
