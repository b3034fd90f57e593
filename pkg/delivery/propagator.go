package delivery

import (
	"context"
	"errors"
	"fmt"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
)

// ErrUnknownMessage is returned when an update references a message id
// that was never persisted.
var ErrUnknownMessage = errors.New("delivery: unknown message")

// Propagator is the single generic mutation channel for delivered/read
// flags, reactions and deletions. The caller is whichever client holds
// the message open; the counterpart is whoever didn't make this call.
//
// Persistence is replace-not-merge: two concurrent mutations of the same
// message can drop one of them. Known limitation, kept deliberately
// simple; versioning the document would be the fix.
type Propagator struct {
	reg *presence.Registry
	sum *Synchronizer
}

func NewPropagator(reg *presence.Registry, sum *Synchronizer) *Propagator {
	return &Propagator{reg: reg, sum: sum}
}

// ApplyUpdate replaces the stored message with the incoming snapshot
// (delivered/read stay monotonic, reactions are normalized to one entry
// per user) and forwards the result to the counterpart: a live push when
// online, a queued sync entry otherwise.
func (pr *Propagator) ApplyUpdate(ctx context.Context, actorID string, incoming models.Message) (models.Message, error) {
	if _, err := store.GetMessage(incoming.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return incoming, ErrUnknownMessage
		}
		return incoming, err
	}
	updated, err := store.PutMessage(incoming)
	if err != nil {
		return updated, fmt.Errorf("persist update: %w", err)
	}

	recipient := updated.Counterpart(actorID)
	if c, ok := pr.reg.Resolve(recipient); ok {
		if err := c.Send(models.EvMessageUpdate, updated); err != nil {
			logger.Warn("update_push_dropped", "user", recipient, "msg", updated.ID)
			pr.queue(recipient, updated)
		}
	} else {
		pr.queue(recipient, updated)
	}

	// delete for everyone: both participants listed and an author set.
	// When the deleted message is a side's most recent one, its chat
	// preview becomes the deletion placeholder.
	if updated.DeletedForEveryone() {
		pr.sum.OnDeleteForEveryone(updated)
	}
	return updated, nil
}

func (pr *Propagator) queue(recipient string, msg models.Message) {
	u := models.SyncUpdate{WhomToSend: recipient, Message: msg}
	if err := store.AppendSyncUpdate(u); err != nil {
		logger.Error("sync_queue_failed", "user", recipient, "msg", msg.ID, "error", err)
		return
	}
	telemetry.SyncUpdatesQueued.Inc()
}
