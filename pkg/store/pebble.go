package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/utils"

	"github.com/cockroachdb/pebble"
)

var (
	db     *pebble.DB
	dbPath string
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Key namespaces. Values are JSON documents except the order indexes,
// which hold bare message ids.
//
//	msg:<msgID>                     canonical message, replaced on update
//	chat:<chatID>:msg:<sortkey>     chat-order index -> msgID
//	mailbox:<userID>:<sortkey>      pending offline delivery -> msgID
//	sync:<userID>:<sortkey>         pending offline update -> SyncUpdate JSON
//	summary:<userID>:<chatID>       chat summary JSON
const (
	msgPrefix     = "msg:"
	chatPrefix    = "chat:"
	mailboxPrefix = "mailbox:"
	syncPrefix    = "sync:"
	summaryPrefix = "summary:"
)

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// SaveMessage persists a brand-new message: the canonical document plus
// the chat-order index entry. Chat order is the order in which messages
// are persisted here, not submission order at the transport.
func SaveMessage(msg models.Message) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(msgPrefix+msg.ID), data, pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("save_message").Inc()
		logger.Error("save_message_failed", "chat", msg.ChatID, "id", msg.ID, "error", err)
		return err
	}
	idxKey := fmt.Sprintf("%s%s:msg:%s", chatPrefix, msg.ChatID, utils.SortKey())
	if err := db.Set([]byte(idxKey), []byte(msg.ID), pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("save_message_index").Inc()
		logger.Error("save_message_index_failed", "key", idxKey, "error", err)
		return err
	}
	logger.Debug("message_saved", "chat", msg.ChatID, "id", msg.ID)
	return nil
}

// PutMessage replaces the canonical document for an existing message.
// Delivered/read flags are monotonic: once set in the stored copy they
// survive any replacement that tries to clear them.
func PutMessage(msg models.Message) (models.Message, error) {
	if db == nil {
		return msg, notOpened()
	}
	if prev, err := GetMessage(msg.ID); err == nil {
		msg.Sent = mergeFlag(prev.Sent, msg.Sent)
		msg.Delivered = mergeFlag(prev.Delivered, msg.Delivered)
		msg.Read = mergeFlag(prev.Read, msg.Read)
		if msg.CreatedTS == 0 {
			msg.CreatedTS = prev.CreatedTS
		}
	} else if !errors.Is(err, ErrNotFound) {
		return msg, err
	}
	msg.Reactions = models.NormalizeReactions(msg.Reactions)
	data, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(msgPrefix+msg.ID), data, pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("put_message").Inc()
		logger.Error("put_message_failed", "id", msg.ID, "error", err)
		return msg, err
	}
	return msg, nil
}

func mergeFlag(prev, next models.Flag) models.Flag {
	if prev.Flag && !next.Flag {
		return prev
	}
	if prev.Flag && next.Flag && next.At == 0 {
		return prev
	}
	return next
}

// GetMessage returns the canonical document for a message id.
func GetMessage(id string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	v, closer, err := db.Get([]byte(msgPrefix + id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return m, ErrNotFound
		}
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid message JSON: %w", err)
	}
	return m, nil
}

// MarkDelivered sets the delivered flag on a stored message. Idempotent:
// the first timestamp wins.
func MarkDelivered(id string, at time.Time) (models.Message, error) {
	m, err := GetMessage(id)
	if err != nil {
		return m, err
	}
	if m.Delivered.Flag {
		return m, nil
	}
	m.Delivered = models.Flag{Flag: true, At: at.UTC().UnixNano()}
	return PutMessage(m)
}

// ListChatMessages returns a chat's messages in persisted order. The
// optional limit caps the result to the most recent n entries.
func ListChatMessages(chatID string, limit ...int) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte(chatPrefix + chatID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var ids []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		ids = append(ids, string(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if len(limit) > 0 && limit[0] > 0 && limit[0] < len(ids) {
		ids = ids[len(ids)-limit[0]:]
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, err := GetMessage(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// index entry survived a purge of the document; skip
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// AppendMailbox queues a message id for delivery to an offline user.
func AppendMailbox(userID, msgID string) error {
	if db == nil {
		return notOpened()
	}
	key := fmt.Sprintf("%s%s:%s", mailboxPrefix, userID, utils.SortKey())
	if err := db.Set([]byte(key), []byte(msgID), pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("append_mailbox").Inc()
		logger.Error("append_mailbox_failed", "user", userID, "msg", msgID, "error", err)
		return err
	}
	logger.Debug("mailbox_appended", "user", userID, "msg", msgID)
	return nil
}

// ListMailbox returns the pending message ids for a user in creation order.
func ListMailbox(userID string) ([]string, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte(mailboxPrefix + userID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

// ClearMailbox removes every pending entry for a user. Called only after
// the full batch was dispatched; a crash before this point re-delivers
// on the next reconnect (at-least-once).
func ClearMailbox(userID string) error {
	if db == nil {
		return notOpened()
	}
	prefix := mailboxPrefix + userID + ":"
	if err := db.DeleteRange([]byte(prefix), []byte(prefix+"\xff"), pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("clear_mailbox").Inc()
		logger.Error("clear_mailbox_failed", "user", userID, "error", err)
		return err
	}
	logger.Debug("mailbox_cleared", "user", userID)
	return nil
}

// AppendSyncUpdate queues an update notification for an offline user.
func AppendSyncUpdate(u models.SyncUpdate) error {
	if db == nil {
		return notOpened()
	}
	if u.TS == 0 {
		u.TS = time.Now().UTC().UnixNano()
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal sync update: %w", err)
	}
	key := fmt.Sprintf("%s%s:%s", syncPrefix, u.WhomToSend, utils.SortKey())
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("append_sync").Inc()
		logger.Error("append_sync_failed", "user", u.WhomToSend, "msg", u.Message.ID, "error", err)
		return err
	}
	return nil
}

// ListSyncUpdates returns the queued updates for a user in creation
// order, along with their raw keys so callers can delete after dispatch.
func ListSyncUpdates(userID string) ([]models.SyncUpdate, []string, error) {
	if db == nil {
		return nil, nil, notOpened()
	}
	prefix := []byte(syncPrefix + userID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer iter.Close()
	var out []models.SyncUpdate
	var keys []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var u models.SyncUpdate
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			logger.Error("sync_entry_invalid", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, u)
		keys = append(keys, string(iter.Key()))
	}
	return out, keys, iter.Error()
}

// DeleteKey removes a single raw key.
func DeleteKey(key string) error {
	if db == nil {
		return notOpened()
	}
	return db.Delete([]byte(key), pebble.Sync)
}

// SaveSummary upserts one user's summary for a chat.
func SaveSummary(s models.ChatSummary) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	key := summaryPrefix + s.OwnerID + ":" + s.ChatID
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("save_summary").Inc()
		logger.Error("save_summary_failed", "owner", s.OwnerID, "chat", s.ChatID, "error", err)
		return err
	}
	return nil
}

// GetSummary returns one user's summary for a chat.
func GetSummary(ownerID, chatID string) (models.ChatSummary, error) {
	var s models.ChatSummary
	if db == nil {
		return s, notOpened()
	}
	v, closer, err := db.Get([]byte(summaryPrefix + ownerID + ":" + chatID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return s, ErrNotFound
		}
		return s, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &s); err != nil {
		return s, fmt.Errorf("invalid summary JSON: %w", err)
	}
	return s, nil
}

// ListSummaries returns all of a user's chat summaries, newest
// activity first.
func ListSummaries(ownerID string) ([]models.ChatSummary, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte(summaryPrefix + ownerID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.ChatSummary
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var s models.ChatSummary
		if err := json.Unmarshal(iter.Value(), &s); err != nil {
			logger.Error("summary_invalid", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedTS > out[j].UpdatedTS })
	return out, iter.Error()
}

// DeleteSummary removes one user's summary for a chat. Deleting an
// absent summary is not an error.
func DeleteSummary(ownerID, chatID string) error {
	if db == nil {
		return notOpened()
	}
	return db.Delete([]byte(summaryPrefix+ownerID+":"+chatID), pebble.Sync)
}

// ListKeys returns all keys (as strings) that start with the given prefix.
// If prefix is empty it returns all keys in the DB.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, notOpened()
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	if prefix == "" {
		for iter.First(); iter.Valid(); iter.Next() {
			out = append(out, string(append([]byte(nil), iter.Key()...)))
		}
		return out, iter.Error()
	}
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(append([]byte(nil), iter.Key()...)))
	}
	return out, iter.Error()
}

// GetKey returns the raw value for the given key.
func GetKey(key string) (string, error) {
	if db == nil {
		return "", notOpened()
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// DBSet writes a raw key/value pair. Low-level helper used by operator
// tooling and tests.
func DBSet(key, value []byte) error {
	if db == nil {
		return notOpened()
	}
	return db.Set(key, value, pebble.Sync)
}
