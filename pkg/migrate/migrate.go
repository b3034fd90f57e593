// Package migrate performs upgrade work between schema versions at
// startup, keyed on a version marker stored next to the data.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

const (
	systemVersionKey    = "system:version"
	systemInProgressKey = "system:migration_in_progress"
)

// Sync performs upgrade work between versions. Edit in-place for
// migration logic. Every step must stay idempotent.
func Sync(ctx context.Context, from, to string) error {
	logger.Info("migrate_sync_start", "from", from, "to", to)

	// Backfill chat summaries for stores written before the summary
	// index existed. Scans the chat message indexes and creates a
	// summary per participant where one is missing.
	chatIDs, err := listChatIDs()
	if err != nil {
		logger.Error("migrate_list_chats_failed", "error", err)
		return err
	}
	for _, chatID := range chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := backfillSummaries(chatID); err != nil {
			logger.Error("migrate_backfill_failed", "chat", chatID, "error", err)
			continue
		}
	}

	logger.Info("migrate_sync_done", "from", from, "to", to)
	return nil
}

func listChatIDs() ([]string, error) {
	keys, err := store.ListKeys("chat:")
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]struct{})
	for _, k := range keys {
		rest := strings.TrimPrefix(k, "chat:")
		idx := strings.Index(rest, ":msg:")
		if idx < 0 {
			continue
		}
		chatID := rest[:idx]
		if _, dup := seen[chatID]; dup {
			continue
		}
		seen[chatID] = struct{}{}
		out = append(out, chatID)
	}
	return out, nil
}

func backfillSummaries(chatID string) error {
	parts := strings.SplitN(chatID, "--", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed chat id: %s", chatID)
	}
	msgs, err := store.ListChatMessages(chatID, 1)
	if err != nil || len(msgs) == 0 {
		return err
	}
	last := msgs[len(msgs)-1]

	for i, owner := range parts {
		if _, err := store.GetSummary(owner, chatID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		peer := parts[1-i]
		sum := models.ChatSummary{
			ChatID:        chatID,
			OwnerID:       owner,
			PeerID:        peer,
			LastMessageID: last.ID,
			Preview:       last.Preview(),
			UpdatedTS:     last.CreatedTS,
		}
		if err := store.SaveSummary(sum); err != nil {
			return err
		}
		logger.Info("migrate_summary_backfilled", "chat", chatID, "owner", owner)
	}
	return nil
}

// Run checks for a version change and runs Sync if needed. Returns
// whether Sync ran.
func Run(ctx context.Context, newVersion string) (bool, error) {
	stored, err := store.GetKey(systemVersionKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("migrate_read_version_failed", "error", err)
	}
	logger.Info("migrate_version_check", "stored", stored, "running", newVersion)
	if stored == newVersion {
		return false, nil
	}

	marker := map[string]string{
		"from":       stored,
		"to":         newVersion,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.Marshal(marker)
	if err := store.DBSet([]byte(systemInProgressKey), mb); err != nil {
		return true, fmt.Errorf("failed to write in-progress marker: %w", err)
	}

	if err := Sync(ctx, stored, newVersion); err != nil {
		return true, err
	}

	if err := store.DBSet([]byte(systemVersionKey), []byte(newVersion)); err != nil {
		return true, fmt.Errorf("failed to persist new version: %w", err)
	}
	if err := store.DeleteKey(systemInProgressKey); err != nil {
		logger.Error("migrate_delete_inprogress_failed", "error", err)
	}
	logger.Info("migrate_version_persisted", "version", newVersion)
	return true, nil
}
