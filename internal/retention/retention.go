// Package retention runs the background purge: undelivered sync updates
// past their TTL and mailbox entries whose message document is gone.
package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adhocore/gronx"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/state"
	"chatrelay/pkg/store"
)

// DefaultSyncTTL bounds how long an undelivered sync update is kept
// before the purge drops it.
const DefaultSyncTTL = 30 * 24 * time.Hour

// Start launches the scheduler when retention is enabled. The returned
// cancel stops it.
func Start(ctx context.Context, cfg *config.Config) (context.CancelFunc, error) {
	ret := cfg.Retention
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	retentionPath := state.PathsVar.Retention
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", "path", retentionPath, "error", err)
		return nil, err
	}

	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	ttl := ret.SyncTTLDuration()
	if ttl <= 0 {
		ttl = DefaultSyncTTL
	}

	logger.Info("retention_enabled", "cron", cronExpr, "sync_ttl", ttl.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, ttl, retentionPath)
	return cancel, nil
}

// runScheduler sleeps until the next cron tick and triggers a run.
func runScheduler(ctx context.Context, cronExpr string, ttl time.Duration, retentionPath string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(ctx, ttl, retentionPath); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single purge pass. Exported so operators and tests
// can trigger it on demand.
func RunOnce(ctx context.Context, ttl time.Duration, retentionPath string) error {
	start := time.Now()
	syncDropped, err := purgeStaleSync(ctx, ttl)
	if err != nil {
		return err
	}
	mailDropped, err := purgeOrphanedMailbox(ctx)
	if err != nil {
		return err
	}

	if retentionPath != "" {
		markPath := filepath.Join(retentionPath, "last_run")
		_ = os.WriteFile(markPath, []byte(strconv.FormatInt(start.Unix(), 10)), 0o600)
	}
	logger.Info("retention_run_complete",
		"sync_dropped", syncDropped, "mailbox_dropped", mailDropped,
		"elapsed", time.Since(start).String())
	return nil
}

func purgeStaleSync(ctx context.Context, ttl time.Duration) (int, error) {
	keys, err := store.ListKeys("sync:")
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-ttl).UnixNano()
	dropped := 0
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return dropped, err
		}
		raw, err := store.GetKey(k)
		if err != nil {
			continue
		}
		var u models.SyncUpdate
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			// unreadable entry, drop it
			_ = store.DeleteKey(k)
			dropped++
			continue
		}
		if u.TS < cutoff {
			if err := store.DeleteKey(k); err == nil {
				dropped++
			}
		}
	}
	return dropped, nil
}

func purgeOrphanedMailbox(ctx context.Context) (int, error) {
	keys, err := store.ListKeys("mailbox:")
	if err != nil {
		return 0, err
	}
	dropped := 0
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return dropped, err
		}
		msgID, err := store.GetKey(k)
		if err != nil {
			continue
		}
		if _, err := store.GetMessage(msgID); errors.Is(err, store.ErrNotFound) {
			if err := store.DeleteKey(k); err == nil {
				dropped++
			}
		}
	}
	return dropped, nil
}
