package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatrelay/pkg/config"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func seedSync(t *testing.T, userID string, ts int64) string {
	t.Helper()
	u := models.SyncUpdate{
		WhomToSend: userID,
		Message:    models.Message{ID: "m-" + userID, Body: "x"},
		TS:         ts,
	}
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatal(err)
	}
	key := fmt.Sprintf("sync:%s:%d", userID, ts)
	if err := store.DBSet([]byte(key), b); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestRunOncePurgesStaleSync(t *testing.T) {
	openTestStore(t)
	now := time.Now().UnixNano()
	stale := seedSync(t, "alice", now-(48*time.Hour).Nanoseconds())
	fresh := seedSync(t, "bob", now)

	if err := RunOnce(context.Background(), 24*time.Hour, ""); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	keys, err := store.ListKeys("sync:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != fresh {
		t.Fatalf("keys after purge = %v (stale was %s)", keys, stale)
	}
}

func TestRunOnceDropsUnreadableSync(t *testing.T) {
	openTestStore(t)
	if err := store.DBSet([]byte("sync:alice:garbage"), []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := RunOnce(context.Background(), 24*time.Hour, ""); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	keys, err := store.ListKeys("sync:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("unreadable entry survived: %v", keys)
	}
}

func TestRunOncePurgesOrphanedMailbox(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC().UnixNano()
	kept := models.Message{
		ID: "kept", ChatID: models.ChatID("alice", "bob"),
		SenderID: "bob", ReceiverID: "alice",
		Type: models.TypeText, Body: "hi", CreatedTS: now,
	}
	if err := store.SaveMessage(kept); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMailbox("alice", "kept"); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMailbox("alice", "vanished"); err != nil {
		t.Fatal(err)
	}

	if err := RunOnce(context.Background(), 24*time.Hour, ""); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	ids, err := store.ListMailbox("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "kept" {
		t.Fatalf("mailbox after purge = %v", ids)
	}
}

func TestRunOnceWritesMarker(t *testing.T) {
	openTestStore(t)
	dir := t.TempDir()
	if err := RunOnce(context.Background(), 24*time.Hour, dir); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "last_run")); err != nil {
		t.Fatalf("marker missing: %v", err)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	cancel, err := Start(context.Background(), &config.Config{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
}
