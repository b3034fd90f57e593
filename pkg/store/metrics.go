package store

import (
	"io/fs"
	"path/filepath"
)

// Stats is a compact view of store health for the admin surface.
type Stats struct {
	DiskBytes uint64 `json:"disk_bytes"`
	Messages  int    `json:"messages"`
	Mailboxes int    `json:"mailbox_entries"`
	Syncs     int    `json:"sync_entries"`
	Summaries int    `json:"summaries"`
}

// GetStats returns best-effort statistics about the store: on-disk size
// of the DB directory and record counts per namespace.
func GetStats() Stats {
	var s Stats
	if db == nil {
		return s
	}
	if dbPath != "" {
		_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				s.DiskBytes += uint64(fi.Size())
			}
			return nil
		})
	}
	if ks, err := ListKeys(msgPrefix); err == nil {
		s.Messages = len(ks)
	}
	if ks, err := ListKeys(mailboxPrefix); err == nil {
		s.Mailboxes = len(ks)
	}
	if ks, err := ListKeys(syncPrefix); err == nil {
		s.Syncs = len(ks)
	}
	if ks, err := ListKeys(summaryPrefix); err == nil {
		s.Summaries = len(ks)
	}
	return s
}
