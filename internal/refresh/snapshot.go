package refresh

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshotTimeFormat names dated snapshots, e.g.
// block_list_2025-06-01-12:30:05.txt.
const snapshotTimeFormat = "2006-01-02-15:04:05"

// WriteSnapshot persists the raw list body as a dated file in dir. The
// write goes to a temp file in the same directory, is fsynced, and is then
// renamed into place, so a reader never sees a partial snapshot.
func WriteSnapshot(dir string, body []byte, at time.Time) (string, error) {
	name := fmt.Sprintf("block_list_%s.txt", at.Format(snapshotTimeFormat))
	final := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".block_list_*.tmp")
	if err != nil {
		return "", fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("rename snapshot into place: %w", err)
	}
	return final, nil
}
