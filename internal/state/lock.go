package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// staleAfter is how old a lock file must be before it is considered
// abandoned by a crashed process.
const staleAfter = 10 * time.Minute

// acquireLockFile creates an advisory lock file carrying the holder's
// PID and timestamp.
func acquireLockFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		if time.Since(info.ModTime()) > staleAfter {
			os.Remove(path)
		} else {
			return fmt.Errorf("state is locked by another process (lock file: %s); "+
				"remove the lock file manually if no other loom is running", path)
		}
	}

	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	return nil
}

// releaseLockFile removes the lock file; a missing file is not an
// error.
func releaseLockFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
