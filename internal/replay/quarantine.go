package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Quarantine is a directory holding the content of deleted and destroyed
// objects, keyed by object id and the id of the action that removed it.
// A later Recover pulls the newest entry back out; everything else stays
// behind as an audit trail and survives process restarts.
//
// Entries move in and out by rename, which is why the quarantine root
// must live on the same filesystem as the working tree.
type Quarantine struct {
	root string
}

// NewQuarantine opens (creating if needed) a quarantine area rooted at
// dir.
func NewQuarantine(dir string) (*Quarantine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("quarantine: %w", err)
	}
	return &Quarantine{root: dir}, nil
}

// Root returns the quarantine directory.
func (q *Quarantine) Root() string {
	return q.root
}

// Put moves the file or directory at src into quarantine under the given
// object and action ids.
func (q *Quarantine) Put(objectID string, actionID int64, src string) error {
	dir := filepath.Join(q.root, objectID, strconv.FormatInt(actionID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("quarantine %s: %w", objectID, err)
	}
	dest := filepath.Join(dir, filepath.Base(src))
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("quarantine %s: %w", objectID, err)
	}
	return nil
}

// Restore moves the object's most recently quarantined content to dest.
// Returns false when the object has no quarantined content; a Recover
// then falls back to the backend's history.
func (q *Quarantine) Restore(objectID, dest string) (bool, error) {
	entries, err := os.ReadDir(filepath.Join(q.root, objectID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("restore %s: %w", objectID, err)
	}

	// Action ids are monotonic, so the highest one is the latest removal.
	latest := int64(-1)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	if latest < 0 {
		return false, nil
	}

	dir := filepath.Join(q.root, objectID, strconv.FormatInt(latest, 10))
	inner, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("restore %s: %w", objectID, err)
	}
	if len(inner) == 0 {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("restore %s: %w", objectID, err)
	}
	if err := os.RemoveAll(dest); err != nil {
		return false, fmt.Errorf("restore %s: %w", objectID, err)
	}
	if err := os.Rename(filepath.Join(dir, inner[0].Name()), dest); err != nil {
		return false, fmt.Errorf("restore %s: %w", objectID, err)
	}
	// Drop the now-empty key directory so a second Recover does not find
	// a hollow entry.
	os.Remove(dir)
	return true, nil
}
