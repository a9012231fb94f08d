package replay

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PlaceholderCause classifies why an object's bytes could not be
// exported, and selects which well-known substitute blob stands in.
type PlaceholderCause int

const (
	// CauseIndeterminate covers export failures with no recorded reason.
	CauseIndeterminate PlaceholderCause = iota
	// CauseDeleted marks objects the source database had soft-deleted.
	CauseDeleted
	// CauseDestroyed marks objects the source database removed
	// permanently.
	CauseDestroyed
)

func (c PlaceholderCause) String() string {
	switch c {
	case CauseDeleted:
		return "deleted"
	case CauseDestroyed:
		return "destroyed"
	default:
		return "indeterminate"
	}
}

// placeholderBodies are the fixed substitute contents. Every
// substitution of the same cause writes identical bytes, so repeated
// placeholders deduplicate to a single blob in the repository.
var placeholderBodies = map[PlaceholderCause]string{
	CauseIndeterminate: "Content could not be reconstructed from the source database.\n",
	CauseDeleted:       "This file was deleted in the source database and its content was not retained.\n",
	CauseDestroyed:     "This file was destroyed in the source database. Its content no longer exists.\n",
}

// SideFiles owns the persisted placeholder blobs. The pipeline writes
// them once at startup; the replay engine copies from them whenever a
// content export fails.
type SideFiles struct {
	dir string
}

// NewSideFiles returns a SideFiles rooted at dir.
func NewSideFiles(dir string) *SideFiles {
	return &SideFiles{dir: dir}
}

// WriteAll materializes the placeholder files. Idempotent, so a resumed
// run calls it again without harm.
func (s *SideFiles) WriteAll() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("side files: %w", err)
	}
	for cause, body := range placeholderBodies {
		if err := os.WriteFile(s.Path(cause), []byte(body), 0o644); err != nil {
			return fmt.Errorf("side files: %w", err)
		}
	}
	return nil
}

// Path returns the persisted placeholder file for a cause.
func (s *SideFiles) Path(c PlaceholderCause) string {
	return filepath.Join(s.dir, c.String()+".txt")
}

// CopyTo writes the cause's placeholder content at dest.
func (s *SideFiles) CopyTo(c PlaceholderCause, dest string) error {
	src, err := os.Open(s.Path(c))
	if err != nil {
		return fmt.Errorf("placeholder %s: %w", c, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("placeholder %s: %w", c, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("placeholder %s: %w", c, err)
	}
	return nil
}
