package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// FakeContent satisfies the replay engine's content source with
// deterministic bytes derived from the object id and version. No
// decoder subprocess, no legacy database.
//
// Objects listed in Broken simulate destroyed content: fetching them
// fails, which exercises the placeholder path.
type FakeContent struct {
	mu      sync.Mutex
	Broken  map[string]bool
	fetched []string
}

// NewFakeContent returns an empty fake.
func NewFakeContent() *FakeContent {
	return &FakeContent{Broken: make(map[string]bool)}
}

// FetchVersion writes "content <object> v<version>\n" to dest, or fails
// for broken objects.
func (f *FakeContent) FetchVersion(_ context.Context, objectID string, version int, dest string) error {
	f.mu.Lock()
	f.fetched = append(f.fetched, fmt.Sprintf("%s@%d", objectID, version))
	broken := f.Broken[objectID]
	f.mu.Unlock()

	if broken {
		return fmt.Errorf("object %s: record unreadable", objectID)
	}
	return os.WriteFile(dest, []byte(Content(objectID, version)), 0o644)
}

// Fetched returns every fetch in order, as "object@version" strings.
func (f *FakeContent) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// Content returns the bytes FetchVersion writes for the given revision.
// Tests assert working-tree state against this.
func Content(objectID string, version int) string {
	if version == 0 {
		return fmt.Sprintf("content %s latest\n", objectID)
	}
	return fmt.Sprintf("content %s v%d\n", objectID, version)
}
