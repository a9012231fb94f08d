// Package authmap loads and validates the username → identity mapping
// every commit's authorship is resolved through.
//
// The mapping is deliberately strict: an author appearing anywhere in
// the action store but missing from the map aborts the run before the
// first commit. Discovering a missing author halfway through a
// multi-hour migration would strand a half-built repository.
package authmap

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Identity is the mapped display name and email for one legacy username.
type Identity struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Map resolves legacy usernames to commit identities. Lookup is
// case-insensitive the way the legacy store's logins were.
type Map struct {
	identities map[string]Identity
}

// file is the on-disk YAML shape: a flat mapping of username to
// identity.
type file map[string]Identity

// Load reads and parses the author-mapping file.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read author map: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse author map %s: %w", path, err)
	}

	m := &Map{identities: make(map[string]Identity, len(f))}
	for user, id := range f {
		if id.Name == "" || id.Email == "" {
			return nil, fmt.Errorf("author map %s: user %q needs both name and email", path, user)
		}
		m.identities[fold(user)] = id
	}
	return m, nil
}

// Lookup resolves a legacy username.
func (m *Map) Lookup(username string) (Identity, bool) {
	id, ok := m.identities[fold(username)]
	return id, ok
}

// Validate checks that every author in the given set is mapped.
// Returns an error naming all missing authors at once, so the operator
// fixes the file in one pass instead of one failure at a time.
func (m *Map) Validate(authors []string) error {
	var missing []string
	for _, a := range authors {
		if _, ok := m.identities[fold(a)]; !ok {
			missing = append(missing, a)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("author map missing %d author(s): %v", len(missing), missing)
}

// Len returns the number of mapped usernames.
func (m *Map) Len() int {
	return len(m.identities)
}

// fold normalizes a username for case-insensitive lookup. Legacy logins
// are ASCII; bytewise lowering is enough.
func fold(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
