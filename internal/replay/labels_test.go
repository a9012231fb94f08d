package replay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBranchName(t *testing.T) {
	used := func(names ...string) map[string]bool {
		m := make(map[string]bool)
		for _, n := range names {
			m[n] = true
		}
		return m
	}

	tests := []struct {
		name    string
		label   string
		used    map[string]bool
		want    string
		hashGen bool
	}{
		{name: "clean label", label: "v1.0", used: used(), want: "v1.0"},
		{name: "slash path label", label: "release/1.0", used: used(), want: "release/1.0"},
		{name: "leading slashes trimmed", label: "//v2", used: used(), want: "v2"},
		{name: "double dots replaced", label: "bad..name", used: used(), want: "bad-name"},
		{name: "spaces become dashes", label: "hot fix", used: used(), want: "hot-fix"},
		{name: "lock suffix stripped", label: "wip.lock", used: used(), want: "wip-"},
		{name: "forbidden chars dropped", label: "what?really*", used: used(), want: "whatreally"},
		{name: "trailing dots trimmed", label: "v1...", used: used(), want: "v1"},
		{name: "collides with default branch", label: "main", used: used(), hashGen: true},
		{name: "collides with earlier label", label: "v1.0", used: used("v1.0"), hashGen: true},
		{name: "empty label", label: "", used: used(), hashGen: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BranchName(tt.label, "main", tt.used, 42)
			if tt.hashGen {
				assert.True(t, strings.HasPrefix(got, "label-"), got)
				assert.True(t, validBranchName(got), got)
				// Deterministic for the same inputs.
				assert.Equal(t, got, BranchName(tt.label, "main", tt.used, 42))
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestBranchName_HashFallbackDisambiguatesByKey(t *testing.T) {
	u := map[string]bool{}
	first := BranchName("main", "main", u, 1)
	u[first] = true
	second := BranchName("main", "main", u, 2)
	assert.NotEqual(t, first, second)
	assert.True(t, validBranchName(second))
}

func TestValidBranchName(t *testing.T) {
	valid := []string{"v1.0", "release/1.0", "a", "feature-x"}
	for _, s := range valid {
		assert.True(t, validBranchName(s), s)
	}

	invalid := []string{"", "@", "/lead", "trail/", "end.", "x.lock", "a..b", "a@{b", "a//b", "with space", "dot/.hidden", "ti~lde", "col:on"}
	for _, s := range invalid {
		assert.False(t, validBranchName(s), s)
	}
}

func TestCoveringPaths(t *testing.T) {
	snap := map[string][]string{
		"PROJ0001": {"src"},
		"FILE0001": {"src/a.c"},
		"FILE0002": {"lib/b.c", "src/b.c"},
		"GONE0001": {""},
	}

	assert.Equal(t, []string{"lib/b.c", "src"}, coveringPaths(snap))
}

func TestStripBadChars(t *testing.T) {
	assert.Equal(t, "a-b", stripBadChars("a b"))
	assert.Equal(t, "a-b", stripBadChars("a\tb"))
	assert.Equal(t, "ab", stripBadChars("a\x01b"))
	assert.Equal(t, "plain", stripBadChars("plain"))
}
