package warn

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorAttributesPhases(t *testing.T) {
	c := New()
	c.SetPhase("extract")
	c.Warnf("object %s unreadable", "AAAA0001")
	c.SetPhase("replay")
	c.Warnf("path %s missing", "src/a.c")

	assert.Equal(t, 2, c.Count())
	entries := c.Entries()
	assert.Equal(t, Entry{Phase: "extract", Message: "object AAAA0001 unreadable"}, entries[0])
	assert.Equal(t, Entry{Phase: "replay", Message: "path src/a.c missing"}, entries[1])
}

func TestEntriesReturnsCopy(t *testing.T) {
	c := New()
	c.Warnf("one")
	entries := c.Entries()
	entries[0].Message = "mutated"
	assert.Equal(t, "one", c.Entries()[0].Message)
}

func TestSummarizeGroupsByPhase(t *testing.T) {
	c := New()
	c.SetPhase("extract")
	c.Warnf("first")
	c.SetPhase("replay")
	c.Warnf("second")
	c.SetPhase("extract")
	c.Warnf("third")

	var buf bytes.Buffer
	c.Summarize(&buf)

	out := buf.String()
	assert.Contains(t, out, "3 warning(s):")
	assert.Contains(t, out, "[extract]")
	assert.Contains(t, out, "[replay]")
	assert.Contains(t, out, "- first")
	// Phase order follows first occurrence.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("[extract]")), bytes.Index(buf.Bytes(), []byte("[replay]")))
}

func TestSummarizeEmpty(t *testing.T) {
	var buf bytes.Buffer
	New().Summarize(&buf)
	assert.Equal(t, "No warnings.\n", buf.String())
}
