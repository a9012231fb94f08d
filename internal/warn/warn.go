// Package warn collects recoverable-problem reports across the
// migration's phases.
//
// The legacy data is assumed to be occasionally inconsistent, so most
// structural conflicts downgrade to warnings and the run keeps going.
// Every warning is attributed to the phase active when it occurred and
// repeated in an end-of-run summary, because a warning scrolled past at
// hour two of a long migration is a warning nobody saw.
package warn

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Entry is one recorded warning.
type Entry struct {
	Phase   string
	Message string
}

// Collector accumulates warnings per phase. The zero value is not
// usable; call New.
type Collector struct {
	mu      sync.Mutex
	phase   string
	entries []Entry
}

// New returns an empty collector.
func New() *Collector {
	return &Collector{}
}

// SetPhase attributes subsequent warnings to the named phase.
func (c *Collector) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
}

// Phase returns the currently active phase.
func (c *Collector) Phase() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Warnf records a warning against the active phase and logs it
// immediately at Warn level.
func (c *Collector) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.mu.Lock()
	entry := Entry{Phase: c.phase, Message: msg}
	c.entries = append(c.entries, entry)
	c.mu.Unlock()

	slog.Warn(msg, "phase", entry.Phase)
}

// Count returns the number of recorded warnings.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of all recorded warnings in order.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Summarize writes the end-of-run warning report grouped by phase,
// preserving first-occurrence phase order.
func (c *Collector) Summarize(w io.Writer) {
	entries := c.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No warnings.")
		return
	}

	fmt.Fprintf(w, "%d warning(s):\n", len(entries))
	var phases []string
	byPhase := make(map[string][]string)
	for _, e := range entries {
		if _, ok := byPhase[e.Phase]; !ok {
			phases = append(phases, e.Phase)
		}
		byPhase[e.Phase] = append(byPhase[e.Phase], e.Message)
	}
	for _, phase := range phases {
		fmt.Fprintf(w, "  [%s]\n", phase)
		for _, msg := range byPhase[phase] {
			fmt.Fprintf(w, "    - %s\n", msg)
		}
	}
}
